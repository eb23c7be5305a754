package domain

// MessageBus hands accepted messages from the HTTP surface to the workers.
type MessageBus interface {
	// Publish reports whether msg was enqueued.
	Publish(msg Message) bool
	Subscribe() <-chan Message
	Close()
}
