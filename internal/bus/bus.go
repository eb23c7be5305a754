package bus

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ciaranashton/relay-agent/internal/domain"
)

const defaultPublishTimeout = 10 * time.Second

// InMemoryBus is a Go-channel based queue between the webhook handler and
// the dispatcher workers.
type InMemoryBus struct {
	inbound chan domain.Message
	mu      sync.RWMutex
	closed  bool
	logger  *slog.Logger

	publishTimeout time.Duration
	onDrop         func(domain.Message)
}

// New creates a new InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &InMemoryBus{
		inbound:        make(chan domain.Message, bufferSize),
		logger:         logger,
		publishTimeout: defaultPublishTimeout,
	}
}

// OnDrop registers a callback invoked for every message the bus gives up on.
func (b *InMemoryBus) OnDrop(fn func(domain.Message)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onDrop = fn
}

// Publish enqueues msg. When the buffer is full it waits up to the publish
// timeout, then drops the message and returns false.
func (b *InMemoryBus) Publish(msg domain.Message) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus", "messageId", msg.ID)
		b.dropped(msg)
		return false
	}

	select {
	case b.inbound <- msg:
		return true
	default:
		b.logger.Warn("inbound bus full, waiting", "messageId", msg.ID, "channel", msg.Channel)
		timer := time.NewTimer(b.publishTimeout)
		defer timer.Stop()
		select {
		case b.inbound <- msg:
			b.logger.Info("message delivered after wait", "messageId", msg.ID)
			return true
		case <-timer.C:
			b.logger.Error("message dropped: bus full",
				"messageId", msg.ID,
				"channel", msg.Channel,
				"waited", b.publishTimeout,
			)
			b.dropped(msg)
			return false
		}
	}
}

func (b *InMemoryBus) dropped(msg domain.Message) {
	if b.onDrop != nil {
		b.onDrop(msg)
	}
}

func (b *InMemoryBus) Subscribe() <-chan domain.Message {
	return b.inbound
}

// Len reports the number of queued messages.
func (b *InMemoryBus) Len() int {
	return len(b.inbound)
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
