package domain

import "time"

// ChannelKind is the medium an inbound message arrived on.
type ChannelKind string

const (
	ChannelEmail    ChannelKind = "email"
	ChannelChat     ChannelKind = "chat"
	ChannelWebhook  ChannelKind = "webhook"
	ChannelSlack    ChannelKind = "slack"
	ChannelTelegram ChannelKind = "telegram"
	ChannelWhatsApp ChannelKind = "whatsapp"
)

func (c ChannelKind) Valid() bool {
	switch c {
	case ChannelEmail, ChannelChat, ChannelWebhook, ChannelSlack, ChannelTelegram, ChannelWhatsApp:
		return true
	}
	return false
}

// Message is the canonical inbound message every adapter normalizes to.
// It is treated as immutable once an adapter returns it.
type Message struct {
	ID          string         `json:"id"`
	Channel     ChannelKind    `json:"channel"`
	From        string         `json:"from"`
	To          string         `json:"to,omitempty"`
	Subject     string         `json:"subject,omitempty"`
	Body        string         `json:"body"`
	Attachments []Attachment   `json:"attachments,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	ReceivedAt  time.Time      `json:"receivedAt"`
}

type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Content     []byte `json:"-"`
	Size        int    `json:"size"`
}

// MetadataString returns a metadata value as a string, or "" when absent.
func (m Message) MetadataString(key string) string {
	if m.Metadata == nil {
		return ""
	}
	switch v := m.Metadata[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmtAny(v)
	}
}

// ExecutionContext is handed to every action invoked during one engine run.
type ExecutionContext struct {
	Message   Message
	AgentName string
}

// ToolCallRecord is one executed tool call. Result is nil when the call failed.
type ToolCallRecord struct {
	ToolName string         `json:"toolName"`
	Args     map[string]any `json:"args"`
	Result   any            `json:"result"`
}

// EngineResult is the outcome of processing one message.
type EngineResult struct {
	Text      string           `json:"text"`
	ToolCalls []ToolCallRecord `json:"toolCalls"`
	Steps     int              `json:"steps"`
}

// TriageChannel is where escalations are delivered.
type TriageChannel string

const (
	TriageEmail   TriageChannel = "email"
	TriageSlack   TriageChannel = "slack"
	TriageWebhook TriageChannel = "webhook"
)

// TriagePolicy is rendered into the system prompt. The engine never enforces it.
type TriagePolicy struct {
	ConfidenceThreshold   float64       `json:"confidenceThreshold" yaml:"confidenceThreshold"`
	AlwaysTriage          []string      `json:"alwaysTriage" yaml:"alwaysTriage"`
	MaxAutoReplies        int           `json:"maxAutoReplies" yaml:"maxAutoReplies"`
	TriageChannel         TriageChannel `json:"triageChannel" yaml:"triageChannel"`
	IncludeRecommendation bool          `json:"includeRecommendation" yaml:"includeRecommendation"`
}

func DefaultTriagePolicy() TriagePolicy {
	return TriagePolicy{
		ConfidenceThreshold:   0.7,
		AlwaysTriage:          []string{},
		MaxAutoReplies:        3,
		TriageChannel:         TriageEmail,
		IncludeRecommendation: true,
	}
}
