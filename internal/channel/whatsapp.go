package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/ciaranashton/relay-agent/internal/domain"
)

type WhatsAppOptions struct {
	AppSecret   string `json:"appSecret"`
	VerifyToken string `json:"verifyToken"`
}

// WhatsApp receives WhatsApp Business Cloud API webhooks.
type WhatsApp struct {
	appSecret   string
	verifyToken string
}

func NewWhatsApp(opts WhatsAppOptions) (*WhatsApp, error) {
	if opts.VerifyToken == "" {
		return nil, domain.NewConfigError("whatsapp inbound requires verifyToken")
	}
	return &WhatsApp{appSecret: opts.AppSecret, verifyToken: opts.VerifyToken}, nil
}

func (w *WhatsApp) Name() string { return "whatsapp" }

// Handshake answers the hub.challenge subscription check.
func (w *WhatsApp) Handshake(r *http.Request, _ []byte) (int, any, bool) {
	if r.Method != http.MethodGet {
		return 0, nil, false
	}
	q := r.URL.Query()
	if q.Get("hub.mode") == "subscribe" && q.Get("hub.verify_token") == w.verifyToken {
		return http.StatusOK, q.Get("hub.challenge"), true
	}
	return http.StatusForbidden, map[string]string{"error": "Forbidden"}, true
}

func (w *WhatsApp) VerifySignature(_ context.Context, r *http.Request) error {
	if w.appSecret == "" {
		return nil
	}
	if err := checkHeaderHMAC(r, "X-Hub-Signature-256", w.appSecret); err != nil {
		return &domain.VerificationError{Adapter: w.Name(), Cause: err}
	}
	return nil
}

// ParseWebhook returns the first text message in the delivery.
func (w *WhatsApp) ParseWebhook(_ context.Context, r *http.Request) (domain.Message, error) {
	body, err := readBody(r)
	if err != nil {
		return domain.Message{}, &domain.ParseError{Adapter: w.Name(), Cause: err}
	}
	var payload waPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return domain.Message{}, &domain.ParseError{Adapter: w.Name(), Cause: err}
	}
	if payload.Object != "whatsapp_business_account" {
		return domain.Message{}, parseErr(w.Name(), "unexpected object %q", payload.Object)
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, m := range change.Value.Messages {
				if m.Type != "text" || m.Text == nil {
					continue
				}
				return domain.Message{
					ID:      m.ID,
					Channel: domain.ChannelWhatsApp,
					From:    m.From,
					Body:    m.Text.Body,
					Metadata: map[string]any{
						"chatId":        m.From,
						"phoneNumberId": change.Value.Metadata.PhoneNumberID,
					},
					ReceivedAt: waTime(m.Timestamp),
				}, nil
			}
		}
	}
	// Status callbacks (sent, delivered, read) carry no messages.
	return domain.Message{}, ErrIgnored
}

func waTime(ts string) time.Time {
	secs, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Now()
	}
	return time.Unix(secs, 0)
}

// --- WhatsApp webhook payload types ---

type waPayload struct {
	Object string    `json:"object"`
	Entry  []waEntry `json:"entry"`
}

type waEntry struct {
	ID      string     `json:"id"`
	Changes []waChange `json:"changes"`
}

type waChange struct {
	Value waValue `json:"value"`
	Field string  `json:"field"`
}

type waValue struct {
	MessagingProduct string      `json:"messaging_product"`
	Metadata         waMetadata  `json:"metadata"`
	Messages         []waMessage `json:"messages"`
}

type waMetadata struct {
	DisplayPhoneNumber string `json:"display_phone_number"`
	PhoneNumberID      string `json:"phone_number_id"`
}

type waMessage struct {
	From      string  `json:"from"`
	ID        string  `json:"id"`
	Timestamp string  `json:"timestamp"`
	Type      string  `json:"type"`
	Text      *waText `json:"text,omitempty"`
}

type waText struct {
	Body string `json:"body"`
}
