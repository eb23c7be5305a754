package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ciaranashton/relay-agent/internal/domain"
)

// ErrIgnored marks a well-formed delivery that carries nothing to process,
// such as a bot's own message or a status callback. The server
// acknowledges it without dispatching.
var ErrIgnored = errors.New("event ignored")

const signatureHeader = "X-Signature-256"

// Webhook accepts generic JSON deliveries. When a secret is configured the
// body must carry an HMAC-SHA256 signature in X-Signature-256.
type Webhook struct {
	secret string
	now    func() time.Time
}

type WebhookOptions struct {
	Secret string `json:"secret"`
}

// WebhookPayload is the expected JSON body for webhook requests.
type WebhookPayload struct {
	ID       *string        `json:"id"`
	From     *string        `json:"from"`
	To       *string        `json:"to"`
	Subject  *string        `json:"subject"`
	Body     *string        `json:"body"`
	Metadata map[string]any `json:"metadata"`
}

func NewWebhook(opts WebhookOptions) *Webhook {
	return &Webhook{secret: opts.Secret, now: time.Now}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) VerifySignature(_ context.Context, r *http.Request) error {
	if w.secret == "" {
		return nil
	}
	if err := checkHeaderHMAC(r, signatureHeader, w.secret); err != nil {
		return &domain.VerificationError{Adapter: w.Name(), Cause: err}
	}
	return nil
}

func (w *Webhook) ParseWebhook(_ context.Context, r *http.Request) (domain.Message, error) {
	body, err := readBody(r)
	if err != nil {
		return domain.Message{}, &domain.ParseError{Adapter: w.Name(), Cause: err}
	}

	var p WebhookPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return domain.Message{}, &domain.ParseError{Adapter: w.Name(), Cause: err}
	}
	switch {
	case p.From == nil:
		return domain.Message{}, &domain.ParseError{Adapter: w.Name(), Cause: errors.New("from is required")}
	case p.Body == nil:
		return domain.Message{}, &domain.ParseError{Adapter: w.Name(), Cause: errors.New("body is required")}
	}

	msg := domain.Message{
		ID:         deref(p.ID),
		Channel:    domain.ChannelWebhook,
		From:       *p.From,
		To:         deref(p.To),
		Subject:    deref(p.Subject),
		Body:       *p.Body,
		Metadata:   p.Metadata,
		ReceivedAt: w.now(),
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Metadata == nil {
		msg.Metadata = map[string]any{}
	}
	return msg, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func parseErr(adapter string, format string, args ...any) error {
	return &domain.ParseError{Adapter: adapter, Cause: fmt.Errorf(format, args...)}
}
