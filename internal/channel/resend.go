package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/resend/resend-go/v2"

	"github.com/ciaranashton/relay-agent/internal/domain"
	"github.com/ciaranashton/relay-agent/internal/mailer"
)

type ResendOptions struct {
	WebhookSecret string `json:"webhookSecret"`
	APIKey        string `json:"apiKey"`
	APIBase       string `json:"apiBase,omitempty"`
}

// Resend handles inbound-email webhooks from Resend. The webhook only
// carries the envelope; the body is fetched from the emails API.
type Resend struct {
	verifier *svixVerifier
	client   *resend.Client
	logger   *slog.Logger
}

type resendPayload struct {
	Type string `json:"type"`
	Data struct {
		EmailID   string   `json:"email_id"`
		From      string   `json:"from"`
		To        []string `json:"to"`
		Subject   string   `json:"subject"`
		CreatedAt string   `json:"created_at"`
	} `json:"data"`
}

func NewResend(opts ResendOptions, client *http.Client, logger *slog.Logger) (*Resend, error) {
	if opts.WebhookSecret == "" {
		return nil, domain.NewConfigError("resend inbound requires webhookSecret")
	}
	if opts.APIKey == "" {
		return nil, domain.NewConfigError("resend inbound requires apiKey")
	}
	v, err := newSvixVerifier(opts.WebhookSecret)
	if err != nil {
		return nil, &domain.ConfigError{Msg: "resend inbound", Cause: err}
	}
	rc, err := mailer.NewResendClient(opts.APIKey, opts.APIBase, client)
	if err != nil {
		return nil, &domain.ConfigError{Msg: "resend inbound", Cause: err}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resend{verifier: v, client: rc, logger: logger}, nil
}

func (a *Resend) Name() string { return "resend" }

func (a *Resend) VerifySignature(_ context.Context, r *http.Request) error {
	body, err := readBody(r)
	if err != nil {
		return &domain.VerificationError{Adapter: a.Name(), Cause: err}
	}
	if err := a.verifier.verify(r.Header, body); err != nil {
		return &domain.VerificationError{Adapter: a.Name(), Cause: err}
	}
	return nil
}

func (a *Resend) ParseWebhook(ctx context.Context, r *http.Request) (domain.Message, error) {
	body, err := readBody(r)
	if err != nil {
		return domain.Message{}, &domain.ParseError{Adapter: a.Name(), Cause: err}
	}
	var p resendPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return domain.Message{}, &domain.ParseError{Adapter: a.Name(), Cause: err}
	}
	d := p.Data
	switch {
	case p.Type == "":
		return domain.Message{}, parseErr(a.Name(), "type is required")
	case d.EmailID == "":
		return domain.Message{}, parseErr(a.Name(), "data.email_id is required")
	case d.From == "":
		return domain.Message{}, parseErr(a.Name(), "data.from is required")
	case d.To == nil:
		return domain.Message{}, parseErr(a.Name(), "data.to is required")
	}
	received, err := time.Parse(time.RFC3339, d.CreatedAt)
	if err != nil {
		return domain.Message{}, parseErr(a.Name(), "data.created_at: %v", err)
	}

	text, html, err := a.fetchBody(ctx, d.EmailID)
	if err != nil {
		return domain.Message{}, &domain.ParseError{Adapter: a.Name(), Cause: err}
	}
	if text == "" {
		text = htmlToText(html)
	}

	msg := domain.Message{
		ID:      d.EmailID,
		Channel: domain.ChannelEmail,
		From:    d.From,
		Subject: d.Subject,
		Body:    text,
		Metadata: map[string]any{
			"emailId":     d.EmailID,
			"webhookType": p.Type,
		},
		ReceivedAt: received,
	}
	if len(d.To) > 0 {
		msg.To = d.To[0]
	}
	return msg, nil
}

func (a *Resend) fetchBody(ctx context.Context, emailID string) (text, html string, err error) {
	email, err := a.client.Emails.GetWithContext(ctx, emailID)
	if err != nil {
		return "", "", fmt.Errorf("failed to fetch email body: %w", err)
	}
	return email.Text, email.Html, nil
}

// htmlToText flattens an HTML body into readable plain text: scripts and
// styles are removed, block elements end a line.
func htmlToText(html string) string {
	if strings.TrimSpace(html) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	doc.Find("script, style, head").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("p, div, li, tr, h1, h2, h3, h4, h5, h6, blockquote").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	var lines []string
	blank := false
	for _, line := range strings.Split(doc.Text(), "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if !blank && len(lines) > 0 {
				lines = append(lines, "")
			}
			blank = true
			continue
		}
		blank = false
		lines = append(lines, line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
