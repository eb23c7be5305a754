package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/resend/resend-go/v2"

	"github.com/ciaranashton/relay-agent/internal/httpclient"
)

const resendAPIBase = "https://api.resend.com/"

type ResendConfig struct {
	APIKey  string
	APIBase string
	Client  *http.Client
	Logger  *slog.Logger
}

// NewResendClient builds a Resend SDK client on hc, pointed at apiBase
// when one is set.
func NewResendClient(apiKey, apiBase string, hc *http.Client) (*resend.Client, error) {
	if hc == nil {
		hc = httpclient.Shared(httpclient.DefaultTimeout)
	}
	c := resend.NewCustomClient(hc, apiKey)
	if apiBase == "" {
		apiBase = resendAPIBase
	}
	u, err := url.Parse(strings.TrimRight(apiBase, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("resend apiBase: %w", err)
	}
	c.BaseURL = u
	return c, nil
}

// Resend sends through the Resend API.
type Resend struct {
	client *resend.Client
	logger *slog.Logger
}

func NewResend(cfg ResendConfig) (*Resend, error) {
	c, err := NewResendClient(cfg.APIKey, cfg.APIBase, cfg.Client)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Resend{client: c, logger: logger}, nil
}

func (r *Resend) Name() string { return "resend" }

func (r *Resend) Send(ctx context.Context, e Email) (Result, error) {
	html, err := markdownToHTML(e.Body)
	if err != nil {
		return Result{}, fmt.Errorf("render markdown to HTML: %w", err)
	}
	req := &resend.SendEmailRequest{
		From:    e.From,
		To:      e.To,
		Subject: e.Subject,
		Text:    e.Body,
		Html:    html,
	}
	if e.InReplyTo != "" {
		req.Headers = map[string]string{"In-Reply-To": e.InReplyTo}
	}

	sent, err := r.client.Emails.SendWithContext(ctx, req)
	if err != nil {
		return Result{}, resendError("send", err)
	}
	r.logger.Debug("email sent", "provider", "resend", "emailId", sent.Id, "to", e.To)
	return Result{ID: sent.Id}, nil
}

// resendError separates failures reaching the API from errors the API
// returned. Only the latter are rejections.
func resendError(op string, err error) error {
	var transport *url.Error
	if errors.As(err, &transport) {
		return fmt.Errorf("resend %s: %w", op, err)
	}
	return &RejectedError{Provider: "resend", Message: strings.TrimPrefix(err.Error(), "[ERROR]: ")}
}
