// Package mailer delivers outbound email for the reply and triage actions.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// Email is one outbound message. Body is markdown; mailers that support
// HTML render it, the plain-text part is always sent.
type Email struct {
	From      string
	To        []string
	Subject   string
	Body      string
	InReplyTo string
}

// Result identifies a delivered message.
type Result struct {
	ID string `json:"emailId,omitempty"`
}

type Mailer interface {
	Send(ctx context.Context, e Email) (Result, error)
	Name() string
}

// RejectedError is a delivery failure the mail provider reported, as opposed
// to a transport failure reaching it.
type RejectedError struct {
	Provider string
	Message  string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s rejected message: %s", e.Provider, e.Message)
}

// IsRejected reports whether err is a provider-reported rejection.
func IsRejected(err error) (*RejectedError, bool) {
	var re *RejectedError
	ok := errors.As(err, &re)
	return re, ok
}

// Options selects and configures a mailer from action options.
type Options struct {
	Type string `json:"type"` // resend | smtp

	APIKey  string `json:"apiKey"`
	APIBase string `json:"apiBase"`

	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	StartTLS *bool  `json:"startTls"`
}

// New builds the mailer described by opts. An empty type with an API key
// selects resend.
func New(opts Options, logger *slog.Logger) (Mailer, error) {
	switch opts.Type {
	case "resend", "":
		if opts.APIKey == "" {
			return nil, errors.New("resend mailer requires apiKey")
		}
		m, err := NewResend(ResendConfig{APIKey: opts.APIKey, APIBase: opts.APIBase, Logger: logger})
		if err != nil {
			return nil, err
		}
		return m, nil
	case "smtp":
		if opts.Host == "" {
			return nil, errors.New("smtp mailer requires host")
		}
		port := opts.Port
		if port == 0 {
			port = 587
		}
		startTLS := port != 465
		if opts.StartTLS != nil {
			startTLS = *opts.StartTLS
		}
		return NewSMTP(SMTPConfig{
			Host:     opts.Host,
			Port:     port,
			Username: opts.Username,
			Password: opts.Password,
			StartTLS: startTLS,
		}, logger), nil
	default:
		return nil, fmt.Errorf("unknown mailer type %q (valid: resend, smtp)", opts.Type)
	}
}
