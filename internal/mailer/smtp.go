package mailer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"

	"github.com/emersion/go-message/mail"
)

const smtpDialTimeout = 30 * time.Second

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	// StartTLS upgrades a plain connection; false means implicit TLS.
	StartTLS bool
}

// SMTP delivers over an ephemeral connection per message.
type SMTP struct {
	cfg    SMTPConfig
	logger *slog.Logger
}

func NewSMTP(cfg SMTPConfig, logger *slog.Logger) *SMTP {
	return &SMTP{cfg: cfg, logger: logger}
}

func (s *SMTP) Name() string { return "smtp" }

func (s *SMTP) Send(ctx context.Context, e Email) (Result, error) {
	msg, id, err := Compose(e)
	if err != nil {
		return Result{}, err
	}
	from, err := mail.ParseAddress(e.From)
	if err != nil {
		return Result{}, fmt.Errorf("parse from address %q: %w", e.From, err)
	}
	rcpts, err := bareAddresses(e.To)
	if err != nil {
		return Result{}, err
	}

	if err := s.deliver(ctx, from.Address, rcpts, msg); err != nil {
		var tpe *textproto.Error
		if errors.As(err, &tpe) && tpe.Code >= 500 {
			return Result{}, &RejectedError{Provider: "smtp", Message: tpe.Msg}
		}
		return Result{}, err
	}
	s.logger.Debug("email sent", "provider", "smtp", "messageId", id, "to", rcpts)
	return Result{ID: id}, nil
}

func (s *SMTP) deliver(ctx context.Context, from string, recipients []string, msg []byte) error {
	cfg := s.cfg
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	dialTimeout := smtpDialTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < dialTimeout {
			dialTimeout = remaining
		}
	}
	dialer := &net.Dialer{Timeout: dialTimeout}

	var conn net.Conn
	var err error
	if cfg.StartTLS {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{ServerName: cfg.Host})
	}
	if err != nil {
		return fmt.Errorf("dial SMTP %s: %w", addr, err)
	}
	client, err := smtp.NewClient(conn, cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("create SMTP client on %s: %w", addr, err)
	}
	defer client.Close()

	if err := client.Hello("localhost"); err != nil {
		return fmt.Errorf("EHLO: %w", err)
	}
	if cfg.StartTLS {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: cfg.Host}); err != nil {
				return fmt.Errorf("STARTTLS: %w", err)
			}
		}
	}
	if cfg.Username != "" && cfg.Password != "" {
		if err := client.Auth(smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)); err != nil {
			return fmt.Errorf("AUTH: %w", err)
		}
	}

	if err := client.Mail(from); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("RCPT TO %s: %w", rcpt, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close DATA: %w", err)
	}
	return client.Quit()
}

// bareAddresses reduces "Name <addr>" forms to unique bare addresses.
func bareAddresses(list []string) ([]string, error) {
	seen := make(map[string]bool, len(list))
	out := make([]string, 0, len(list))
	for _, a := range list {
		parsed, err := mail.ParseAddress(a)
		if err != nil {
			return nil, fmt.Errorf("parse address %q: %w", a, err)
		}
		if !seen[parsed.Address] {
			seen[parsed.Address] = true
			out = append(out, parsed.Address)
		}
	}
	if len(out) == 0 {
		return nil, errors.New("no recipients")
	}
	return out, nil
}
