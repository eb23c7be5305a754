package channel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"github.com/ciaranashton/relay-agent/internal/domain"
)

const maxAttachmentBytes = 5 << 20

type EmailOptions struct {
	Secret string `json:"secret"`
}

// Email accepts raw RFC 5322 messages POSTed by a mail relay.
type Email struct {
	secret string
	now    func() time.Time
}

func NewEmail(opts EmailOptions) *Email {
	return &Email{secret: opts.Secret, now: time.Now}
}

func (e *Email) Name() string { return "email" }

func (e *Email) VerifySignature(_ context.Context, r *http.Request) error {
	if e.secret == "" {
		return nil
	}
	if err := checkHeaderHMAC(r, signatureHeader, e.secret); err != nil {
		return &domain.VerificationError{Adapter: e.Name(), Cause: err}
	}
	return nil
}

func (e *Email) ParseWebhook(_ context.Context, r *http.Request) (domain.Message, error) {
	raw, err := readBody(r)
	if err != nil {
		return domain.Message{}, &domain.ParseError{Adapter: e.Name(), Cause: err}
	}
	msg, err := e.parse(raw)
	if err != nil {
		return domain.Message{}, &domain.ParseError{Adapter: e.Name(), Cause: err}
	}
	return msg, nil
}

func (e *Email) parse(raw []byte) (domain.Message, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		return domain.Message{}, fmt.Errorf("read message: %w", err)
	}
	defer mr.Close()

	h := mr.Header
	from, err := h.AddressList("From")
	if err != nil || len(from) == 0 {
		return domain.Message{}, errors.New("missing From address")
	}

	msg := domain.Message{
		Channel:  domain.ChannelEmail,
		From:     from[0].Address,
		Metadata: map[string]any{},
	}
	if to, err := h.AddressList("To"); err == nil && len(to) > 0 {
		msg.To = to[0].Address
	}
	msg.Subject, _ = h.Subject()

	if id, err := h.MessageID(); err == nil && id != "" {
		msg.ID = id
		msg.Metadata["messageId"] = "<" + id + ">"
	} else {
		msg.ID = uuid.NewString()
	}
	if refs, err := h.MsgIDList("References"); err == nil && len(refs) > 0 {
		msg.Metadata["references"] = refs
	}
	if date, err := h.Date(); err == nil && !date.IsZero() {
		msg.ReceivedAt = date
	} else {
		msg.ReceivedAt = e.now()
	}

	var text, html string
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return domain.Message{}, fmt.Errorf("read part: %w", err)
		}

		switch ph := p.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := ph.ContentType()
			b, err := io.ReadAll(p.Body)
			if err != nil {
				return domain.Message{}, fmt.Errorf("read body: %w", err)
			}
			switch {
			case ct == "text/plain" && text == "":
				text = string(b)
			case ct == "text/html" && html == "":
				html = string(b)
			}
		case *mail.AttachmentHeader:
			name, _ := ph.Filename()
			ct, _, _ := ph.ContentType()
			b, err := io.ReadAll(io.LimitReader(p.Body, maxAttachmentBytes))
			if err != nil {
				return domain.Message{}, fmt.Errorf("read attachment %q: %w", name, err)
			}
			msg.Attachments = append(msg.Attachments, domain.Attachment{
				Filename:    name,
				ContentType: ct,
				Content:     b,
				Size:        len(b),
			})
		}
	}

	if text == "" {
		text = htmlToText(html)
	}
	msg.Body = strings.TrimSpace(text)
	return msg, nil
}
