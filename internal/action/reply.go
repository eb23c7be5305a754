package action

import (
	"context"
	"log/slog"

	"github.com/ciaranashton/relay-agent/internal/domain"
	"github.com/ciaranashton/relay-agent/internal/mailer"
	"github.com/ciaranashton/relay-agent/internal/schema"
	"github.com/ciaranashton/relay-agent/internal/tool"
)

type ReplyOptions struct {
	FromAddress string         `json:"fromAddress"`
	APIKey      string         `json:"apiKey"` // shorthand for a resend mailer
	Mailer      mailer.Options `json:"mailer"`
}

var replySchema = schema.Object(
	schema.Prop("to", schema.String().Describe("Email address to reply to")),
	schema.Prop("subject", schema.String().Describe("Email subject line")),
	schema.Prop("body", schema.String().Describe("Email body text")),
)

// Reply sends an email, normally back to the sender.
type Reply struct {
	from   string
	mailer mailer.Mailer
}

func NewReply(opts ReplyOptions, logger *slog.Logger) (*Reply, error) {
	if err := requireOption("reply", "fromAddress", opts.FromAddress); err != nil {
		return nil, err
	}
	m, err := newMailer(opts.Mailer, opts.APIKey, logger)
	if err != nil {
		return nil, err
	}
	return NewReplyWithMailer(opts.FromAddress, m), nil
}

func NewReplyWithMailer(from string, m mailer.Mailer) *Reply {
	return &Reply{from: from, mailer: m}
}

func (a *Reply) Name() string { return "reply" }

func (a *Reply) Description() string {
	return "Reply to the sender via email. Use this to send a response back to the person who sent the message."
}

func (a *Reply) Schema() *schema.Schema { return replySchema }

func (a *Reply) Execute(ctx context.Context, args map[string]any, ectx domain.ExecutionContext) (domain.ActionResult, error) {
	email := mailer.Email{
		From:    a.from,
		To:      []string{tool.ArgsString(args, "to")},
		Subject: tool.ArgsString(args, "subject"),
		Body:    tool.ArgsString(args, "body"),
	}
	if ectx.Message.Channel == domain.ChannelEmail {
		email.InReplyTo = ectx.Message.MetadataString("messageId")
	}
	res, err := a.mailer.Send(ctx, email)
	if err != nil {
		return deliveryResult(err)
	}
	return ok(map[string]any{"emailId": res.ID})
}

func newMailer(opts mailer.Options, apiKey string, logger *slog.Logger) (mailer.Mailer, error) {
	if opts.Type == "" && opts.APIKey == "" {
		opts.APIKey = apiKey
	}
	return mailer.New(opts, logger)
}
