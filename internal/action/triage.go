package action

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/slack-go/slack"

	"github.com/ciaranashton/relay-agent/internal/domain"
	"github.com/ciaranashton/relay-agent/internal/httpclient"
	"github.com/ciaranashton/relay-agent/internal/mailer"
	"github.com/ciaranashton/relay-agent/internal/schema"
	"github.com/ciaranashton/relay-agent/internal/tool"
)

type TriageOptions struct {
	// Channel selects delivery: email (default), slack or webhook.
	Channel domain.TriageChannel `json:"channel"`

	FromAddress     string         `json:"fromAddress"`
	TriageRecipient string         `json:"triageRecipient"`
	APIKey          string         `json:"apiKey"`
	Mailer          mailer.Options `json:"mailer"`

	SlackToken   string `json:"slackToken"`
	SlackChannel string `json:"slackChannel"`
	SlackAPIURL  string `json:"slackApiUrl"`

	WebhookURL string `json:"webhookUrl"`
}

var triageSchema = schema.Object(
	schema.Prop("reason", schema.String().Describe("Why this message is being triaged to a human")),
	schema.Optional("recommendation", schema.String().Describe("Recommended response for the human to review and send")),
	schema.Prop("urgency", schema.String().Enum("low", "medium", "high").Describe("Urgency level of the triaged item")),
)

// Triage forwards the original message and the agent's analysis to a human.
type Triage struct {
	channel domain.TriageChannel

	from      string
	recipient string
	mailer    mailer.Mailer

	slack        *slack.Client
	slackChannel string

	webhookURL string
	client     *http.Client
	logger     *slog.Logger
}

func NewTriage(opts TriageOptions, logger *slog.Logger) (*Triage, error) {
	t := &Triage{channel: opts.Channel, logger: logger}
	if t.channel == "" {
		t.channel = domain.TriageEmail
	}

	switch t.channel {
	case domain.TriageEmail:
		if err := requireOption("triage", "fromAddress", opts.FromAddress); err != nil {
			return nil, err
		}
		if err := requireOption("triage", "triageRecipient", opts.TriageRecipient); err != nil {
			return nil, err
		}
		m, err := newMailer(opts.Mailer, opts.APIKey, logger)
		if err != nil {
			return nil, err
		}
		t.from, t.recipient, t.mailer = opts.FromAddress, opts.TriageRecipient, m
	case domain.TriageSlack:
		if err := requireOption("triage", "slackToken", opts.SlackToken); err != nil {
			return nil, err
		}
		if err := requireOption("triage", "slackChannel", opts.SlackChannel); err != nil {
			return nil, err
		}
		var slackOpts []slack.Option
		if opts.SlackAPIURL != "" {
			slackOpts = append(slackOpts, slack.OptionAPIURL(strings.TrimRight(opts.SlackAPIURL, "/")+"/"))
		}
		t.slack = slack.New(opts.SlackToken, slackOpts...)
		t.slackChannel = opts.SlackChannel
	case domain.TriageWebhook:
		if err := requireOption("triage", "webhookUrl", opts.WebhookURL); err != nil {
			return nil, err
		}
		t.webhookURL = opts.WebhookURL
		t.client = httpclient.Shared(httpclient.DefaultTimeout)
	default:
		return nil, fmt.Errorf("triage action: unknown channel %q (valid: email, slack, webhook)", opts.Channel)
	}
	return t, nil
}

// NewTriageWithMailer builds an email triage action around an existing mailer.
func NewTriageWithMailer(from, recipient string, m mailer.Mailer, logger *slog.Logger) *Triage {
	return &Triage{channel: domain.TriageEmail, from: from, recipient: recipient, mailer: m, logger: logger}
}

func (a *Triage) Name() string { return "triage" }

func (a *Triage) Description() string {
	return "Forward a message to a human for review. Use this when you are unsure, when the message contains sensitive keywords, or when confidence is low."
}

func (a *Triage) Schema() *schema.Schema { return triageSchema }

type triageRequest struct {
	reason         string
	recommendation string
	urgency        string
}

func (a *Triage) Execute(ctx context.Context, args map[string]any, ectx domain.ExecutionContext) (domain.ActionResult, error) {
	req := triageRequest{
		reason:         tool.ArgsString(args, "reason"),
		recommendation: tool.ArgsString(args, "recommendation"),
		urgency:        tool.ArgsString(args, "urgency"),
	}
	prefix := urgencyPrefix(req.urgency)
	subject := fmt.Sprintf("%s Triage: %s", prefix, subjectOr(ectx.Message, "No subject"))
	body := triageBody(prefix, req, ectx)

	switch a.channel {
	case domain.TriageSlack:
		return a.toSlack(ctx, subject, body)
	case domain.TriageWebhook:
		return a.toWebhook(ctx, subject, body, req, ectx)
	default:
		res, err := a.mailer.Send(ctx, mailer.Email{
			From:    a.from,
			To:      []string{a.recipient},
			Subject: subject,
			Body:    body,
		})
		if err != nil {
			return deliveryResult(err)
		}
		return ok(map[string]any{"emailId": res.ID, "triaged": true})
	}
}

func (a *Triage) toSlack(ctx context.Context, subject, body string) (domain.ActionResult, error) {
	channel, ts, err := a.slack.PostMessageContext(ctx, a.slackChannel,
		slack.MsgOptionText("*"+subject+"*\n```"+body+"```", false),
	)
	if err != nil {
		var se slack.SlackErrorResponse
		if errors.As(err, &se) {
			return rejected(se.Err)
		}
		return domain.ActionResult{}, fmt.Errorf("slack post: %w", err)
	}
	return ok(map[string]any{"channel": channel, "ts": ts, "triaged": true})
}

func (a *Triage) toWebhook(ctx context.Context, subject, body string, req triageRequest, ectx domain.ExecutionContext) (domain.ActionResult, error) {
	payload, err := json.Marshal(map[string]any{
		"agent":          ectx.AgentName,
		"subject":        subject,
		"text":           body,
		"urgency":        req.urgency,
		"reason":         req.reason,
		"recommendation": req.recommendation,
		"message":        ectx.Message,
	})
	if err != nil {
		return domain.ActionResult{}, err
	}
	resp, err := httpclient.DoWithRetry(ctx, a.client, httpclient.RetryPolicy{}, func() (*http.Request, error) {
		r, err := http.NewRequestWithContext(ctx, http.MethodPost, a.webhookURL, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		r.Header.Set("Content-Type", "application/json")
		return r, nil
	}, a.logger)
	if err != nil {
		return domain.ActionResult{}, fmt.Errorf("triage webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return deliveryResult(&httpclient.StatusError{StatusCode: resp.StatusCode, Body: string(b)})
	}
	return ok(map[string]any{"status": resp.StatusCode, "triaged": true})
}

func urgencyPrefix(urgency string) string {
	switch urgency {
	case "high":
		return "[URGENT]"
	case "medium":
		return "[REVIEW]"
	default:
		return "[FYI]"
	}
}

func triageBody(prefix string, req triageRequest, ectx domain.ExecutionContext) string {
	msg := ectx.Message
	var b strings.Builder
	fmt.Fprintf(&b, "%s Triage from %s\n\n", prefix, ectx.AgentName)
	fmt.Fprintf(&b, "Original message from: %s\n", msg.From)
	fmt.Fprintf(&b, "Subject: %s\n", subjectOr(msg, "(no subject)"))
	fmt.Fprintf(&b, "Received: %s\n\n", msg.ReceivedAt.UTC().Format("2006-01-02T15:04:05.000Z"))
	b.WriteString("--- Original Message ---\n")
	b.WriteString(msg.Body)
	b.WriteString("\n\n--- Agent Analysis ---\n")
	fmt.Fprintf(&b, "Reason for triage: %s\n", req.reason)
	if req.recommendation != "" {
		fmt.Fprintf(&b, "\nRecommended response:\n%s", req.recommendation)
	}
	return b.String()
}
