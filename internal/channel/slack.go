package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"

	"github.com/ciaranashton/relay-agent/internal/domain"
)

type SlackOptions struct {
	SigningSecret string `json:"signingSecret"`
}

// Slack receives Events API callbacks. Message and app_mention events are
// turned into messages; everything else is acknowledged and ignored.
type Slack struct {
	signingSecret string
}

func NewSlack(opts SlackOptions) (*Slack, error) {
	if opts.SigningSecret == "" {
		return nil, domain.NewConfigError("slack inbound requires signingSecret")
	}
	return &Slack{signingSecret: opts.SigningSecret}, nil
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) VerifySignature(_ context.Context, r *http.Request) error {
	body, err := readBody(r)
	if err != nil {
		return &domain.VerificationError{Adapter: s.Name(), Cause: err}
	}
	if err := s.verify(r.Header, body); err != nil {
		return &domain.VerificationError{Adapter: s.Name(), Cause: err}
	}
	return nil
}

func (s *Slack) verify(h http.Header, body []byte) error {
	sv, err := slack.NewSecretsVerifier(h, s.signingSecret)
	if err != nil {
		return err
	}
	if _, err := sv.Write(body); err != nil {
		return err
	}
	return sv.Ensure()
}

// Handshake answers the url_verification challenge Slack sends when the
// request URL is configured. The challenge is signed like any other event.
func (s *Slack) Handshake(r *http.Request, body []byte) (int, any, bool) {
	if r.Method != http.MethodPost {
		return 0, nil, false
	}
	var probe struct {
		Type string `json:"type"`
	}
	if json.Unmarshal(body, &probe) != nil || probe.Type != slackevents.URLVerification {
		return 0, nil, false
	}
	if err := s.verify(r.Header, body); err != nil {
		return http.StatusUnauthorized, map[string]string{"error": "Invalid signature"}, true
	}
	var ch slackevents.ChallengeResponse
	if err := json.Unmarshal(body, &ch); err != nil {
		return http.StatusBadRequest, map[string]string{"error": "Invalid payload"}, true
	}
	return http.StatusOK, map[string]string{"challenge": ch.Challenge}, true
}

func (s *Slack) ParseWebhook(_ context.Context, r *http.Request) (domain.Message, error) {
	body, err := readBody(r)
	if err != nil {
		return domain.Message{}, &domain.ParseError{Adapter: s.Name(), Cause: err}
	}
	ev, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		return domain.Message{}, &domain.ParseError{Adapter: s.Name(), Cause: err}
	}
	if ev.Type != slackevents.CallbackEvent {
		return domain.Message{}, ErrIgnored
	}
	cb, _ := ev.Data.(*slackevents.EventsAPICallbackEvent)

	msg := domain.Message{Channel: domain.ChannelSlack, Metadata: map[string]any{"team": ev.TeamID}}
	var ts string
	switch e := ev.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		if e.BotID != "" || e.SubType != "" {
			return domain.Message{}, ErrIgnored
		}
		msg.From, msg.Body, ts = e.User, e.Text, e.TimeStamp
		msg.Metadata["channel"] = e.Channel
		msg.Metadata["threadTs"] = firstNonEmpty(e.ThreadTimeStamp, e.TimeStamp)
	case *slackevents.AppMentionEvent:
		if e.BotID != "" {
			return domain.Message{}, ErrIgnored
		}
		msg.From, msg.Body, ts = e.User, e.Text, e.TimeStamp
		msg.Metadata["channel"] = e.Channel
		msg.Metadata["threadTs"] = firstNonEmpty(e.ThreadTimeStamp, e.TimeStamp)
	default:
		return domain.Message{}, ErrIgnored
	}
	if msg.From == "" {
		return domain.Message{}, parseErr(s.Name(), "event has no user")
	}

	msg.ReceivedAt = slackTime(ts)
	if cb != nil && cb.EventID != "" {
		msg.ID = cb.EventID
	} else {
		msg.ID = ts
	}
	msg.Metadata["ts"] = ts
	return msg, nil
}

// slackTime converts a "1700000000.000100" timestamp.
func slackTime(ts string) time.Time {
	secs, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Now()
	}
	var us int64
	if frac != "" {
		us, _ = strconv.ParseInt((frac + "000000")[:6], 10, 64)
	}
	return time.Unix(s, us*1000)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
