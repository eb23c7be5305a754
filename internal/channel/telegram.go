package channel

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ciaranashton/relay-agent/internal/domain"
)

const telegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

type TelegramOptions struct {
	SecretToken string `json:"secretToken"`
}

// Telegram receives bot updates delivered through setWebhook.
type Telegram struct {
	secret string
}

func NewTelegram(opts TelegramOptions) *Telegram {
	return &Telegram{secret: opts.SecretToken}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) VerifySignature(_ context.Context, r *http.Request) error {
	if t.secret == "" {
		return nil
	}
	got := r.Header.Get(telegramSecretHeader)
	if got == "" {
		return &domain.VerificationError{Adapter: t.Name(), Cause: errMissingSignature}
	}
	if subtle.ConstantTimeCompare([]byte(got), []byte(t.secret)) != 1 {
		return &domain.VerificationError{Adapter: t.Name(), Cause: errors.New("secret token mismatch")}
	}
	return nil
}

func (t *Telegram) ParseWebhook(_ context.Context, r *http.Request) (domain.Message, error) {
	body, err := readBody(r)
	if err != nil {
		return domain.Message{}, &domain.ParseError{Adapter: t.Name(), Cause: err}
	}
	var upd tgbotapi.Update
	if err := json.Unmarshal(body, &upd); err != nil {
		return domain.Message{}, &domain.ParseError{Adapter: t.Name(), Cause: err}
	}
	m := upd.Message
	if m == nil || m.Chat == nil {
		return domain.Message{}, ErrIgnored
	}
	text := m.Text
	if text == "" {
		text = m.Caption
	}
	if text == "" {
		return domain.Message{}, ErrIgnored
	}

	from := strconv.FormatInt(m.Chat.ID, 10)
	if m.From != nil {
		if m.From.IsBot {
			return domain.Message{}, ErrIgnored
		}
		from = m.From.UserName
		if from == "" {
			from = strconv.FormatInt(m.From.ID, 10)
		}
	}

	return domain.Message{
		ID:      fmt.Sprintf("telegram-%d", upd.UpdateID),
		Channel: domain.ChannelTelegram,
		From:    from,
		Body:    text,
		Metadata: map[string]any{
			"chatId":    m.Chat.ID,
			"chatType":  m.Chat.Type,
			"messageId": m.MessageID,
		},
		ReceivedAt: m.Time(),
	}, nil
}
