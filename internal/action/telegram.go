package action

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/ciaranashton/relay-agent/internal/domain"
	"github.com/ciaranashton/relay-agent/internal/httpclient"
	"github.com/ciaranashton/relay-agent/internal/schema"
	"github.com/ciaranashton/relay-agent/internal/tool"
)

type TelegramOptions struct {
	BotToken string `json:"botToken"`
	// APIEndpoint is a tgbotapi endpoint format, e.g. "https://api.telegram.org/bot%s/%s".
	APIEndpoint string `json:"apiEndpoint"`
	ChatID      int64  `json:"chatId"`
}

var telegramSchema = schema.Object(
	schema.Prop("text", schema.String().Describe("Message text to send")),
	schema.Optional("chatId", schema.String().Describe("Target chat ID; defaults to the chat the message came from")),
)

// Telegram sends a chat message through the Bot API. The bot is created on
// first use because creation calls getMe.
type Telegram struct {
	opts TelegramOptions

	mu  sync.Mutex
	bot *tgbotapi.BotAPI
}

func NewTelegram(opts TelegramOptions) (*Telegram, error) {
	if err := requireOption("telegram", "botToken", opts.BotToken); err != nil {
		return nil, err
	}
	if opts.APIEndpoint == "" {
		opts.APIEndpoint = tgbotapi.APIEndpoint
	}
	return &Telegram{opts: opts}, nil
}

func (a *Telegram) Name() string { return "telegram" }

func (a *Telegram) Description() string {
	return "Send a Telegram message. Replies to the originating chat unless chatId is given."
}

func (a *Telegram) Schema() *schema.Schema { return telegramSchema }

func (a *Telegram) client() (*tgbotapi.BotAPI, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.bot != nil {
		return a.bot, nil
	}
	bot, err := tgbotapi.NewBotAPIWithClient(a.opts.BotToken, a.opts.APIEndpoint, httpclient.Shared(httpclient.DefaultTimeout))
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	a.bot = bot
	return bot, nil
}

func (a *Telegram) Execute(ctx context.Context, args map[string]any, ectx domain.ExecutionContext) (domain.ActionResult, error) {
	chatID, err := a.chatID(tool.ArgsString(args, "chatId"), ectx.Message)
	if err != nil {
		return rejected(err.Error())
	}
	bot, err := a.client()
	if err != nil {
		return domain.ActionResult{}, err
	}

	sent, err := bot.Send(tgbotapi.NewMessage(chatID, tool.ArgsString(args, "text")))
	if err != nil {
		var te *tgbotapi.Error
		if errors.As(err, &te) {
			return rejected(te.Message)
		}
		return domain.ActionResult{}, fmt.Errorf("telegram send: %w", err)
	}
	return ok(map[string]any{"messageId": sent.MessageID, "chatId": chatID})
}

func (a *Telegram) chatID(arg string, msg domain.Message) (int64, error) {
	raw := arg
	if raw == "" {
		raw = msg.MetadataString("chatId")
	}
	if raw == "" {
		if a.opts.ChatID != 0 {
			return a.opts.ChatID, nil
		}
		return 0, errors.New("no chatId given and none configured")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid chatId %q", raw)
	}
	return id, nil
}
