package notify

import (
	"fmt"
	"strconv"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"

	"confluence-trader/manage"
)

// Telegram pushes trade alerts to a single chat. Outbound only; the bot does
// not listen for commands.
type Telegram struct {
	api    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram connects the bot API. chatID comes as a string from the env.
func NewTelegram(token, chatID string) (*Telegram, error) {
	if token == "" || chatID == "" {
		return nil, fmt.Errorf("telegram token and chat id are required")
	}
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse telegram chat id: %w", err)
	}
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	log.Info().Str("username", api.Self.UserName).Msg("[notify] telegram connected")
	return &Telegram{api: api, chatID: id}, nil
}

func (t *Telegram) TradeOpened(tr *manage.Trade) {
	t.sendMarkdown(openMessage(tr))
}

func (t *Telegram) TradeClosed(tr *manage.Trade) {
	t.sendMarkdown(closeMessage(tr))
}

func (t *Telegram) Info(text string) {
	t.sendMarkdown(text)
}

func (t *Telegram) sendMarkdown(text string) {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = "Markdown"
	if _, err := t.api.Send(msg); err != nil {
		log.Warn().Err(err).Msg("[notify] telegram send failed")
	}
}

// FromConfig returns the Telegram notifier when both settings are present,
// otherwise the no-op.
func FromConfig(token, chatID string) Notifier {
	if token == "" || chatID == "" {
		return Nop{}
	}
	tg, err := NewTelegram(token, chatID)
	if err != nil {
		log.Warn().Err(err).Msg("[notify] telegram disabled")
		return Nop{}
	}
	return tg
}
