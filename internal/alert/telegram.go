package alert

import (
	"context"
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

type TelegramConfig struct {
	Token    string
	ChatID   int64
	ThreadID int

	// PollTimeout is only relevant if the bot ever starts polling;
	// kept so the settings stay valid.
	PollTimeout time.Duration
}

// Telegram sends alerts to a single chat. Outbound only, the bot never
// polls for updates.
type Telegram struct {
	bot  *tele.Bot
	chat *tele.Chat
	opts *tele.SendOptions
}

func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram chat id is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	return &Telegram{
		bot:  b,
		chat: &tele.Chat{ID: cfg.ChatID},
		opts: &tele.SendOptions{DisableWebPagePreview: true, ThreadID: cfg.ThreadID},
	}, nil
}

func (t *Telegram) Send(ctx context.Context, text string) error {
	_, err := t.bot.Send(t.chat, text, t.opts)
	return err
}
