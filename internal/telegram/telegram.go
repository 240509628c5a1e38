package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

type sender interface {
	SendMessage(ctx context.Context, params *telego.SendMessageParams) (*telego.Message, error)
}

// Poster sends trigger messages to one Telegram chat.
type Poster struct {
	bot    sender
	chatID int64
}

func New(token string, chatID int64) (*Poster, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, errors.New("telegram: token is required")
	}
	if chatID == 0 {
		return nil, errors.New("telegram: chat id is required")
	}
	bot, err := telego.NewBot(token, telego.WithDiscardLogger())
	if err != nil {
		return nil, fmt.Errorf("telegram: initialize bot: %w", err)
	}
	return &Poster{bot: bot, chatID: chatID}, nil
}

func (p *Poster) Send(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if _, err := p.bot.SendMessage(ctx, tu.Message(tu.ID(p.chatID), text)); err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	return nil
}
