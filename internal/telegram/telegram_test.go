package telegram

import (
	"context"
	"errors"
	"testing"

	"github.com/mymmrac/telego"
)

type fakeBot struct {
	params []*telego.SendMessageParams
	err    error
}

func (f *fakeBot) SendMessage(_ context.Context, params *telego.SendMessageParams) (*telego.Message, error) {
	f.params = append(f.params, params)
	if f.err != nil {
		return nil, f.err
	}
	return &telego.Message{MessageID: len(f.params)}, nil
}

func TestSendPostsToChat(t *testing.T) {
	bot := &fakeBot{}
	p := &Poster{bot: bot, chatID: -100123}
	if err := p.Send(context.Background(), "  clip ready  "); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := p.Send(context.Background(), "   "); err != nil {
		t.Fatalf("Send blank: %v", err)
	}
	if len(bot.params) != 1 {
		t.Fatalf("sent %d messages, want 1", len(bot.params))
	}
	if bot.params[0].Text != "clip ready" || bot.params[0].ChatID.ID != -100123 {
		t.Fatalf("params = %+v", bot.params[0])
	}
}

func TestSendWrapsError(t *testing.T) {
	boom := errors.New("boom")
	p := &Poster{bot: &fakeBot{err: boom}, chatID: 1}
	if err := p.Send(context.Background(), "hi"); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}
}

func TestNewValidates(t *testing.T) {
	if _, err := New("", 1); err == nil {
		t.Fatalf("expected error for empty token")
	}
	if _, err := New("123:abc", 0); err == nil {
		t.Fatalf("expected error for missing chat id")
	}
}
