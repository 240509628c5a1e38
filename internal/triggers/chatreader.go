package triggers

import (
	"context"
	"strings"

	"github.com/you/streamrig/internal/core"
	"github.com/you/streamrig/internal/speech"
)

type Speaker interface {
	Submit(ctx context.Context, req speech.Request) uint64
}

// ChatReader speaks viewer chat. Commands, reward messages and ignored
// logins are skipped; cheers are read with their bits.
type ChatReader struct {
	speaker    Speaker
	ignore     map[string]struct{}
	announcers map[string]string
}

// NewChatReader returns a reader. announcers maps bot logins to the prefix
// their announcement lines begin with; those lines are read verbatim.
func NewChatReader(speaker Speaker, ignore []string, announcers map[string]string) *ChatReader {
	r := &ChatReader{
		speaker:    speaker,
		ignore:     make(map[string]struct{}, len(ignore)),
		announcers: make(map[string]string, len(announcers)),
	}
	for _, login := range ignore {
		r.ignore[strings.ToLower(strings.TrimSpace(login))] = struct{}{}
	}
	for login, prefix := range announcers {
		r.announcers[strings.ToLower(strings.TrimSpace(login))] = prefix
	}
	return r
}

// OnChatMessage queues msg for speech and returns the serial, or 0 when
// the line is not read.
func (r *ChatReader) OnChatMessage(ctx context.Context, msg core.ChatMessage) uint64 {
	login := strings.ToLower(msg.Login)
	text := strings.TrimSpace(msg.Text)
	if login == "" || text == "" || msg.CustomRewardID != "" || strings.HasPrefix(text, "!") {
		return 0
	}

	if prefix, ok := r.announcers[login]; ok {
		if prefix == "" || !strings.HasPrefix(text, prefix) {
			return 0
		}
		return r.speaker.Submit(ctx, speech.Request{
			Text:    strings.TrimSpace(strings.TrimPrefix(text, prefix)),
			Speaker: login,
			Kind:    speech.KindAnnouncement,
		})
	}
	if _, ok := r.ignore[login]; ok {
		return 0
	}

	req := speech.Request{Text: text, Speaker: login, Kind: speech.KindSaid}
	switch {
	case msg.Bits > 0:
		req.Kind = speech.KindCheer
		req.Bits = msg.Bits
	case msg.IsAction:
		req.Kind = speech.KindAction
	}
	return r.speaker.Submit(ctx, req)
}
