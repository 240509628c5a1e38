package triggers

import (
	"context"
	"testing"

	"github.com/you/streamrig/internal/core"
	"github.com/you/streamrig/internal/speech"
)

type fakeSpeaker struct{ reqs []speech.Request }

func (s *fakeSpeaker) Submit(_ context.Context, req speech.Request) uint64 {
	s.reqs = append(s.reqs, req)
	return uint64(len(s.reqs))
}

func TestChatReader(t *testing.T) {
	sp := &fakeSpeaker{}
	r := NewChatReader(sp, []string{"Nightbot"}, map[string]string{"alertbot": "ALERT:"})
	ctx := context.Background()

	msgs := []core.ChatMessage{
		{Login: "Alice", Text: "hello there"},
		{Login: "alice", Text: "waves", IsAction: true},
		{Login: "bob", Text: "cheer100 go", Bits: 100},
		{Login: "nightbot", Text: "follow the socials"},
		{Login: "carol", Text: "!hug"},
		{Login: "dave", Text: "my reward text", CustomRewardID: "r"},
		{Login: "alertbot", Text: "ALERT: new follower"},
		{Login: "alertbot", Text: "just chatting"},
		{Login: "erin", Text: "   "},
	}
	for _, m := range msgs {
		r.OnChatMessage(ctx, m)
	}

	want := []speech.Request{
		{Text: "hello there", Speaker: "alice", Kind: speech.KindSaid},
		{Text: "waves", Speaker: "alice", Kind: speech.KindAction},
		{Text: "cheer100 go", Speaker: "bob", Kind: speech.KindCheer, Bits: 100},
		{Text: "new follower", Speaker: "alertbot", Kind: speech.KindAnnouncement},
	}
	if len(sp.reqs) != len(want) {
		t.Fatalf("got %d requests, want %d: %+v", len(sp.reqs), len(want), sp.reqs)
	}
	for i := range want {
		if sp.reqs[i] != want[i] {
			t.Errorf("req[%d] = %+v, want %+v", i, sp.reqs[i], want[i])
		}
	}
}
