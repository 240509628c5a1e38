package discord

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSendPostsPayload(t *testing.T) {
	var got payload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := New(map[string]string{"clip": srv.URL})
	if !p.Has("clip") || p.Has("other") {
		t.Fatalf("Has mismatch")
	}
	if err := p.Send(context.Background(), "clip", "Elora", "https://cdn.test/a.png", "new clip!"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.Username != "Elora" || got.AvatarURL != "https://cdn.test/a.png" || got.Content != "new clip!" {
		t.Fatalf("payload = %+v", got)
	}
}

func TestSendMissingWebhook(t *testing.T) {
	err := New(nil).Send(context.Background(), "nope", "", "", "hi")
	if !errors.Is(err, ErrNoWebhook) {
		t.Fatalf("err = %v, want ErrNoWebhook", err)
	}
}

func TestSendReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"retry_after": 1.5}`))
	}))
	defer srv.Close()

	err := New(map[string]string{"k": srv.URL}).Send(context.Background(), "k", "", "", "hi")
	if err == nil || !strings.Contains(err.Error(), "status 429") {
		t.Fatalf("err = %v, want status 429", err)
	}
}
