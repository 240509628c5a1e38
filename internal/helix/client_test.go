package helix

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/you/streamrig/internal/config"
)

type tokenResponder struct {
	count *atomic.Int64
}

func (t tokenResponder) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	t.count.Add(1)
	_ = r.ParseForm()
	if r.Form.Get("client_id") == "fail" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": "app-token",
		"expires_in":   60,
	})
}

func newTestServer(t *testing.T, mux *http.ServeMux) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	prevBase, prevToken := helixBaseURL, oauthTokenURL
	helixBaseURL = srv.URL + "/helix"
	oauthTokenURL = srv.URL + "/oauth2/token"
	t.Cleanup(func() {
		helixBaseURL, oauthTokenURL = prevBase, prevToken
	})
	return srv
}

func usersHandler(lookups *atomic.Int64) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lookups.Add(1)
		if r.Header.Get("Authorization") != "Bearer app-token" || r.Header.Get("Client-Id") != "client" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		q := r.URL.Query()
		if q.Get("login") == "streamer" || q.Get("id") == "1234" {
			_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{{
				"id":                "1234",
				"login":             "streamer",
				"display_name":      "Streamer",
				"profile_image_url": "https://cdn/streamer.png",
			}}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
	}
}

func TestUserLookupIsCached(t *testing.T) {
	tokenCalls := &atomic.Int64{}
	lookups := &atomic.Int64{}
	mux := http.NewServeMux()
	mux.Handle("/oauth2/token", tokenResponder{count: tokenCalls})
	mux.HandleFunc("/helix/users", usersHandler(lookups))
	srv := newTestServer(t, mux)

	c := New("client", "secret", "#Streamer", nil)
	c.HTTP = srv.Client()
	c.TTL = time.Minute
	ctx := context.Background()

	u, err := c.UserByLogin(ctx, "Streamer")
	if err != nil {
		t.Fatalf("UserByLogin: %v", err)
	}
	if u.ID != "1234" || u.DisplayName != "Streamer" {
		t.Fatalf("user = %+v", u)
	}
	img, err := c.ProfileImage(ctx, "1234")
	if err != nil || img != "https://cdn/streamer.png" {
		t.Fatalf("ProfileImage = %q, %v", img, err)
	}
	if got := lookups.Load(); got != 1 {
		t.Fatalf("lookups = %d, want 1 (id lookup should hit the cache)", got)
	}
	if got := tokenCalls.Load(); got != 1 {
		t.Fatalf("token calls = %d, want 1", got)
	}

	if _, err := c.UserByLogin(ctx, "nobody"); err != ErrUserNotFound {
		t.Fatalf("err = %v, want ErrUserNotFound", err)
	}
}

func TestAppTokenFailure(t *testing.T) {
	mux := http.NewServeMux()
	mux.Handle("/oauth2/token", tokenResponder{count: &atomic.Int64{}})
	srv := newTestServer(t, mux)

	c := New("fail", "secret", "", nil)
	c.HTTP = srv.Client()
	if _, err := c.UserByLogin(context.Background(), "x"); err == nil {
		t.Fatalf("expected token error")
	}

	bare := New("", "", "", nil)
	if _, err := bare.UserByID(context.Background(), "1"); err != ErrNoCredentials {
		t.Fatalf("err = %v, want ErrNoCredentials", err)
	}
}

func TestUpdateReward(t *testing.T) {
	var body map[string]any
	var query string
	mux := http.NewServeMux()
	mux.Handle("/oauth2/token", tokenResponder{count: &atomic.Int64{}})
	mux.HandleFunc("/helix/users", usersHandler(&atomic.Int64{}))
	mux.HandleFunc("/helix/channel_points/custom_rewards", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPatch || r.Header.Get("Authorization") != "Bearer user-token" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		query = r.URL.RawQuery
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Write([]byte(`{"data":[]}`))
	})
	srv := newTestServer(t, mux)

	c := New("client", "secret", "streamer", func() string { return "user-token" })
	c.HTTP = srv.Client()
	enabled := true
	err := c.UpdateReward(context.Background(), "r-9", config.RewardVariant{Title: "Level 2", Cost: 200, IsEnabled: &enabled})
	if err != nil {
		t.Fatalf("UpdateReward: %v", err)
	}
	if query != "broadcaster_id=1234&id=r-9" {
		t.Fatalf("query = %q", query)
	}
	if body["title"] != "Level 2" || body["cost"] != float64(200) || body["is_enabled"] != true {
		t.Fatalf("body = %v", body)
	}
	if _, ok := body["prompt"]; ok {
		t.Fatalf("empty prompt should be omitted: %v", body)
	}
}

func TestCreateSubscription(t *testing.T) {
	var sub Subscription
	mux := http.NewServeMux()
	mux.Handle("/oauth2/token", tokenResponder{count: &atomic.Int64{}})
	mux.HandleFunc("/helix/users", usersHandler(&atomic.Int64{}))
	mux.HandleFunc("/helix/eventsub/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&sub)
		w.WriteHeader(http.StatusAccepted)
	})
	srv := newTestServer(t, mux)

	c := New("client", "secret", "streamer", func() string { return "user-token" })
	c.HTTP = srv.Client()
	if err := c.CreateEventSubSubscription(context.Background(), "sess-1", "channel.cheer", "1"); err != nil {
		t.Fatalf("CreateEventSubSubscription: %v", err)
	}
	if sub.Type != "channel.cheer" || sub.Transport.SessionID != "sess-1" || sub.Condition["broadcaster_user_id"] != "1234" {
		t.Fatalf("subscription = %+v", sub)
	}

	noUser := New("client", "secret", "streamer", func() string { return " " })
	if err := noUser.CreateEventSubSubscription(context.Background(), "s", "channel.cheer", "1"); err != ErrNoUserToken {
		t.Fatalf("err = %v, want ErrNoUserToken", err)
	}
}
