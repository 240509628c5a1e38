package twitch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func newTestManager(t *testing.T, handler http.HandlerFunc) *RefreshManager {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	originalToken, originalValidate := tokenEndpoint, validateEndpoint
	tokenEndpoint = srv.URL + "/oauth2/token"
	validateEndpoint = srv.URL + "/oauth2/validate"
	t.Cleanup(func() {
		tokenEndpoint = originalToken
		validateEndpoint = originalValidate
	})

	dir := t.TempDir()
	return NewRefreshManager("cid", "secret", "oauth:old", "refresh", TokenFiles{
		AccessPath:  filepath.Join(dir, "token"),
		RefreshPath: filepath.Join(dir, "refresh"),
	})
}

func TestRefreshSuccess(t *testing.T) {
	mgr := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.Form.Get("refresh_token"); got != "refresh" {
			t.Errorf("refresh_token = %q, want refresh", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"abc123","refresh_token":"rotated","expires_in":3600}`))
	})

	token, expires, err := mgr.Refresh(context.Background())
	if err != nil {
		t.Fatalf("Refresh error: %v", err)
	}
	if token != "abc123" || mgr.AccessToken() != "abc123" {
		t.Fatalf("token = %q, current = %q", token, mgr.AccessToken())
	}
	if expires != 3600*time.Second {
		t.Fatalf("expires = %v, want 1h", expires)
	}

	data, err := os.ReadFile(mgr.Files.AccessPath)
	if err != nil {
		t.Fatalf("read token file: %v", err)
	}
	if string(data) != "oauth:abc123\n" {
		t.Fatalf("token file = %q", string(data))
	}
	refresh, err := mgr.Files.ReadRefresh()
	if err != nil || refresh != "rotated" {
		t.Fatalf("refresh file = %q, %v", refresh, err)
	}

	if runtime.GOOS != "windows" {
		info, err := os.Stat(mgr.Files.AccessPath)
		if err != nil {
			t.Fatalf("stat token file: %v", err)
		}
		if info.Mode().Perm()&0o077 != 0 {
			t.Fatalf("token file permissions too open: %v", info.Mode())
		}
	}
}

func TestRefreshInvalidGrant(t *testing.T) {
	mgr := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":400,"message":"invalid_grant"}`))
	})

	_, _, err := mgr.Refresh(context.Background())
	if err == nil || !strings.Contains(err.Error(), "invalid_grant") {
		t.Fatalf("err = %v, want invalid_grant", err)
	}
	if mgr.AccessToken() != "old" {
		t.Fatalf("access token changed on failure: %q", mgr.AccessToken())
	}
}

func TestRefreshTokenFileError(t *testing.T) {
	tmpDir := t.TempDir()
	mgr := NewRefreshManager("cid", "secret", "", "refresh", TokenFiles{AccessPath: tmpDir})
	mgr.HTTP = &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		rr := httptest.NewRecorder()
		rr.WriteHeader(http.StatusOK)
		_, _ = rr.Write([]byte(`{"access_token":"abc","expires_in":1}`))
		return rr.Result(), nil
	})}

	_, _, err := mgr.Refresh(context.Background())
	if err == nil || !strings.Contains(err.Error(), "token file") {
		t.Fatalf("err = %v, want token file error", err)
	}
}

func TestRefreshRequiresCredentials(t *testing.T) {
	mgr := NewRefreshManager("", "", "tok", "", TokenFiles{})
	if mgr.CanRefresh() {
		t.Fatalf("CanRefresh = true without credentials")
	}
	if _, _, err := mgr.Refresh(context.Background()); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidate(t *testing.T) {
	mgr := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "OAuth old" {
			t.Errorf("Authorization = %q", got)
		}
		_, _ = w.Write([]byte(`{"login":"streamer","expires_in":7200}`))
	})

	login, expires, err := mgr.Validate(context.Background())
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if login != "streamer" || expires != 2*time.Hour {
		t.Fatalf("got = %q %v, want streamer 2h", login, expires)
	}
	if got := mgr.nextInterval(); got != intervalFrom(2*time.Hour) {
		t.Fatalf("nextInterval = %v", got)
	}
}

func TestReloadPicksUpExternalTokens(t *testing.T) {
	mgr := newTestManager(t, func(w http.ResponseWriter, r *http.Request) {})

	if err := os.WriteFile(mgr.Files.AccessPath, []byte("oauth:fresh\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(mgr.Files.RefreshPath, []byte("refresh-new\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	changed, err := mgr.Reload()
	if err != nil || !changed {
		t.Fatalf("Reload = %v, %v; want changed", changed, err)
	}
	if mgr.AccessToken() != "fresh" {
		t.Fatalf("access = %q, want fresh", mgr.AccessToken())
	}
	mgr.mu.RLock()
	refresh := mgr.refresh
	mgr.mu.RUnlock()
	if refresh != "refresh-new" {
		t.Fatalf("refresh = %q, want refresh-new", refresh)
	}

	changed, err = mgr.Reload()
	if err != nil || changed {
		t.Fatalf("second Reload = %v, %v; want unchanged", changed, err)
	}
}

func TestIntervalFrom(t *testing.T) {
	if got := intervalFrom(10 * time.Second); got != time.Minute {
		t.Fatalf("got = %v, want 1m", got)
	}
	if got := intervalFrom(100 * time.Minute); got != 85*time.Minute {
		t.Fatalf("got = %v, want 85m", got)
	}
}
