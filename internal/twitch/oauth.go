package twitch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

var (
	tokenEndpoint    = "https://id.twitch.tv/oauth2/token"
	validateEndpoint = "https://id.twitch.tv/oauth2/validate"
)

const defaultRefreshTimeout = 15 * time.Second

// RefreshManager owns the broadcaster's user token. Chat, Helix and EventSub
// read it through AccessToken; Refresh swaps in a new one and persists it.
type RefreshManager struct {
	ClientID     string
	ClientSecret string
	Files        TokenFiles
	HTTP         *http.Client

	mu          sync.RWMutex
	access      string
	refresh     string
	lastExpires time.Duration
}

func NewRefreshManager(clientID, clientSecret, access, refresh string, files TokenFiles) *RefreshManager {
	return &RefreshManager{
		ClientID:     strings.TrimSpace(clientID),
		ClientSecret: strings.TrimSpace(clientSecret),
		Files:        files,
		access:       BareToken(access),
		refresh:      strings.TrimSpace(refresh),
	}
}

type refreshResponse struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresIn    int      `json:"expires_in"`
	Scope        []string `json:"scope"`
	Status       int      `json:"status"`
	Message      string   `json:"message"`
	Error        string   `json:"error"`
	ErrorDesc    string   `json:"error_description"`
}

// AccessToken returns the current bare access token.
func (m *RefreshManager) AccessToken() string {
	if m == nil {
		return ""
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.access
}

func (m *RefreshManager) SetRefreshToken(token string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	m.refresh = strings.TrimSpace(token)
	m.mu.Unlock()
}

// CanRefresh reports whether Refresh has what it needs.
func (m *RefreshManager) CanRefresh() bool {
	if m == nil {
		return false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ClientID != "" && m.ClientSecret != "" && m.refresh != ""
}

// Reload re-reads the token files, picking up tokens written by an external
// authorizer. It reports whether the access token changed.
func (m *RefreshManager) Reload() (bool, error) {
	if strings.TrimSpace(m.Files.AccessPath) == "" {
		return false, errors.New("twitch: access token file not configured")
	}
	access, err := m.Files.ReadAccess()
	if err != nil {
		return false, err
	}
	var refresh string
	if strings.TrimSpace(m.Files.RefreshPath) != "" {
		if refresh, err = m.Files.ReadRefresh(); err != nil && !errors.Is(err, ErrEmptyToken) {
			return false, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	changed := access != m.access
	m.access = access
	if refresh != "" {
		m.refresh = refresh
	}
	return changed, nil
}

// Refresh exchanges the refresh token for a new access token. Twitch may
// rotate the refresh token too; both are written back to their files.
func (m *RefreshManager) Refresh(ctx context.Context) (string, time.Duration, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, defaultRefreshTimeout)
		defer cancel()
	}

	m.mu.RLock()
	refreshToken := m.refresh
	m.mu.RUnlock()

	if m.ClientID == "" || m.ClientSecret == "" || refreshToken == "" {
		return "", 0, errors.New("twitch: refresh requires client credentials and refresh token")
	}

	form := url.Values{}
	form.Set("client_id", m.ClientID)
	form.Set("client_secret", m.ClientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tokenEndpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("twitch: create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client().Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("twitch: refresh request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", 0, fmt.Errorf("twitch: read refresh response: %w", err)
	}

	var parsed refreshResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", 0, fmt.Errorf("twitch: decode refresh response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		msg := strings.TrimSpace(parsed.Message)
		if msg == "" {
			msg = strings.TrimSpace(parsed.ErrorDesc)
		}
		if msg == "" {
			msg = strings.TrimSpace(parsed.Error)
		}
		if msg == "" {
			msg = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		}
		return "", 0, fmt.Errorf("twitch: refresh: %s", msg)
	}

	token := BareToken(parsed.AccessToken)
	if token == "" {
		return "", 0, errors.New("twitch: refresh returned empty token")
	}
	rotated := strings.TrimSpace(parsed.RefreshToken)

	expiresIn := time.Duration(parsed.ExpiresIn) * time.Second
	if parsed.ExpiresIn <= 0 {
		expiresIn = time.Hour
	}

	if p := strings.TrimSpace(m.Files.AccessPath); p != "" {
		if err := atomicWrite(p, []byte(NormalizeToken(token)+"\n"), 0o600); err != nil {
			return "", 0, fmt.Errorf("twitch: write token file: %w", err)
		}
	}
	if p := strings.TrimSpace(m.Files.RefreshPath); p != "" && rotated != "" {
		if err := atomicWrite(p, []byte(rotated+"\n"), 0o600); err != nil {
			return "", 0, fmt.Errorf("twitch: write refresh token file: %w", err)
		}
	}

	m.mu.Lock()
	m.access = token
	if rotated != "" {
		m.refresh = rotated
	}
	m.lastExpires = expiresIn
	m.mu.Unlock()

	log.Printf("twitch: refreshed token; expires at %s", time.Now().Add(expiresIn).UTC().Format(time.RFC3339))
	return token, expiresIn, nil
}

// Validate asks Twitch who the current access token belongs to.
func (m *RefreshManager) Validate(ctx context.Context) (string, time.Duration, error) {
	access := m.AccessToken()
	if access == "" {
		return "", 0, ErrEmptyToken
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, validateEndpoint, nil)
	if err != nil {
		return "", 0, fmt.Errorf("twitch: create validate request: %w", err)
	}
	req.Header.Set("Authorization", "OAuth "+access)
	resp, err := m.client().Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("twitch: validate request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("twitch: validate status %d", resp.StatusCode)
	}
	var v struct {
		Login     string `json:"login"`
		ExpiresIn int    `json:"expires_in"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&v); err != nil {
		return "", 0, fmt.Errorf("twitch: decode validate response: %w", err)
	}
	if v.Login == "" {
		return "", 0, errors.New("twitch: validate returned no login")
	}
	expires := time.Duration(v.ExpiresIn) * time.Second
	if v.ExpiresIn > 0 {
		m.mu.Lock()
		m.lastExpires = expires
		m.mu.Unlock()
	}
	return v.Login, expires, nil
}

// StartAuto refreshes the token ahead of expiry until ctx ends.
func (m *RefreshManager) StartAuto(ctx context.Context, onUpdate func(token string)) {
	if onUpdate == nil {
		onUpdate = func(string) {}
	}

	go func() {
		wait := m.nextInterval()
		if wait <= 0 {
			wait = time.Minute
		}
		timer := time.NewTimer(wait)
		defer timer.Stop()

		backoff := time.Second

		for {
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}

			token, expires, err := m.Refresh(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Printf("twitch: auto-refresh failed: %v", err)
				timer.Reset(backoff)
				if backoff < time.Minute {
					backoff = min(backoff*2, time.Minute)
				}
				continue
			}

			backoff = time.Second
			onUpdate(token)
			timer.Reset(intervalFrom(expires))
		}
	}()
}

func (m *RefreshManager) nextInterval() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.lastExpires <= 0 {
		return 0
	}
	return intervalFrom(m.lastExpires)
}

func (m *RefreshManager) client() *http.Client {
	if m.HTTP != nil {
		return m.HTTP
	}
	return http.DefaultClient
}

// intervalFrom schedules the next refresh at 85% of the token lifetime,
// never sooner than a minute.
func intervalFrom(exp time.Duration) time.Duration {
	next := time.Duration(float64(exp) * 0.85)
	if next < time.Minute {
		next = time.Minute
	}
	return next
}
