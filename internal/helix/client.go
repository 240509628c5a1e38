// Package helix is a small Twitch Helix client: cached user lookups for
// profile images, channel point reward updates and EventSub subscriptions.
package helix

import (
	"bytes"
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

	"github.com/you/streamrig/internal/config"
)

const defaultTTL = 6 * time.Hour

var (
	helixBaseURL      = "https://api.twitch.tv/helix"
	oauthTokenURL     = "https://id.twitch.tv/oauth2/token"
	usersPath         = "/users"
	rewardsPath       = "/channel_points/custom_rewards"
	subscriptionsPath = "/eventsub/subscriptions"
)

var (
	ErrUserNotFound    = errors.New("helix: user not found")
	ErrNoUserToken     = errors.New("helix: no user token")
	ErrNoCredentials   = errors.New("helix: client id and secret required")
	ErrNoBroadcasterID = errors.New("helix: broadcaster id unknown")
)
	ErrNoUserToken     = errors.New("helix: no user token")
	ErrNoCredentials   = errors.New("helix: client id and secret required")
	ErrNoBroadcasterID = errors.New("helix: broadcaster id unknown")
)

type User struct {
	ID              string `json:"id"`
	Login           string `json:"login"`
	DisplayName     string `json:"display_name"`
	ProfileImageURL string `json:"profile_image_url"`
}

// Client talks to Helix. App access tokens are fetched with the client
// credentials; calls on behalf of the broadcaster use UserToken.
type Client struct {
	ClientID     string
	ClientSecret string
	Channel      string
	HTTP         *http.Client
	TTL          time.Duration
	// UserToken returns the current broadcaster access token.
	UserToken func() string

	mu          sync.Mutex
	token       cachedToken
	users       map[string]cacheEntry
	broadcaster string
}

type cachedToken struct {
	token     string
	expiresAt time.Time
}

type cacheEntry struct {
	user      User
	expiresAt time.Time
}

type usersResponse struct {
	Data []User `json:"data"`
}

func New(clientID, clientSecret, channel string, userToken func() string) *Client {
	return &Client{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		Channel:      strings.ToLower(strings.TrimPrefix(strings.TrimSpace(channel), "#")),
		UserToken:    userToken,
	}
}

// UserByLogin returns the user with login, from cache when fresh.
func (c *Client) UserByLogin(ctx context.Context, login string) (User, error) {
	return c.lookup(ctx, "login", strings.ToLower(strings.TrimSpace(login)))
}

func (c *Client) UserByID(ctx context.Context, id string) (User, error) {
	return c.lookup(ctx, "id", strings.TrimSpace(id))
}

// ProfileImage returns the profile image URL of userID.
func (c *Client) ProfileImage(ctx context.Context, userID string) (string, error) {
	u, err := c.UserByID(ctx, userID)
	if err != nil {
		return "", err
	}
	return u.ProfileImageURL, nil
}

// Broadcaster returns the channel owner.
func (c *Client) Broadcaster(ctx context.Context) (User, error) {
	if c.Channel == "" {
		return User{}, ErrNoBroadcasterID
	}
	u, err := c.UserByLogin(ctx, c.Channel)
	if err != nil {
		return User{}, err
	}
	c.mu.Lock()
	c.broadcaster = u.ID
	c.mu.Unlock()
	return u, nil
}

func (c *Client) broadcasterID(ctx context.Context) (string, error) {
	c.mu.Lock()
	id := c.broadcaster
	c.mu.Unlock()
	if id != "" {
		return id, nil
	}
	u, err := c.Broadcaster(ctx)
	if err != nil {
		return "", err
	}
	return u.ID, nil
}

func (c *Client) lookup(ctx context.Context, field, value string) (User, error) {
	if value == "" {
		return User{}, ErrUserNotFound
	}
	cacheKey := field + ":" + value
	if u, ok := c.cachedUser(cacheKey); ok {
		return u, nil
	}

	token, err := c.appToken(ctx)
	if err != nil {
		return User{}, err
	}
	endpoint := c.base() + usersPath + "?" + field + "=" + url.QueryEscape(value)
	var parsed usersResponse
	if err := c.do(ctx, http.MethodGet, endpoint, token, nil, &parsed); err != nil {
		return User{}, fmt.Errorf("helix: lookup %s %s: %w", field, value, err)
	}
	if len(parsed.Data) == 0 || parsed.Data[0].ID == "" {
		return User{}, ErrUserNotFound
	}
	u := parsed.Data[0]
	c.storeUser("id:"+u.ID, u)
	c.storeUser("login:"+strings.ToLower(u.Login), u)
	return u, nil
}

func (c *Client) cachedUser(key string) (User, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.users[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return User{}, false
	}
	return entry.user, true
}

func (c *Client) storeUser(key string, u User) {
	ttl := c.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.users == nil {
		c.users = map[string]cacheEntry{}
	}
	c.users[key] = cacheEntry{user: u, expiresAt: time.Now().Add(ttl)}
}

// UpdateReward patches a channel point reward with variant.
func (c *Client) UpdateReward(ctx context.Context, rewardID string, variant config.RewardVariant) error {
	token, err := c.userToken()
	if err != nil {
		return err
	}
	broadcasterID, err := c.broadcasterID(ctx)
	if err != nil {
		return err
	}
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	q.Set("id", rewardID)
	endpoint := c.base() + rewardsPath + "?" + q.Encode()
	if err := c.do(ctx, http.MethodPatch, endpoint, token, variant, nil); err != nil {
		return fmt.Errorf("helix: update reward %s: %w", rewardID, err)
	}
	log.Printf("helix: updated reward %s (%s)", rewardID, variant.Title)
	return nil
}

// Subscription is an EventSub subscription request over a websocket
// session.
type Subscription struct {
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Condition map[string]string `json:"condition"`
	Transport Transport         `json:"transport"`
}

type Transport struct {
	Method    string `json:"method"`
	SessionID string `json:"session_id"`
}

// CreateEventSubSubscription subscribes the websocket session to typ for
// the broadcaster's channel.
func (c *Client) CreateEventSubSubscription(ctx context.Context, sessionID, typ, version string) error {
	token, err := c.userToken()
	if err != nil {
		return err
	}
	broadcasterID, err := c.broadcasterID(ctx)
	if err != nil {
		return err
	}
	sub := Subscription{
		Type:      typ,
		Version:   version,
		Condition: map[string]string{"broadcaster_user_id": broadcasterID},
		Transport: Transport{Method: "websocket", SessionID: sessionID},
	}
	if err := c.do(ctx, http.MethodPost, c.base()+subscriptionsPath, token, sub, nil); err != nil {
		return fmt.Errorf("helix: subscribe %s: %w", typ, err)
	}
	return nil
}

func (c *Client) userToken() (string, error) {
	if c.UserToken == nil {
		return "", ErrNoUserToken
	}
	token := strings.TrimSpace(c.UserToken())
	if token == "" {
		return "", ErrNoUserToken
	}
	return token, nil
}

func (c *Client) do(ctx context.Context, method, endpoint, token string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Client-Id", strings.TrimSpace(c.ClientID))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) appToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.token.token != "" && time.Now().Before(c.token.expiresAt) {
		token := c.token.token
		c.mu.Unlock()
		return token, nil
	}
	c.mu.Unlock()

	clientID := strings.TrimSpace(c.ClientID)
	clientSecret := strings.TrimSpace(c.ClientSecret)
	if clientID == "" || clientSecret == "" {
		return "", ErrNoCredentials
	}

	form := url.Values{}
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	form.Set("grant_type", "client_credentials")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, oauthTokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("helix: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("helix: request token: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("helix: token status %d", resp.StatusCode)
	}

	var parsed struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", fmt.Errorf("helix: decode token: %w", err)
	}
	token := strings.TrimSpace(parsed.AccessToken)
	if token == "" {
		return "", errors.New("helix: empty access_token")
	}

	expiresIn := time.Duration(parsed.ExpiresIn) * time.Second
	if parsed.ExpiresIn <= 0 {
		expiresIn = time.Hour
	}

	c.mu.Lock()
	c.token = cachedToken{token: token, expiresAt: time.Now().Add(expiresIn)}
	c.mu.Unlock()
	return token, nil
}

func (c *Client) base() string {
	return strings.TrimSuffix(helixBaseURL, "/")
}

func (c *Client) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return http.DefaultClient
}
