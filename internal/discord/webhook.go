package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrNoWebhook is returned when no webhook is configured for a key.
var ErrNoWebhook = errors.New("discord: no webhook for key")

type payload struct {
	Username  string `json:"username,omitempty"`
	AvatarURL string `json:"avatar_url,omitempty"`
	Content   string `json:"content"`
}

// Poster sends messages to Discord webhooks keyed by trigger.
type Poster struct {
	webhooks map[string]string
	http     *http.Client

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func New(webhooks map[string]string) *Poster {
	copied := make(map[string]string, len(webhooks))
	for k, v := range webhooks {
		copied[k] = v
	}
	return &Poster{
		webhooks: copied,
		http:     &http.Client{Timeout: 10 * time.Second},
		limiters: make(map[string]*rate.Limiter),
	}
}

func (p *Poster) Has(key string) bool {
	_, ok := p.webhooks[key]
	return ok
}

// Send posts once. Discord allows five posts per two seconds per webhook,
// so calls wait on a per-webhook limiter.
func (p *Poster) Send(ctx context.Context, webhookKey, username, avatarURL, content string) error {
	url, ok := p.webhooks[webhookKey]
	if !ok || strings.TrimSpace(url) == "" {
		return fmt.Errorf("%w %q", ErrNoWebhook, webhookKey)
	}
	if strings.TrimSpace(content) == "" {
		return nil
	}
	if err := p.limiter(url).Wait(ctx); err != nil {
		return err
	}

	body, err := json.Marshal(payload{Username: username, AvatarURL: avatarURL, Content: content})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("discord: status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

func (p *Poster) limiter(url string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.limiters[url]
	if !ok {
		l = rate.NewLimiter(rate.Every(400*time.Millisecond), 5)
		p.limiters[url] = l
	}
	return l
}
