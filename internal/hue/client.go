// Package hue drives Philips Hue lights and smart plugs through the bridge's
// local REST API.
package hue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

var ErrNotConfigured = errors.New("hue: bridge url and username are required")

type Client struct {
	BridgeURL string
	Username  string
	Lights    []int
	HTTP      *http.Client

	limiter *rate.Limiter
}

// New builds a client. The bridge accepts about ten light commands per
// second.
func New(bridgeURL, username string, lights []int) *Client {
	return &Client{
		BridgeURL: strings.TrimSuffix(strings.TrimSpace(bridgeURL), "/"),
		Username:  strings.TrimSpace(username),
		Lights:    append([]int(nil), lights...),
		HTTP:      &http.Client{Timeout: 5 * time.Second},
		limiter:   rate.NewLimiter(rate.Limit(10), 10),
	}
}

// SetColor sets every configured light to the CIE xy colour.
func (c *Client) SetColor(ctx context.Context, x, y float64) error {
	var errs []error
	for _, id := range c.Lights {
		if err := c.setState(ctx, id, map[string]any{"on": true, "xy": []float64{x, y}}); err != nil {
			errs = append(errs, fmt.Errorf("light %d: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

func (c *Client) SetPlug(ctx context.Context, id int, on bool) error {
	return c.setState(ctx, id, map[string]any{"on": on})
}

type bridgeResult struct {
	Success map[string]any `json:"success"`
	Error   *struct {
		Type        int    `json:"type"`
		Address     string `json:"address"`
		Description string `json:"description"`
	} `json:"error"`
}

func (c *Client) setState(ctx context.Context, id int, state map[string]any) error {
	if c.BridgeURL == "" || c.Username == "" {
		return ErrNotConfigured
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	body, err := json.Marshal(state)
	if err != nil {
		return err
	}
	endpoint := c.BridgeURL + "/api/" + c.Username + "/lights/" + strconv.Itoa(id) + "/state"
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("hue: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("hue: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("hue: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("hue: status %d", resp.StatusCode)
	}
	var results []bridgeResult
	if err := json.Unmarshal(raw, &results); err != nil {
		return fmt.Errorf("hue: decode response: %w", err)
	}
	for _, r := range results {
		if r.Error != nil {
			return fmt.Errorf("hue: %s: %s", r.Error.Address, r.Error.Description)
		}
	}
	return nil
}
