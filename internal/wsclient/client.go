package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

var ErrNotConnected = errors.New("wsclient: not connected")

// Conn is the live connection handed to Handshake.
type Conn = websocket.Conn

type Config struct {
	// Name prefixes log lines, e.g. "obs" or "pipe".
	Name   string
	URL    string
	Header http.Header
	// Handshake runs on every new connection before messages are read.
	Handshake func(ctx context.Context, conn *Conn) error
	OnMessage func(raw json.RawMessage)
	// OnDisconnect runs after a connection is lost.
	OnDisconnect func(err error)
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
	ReadLimit    int64
}

// Client keeps one JSON websocket connection alive and reconnects with
// backoff.
type Client struct {
	cfg Config

	mu   sync.Mutex
	conn *websocket.Conn
}

func New(cfg Config) *Client {
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = time.Minute
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 4 << 20
	}
	if cfg.Name == "" {
		cfg.Name = "ws"
	}
	return &Client{cfg: cfg}
}

func (c *Client) Run(ctx context.Context) error {
	if strings.TrimSpace(c.cfg.URL) == "" {
		return fmt.Errorf("%s: url is required", c.cfg.Name)
	}

	backoff := c.cfg.MinBackoff
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		connected, err := c.runOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = c.cfg.MinBackoff
		}
		if c.cfg.OnDisconnect != nil {
			c.cfg.OnDisconnect(err)
		}
		log.Printf("%s: disconnected: %v; reconnecting in %s", c.cfg.Name, err, backoff)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		if backoff < c.cfg.MaxBackoff {
			backoff *= 2
			if backoff > c.cfg.MaxBackoff {
				backoff = c.cfg.MaxBackoff
			}
		}
	}
}

func (c *Client) runOnce(ctx context.Context) (bool, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.Dial(dialCtx, c.cfg.URL, &websocket.DialOptions{HTTPHeader: c.cfg.Header})
	cancel()
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	conn.SetReadLimit(c.cfg.ReadLimit)

	if c.cfg.Handshake != nil {
		if err := c.cfg.Handshake(ctx, conn); err != nil {
			return false, fmt.Errorf("handshake: %w", err)
		}
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.conn = nil
		c.mu.Unlock()
	}()
	log.Printf("%s: connected to %s", c.cfg.Name, c.cfg.URL)

	for {
		var raw json.RawMessage
		if err := wsjson.Read(ctx, conn, &raw); err != nil {
			return true, fmt.Errorf("read: %w", err)
		}
		if c.cfg.OnMessage != nil {
			c.cfg.OnMessage(raw)
		}
	}
}

// Send writes v as one JSON message.
func (c *Client) Send(ctx context.Context, v any) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := wsjson.Write(writeCtx, conn, v); err != nil {
		return fmt.Errorf("%s: write: %w", c.cfg.Name, err)
	}
	return nil
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}
