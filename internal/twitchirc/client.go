package twitchirc

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/you/streamrig/internal/core"
)

type Config struct {
	Channel       string
	Nick          string
	Token         string
	UseTLS        bool
	TokenProvider func() string
	RefreshNow    func(context.Context) (string, error)
	Addr          string
	// Metrics is told about every line read. Optional.
	Metrics Metrics
}

// Metrics receives per-line counters.
type Metrics interface {
	ChatLineSeen()
	ChatLineDropped(reason string)
}

type Handler func(core.ChatMessage)

type Client struct {
	cfg    Config
	handle Handler

	// Twitch allows 20 messages per 30 seconds for a regular account.
	sayLimit *rate.Limiter

	mu   sync.Mutex
	send func(string) error
	drop func()
}

var (
	errAuthFailed   = errors.New("twitchirc: authentication failed")
	ErrNotConnected = errors.New("twitchirc: not connected")
)

func New(cfg Config, h Handler) *Client {
	cfg.Channel = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(cfg.Channel), "#"))
	return &Client{
		cfg:      cfg,
		handle:   h,
		sayLimit: rate.NewLimiter(rate.Every(1500*time.Millisecond), 5),
	}
}

func (c *Client) Run(ctx context.Context) error {
	if strings.TrimSpace(c.cfg.Channel) == "" || strings.TrimSpace(c.cfg.Nick) == "" {
		return errors.New("twitchirc: channel and nick are required")
	}

	backoff := time.Second
	refreshBackoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := c.runOnce(ctx)
		if err == nil {
			backoff = time.Second
			refreshBackoff = time.Second
			continue
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return ctx.Err()
		}

		if errors.Is(err, errAuthFailed) && c.cfg.RefreshNow != nil {
			log.Printf("twitchirc: authentication failed; refreshing token")
			for {
				_, refreshErr := c.cfg.RefreshNow(ctx)
				if refreshErr == nil {
					refreshBackoff = time.Second
					backoff = time.Second
					break
				}
				if ctx.Err() != nil {
					return ctx.Err()
				}
				log.Printf("twitchirc: refresh failed: %v; retrying in %s", refreshErr, refreshBackoff)
				if !sleep(ctx, refreshBackoff) {
					return ctx.Err()
				}
				refreshBackoff = grow(refreshBackoff, time.Minute)
			}
			continue
		}

		if errors.Is(err, errAuthFailed) {
			log.Printf("twitchirc: authentication failed; retrying in %s", backoff)
		} else {
			log.Printf("twitchirc: disconnected: %v; reconnecting in %s", err, backoff)
		}
		if !sleep(ctx, backoff) {
			return ctx.Err()
		}
		backoff = grow(backoff, time.Minute)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return false
	case <-timer.C:
		return true
	}
}

func grow(d, max time.Duration) time.Duration {
	d *= 2
	if d > max {
		return max
	}
	return d
}

// Say sends text to the channel. It waits for the send rate limit.
func (c *Client) Say(ctx context.Context, text string) error {
	text = strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(text))
	if text == "" {
		return nil
	}
	if err := c.sayLimit.Wait(ctx); err != nil {
		return err
	}
	c.mu.Lock()
	send := c.send
	c.mu.Unlock()
	if send == nil {
		return ErrNotConnected
	}
	if err := send("PRIVMSG #" + c.cfg.Channel + " :" + text); err != nil {
		return fmt.Errorf("twitchirc: say: %w", err)
	}
	return nil
}

// Reconnect drops the current connection. Run dials again with a fresh
// token from TokenProvider.
func (c *Client) Reconnect() error {
	c.mu.Lock()
	drop := c.drop
	c.mu.Unlock()
	if drop == nil {
		return ErrNotConnected
	}
	log.Printf("twitchirc: reconnect requested")
	drop()
	return nil
}

// Nick is the login the client joins as.
func (c *Client) Nick() string {
	return c.cfg.Nick
}

func (c *Client) runOnce(ctx context.Context) error {
	token := strings.TrimSpace(c.cfg.Token)
	if c.cfg.TokenProvider != nil {
		if provided := strings.TrimSpace(c.cfg.TokenProvider()); provided != "" {
			token = provided
		}
	}
	if token == "" {
		return errors.New("twitchirc: token is required")
	}
	if !strings.HasPrefix(token, "oauth:") {
		token = "oauth:" + token
	}

	host := "irc.chat.twitch.tv"
	addr := host + ":6667"
	if c.cfg.UseTLS {
		addr = host + ":6697"
	}
	if strings.TrimSpace(c.cfg.Addr) != "" {
		addr = strings.TrimSpace(c.cfg.Addr)
	}

	log.Printf("twitchirc: connecting to %s (tls=%v)", addr, c.cfg.UseTLS)

	d := &net.Dialer{Timeout: 10 * time.Second}
	var conn net.Conn
	var err error
	if c.cfg.UseTLS {
		conn, err = tls.DialWithDialer(d, "tcp", addr, &tls.Config{ServerName: host})
	} else {
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	reader := bufio.NewReader(conn)
	writer := bufio.NewWriter(conn)
	var writeMu sync.Mutex
	send := func(s string) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		if _, err := writer.WriteString(s + "\r\n"); err != nil {
			return err
		}
		return writer.Flush()
	}

	// close the conn on cancel to unblock the reader
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	if err := send("PASS " + token); err != nil {
		return fmt.Errorf("send PASS: %w", err)
	}
	if err := send("NICK " + c.cfg.Nick); err != nil {
		return fmt.Errorf("send NICK: %w", err)
	}
	if err := send("CAP REQ :twitch.tv/tags twitch.tv/commands twitch.tv/membership"); err != nil {
		return fmt.Errorf("send CAP REQ: %w", err)
	}
	if err := send("JOIN #" + c.cfg.Channel); err != nil {
		return fmt.Errorf("send JOIN: %w", err)
	}
	log.Printf("twitchirc: joined #%s as %s", c.cfg.Channel, c.cfg.Nick)

	c.mu.Lock()
	c.send = send
	c.drop = func() { _ = conn.Close() }
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.send = nil
		c.drop = nil
		c.mu.Unlock()
	}()

	drops := newDropCounter(time.Now(), dropSummaryInterval)
	defer drops.flush(time.Now())

	var (
		received  int
		lastCount = time.Now()
		idle      = 2 * time.Minute
		pingAfter = 4 * time.Minute
		lastRead  = time.Now()
	)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := conn.SetReadDeadline(time.Now().Add(idle)); err != nil {
			return fmt.Errorf("set deadline: %w", err)
		}

		raw, err := reader.ReadString('\n')
		now := time.Now()
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				if now.Sub(lastRead) >= pingAfter {
					if err := send("PING :keepalive"); err != nil {
						return fmt.Errorf("send PING: %w", err)
					}
					lastRead = now
				}
				continue
			}
			return fmt.Errorf("read: %w", err)
		}
		lastRead = now

		if now.Sub(lastCount) >= time.Minute {
			if received > 0 {
				log.Printf("twitchirc: %d chat messages in the last %s", received, now.Sub(lastCount).Round(time.Second))
			}
			received = 0
			lastCount = now
		}

		raw = strings.TrimRight(raw, "\r\n")
		if raw == "" {
			continue
		}
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.ChatLineSeen()
		}

		line, ok := parseLine(raw)
		if !ok {
			c.dropped(drops, now, "malformed", line)
			continue
		}
		switch {
		case line.command == "PING":
			if err := send("PONG :" + line.trailing); err != nil {
				return fmt.Errorf("send PONG: %w", err)
			}
			continue
		case line.command == "RECONNECT":
			return errors.New("server requested reconnect")
		case isAuthFailure(line):
			log.Printf("twitchirc: authentication failed per server NOTICE")
			return errAuthFailed
		}

		msg, reason := chatMessage(line, c.cfg.Channel)
		if reason != "" {
			c.dropped(drops, now, reason, line)
			continue
		}
		received++
		if c.handle != nil {
			c.handle(msg)
		}
	}
}

func (c *Client) dropped(d *dropCounter, now time.Time, reason string, l ircLine) {
	d.add(now, reason, l)
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.ChatLineDropped(reason)
	}
}
