// Package obs talks to OBS Studio over obs-websocket v5.
package obs

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket/wsjson"

	"github.com/you/streamrig/internal/completion"
	"github.com/you/streamrig/internal/wsclient"
)

const (
	opHello           = 0
	opIdentify        = 1
	opIdentified      = 2
	opRequest         = 6
	opRequestResponse = 7
)

var ErrRequestFailed = errors.New("obs: request failed")

// Notifier receives screenshot completions.
type Notifier interface {
	Fire(token string, status completion.Status)
}

type Config struct {
	URL           string
	Password      string
	ScreenshotDir string
	Timeout       time.Duration
}

type envelope struct {
	Op int             `json:"op"`
	D  json.RawMessage `json:"d"`
}

type requestStatus struct {
	Result  bool   `json:"result"`
	Code    int    `json:"code"`
	Comment string `json:"comment"`
}

type response struct {
	RequestType   string          `json:"requestType"`
	RequestID     string          `json:"requestId"`
	RequestStatus requestStatus   `json:"requestStatus"`
	ResponseData  json.RawMessage `json:"responseData"`
}

type Client struct {
	cfg      Config
	notifier Notifier
	ws       *wsclient.Client
	nextID   atomic.Uint64

	mu      sync.Mutex
	pending map[string]chan response
	// tokens maps request ids to completion tokens fired on response.
	tokens map[string]string
	items  map[string]int
}

func New(cfg Config, notifier Notifier) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	c := &Client{
		cfg:      cfg,
		notifier: notifier,
		pending:  make(map[string]chan response),
		tokens:   make(map[string]string),
		items:    make(map[string]int),
	}
	c.ws = wsclient.New(wsclient.Config{
		Name:         "obs",
		URL:          cfg.URL,
		Handshake:    c.identify,
		OnMessage:    c.onMessage,
		OnDisconnect: c.onDisconnect,
	})
	return c
}

func (c *Client) Run(ctx context.Context) error { return c.ws.Run(ctx) }

func (c *Client) Connected() bool { return c.ws.Connected() }

func (c *Client) identify(ctx context.Context, conn *wsclient.Conn) error {
	var hello envelope
	if err := wsjson.Read(ctx, conn, &hello); err != nil {
		return fmt.Errorf("read hello: %w", err)
	}
	if hello.Op != opHello {
		return fmt.Errorf("expected hello, got op %d", hello.Op)
	}
	var h struct {
		RPCVersion     int `json:"rpcVersion"`
		Authentication *struct {
			Challenge string `json:"challenge"`
			Salt      string `json:"salt"`
		} `json:"authentication"`
	}
	if err := json.Unmarshal(hello.D, &h); err != nil {
		return fmt.Errorf("decode hello: %w", err)
	}

	identify := map[string]any{"rpcVersion": 1, "eventSubscriptions": 0}
	if h.Authentication != nil {
		identify["authentication"] = authResponse(c.cfg.Password, h.Authentication.Salt, h.Authentication.Challenge)
	}
	if err := wsjson.Write(ctx, conn, map[string]any{"op": opIdentify, "d": identify}); err != nil {
		return fmt.Errorf("send identify: %w", err)
	}

	var identified envelope
	if err := wsjson.Read(ctx, conn, &identified); err != nil {
		return fmt.Errorf("read identified: %w", err)
	}
	if identified.Op != opIdentified {
		return fmt.Errorf("expected identified, got op %d", identified.Op)
	}
	c.mu.Lock()
	c.items = make(map[string]int)
	c.mu.Unlock()
	return nil
}

// authResponse follows the obs-websocket v5 challenge scheme.
func authResponse(password, salt, challenge string) string {
	secret := sha256.Sum256([]byte(password + salt))
	secretB64 := base64.StdEncoding.EncodeToString(secret[:])
	auth := sha256.Sum256([]byte(secretB64 + challenge))
	return base64.StdEncoding.EncodeToString(auth[:])
}

func (c *Client) onMessage(raw json.RawMessage) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Op != opRequestResponse {
		return
	}
	var resp response
	if err := json.Unmarshal(env.D, &resp); err != nil {
		return
	}

	c.mu.Lock()
	ch := c.pending[resp.RequestID]
	delete(c.pending, resp.RequestID)
	token := c.tokens[resp.RequestID]
	delete(c.tokens, resp.RequestID)
	c.mu.Unlock()

	if token != "" && c.notifier != nil {
		status := completion.StatusOK
		if !resp.RequestStatus.Result {
			status = completion.StatusError
		}
		c.notifier.Fire(token, status)
	}
	if ch != nil {
		ch <- resp
	}
}

func (c *Client) onDisconnect(error) {
	c.mu.Lock()
	tokens := c.tokens
	c.tokens = make(map[string]string)
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	c.mu.Unlock()
	for _, token := range tokens {
		if c.notifier != nil {
			c.notifier.Fire(token, completion.StatusAborted)
		}
	}
}

func (c *Client) request(ctx context.Context, requestType string, data any, token string) (json.RawMessage, error) {
	id := strconv.FormatUint(c.nextID.Add(1), 10)
	ch := make(chan response, 1)

	c.mu.Lock()
	c.pending[id] = ch
	if token != "" {
		c.tokens[id] = token
	}
	c.mu.Unlock()

	cleanup := func() {
		c.mu.Lock()
		delete(c.pending, id)
		delete(c.tokens, id)
		c.mu.Unlock()
	}

	msg := map[string]any{
		"op": opRequest,
		"d": map[string]any{
			"requestType": requestType,
			"requestId":   id,
			"requestData": data,
		},
	}
	if err := c.ws.Send(ctx, msg); err != nil {
		cleanup()
		return nil, err
	}

	timer := time.NewTimer(c.cfg.Timeout)
	defer timer.Stop()
	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, wsclient.ErrNotConnected
		}
		if !resp.RequestStatus.Result {
			return nil, fmt.Errorf("%w: %s %d %s", ErrRequestFailed, requestType, resp.RequestStatus.Code, resp.RequestStatus.Comment)
		}
		return resp.ResponseData, nil
	case <-timer.C:
		cleanup()
		return nil, fmt.Errorf("obs: %s timed out", requestType)
	case <-ctx.Done():
		cleanup()
		return nil, ctx.Err()
	}
}

func (c *Client) sceneItemID(ctx context.Context, scene, source string) (int, error) {
	key := scene + "\x1f" + source
	c.mu.Lock()
	id, ok := c.items[key]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	raw, err := c.request(ctx, "GetSceneItemId", map[string]any{"sceneName": scene, "sourceName": source}, "")
	if err != nil {
		return 0, err
	}
	var out struct {
		SceneItemID int `json:"sceneItemId"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return 0, fmt.Errorf("obs: decode scene item id: %w", err)
	}
	c.mu.Lock()
	c.items[key] = out.SceneItemID
	c.mu.Unlock()
	return out.SceneItemID, nil
}

func (c *Client) SetSceneItemEnabled(ctx context.Context, scene, source string, enabled bool) error {
	if scene == "" {
		current, err := c.currentScene(ctx)
		if err != nil {
			return err
		}
		scene = current
	}
	id, err := c.sceneItemID(ctx, scene, source)
	if err != nil {
		return err
	}
	_, err = c.request(ctx, "SetSceneItemEnabled", map[string]any{
		"sceneName":        scene,
		"sceneItemId":      id,
		"sceneItemEnabled": enabled,
	}, "")
	return err
}

func (c *Client) currentScene(ctx context.Context) (string, error) {
	raw, err := c.request(ctx, "GetCurrentProgramScene", nil, "")
	if err != nil {
		return "", err
	}
	var out struct {
		Name string `json:"currentProgramSceneName"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("obs: decode current scene: %w", err)
	}
	return out.Name, nil
}

func (c *Client) SetSourceFilterEnabled(ctx context.Context, source, filter string, enabled bool) error {
	_, err := c.request(ctx, "SetSourceFilterEnabled", map[string]any{
		"sourceName":    source,
		"filterName":    filter,
		"filterEnabled": enabled,
	}, "")
	return err
}

// SaveSourceScreenshot writes a PNG of source into the screenshot dir and
// fires token when OBS answers.
func (c *Client) SaveSourceScreenshot(ctx context.Context, source, token string) error {
	dir := c.cfg.ScreenshotDir
	if dir == "" {
		dir = "."
	}
	name := fmt.Sprintf("%s_%s.png", sanitize(source), time.Now().Format("20060102-150405.000"))
	_, err := c.request(ctx, "SaveSourceScreenshot", map[string]any{
		"sourceName":    source,
		"imageFormat":   "png",
		"imageFilePath": filepath.Join(dir, name),
	}, token)
	return err
}

func sanitize(name string) string {
	out := []rune(name)
	for i, r := range out {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', ' ':
			out[i] = '_'
		}
	}
	return string(out)
}
