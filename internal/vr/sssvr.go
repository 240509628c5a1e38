package vr

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/you/streamrig/internal/wsclient"
)

// ScreenshotRequest asks SuperScreenShotterVR for a capture.
type ScreenshotRequest struct {
	Nonce string
	Tag   string
	Delay time.Duration
}

// ScreenshotResult is reported back once a capture is written.
type ScreenshotResult struct {
	Nonce  string `json:"nonce"`
	Image  string `json:"image"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type SSSVR struct {
	ws *wsclient.Client
	// OnResult receives finished captures. Optional.
	OnResult func(ScreenshotResult)
}

func NewSSSVR(url string) *SSSVR {
	s := &SSSVR{}
	s.ws = wsclient.New(wsclient.Config{
		Name:      "sssvr",
		URL:       url,
		OnMessage: s.onMessage,
	})
	return s
}

func (s *SSSVR) Run(ctx context.Context) error { return s.ws.Run(ctx) }

func (s *SSSVR) Screenshot(ctx context.Context, req ScreenshotRequest) error {
	return s.ws.Send(ctx, map[string]any{
		"nonce": req.Nonce,
		"tag":   req.Tag,
		"delay": int(req.Delay / time.Second),
	})
}

func (s *SSSVR) onMessage(raw json.RawMessage) {
	var res ScreenshotResult
	if err := json.Unmarshal(raw, &res); err != nil || res.Nonce == "" {
		return
	}
	log.Printf("sssvr: screenshot %s ready (%dx%d)", res.Nonce, res.Width, res.Height)
	if s.OnResult != nil {
		s.OnResult(res)
	}
}
