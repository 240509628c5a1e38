package vr

import (
	"context"
	"encoding/json"
	"log"

	"github.com/you/streamrig/internal/wsclient"
)

// PipeNotification is one overlay shown through OpenVR Notification Pipe.
type PipeNotification struct {
	ImagePath  string
	ImageData  string
	Properties map[string]any
	// Texts fill the preset's text areas in order.
	Texts      []string
	DurationMS int
}

type pipeMessage struct {
	ImagePath        string         `json:"imagePath,omitempty"`
	ImageData        string         `json:"imageData,omitempty"`
	CustomProperties map[string]any `json:"customProperties"`
}

// Pipe sends custom notifications to OpenVR Notification Pipe.
type Pipe struct {
	ws *wsclient.Client
}

func NewPipe(url string) *Pipe {
	p := &Pipe{}
	p.ws = wsclient.New(wsclient.Config{
		Name:      "pipe",
		URL:       url,
		OnMessage: p.onMessage,
	})
	return p
}

func (p *Pipe) Run(ctx context.Context) error { return p.ws.Run(ctx) }

func (p *Pipe) Notify(ctx context.Context, n PipeNotification) error {
	return p.ws.Send(ctx, buildPipeMessage(n))
}

func buildPipeMessage(n PipeNotification) pipeMessage {
	props := make(map[string]any, len(n.Properties)+3)
	for k, v := range n.Properties {
		props[k] = v
	}
	props["enabled"] = true
	if n.DurationMS > 0 {
		props["durationMs"] = n.DurationMS
	}

	if len(n.Texts) > 0 {
		var areas []any
		if existing, ok := props["textAreas"].([]any); ok {
			areas = append(areas, existing...)
		}
		for i, text := range n.Texts {
			if i < len(areas) {
				if area, ok := areas[i].(map[string]any); ok {
					merged := make(map[string]any, len(area)+1)
					for k, v := range area {
						merged[k] = v
					}
					merged["text"] = text
					areas[i] = merged
					continue
				}
			}
			areas = append(areas, map[string]any{"text": text})
		}
		props["textAreas"] = areas
	}

	return pipeMessage{
		ImagePath:        n.ImagePath,
		ImageData:        n.ImageData,
		CustomProperties: props,
	}
}

func (p *Pipe) onMessage(raw json.RawMessage) {
	var resp struct {
		Nonce   string `json:"nonce"`
		Error   string `json:"error"`
		Success bool   `json:"success"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return
	}
	if resp.Error != "" {
		log.Printf("pipe: notification failed: %s", resp.Error)
	}
}
