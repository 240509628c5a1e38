package vr

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/you/streamrig/internal/wsclient"
)

// OpenVR2WS changes SteamVR settings through the OpenVR2WS bridge.
// Settings are named "section|key".
type OpenVR2WS struct {
	ws       *wsclient.Client
	password string
}

func NewOpenVR2WS(url, password string) *OpenVR2WS {
	o := &OpenVR2WS{password: password}
	o.ws = wsclient.New(wsclient.Config{
		Name:      "openvr2ws",
		URL:       url,
		OnMessage: o.onMessage,
	})
	return o
}

func (o *OpenVR2WS) Run(ctx context.Context) error { return o.ws.Run(ctx) }

func (o *OpenVR2WS) SetSetting(ctx context.Context, setting string, value any) error {
	msg, err := o.settingMessage(setting, value)
	if err != nil {
		return err
	}
	return o.ws.Send(ctx, msg)
}

func (o *OpenVR2WS) settingMessage(setting string, value any) (map[string]any, error) {
	section, key, ok := strings.Cut(setting, "|")
	if !ok || section == "" || key == "" {
		return nil, fmt.Errorf("openvr2ws: setting %q is not section|key", setting)
	}
	return map[string]any{
		"key": "RemoteSetting",
		"data": map[string]any{
			"password": hashPassword(o.password),
			"section":  section,
			"setting":  key,
			"value":    fmt.Sprint(value),
		},
	}, nil
}

func hashPassword(password string) string {
	if password == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(password))
	return base64.StdEncoding.EncodeToString(sum[:])
}

func (o *OpenVR2WS) onMessage(raw json.RawMessage) {
	var resp struct {
		Key     string `json:"key"`
		Message string `json:"message"`
		Data    struct {
			Success bool   `json:"success"`
			Message string `json:"message"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return
	}
	if resp.Key == "RemoteSetting" && !resp.Data.Success {
		log.Printf("openvr2ws: setting rejected: %s", resp.Data.Message)
	}
}
