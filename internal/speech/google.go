package speech

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

const defaultGoogleEndpoint = "https://texttospeech.googleapis.com/v1beta1"

// Google synthesizes through the Cloud Text-to-Speech REST API.
type Google struct {
	APIKey        string
	Endpoint      string
	AudioEncoding string // OGG_OPUS, MP3 or LINEAR16
	HTTP          *http.Client
}

type googleVoice struct {
	LanguageCode string `json:"languageCode,omitempty"`
	Name         string `json:"name,omitempty"`
	SSMLGender   string `json:"ssmlGender,omitempty"`
}

type googleSynthesizeRequest struct {
	Input struct {
		Text string `json:"text,omitempty"`
		SSML string `json:"ssml,omitempty"`
	} `json:"input"`
	Voice       googleVoice `json:"voice"`
	AudioConfig struct {
		AudioEncoding string  `json:"audioEncoding"`
		SpeakingRate  float64 `json:"speakingRate,omitempty"`
		Pitch         float64 `json:"pitch"`
		VolumeGainDb  float64 `json:"volumeGainDb"`
	} `json:"audioConfig"`
}

type googleError struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (g *Google) Synthesize(ctx context.Context, text string, params Params) (Audio, error) {
	var body googleSynthesizeRequest
	if params.SSML {
		body.Input.SSML = text
	} else {
		body.Input.Text = text
	}
	body.Voice = googleVoice{
		LanguageCode: params.LanguageCode,
		Name:         params.VoiceName,
		SSMLGender:   strings.ToUpper(params.Gender),
	}
	body.AudioConfig.AudioEncoding = g.encoding()
	body.AudioConfig.SpeakingRate = params.SpeakingRate
	body.AudioConfig.Pitch = params.Pitch

	payload, err := json.Marshal(body)
	if err != nil {
		return Audio{}, fmt.Errorf("speech: google: encode request: %w", err)
	}

	raw, err := g.do(ctx, http.MethodPost, "/text:synthesize", bytes.NewReader(payload))
	if err != nil {
		return Audio{}, err
	}
	var parsed struct {
		AudioContent string `json:"audioContent"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Audio{}, fmt.Errorf("speech: google: decode response: %w", err)
	}
	if parsed.AudioContent == "" {
		return Audio{}, fmt.Errorf("speech: google: response had no audio")
	}
	data, err := base64.StdEncoding.DecodeString(parsed.AudioContent)
	if err != nil {
		return Audio{}, fmt.Errorf("speech: google: decode audio: %w", err)
	}
	return Audio{Data: data, Format: formatForEncoding(g.encoding())}, nil
}

func (g *Google) Voices(ctx context.Context) ([]VoiceInfo, error) {
	raw, err := g.do(ctx, http.MethodGet, "/voices", nil)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Voices []struct {
			LanguageCodes []string `json:"languageCodes"`
			Name          string   `json:"name"`
			SSMLGender    string   `json:"ssmlGender"`
		} `json:"voices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("speech: google: decode voices: %w", err)
	}
	out := make([]VoiceInfo, 0, len(parsed.Voices))
	for _, v := range parsed.Voices {
		out = append(out, VoiceInfo{Name: v.Name, LanguageCodes: v.LanguageCodes, Gender: v.SSMLGender})
	}
	return out, nil
}

func (g *Google) do(ctx context.Context, method, path string, body io.Reader) ([]byte, error) {
	base := strings.TrimSuffix(strings.TrimSpace(g.Endpoint), "/")
	if base == "" {
		base = defaultGoogleEndpoint
	}
	endpoint := base + path
	if g.APIKey != "" {
		endpoint += "?key=" + url.QueryEscape(g.APIKey)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("speech: google: build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	client := g.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech: google: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, fmt.Errorf("speech: google: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr googleError
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != nil {
			return nil, fmt.Errorf("speech: google: status %d: %s %s", resp.StatusCode, apiErr.Error.Status, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("speech: google: status %d", resp.StatusCode)
	}
	return raw, nil
}

func (g *Google) encoding() string {
	if g.AudioEncoding == "" {
		return "OGG_OPUS"
	}
	return strings.ToUpper(g.AudioEncoding)
}

func formatForEncoding(enc string) string {
	switch strings.ToUpper(enc) {
	case "MP3":
		return "mp3"
	case "LINEAR16":
		return "wav"
	case "PCM":
		return "pcm"
	default:
		return "ogg"
	}
}
