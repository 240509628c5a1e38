package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/you/streamrig/internal/audio"
	"github.com/you/streamrig/internal/config"
	"github.com/you/streamrig/internal/core"
	"github.com/you/streamrig/internal/logging"
	"github.com/you/streamrig/internal/rig"
	"github.com/you/streamrig/internal/settings"
	"github.com/you/streamrig/internal/speech"
)

// cannedSynth answers every request with a fixed clip so the speech queue
// can be exercised without a provider.
type cannedSynth struct{}

func (cannedSynth) Synthesize(_ context.Context, text string, _ speech.Params) (speech.Audio, error) {
	return speech.Audio{Data: []byte(text), Format: "txt"}, nil
}

func (cannedSynth) Voices(context.Context) ([]speech.VoiceInfo, error) {
	return []speech.VoiceInfo{
		{Name: "dev-en-A", LanguageCodes: []string{"en-US"}, Gender: "FEMALE"},
		{Name: "dev-en-B", LanguageCodes: []string{"en-GB"}, Gender: "MALE"},
	}, nil
}

type emitReq struct {
	Login       string `json:"login"`
	Name        string `json:"name"`
	ID          string `json:"id"`
	Text        string `json:"text"`
	RewardID    string `json:"reward_id"`
	Bits        int    `json:"bits"`
	Broadcaster bool   `json:"broadcaster"`
	Moderator   bool   `json:"moderator"`
}

func main() {
	var (
		addr     string
		events   string
		playback time.Duration
	)

	flag.StringVar(&addr, "addr", ":8765", "HTTP listen address")
	flag.StringVar(&events, "events", "events.yaml", "Events YAML path")
	flag.DurationVar(&playback, "playback", 2*time.Second, "Simulated length of every clip")
	flag.Parse()

	logger, err := logging.FromEnv()
	if err != nil {
		log.Fatalf("devapi: %v", err)
	}

	cfg := config.Load()
	cfg.EventsFile = events
	cfg.HTTP.Addr = addr
	cfg.Speech.ReadChat = true

	var r *rig.Rig
	r, err = rig.New(cfg, rig.Options{
		Logger:  logger,
		Store:   settings.NewMemory(),
		Synth:   cannedSynth{},
		Devices: audio.NewNullFactory(playback, logger),
		Offline: true,
		Mount: func(mux *http.ServeMux) {
			mux.HandleFunc("POST /emit/redemption", func(w http.ResponseWriter, req *http.Request) {
				body, ok := decode(w, req)
				if !ok {
					return
				}
				if body.RewardID == "" {
					http.Error(w, "reward_id required", http.StatusBadRequest)
					return
				}
				r.OnRedemption(req.Context(), core.Redemption{
					ID:        "dev-" + time.Now().UTC().Format("150405.000000"),
					RewardID:  body.RewardID,
					UserID:    body.ID,
					UserLogin: body.Login,
					UserName:  body.Name,
					UserInput: body.Text,
					Ts:        time.Now().UTC(),
				})
				writeOK(w)
			})
			mux.HandleFunc("POST /emit/cheer", func(w http.ResponseWriter, req *http.Request) {
				body, ok := decode(w, req)
				if !ok {
					return
				}
				if body.Bits <= 0 {
					http.Error(w, "bits must be positive", http.StatusBadRequest)
					return
				}
				r.OnCheer(req.Context(), core.Cheer{
					UserID:    body.ID,
					UserLogin: body.Login,
					UserName:  body.Name,
					Message:   body.Text,
					Bits:      body.Bits,
					Ts:        time.Now().UTC(),
				})
				writeOK(w)
			})
			mux.HandleFunc("POST /emit/chat", func(w http.ResponseWriter, req *http.Request) {
				body, ok := decode(w, req)
				if !ok {
					return
				}
				if body.Text == "" {
					http.Error(w, "text required", http.StatusBadRequest)
					return
				}
				r.OnChatMessage(core.ChatMessage{
					ID:            "dev-" + time.Now().UTC().Format("150405.000000"),
					Ts:            time.Now().UTC(),
					UserID:        body.ID,
					Login:         body.Login,
					DisplayName:   body.Name,
					Text:          body.Text,
					Bits:          body.Bits,
					IsBroadcaster: body.Broadcaster,
					IsModerator:   body.Moderator,
				})
				writeOK(w)
			})
			mux.HandleFunc("GET /status", func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_ = json.NewEncoder(w).Encode(map[string]any{
					"triggers":       r.Triggers(),
					"channels":       r.Snapshot(),
					"speech_pending": r.SpeechPending(),
				})
			})
		},
	})
	if err != nil {
		log.Fatalf("devapi: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Printf("devapi listening on %s (events=%s)", addr, events)
	if err := r.Run(ctx); err != nil {
		log.Fatal(err)
	}
}

func decode(w http.ResponseWriter, req *http.Request) (emitReq, bool) {
	defer req.Body.Close()
	var body emitReq
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return body, false
	}
	body.Login = strings.ToLower(strings.TrimSpace(body.Login))
	if body.Login == "" {
		http.Error(w, "login required", http.StatusBadRequest)
		return body, false
	}
	if body.Name == "" {
		body.Name = body.Login
	}
	return body, true
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"ok": true})
}
