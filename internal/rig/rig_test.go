package rig

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/you/streamrig/internal/config"
	"github.com/you/streamrig/internal/core"
	"github.com/you/streamrig/internal/logging"
	"github.com/you/streamrig/internal/settings"
	"github.com/you/streamrig/internal/speech"
)

const testEvents = `
dictionary:
  gg: good game
events:
  hydrate:
    triggers:
      reward: {id: r-1}
    actions:
      audio: {src: sounds/gulp.wav, channel: 2}
  so:
    triggers:
      command: {}
    actions:
      audio: {src: sounds/horn.wav, channel: 3}
  bigcheer:
    triggers:
      cheer: 100
    actions:
      audio: {src: sounds/coins.wav, channel: 4}
`

type cannedSynth struct{}

func (cannedSynth) Synthesize(context.Context, string, speech.Params) (speech.Audio, error) {
	return speech.Audio{Data: []byte("ogg"), Format: "ogg"}, nil
}

func (cannedSynth) Voices(context.Context) ([]speech.VoiceInfo, error) {
	return []speech.VoiceInfo{{Name: "en-US-A", LanguageCodes: []string{"en-US"}, Gender: "FEMALE"}}, nil
}

func newTestRig(t *testing.T, events string, synth speech.Synthesizer) *Rig {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "events.yaml")
	if err := os.WriteFile(path, []byte(events), 0o644); err != nil {
		t.Fatalf("write events: %v", err)
	}
	cfg := config.Config{EventsFile: path, LabelsDir: filepath.Join(dir, "labels")}
	cfg.Speech.Channel = 100
	cfg.Speech.ReadChat = true

	r, err := New(cfg, Options{
		Logger:  logging.Discard(),
		Store:   settings.NewMemory(),
		Synth:   synth,
		Offline: true,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		if r.pipeline != nil {
			r.pipeline.Close()
		}
		r.sequencer.Close()
	})
	return r
}

func queued(r *Rig, channel int) int {
	for _, ch := range r.Snapshot() {
		if ch.Channel == channel {
			return ch.Queued
		}
	}
	return 0
}

func TestReloadEventsRegistersTriggers(t *testing.T) {
	r := newTestRig(t, testEvents, nil)

	n, err := r.ReloadEvents(context.Background())
	if err != nil {
		t.Fatalf("ReloadEvents: %v", err)
	}
	if n != 3 {
		t.Fatalf("registered = %d, want 3", n)
	}
	if got := strings.Join(r.Triggers(), ","); got != "bigcheer,hydrate,so" {
		t.Fatalf("triggers = %q", got)
	}
}

func TestReloadKeepsTriggersOnBadFile(t *testing.T) {
	r := newTestRig(t, testEvents, nil)
	if _, err := r.ReloadEvents(context.Background()); err != nil {
		t.Fatalf("ReloadEvents: %v", err)
	}
	if err := os.WriteFile(r.cfg.EventsFile, []byte("events: [not, a, map"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := r.ReloadEvents(context.Background()); err == nil {
		t.Fatalf("expected error for broken file")
	}
	if got := len(r.Triggers()); got != 3 {
		t.Fatalf("triggers after failed reload = %d, want 3", got)
	}
}

func TestReloadDropsRemovedTriggers(t *testing.T) {
	r := newTestRig(t, testEvents, nil)
	if _, err := r.ReloadEvents(context.Background()); err != nil {
		t.Fatalf("ReloadEvents: %v", err)
	}
	trimmed := `
events:
  so:
    triggers:
      command: {}
    actions:
      chat: hi
`
	if err := os.WriteFile(r.cfg.EventsFile, []byte(trimmed), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := r.ReloadEvents(context.Background()); err != nil {
		t.Fatalf("ReloadEvents: %v", err)
	}
	if got := strings.Join(r.Triggers(), ","); got != "so" {
		t.Fatalf("triggers = %q, want so", got)
	}
}

func TestFireTrigger(t *testing.T) {
	r := newTestRig(t, testEvents, nil)
	if _, err := r.ReloadEvents(context.Background()); err != nil {
		t.Fatalf("ReloadEvents: %v", err)
	}

	report, err := r.FireTrigger(context.Background(), "hydrate", core.User{Login: "viewer"})
	if err != nil {
		t.Fatalf("FireTrigger: %v", err)
	}
	if len(report.Ran) != 1 || len(report.Failed) != 0 {
		t.Fatalf("report = %+v", report)
	}
	if got := queued(r, 2); got != 1 {
		t.Fatalf("queued on channel 2 = %d, want 1", got)
	}

	if _, err := r.FireTrigger(context.Background(), "nope", core.User{}); !errors.Is(err, ErrUnknownTrigger) {
		t.Fatalf("err = %v, want ErrUnknownTrigger", err)
	}
}

func TestRedemptionAndCheerDispatch(t *testing.T) {
	r := newTestRig(t, testEvents, nil)
	if _, err := r.ReloadEvents(context.Background()); err != nil {
		t.Fatalf("ReloadEvents: %v", err)
	}

	r.OnRedemption(context.Background(), core.Redemption{RewardID: "r-1", UserLogin: "viewer"})
	r.OnCheer(context.Background(), core.Cheer{UserLogin: "viewer", Bits: 150})
	r.OnCheer(context.Background(), core.Cheer{UserLogin: "viewer", Bits: 5})

	if got := queued(r, 2); got != 1 {
		t.Fatalf("reward channel queued = %d, want 1", got)
	}
	if got := queued(r, 4); got != 1 {
		t.Fatalf("cheer channel queued = %d, want 1", got)
	}
}

func TestChatCommandThenChatReading(t *testing.T) {
	r := newTestRig(t, testEvents, cannedSynth{})
	if _, err := r.ReloadEvents(context.Background()); err != nil {
		t.Fatalf("ReloadEvents: %v", err)
	}

	r.OnChatMessage(core.ChatMessage{Login: "streamer", Text: "!so @friend", IsBroadcaster: true})
	if got := queued(r, 3); got != 1 {
		t.Fatalf("command channel queued = %d, want 1", got)
	}
	if got := r.SpeechPending(); got != 0 {
		t.Fatalf("commands must not be read aloud; pending = %d", got)
	}

	r.OnChatMessage(core.ChatMessage{Login: "viewer", Text: "gg everyone"})
	if got := r.SpeechPending(); got != 1 {
		t.Fatalf("pending speech = %d, want 1", got)
	}

	// not permitted, and not read either
	r.OnChatMessage(core.ChatMessage{Login: "viewer", Text: "!so"})
	if got := queued(r, 3); got != 1 {
		t.Fatalf("command channel queued = %d, want 1", got)
	}
}

func TestReloadTwitchWithoutTwitch(t *testing.T) {
	r := newTestRig(t, testEvents, nil)
	if _, err := r.ReloadTwitch(context.Background()); err == nil {
		t.Fatalf("expected error when twitch is disabled")
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	cfg := config.Config{}
	cfg.Speech.Provider = "espeak"
	if _, err := New(cfg, Options{Store: settings.NewMemory(), Logger: logging.Discard(), Offline: true}); err == nil {
		t.Fatalf("expected error for unknown provider")
	}
	if _, err := New(config.Config{}, Options{}); err == nil {
		t.Fatalf("expected error without a store")
	}
}

func TestWatchFilesDebounces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.yaml")
	if err := os.WriteFile(path, []byte("a"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var calls atomic.Int32
	if err := watchFiles(ctx, logging.Discard(), []string{path}, 100*time.Millisecond, func() { calls.Add(1) }); err != nil {
		t.Fatalf("watchFiles: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte{byte('b' + i)}, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	time.Sleep(300 * time.Millisecond)
	if got := calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}
