package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sampleEvents = `
dictionary:
  lol: laugh out loud
emptyMessageSound:
  src: sounds/empty.wav
  volume: 0.5
events:
  hydrate:
    triggers:
      reward:
        id: 2f1c
        variants:
          - title: Drink water
            cost: 100
          - title: Drink more water
            cost: 200
    actions:
      audio:
        src: [sounds/gulp1.wav, sounds/gulp2.wav]
        repeat: 2
      speech:
        entries: "%userName wants you to drink"
        type: announcement
      lights: {x: 0.5, y: 0.4}
  "so|shoutout":
    triggers:
      command:
        permissions: {moderators: true}
        cooldown: 30
    actions:
      chat: "Go follow %targetName!"
      commands:
        entries: [clip, "say hello"]
        interval: 2
  bigcheer:
    triggers:
      cheer: 500
    actions:
      screenshot: {obsSource: Camera, delay: 1}
`

func TestParseEvents(t *testing.T) {
	file, err := ParseEvents([]byte(sampleEvents))
	if err != nil {
		t.Fatalf("ParseEvents: %v", err)
	}
	if got := strings.Join(file.Keys(), ","); got != "bigcheer,hydrate,so|shoutout" {
		t.Fatalf("keys = %q", got)
	}
	if file.Dictionary["lol"] != "laugh out loud" {
		t.Fatalf("dictionary = %v", file.Dictionary)
	}
	if file.EmptyMessageSound == nil || len(file.EmptyMessageSound.Src) != 1 {
		t.Fatalf("empty message sound = %+v", file.EmptyMessageSound)
	}

	hydrate := file.Events["hydrate"]
	if !hydrate.Triggers.Reward.Incremental() || hydrate.Triggers.Reward.ID != "2f1c" {
		t.Fatalf("reward = %+v", hydrate.Triggers.Reward)
	}
	if len(hydrate.Actions.Audio.Src) != 2 || hydrate.Actions.Audio.Repeat != 2 {
		t.Fatalf("audio = %+v", hydrate.Actions.Audio)
	}
	if len(hydrate.Actions.Speech.Entries) != 1 || hydrate.Actions.Speech.Type != "announcement" {
		t.Fatalf("speech = %+v", hydrate.Actions.Speech)
	}
	if len(hydrate.Actions.Lights) != 1 || hydrate.Actions.Lights[0].X != 0.5 {
		t.Fatalf("lights = %+v", hydrate.Actions.Lights)
	}
	if hydrate.Actions.Chat != nil || hydrate.Actions.Screenshot != nil {
		t.Fatalf("unexpected actions on hydrate: %+v", hydrate.Actions)
	}

	so := file.Events["so|shoutout"]
	if so.Triggers.Command == nil || !so.Triggers.Command.Permissions.Moderators || so.Triggers.Command.Cooldown != 30 {
		t.Fatalf("command = %+v", so.Triggers.Command)
	}
	if len(so.Actions.Commands.Entries) != 2 || so.Actions.Commands.Interval != 2 {
		t.Fatalf("commands = %+v", so.Actions.Commands)
	}

	cheer := file.Events["bigcheer"]
	if cheer.Triggers.Cheer != 500 || cheer.Actions.Screenshot.OBSSource != "Camera" {
		t.Fatalf("cheer = %+v", cheer)
	}
}

func TestParseEventsRejectsUnknownAction(t *testing.T) {
	_, err := ParseEvents([]byte(`
events:
  bad:
    triggers: {cheer: 1}
    actions:
      fireworks: true
`))
	if err == nil {
		t.Fatalf("expected schema error for unknown action kind")
	}
	if !strings.Contains(err.Error(), "invalid events") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestParseEventsRejectsBadSpeechType(t *testing.T) {
	_, err := ParseEvents([]byte(`
events:
  bad:
    triggers: {cheer: 1}
    actions:
      speech: {entries: hi, type: shout}
`))
	if err == nil {
		t.Fatalf("expected schema error for unknown speech type")
	}
}

func TestParseEventsEmptyDocument(t *testing.T) {
	file, err := ParseEvents(nil)
	if err != nil {
		t.Fatalf("ParseEvents: %v", err)
	}
	if len(file.Events) != 0 {
		t.Fatalf("events = %v", file.Events)
	}
}

func TestLoadEventsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.yaml")
	if err := os.WriteFile(path, []byte(sampleEvents), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	file, err := LoadEvents(path)
	if err != nil {
		t.Fatalf("LoadEvents: %v", err)
	}
	if len(file.Events) != 3 {
		t.Fatalf("events = %d, want 3", len(file.Events))
	}

	if _, err := LoadEvents(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
