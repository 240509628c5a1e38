package labels

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/you/streamrig/internal/settings"
)

type recordingPublisher struct {
	events   []string
	payloads []any
}

func (p *recordingPublisher) Publish(event string, payload any) {
	p.events = append(p.events, event)
	p.payloads = append(p.payloads, payload)
}

func TestWritePersistsAndPublishes(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "labels")
	store := settings.NewMemory()
	pub := &recordingPublisher{}
	w := New(dir, store, pub)
	ctx := context.Background()

	if err := w.Write(ctx, "latest_sub", "alice"); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Write(ctx, "latest_sub", "bob"); err != nil {
		t.Fatalf("Write: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "latest_sub.txt"))
	if err != nil {
		t.Fatalf("read label: %v", err)
	}
	if string(data) != "bob" {
		t.Fatalf("file = %q, want bob", data)
	}

	text, ok, err := w.Read(ctx, "latest_sub")
	if err != nil || !ok || text != "bob" {
		t.Fatalf("Read = %q %v %v", text, ok, err)
	}

	if len(pub.events) != 2 || pub.events[1] != "label" {
		t.Fatalf("published = %v", pub.events)
	}
	if u := pub.payloads[1].(Update); u.Key != "latest_sub" || u.Text != "bob" {
		t.Fatalf("payload = %+v", u)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("dir has %d entries, want only the label file", len(entries))
	}
}

func TestPathSanitizesKey(t *testing.T) {
	w := New("/tmp/x", nil, nil)
	if got := w.Path("../etc/passwd"); got != filepath.Join("/tmp/x", ".._etc_passwd.txt") {
		t.Fatalf("Path = %q", got)
	}
	if got := w.Path(".."); got != filepath.Join("/tmp/x", "label.txt") {
		t.Fatalf("Path = %q", got)
	}
}

func TestReadMissing(t *testing.T) {
	w := New(t.TempDir(), nil, nil)
	_, ok, err := w.Read(context.Background(), "nope")
	if err != nil || ok {
		t.Fatalf("Read = %v %v", ok, err)
	}
}

func TestWriteEmptyKey(t *testing.T) {
	w := New(t.TempDir(), nil, nil)
	if err := w.Write(context.Background(), "", "x"); err == nil {
		t.Fatalf("expected error")
	}
}
