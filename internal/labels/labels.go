// Package labels writes short text labels to disk for OBS text sources and
// mirrors them to the settings store and the overlay.
package labels

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/pkg/errors"

	"github.com/you/streamrig/internal/settings"
)

var unsafeKey = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Publisher receives label updates for connected overlays.
type Publisher interface {
	Publish(event string, payload any)
}

type Update struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

type Writer struct {
	dir   string
	store settings.Store
	pub   Publisher

	mu sync.Mutex
}

// New returns a Writer rooted at dir. store and pub may be nil.
func New(dir string, store settings.Store, pub Publisher) *Writer {
	return &Writer{dir: dir, store: store, pub: pub}
}

// Path returns the file a key is written to.
func (w *Writer) Path(key string) string {
	name := unsafeKey.ReplaceAllString(key, "_")
	if name == "" || name == "." || name == ".." {
		name = "label"
	}
	return filepath.Join(w.dir, name+".txt")
}

// Write replaces the label text for key.
func (w *Writer) Write(ctx context.Context, key, text string) error {
	if key == "" {
		return errors.New("labels: empty key")
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return errors.Wrap(err, "labels: create dir")
	}
	path := w.Path(key)
	tmp, err := os.CreateTemp(w.dir, ".label-*")
	if err != nil {
		return errors.Wrap(err, "labels: temp file")
	}
	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "labels: write")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "labels: close")
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrapf(err, "labels: replace %s", path)
	}

	if w.store != nil {
		if err := w.store.Push(ctx, settings.Labels, "key", settings.Label{Key: key, Text: text}); err != nil {
			return errors.Wrap(err, "labels: persist")
		}
	}
	if w.pub != nil {
		w.pub.Publish("label", Update{Key: key, Text: text})
	}
	return nil
}

// Read returns the last text written for key, preferring the store.
func (w *Writer) Read(ctx context.Context, key string) (string, bool, error) {
	if w.store != nil {
		var rec settings.Label
		ok, err := w.store.Pull(ctx, settings.Labels, "key", key, &rec)
		if err != nil {
			return "", false, err
		}
		if ok {
			return rec.Text, true, nil
		}
	}
	data, err := os.ReadFile(w.Path(key))
	if os.IsNotExist(err) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, "labels: read")
	}
	return string(data), true, nil
}
