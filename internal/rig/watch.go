package rig

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 250 * time.Millisecond

// watchFiles calls onChange once changes to any of paths settle for
// debounce. The parent directories are watched so files replaced by rename
// keep being followed.
func watchFiles(ctx context.Context, logger *slog.Logger, paths []string, debounce time.Duration, onChange func()) error {
	wanted := make(map[string]struct{})
	dirs := make(map[string]struct{})
	for _, p := range paths {
		if p == "" {
			continue
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		wanted[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}
	if len(wanted) == 0 {
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	added := 0
	for dir := range dirs {
		if err := w.Add(dir); err != nil {
			logger.Error("watch add", "dir", dir, "err", err)
			continue
		}
		added++
	}
	if added == 0 {
		w.Close()
		return nil
	}

	go func() {
		defer w.Close()
		var (
			pending *time.Timer
			fire    <-chan time.Time
		)
		defer func() {
			if pending != nil {
				pending.Stop()
			}
		}()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if _, ok := wanted[filepath.Clean(ev.Name)]; !ok {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
					continue
				}
				if pending != nil {
					pending.Stop()
				}
				pending = time.NewTimer(debounce)
				fire = pending.C
			case <-fire:
				fire = nil
				onChange()
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Error("watch error", "err", err)
			}
		}
	}()
	return nil
}
