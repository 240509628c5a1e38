package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// DefaultPlayerCommand plays one file or URL and exits when it ends.
const DefaultPlayerCommand = "ffplay -nodisp -autoexit -loglevel error -volume {volume} {source}"

// ExecDevice plays clips by running an external player process. The
// command template understands {source} and {volume} (0-100).
type ExecDevice struct {
	Command string
	TempDir string
}

func NewExecFactory(command, tempDir string) DeviceFactory {
	return func(int) Device {
		return &ExecDevice{Command: command, TempDir: tempDir}
	}
}

func (d *ExecDevice) Play(ctx context.Context, clip Clip) error {
	source := clip.Source
	if len(clip.Data) > 0 {
		path, err := d.spill(clip)
		if err != nil {
			return err
		}
		defer os.Remove(path)
		source = path
	}
	if source == "" {
		return ErrNoSource
	}

	args := expandCommand(d.Command, source, clip.Volume)
	if len(args) == 0 {
		return fmt.Errorf("audio: empty player command")
	}
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	out, err := cmd.CombinedOutput()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if len(msg) > 200 {
			msg = msg[:200]
		}
		return fmt.Errorf("audio: %s: %w (%s)", args[0], err, msg)
	}
	return nil
}

func (d *ExecDevice) spill(clip Clip) (string, error) {
	ext := strings.TrimPrefix(clip.Format, ".")
	if ext == "" {
		ext = "bin"
	}
	f, err := os.CreateTemp(d.TempDir, "streamrig-*."+ext)
	if err != nil {
		return "", fmt.Errorf("audio: create temp clip: %w", err)
	}
	if _, err := f.Write(clip.Data); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("audio: write temp clip: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", fmt.Errorf("audio: close temp clip: %w", err)
	}
	return f.Name(), nil
}

func expandCommand(template, source string, volume float64) []string {
	if strings.TrimSpace(template) == "" {
		template = DefaultPlayerCommand
	}
	if volume <= 0 {
		volume = 1
	}
	if volume > 1 {
		volume = 1
	}
	vol := strconv.Itoa(int(volume * 100))
	fields := strings.Fields(template)
	out := make([]string, 0, len(fields)+1)
	hasSource := false
	for _, f := range fields {
		if strings.Contains(f, "{source}") {
			hasSource = true
		}
		f = strings.ReplaceAll(f, "{source}", source)
		f = strings.ReplaceAll(f, "{volume}", vol)
		out = append(out, f)
	}
	if !hasSource {
		out = append(out, source)
	}
	return out
}

// NullDevice pretends to play every clip for Duration.
type NullDevice struct {
	Channel  int
	Duration time.Duration
	Logger   *slog.Logger
}

func NewNullFactory(d time.Duration, logger *slog.Logger) DeviceFactory {
	return func(channel int) Device {
		return &NullDevice{Channel: channel, Duration: d, Logger: logger}
	}
}

func (d *NullDevice) Play(ctx context.Context, clip Clip) error {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("audio: play", "channel", d.Channel, "token", clip.Token, "source", clip.Source, "bytes", len(clip.Data))
	timer := time.NewTimer(d.Duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
