// Package hostexec runs local programs, opens URIs and pings web hooks for
// the exec and web sub-actions.
package hostexec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

var ErrEmptyCommand = errors.New("hostexec: empty command")

type Runner struct {
	// Timeout bounds each started program. Zero means 30 seconds.
	Timeout time.Duration
	HTTP    *http.Client

	command func(ctx context.Context, name string, args ...string) *exec.Cmd
}

func New() *Runner {
	return &Runner{
		Timeout: 30 * time.Second,
		HTTP:    &http.Client{Timeout: 10 * time.Second},
		command: exec.CommandContext,
	}
}

// Run starts commandLine split on whitespace and waits for it to exit.
func (r *Runner) Run(ctx context.Context, commandLine string) error {
	argv := strings.Fields(commandLine)
	if len(argv) == 0 {
		return ErrEmptyCommand
	}
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := r.cmd(ctx, argv[0], argv[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("hostexec: %s: %w: %s", argv[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}

// OpenURI hands uri to the desktop's default handler without waiting.
func (r *Runner) OpenURI(ctx context.Context, uri string) error {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return ErrEmptyCommand
	}
	name, args := openerFor(runtime.GOOS)
	cmd := r.cmd(context.WithoutCancel(ctx), name, append(args, uri)...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("hostexec: open %s: %w", uri, err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}

func openerFor(goos string) (string, []string) {
	switch goos {
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler"}
	case "darwin":
		return "open", nil
	default:
		return "xdg-open", nil
	}
}

// Get requests url once and discards the body.
func (r *Runner) Get(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("hostexec: build request: %w", err)
	}
	client := r.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("hostexec: get %s: %w", url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 400 {
		return fmt.Errorf("hostexec: get %s: status %d", url, resp.StatusCode)
	}
	return nil
}

func (r *Runner) cmd(ctx context.Context, name string, args ...string) *exec.Cmd {
	if r.command == nil {
		return exec.CommandContext(ctx, name, args...)
	}
	return r.command(ctx, name, args...)
}
