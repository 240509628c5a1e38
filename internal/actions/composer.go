package actions

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"time"

	"github.com/you/streamrig/internal/completion"
	"github.com/you/streamrig/internal/config"
	"github.com/you/streamrig/internal/core"
	"github.com/you/streamrig/internal/firetrace"
)

// NoIndex asks every sub-action to pick its own random entry.
const NoIndex = -1

// Callback runs every configured sub-action of one trigger.
type Callback func(ctx context.Context, user core.User, index int, raw any) Report

// Report lists what one firing did.
type Report struct {
	TraceID string
	Ran     []Kind
	Failed  []Kind
}

type Options struct {
	// Chatbot speaks lines that name no voice of their own.
	Chatbot         string
	ScreenshotSound *config.AudioAction
	Logger          *slog.Logger
	Recorder        Recorder
	RandN           func(n int) int
	After           func(d time.Duration, f func())
}

type compiled struct {
	key      string
	steps    []SubAction
	callback Callback
}

// Composer compiles trigger configs into cached callbacks.
type Composer struct {
	deps            Deps
	chatbot         string
	screenshotSound *config.AudioAction
	logger          *slog.Logger
	recorder        Recorder
	randN           func(n int) int
	after           func(d time.Duration, f func())

	mu       sync.RWMutex
	triggers map[string]*compiled
	commands CommandRunner
}

func NewComposer(deps Deps, opts Options) *Composer {
	c := &Composer{
		deps:            deps,
		chatbot:         opts.Chatbot,
		screenshotSound: opts.ScreenshotSound,
		logger:          opts.Logger,
		recorder:        opts.Recorder,
		randN:           opts.RandN,
		after:           opts.After,
		triggers:        make(map[string]*compiled),
		commands:        deps.Commands,
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.randN == nil {
		c.randN = rand.IntN
	}
	if c.after == nil {
		c.after = func(d time.Duration, f func()) {
			if d <= 0 {
				go f()
				return
			}
			time.AfterFunc(d, f)
		}
	}
	return c
}

// SetCommandRunner wires the commands sub-action after construction.
func (c *Composer) SetCommandRunner(r CommandRunner) {
	c.mu.Lock()
	c.commands = r
	c.mu.Unlock()
}

func (c *Composer) commandRunner() CommandRunner {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.commands
}

func (c *Composer) sound() *config.AudioAction {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.screenshotSound
}

// SetScreenshotSound replaces the sound played on OBS captures.
func (c *Composer) SetScreenshotSound(sound *config.AudioAction) {
	c.mu.Lock()
	c.screenshotSound = sound
	c.mu.Unlock()
}

// Register compiles ev into a callback and caches it under key, replacing
// any earlier one.
func (c *Composer) Register(key string, ev config.Event) Callback {
	steps := Plan(ev.Actions)
	entry := &compiled{key: key, steps: steps}
	entry.callback = func(ctx context.Context, user core.User, index int, raw any) Report {
		return c.fire(ctx, entry, user, index, raw)
	}

	c.mu.Lock()
	_, replaced := c.triggers[key]
	c.triggers[key] = entry
	c.mu.Unlock()

	names := make([]string, 0, len(steps))
	for _, step := range steps {
		names = append(names, step.Kind().String())
	}
	c.logger.Info("built action callback", "trigger", key, "kinds", names, "replaced", replaced)
	return entry.callback
}

func (c *Composer) Lookup(key string) (Callback, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.triggers[key]
	if !ok {
		return nil, false
	}
	return entry.callback, true
}

// Kinds returns the compiled kinds for key.
func (c *Composer) Kinds(key string) []Kind {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.triggers[key]
	if !ok {
		return nil
	}
	out := make([]Kind, 0, len(entry.steps))
	for _, step := range entry.steps {
		out = append(out, step.Kind())
	}
	return out
}

func (c *Composer) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.triggers))
	for key := range c.triggers {
		out = append(out, key)
	}
	return out
}

// Forget drops compiled triggers that are not in keep.
func (c *Composer) Forget(keep map[string]struct{}) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key := range c.triggers {
		if _, ok := keep[key]; !ok {
			delete(c.triggers, key)
			removed++
		}
	}
	return removed
}

type firing struct {
	key         string
	user        core.User
	index       int
	raw         any
	speechToken string
	trace       *firetrace.FireTrace
}

func (c *Composer) fire(ctx context.Context, entry *compiled, user core.User, index int, raw any) Report {
	f := &firing{
		key:   entry.key,
		user:  user,
		index: index,
		raw:   raw,
		// Screenshots wait on this token for this firing's spoken line.
		speechToken: completion.NewToken("tts"),
		trace:       firetrace.New(entry.key, sourceOf(raw), user.Login),
	}
	report := Report{TraceID: f.trace.TraceID}
	if len(entry.steps) == 0 {
		return report
	}

	for _, step := range entry.steps {
		if err := c.runStep(ctx, step, f); err != nil {
			c.recordFailure(f, step.Kind(), err)
			report.Failed = append(report.Failed, step.Kind())
			continue
		}
		f.trace.Ran(step.Kind().String())
		report.Ran = append(report.Ran, step.Kind())
	}
	f.trace.LogTrace(c.logger, "trigger fired")
	return report
}

func (c *Composer) runStep(ctx context.Context, step SubAction, f *firing) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			c.logger.Debug("sub-action panic stack", "trigger", f.key, "kind", step.Kind().String(), "stack", string(debug.Stack()))
		}
	}()
	return step.run(ctx, c, f)
}

func (c *Composer) recordFailure(f *firing, kind Kind, err error) {
	f.trace.Failed(kind.String())
	c.logger.Warn("sub-action failed", "trigger", f.key, "kind", kind.String(), "trace_id", f.trace.TraceID, "err", err)
	if c.recorder != nil {
		c.recorder.SubActionFailed(kind.String())
	}
}

func (c *Composer) profileImage(ctx context.Context, f *firing) string {
	if c.deps.Profiles == nil || f.user.ID == "" {
		return ""
	}
	url, err := c.deps.Profiles.ProfileImage(ctx, f.user.ID)
	if err != nil {
		c.logger.Debug("profile image lookup failed", "user_id", f.user.ID, "err", err)
		return ""
	}
	return url
}

// Source reports where a firing came from. Raw trigger payloads implement it.
type Source interface {
	TriggerSource() string
}

func sourceOf(raw any) string {
	if s, ok := raw.(Source); ok {
		return s.TriggerSource()
	}
	return "direct"
}

// pick returns items[index] when index is in range and a random item
// otherwise.
func pick[T any](items []T, index int, randN func(int) int) (T, bool) {
	var zero T
	if len(items) == 0 {
		return zero, false
	}
	if index >= 0 && index < len(items) {
		return items[index], true
	}
	if len(items) == 1 {
		return items[0], true
	}
	return items[randN(len(items))], true
}
