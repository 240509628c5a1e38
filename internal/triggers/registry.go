// Package triggers binds composed action callbacks to channel point
// rewards, chat commands and cheers, and dispatches incoming events to them.
package triggers

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/you/streamrig/internal/actions"
	"github.com/you/streamrig/internal/config"
	"github.com/you/streamrig/internal/core"
	"github.com/you/streamrig/internal/settings"
)

// ConfigurationError reports a trigger that could not be bound.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("triggers: %s: %s", e.Key, e.Reason)
}

type Composer interface {
	Register(key string, ev config.Event) actions.Callback
}

// RewardUpdater pushes a reward variant to Twitch.
type RewardUpdater interface {
	UpdateReward(ctx context.Context, rewardID string, variant config.RewardVariant) error
}

type Recorder interface {
	TriggerFired(source string)
}

type Options struct {
	Store    settings.Store
	Updater  RewardUpdater
	Recorder Recorder
	Logger   *slog.Logger
	Now      func() time.Time
}

type rewardBinding struct {
	key      string
	id       string
	variants []config.RewardVariant
	callback actions.Callback

	// serializes counter read-advance-write per reward
	mu sync.Mutex
}

type commandBinding struct {
	word        string
	permissions config.Permissions
	cooldown    time.Duration
	callback    actions.Callback
	lastRun     time.Time
}

type cheerBinding struct {
	key      string
	bits     int
	callback actions.Callback
}

type Registry struct {
	composer Composer
	store    settings.Store
	updater  RewardUpdater
	recorder Recorder
	logger   *slog.Logger
	now      func() time.Time

	mu       sync.RWMutex
	rewards  map[string]*rewardBinding
	commands map[string]*commandBinding
	cheers   []cheerBinding // ascending by bits
	keys     map[string]struct{}
}

func NewRegistry(composer Composer, opts Options) *Registry {
	r := &Registry{
		composer: composer,
		store:    opts.Store,
		updater:  opts.Updater,
		recorder: opts.Recorder,
		logger:   opts.Logger,
		now:      opts.Now,
		rewards:  make(map[string]*rewardBinding),
		commands: make(map[string]*commandBinding),
		keys:     make(map[string]struct{}),
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// RegisterAll binds every event in file. Configuration errors are logged
// and the offending trigger stays unbound. It returns the number of
// bindings made.
func (r *Registry) RegisterAll(ctx context.Context, file config.EventsFile) int {
	bound := 0
	for _, key := range file.Keys() {
		ev := file.Events[key]
		var errs []error
		if ev.Triggers.Reward != nil {
			if err := r.RegisterReward(ctx, key, ev); err != nil {
				errs = append(errs, err)
			} else {
				bound++
			}
		}
		if ev.Triggers.Command != nil {
			n, err := r.RegisterCommand(key, ev)
			if err != nil {
				errs = append(errs, err)
			}
			bound += n
		}
		if ev.Triggers.Cheer != 0 {
			if err := r.RegisterCheer(key, ev); err != nil {
				errs = append(errs, err)
			} else {
				bound++
			}
		}
		for _, err := range errs {
			r.logger.Error("trigger not registered", "trigger", key, "err", err)
		}
	}
	return bound
}

// RegisterReward binds ev to its channel point reward. The id comes from
// the event or else from the stored reward ids.
func (r *Registry) RegisterReward(ctx context.Context, key string, ev config.Event) error {
	cfg := ev.Triggers.Reward
	if cfg == nil {
		return &ConfigurationError{Key: key, Reason: "no reward trigger"}
	}
	id := strings.TrimSpace(cfg.ID)
	if id == "" && r.store != nil {
		var rec settings.RewardID
		ok, err := r.store.Pull(ctx, settings.RewardIDs, "key", key, &rec)
		if err != nil {
			return fmt.Errorf("triggers: %s: load reward id: %w", key, err)
		}
		if ok {
			id = strings.TrimSpace(rec.ID)
		}
	}
	if id == "" {
		return &ConfigurationError{Key: key, Reason: "missing reward id"}
	}

	binding := &rewardBinding{
		key:      key,
		id:       id,
		variants: append([]config.RewardVariant(nil), cfg.Variants...),
		callback: r.composer.Register(key, ev),
	}
	r.mu.Lock()
	r.rewards[id] = binding
	r.keys[key] = struct{}{}
	r.mu.Unlock()
	r.logger.Debug("registered reward", "trigger", key, "reward_id", id, "incremental", cfg.Incremental())
	return nil
}

// RegisterCommand binds ev to each word of key (or of the configured
// words) split on "|". It returns how many words were bound.
func (r *Registry) RegisterCommand(key string, ev config.Event) (int, error) {
	words := key
	var cmd config.CommandTrigger
	if ev.Triggers.Command != nil {
		cmd = *ev.Triggers.Command
		if strings.TrimSpace(cmd.Words) != "" {
			words = cmd.Words
		}
	}
	bound := 0
	for _, word := range strings.Split(words, "|") {
		word = normalizeWord(word)
		if word == "" {
			continue
		}
		binding := &commandBinding{
			word:        word,
			permissions: cmd.Permissions,
			cooldown:    time.Duration(cmd.Cooldown) * time.Second,
			callback:    r.composer.Register(word, ev),
		}
		r.mu.Lock()
		r.commands[word] = binding
		r.keys[word] = struct{}{}
		r.mu.Unlock()
		bound++
	}
	if bound == 0 {
		return 0, &ConfigurationError{Key: key, Reason: "no command words"}
	}
	r.logger.Debug("registered command", "trigger", key, "words", bound)
	return bound, nil
}

// RegisterCheer binds ev to a minimum bits amount.
func (r *Registry) RegisterCheer(key string, ev config.Event) error {
	bits := ev.Triggers.Cheer
	if bits <= 0 {
		return &ConfigurationError{Key: key, Reason: "cheer needs a positive bits amount"}
	}
	binding := cheerBinding{key: key, bits: bits, callback: r.composer.Register(key, ev)}

	r.mu.Lock()
	kept := r.cheers[:0]
	for _, c := range r.cheers {
		if c.key != key {
			kept = append(kept, c)
		}
	}
	r.cheers = append(kept, binding)
	sort.SliceStable(r.cheers, func(i, j int) bool { return r.cheers[i].bits < r.cheers[j].bits })
	r.keys[key] = struct{}{}
	r.mu.Unlock()
	r.logger.Debug("registered cheer", "trigger", key, "bits", bits)
	return nil
}

// Replace binds file into a fresh set of bindings and swaps them in at
// once, so dispatch never sees an empty registry during a reload. Command
// cooldowns carry over for words that stay bound.
func (r *Registry) Replace(ctx context.Context, file config.EventsFile) int {
	next := NewRegistry(r.composer, Options{
		Store:    r.store,
		Updater:  r.updater,
		Recorder: r.recorder,
		Logger:   r.logger,
		Now:      r.now,
	})
	bound := next.RegisterAll(ctx, file)

	r.mu.Lock()
	for word, b := range next.commands {
		if old, ok := r.commands[word]; ok {
			b.lastRun = old.lastRun
		}
	}
	r.rewards = next.rewards
	r.commands = next.commands
	r.cheers = next.cheers
	r.keys = next.keys
	r.mu.Unlock()
	return bound
}

// Reset drops every binding.
func (r *Registry) Reset() {
	r.mu.Lock()
	r.rewards = make(map[string]*rewardBinding)
	r.commands = make(map[string]*commandBinding)
	r.cheers = nil
	r.keys = make(map[string]struct{})
	r.mu.Unlock()
}

// CallbackKeys returns the composer keys the current bindings use.
func (r *Registry) CallbackKeys() map[string]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]struct{}, len(r.keys))
	for k := range r.keys {
		out[k] = struct{}{}
	}
	return out
}

// Counts reports how many rewards, commands and cheers are bound.
func (r *Registry) Counts() (rewards, commands, cheers int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rewards), len(r.commands), len(r.cheers)
}

// OnRedemption fires the trigger bound to the redeemed reward.
func (r *Registry) OnRedemption(ctx context.Context, red core.Redemption) (actions.Report, bool) {
	r.mu.RLock()
	binding, ok := r.rewards[red.RewardID]
	r.mu.RUnlock()
	if !ok {
		r.logger.Warn("reward not found", "reward_id", red.RewardID)
		return actions.Report{}, false
	}
	r.fired("reward")
	return r.fireReward(ctx, binding, UserFromRedemption(red), red), true
}

func (r *Registry) fireReward(ctx context.Context, b *rewardBinding, user core.User, raw any) actions.Report {
	if len(b.variants) == 0 {
		return b.callback(ctx, user, actions.NoIndex, raw)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	counter := settings.RewardCounter{Key: b.key}
	if r.store != nil {
		if _, err := r.store.Pull(ctx, settings.RewardCounters, "key", b.key, &counter); err != nil {
			// The stored count is unknown; advancing now would overwrite it.
			r.logger.Warn("reward counter unavailable", "trigger", b.key, "err", err)
			return b.callback(ctx, user, 0, raw)
		}
		counter.Key = b.key
	}
	report := b.callback(ctx, user, counter.Count, raw)

	next := counter.Count + 1
	if next >= len(b.variants) {
		return report
	}
	counter.Count = next
	if r.store != nil {
		if err := r.store.Push(ctx, settings.RewardCounters, "key", counter); err != nil {
			r.logger.Warn("reward counter not saved", "trigger", b.key, "err", err)
		}
	}
	if r.updater != nil {
		if err := r.updater.UpdateReward(ctx, b.id, b.variants[next]); err != nil {
			r.logger.Warn("reward update failed", "trigger", b.key, "reward_id", b.id, "err", err)
		}
	}
	return report
}

// OnCheer fires the highest cheer trigger the bits reach.
func (r *Registry) OnCheer(ctx context.Context, c core.Cheer) (actions.Report, bool) {
	r.mu.RLock()
	var match *cheerBinding
	for i := range r.cheers {
		if c.Bits >= r.cheers[i].bits {
			match = &r.cheers[i]
		}
	}
	var binding cheerBinding
	if match != nil {
		binding = *match
	}
	r.mu.RUnlock()
	if match == nil {
		return actions.Report{}, false
	}
	r.fired("cheer")
	return binding.callback(ctx, UserFromCheer(c), actions.NoIndex, c), true
}

// OnChatMessage runs "!word rest" commands the sender is allowed to use.
// Messages tied to a channel point reward are left to OnRedemption.
func (r *Registry) OnChatMessage(ctx context.Context, msg core.ChatMessage) (actions.Report, bool) {
	if msg.CustomRewardID != "" {
		r.logger.Debug("skipped reward chat message", "reward_id", msg.CustomRewardID)
		return actions.Report{}, false
	}
	word, input, ok := ParseCommand(msg.Text)
	if !ok {
		return actions.Report{}, false
	}
	user := UserFromChat(msg, input)

	r.mu.Lock()
	binding, found := r.commands[word]
	if !found {
		r.mu.Unlock()
		return actions.Report{}, false
	}
	if !allowed(binding.permissions, user) {
		r.mu.Unlock()
		r.logger.Debug("command not permitted", "command", word, "user", user.Login)
		return actions.Report{}, false
	}
	now := r.now()
	if binding.cooldown > 0 && !user.IsBroadcaster && !binding.lastRun.IsZero() && now.Sub(binding.lastRun) < binding.cooldown {
		r.mu.Unlock()
		r.logger.Debug("command on cooldown", "command", word, "user", user.Login)
		return actions.Report{}, false
	}
	binding.lastRun = now
	callback := binding.callback
	r.mu.Unlock()

	r.fired("command")
	return callback(ctx, user, actions.NoIndex, msg), true
}

// RunCommand fires a command as user without permission or cooldown checks.
func (r *Registry) RunCommand(ctx context.Context, word string, user core.User) bool {
	r.mu.RLock()
	binding, ok := r.commands[normalizeWord(word)]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	r.fired("command")
	binding.callback(ctx, user, actions.NoIndex, nil)
	return true
}

func (r *Registry) fired(source string) {
	if r.recorder != nil {
		r.recorder.TriggerFired(source)
	}
}

// ParseCommand splits "!word rest" into a lower-case word and the rest.
func ParseCommand(text string) (word, input string, ok bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "!") {
		return "", "", false
	}
	word, input, _ = strings.Cut(text[1:], " ")
	word = normalizeWord(word)
	if word == "" {
		return "", "", false
	}
	return word, strings.TrimSpace(input), true
}

func normalizeWord(word string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(word), "!"))
}

func allowed(p config.Permissions, u core.User) bool {
	switch {
	case u.IsBroadcaster, p.Everyone:
		return true
	case p.Moderators && u.IsModerator:
		return true
	case p.VIPs && u.IsVIP:
		return true
	case p.Subscribers && u.IsSubscriber:
		return true
	}
	return false
}
