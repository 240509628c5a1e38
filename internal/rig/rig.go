package rig

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/you/streamrig/internal/actions"
	"github.com/you/streamrig/internal/audio"
	"github.com/you/streamrig/internal/completion"
	"github.com/you/streamrig/internal/config"
	"github.com/you/streamrig/internal/core"
	"github.com/you/streamrig/internal/discord"
	"github.com/you/streamrig/internal/eventsub"
	"github.com/you/streamrig/internal/helix"
	"github.com/you/streamrig/internal/hostexec"
	httpadmin "github.com/you/streamrig/internal/http"
	"github.com/you/streamrig/internal/httpapi"
	"github.com/you/streamrig/internal/hue"
	"github.com/you/streamrig/internal/labels"
	"github.com/you/streamrig/internal/obs"
	"github.com/you/streamrig/internal/settings"
	"github.com/you/streamrig/internal/speech"
	"github.com/you/streamrig/internal/telegram"
	"github.com/you/streamrig/internal/triggers"
	"github.com/you/streamrig/internal/twitch"
	"github.com/you/streamrig/internal/twitchirc"
	"github.com/you/streamrig/internal/vr"
)

var ErrUnknownTrigger = errors.New("rig: unknown trigger")

type Options struct {
	Logger *slog.Logger
	Store  settings.Store
	// Synth replaces the configured speech provider.
	Synth speech.Synthesizer
	// Devices replaces the configured playback devices.
	Devices audio.DeviceFactory
	Build   httpapi.BuildInfo
	// Offline skips every network client: Twitch, OBS, VR, lights and
	// webhooks.
	Offline bool
	// Mount registers extra HTTP routes next to the admin ones.
	Mount func(mux *http.ServeMux)
}

type client struct {
	name string
	run  func(ctx context.Context) error
}

// Rig wires the trigger registry, the action composer and the audio and
// speech queues to Twitch and the local sinks.
type Rig struct {
	cfg    config.Config
	logger *slog.Logger
	store  settings.Store

	metrics     *httpapi.Metrics
	completions *completion.Registry
	sequencer   *audio.Sequencer
	dict        *speech.Dictionary
	voices      *speech.VoiceBook
	pipeline    *speech.Pipeline
	composer    *actions.Composer
	registry    *triggers.Registry
	chatReader  *triggers.ChatReader
	server      *httpapi.Server

	tokens *twitch.RefreshManager
	helix  *helix.Client
	irc    *twitchirc.Client

	clients []client

	// serializes reloads
	reloadMu sync.Mutex

	ctxMu  sync.RWMutex
	runCtx context.Context
}

func New(cfg config.Config, opts Options) (*Rig, error) {
	if opts.Store == nil {
		return nil, errors.New("rig: settings store is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Rig{
		cfg:         cfg,
		logger:      logger,
		store:       opts.Store,
		metrics:     httpapi.NewMetrics(),
		completions: completion.NewRegistry(logger),
		dict:        speech.NewDictionary(nil),
		runCtx:      context.Background(),
	}

	devices := opts.Devices
	if devices == nil {
		if cfg.Audio.Player != "" {
			devices = audio.NewExecFactory(cfg.Audio.Player, cfg.Audio.TempDir)
		} else {
			logger.Warn("no audio player configured; playback is only logged")
			devices = audio.NewNullFactory(0, logger)
		}
	}
	r.sequencer = audio.NewSequencer(devices, r.completions, audio.Options{
		Interval: cfg.AudioInterval(),
		Logger:   logger,
		Recorder: r.metrics,
	})

	synth := opts.Synth
	if synth == nil {
		var err error
		if synth, err = newSynthesizer(cfg.Speech); err != nil {
			return nil, err
		}
	}
	if synth != nil {
		r.voices = speech.NewVoiceBook(synth, r.store, logger)
		r.voices.DefaultVoice = cfg.Speech.DefaultVoice
		r.voices.Filter = cfg.Speech.VoiceFilter
		r.voices.Randomize = cfg.Speech.RandomizeVoice
		r.voices.RandomLang = cfg.Speech.RandomLanguage
		r.pipeline = speech.NewPipeline(synth, r.store, r.sequencer, r.completions, r.voices, r.dict, speech.Config{
			Channel:        cfg.Speech.Channel,
			Interval:       cfg.AudioInterval(),
			MaxTries:       cfg.Speech.MaxTries,
			SecretPrefixes: cfg.Speech.SecretPrefixes,
			SpeakerTimeout: cfg.SpeakerTimeout(),
			SkipSaid:       cfg.Speech.SkipSaid,
			Logger:         logger,
			Recorder:       r.metrics,
		})
	} else {
		logger.Warn("no speech provider configured; speech sub-actions will fail")
	}

	var speechStatus httpapi.SpeechStatus
	if r.pipeline != nil {
		speechStatus = r.pipeline
	}
	r.server = httpapi.New(httpapi.Options{
		Addr:        cfg.HTTP.Addr,
		CORSOrigins: cfg.HTTP.CORSOrigins,
		RateLimit:   cfg.HTTP.RateLimit,
		Build:       opts.Build,
		Metrics:     r.metrics,
		Audio:       r.sequencer,
		Speech:      speechStatus,
		Completions: r.completions,
		Mount: func(mux *http.ServeMux) {
			httpadmin.New(r).Register(mux)
			if opts.Mount != nil {
				opts.Mount(mux)
			}
		},
	})

	runner := hostexec.New()
	deps := actions.Deps{
		Audio:       r.sequencer,
		Completions: r.completions,
		Overlay:     r.server.Hub(),
		Exec:        runner,
		Web:         runner,
		Labels:      labels.New(cfg.LabelsDir, r.store, r.server.Hub()),
	}
	if r.pipeline != nil {
		deps.Speech = r.pipeline
	}
	if !opts.Offline {
		r.connectTwitch(&deps)
		r.connectSinks(&deps)
	}

	r.composer = actions.NewComposer(deps, actions.Options{
		Chatbot:  cfg.Speech.Chatbot,
		Logger:   logger,
		Recorder: r.metrics,
	})
	var updater triggers.RewardUpdater
	if r.helix != nil {
		updater = r.helix
	}
	r.registry = triggers.NewRegistry(r.composer, triggers.Options{
		Store:    r.store,
		Updater:  updater,
		Recorder: r.metrics,
		Logger:   logger,
	})
	r.composer.SetCommandRunner(r.registry)

	if cfg.Speech.ReadChat && r.pipeline != nil {
		r.chatReader = triggers.NewChatReader(r.pipeline, cfg.Speech.IgnoreUsers, cfg.Speech.Announcers)
	}
	return r, nil
}

func newSynthesizer(cfg config.SpeechConfig) (speech.Synthesizer, error) {
	switch cfg.Provider {
	case "":
		return nil, nil
	case "google":
		if cfg.GoogleAPIKey == "" {
			return nil, errors.New("rig: google speech needs RIG_GOOGLE_TTS_KEY")
		}
		return &speech.Google{APIKey: cfg.GoogleAPIKey, AudioEncoding: cfg.GoogleEncoding}, nil
	case "polly":
		return speech.NewPolly(cfg.PollyRegion, cfg.PollyEngine), nil
	default:
		return nil, fmt.Errorf("rig: unknown speech provider %q", cfg.Provider)
	}
}

func (r *Rig) connectTwitch(deps *actions.Deps) {
	tc := r.cfg.Twitch
	if !tc.Enabled {
		return
	}
	files := twitch.TokenFiles{AccessPath: tc.TokenFile, RefreshPath: tc.RefreshTokenFile}
	r.tokens = twitch.NewRefreshManager(tc.ClientID, tc.ClientSecret, tc.Token, tc.RefreshToken, files)
	if files.AccessPath != "" {
		if _, err := r.tokens.Reload(); err != nil {
			r.logger.Warn("twitch: token file not loaded", "path", files.AccessPath, "err", err)
		}
	}

	if tc.ClientID != "" {
		r.helix = helix.New(tc.ClientID, tc.ClientSecret, tc.Channel, r.tokens.AccessToken)
		deps.Profiles = r.helix
	}

	ircCfg := twitchirc.Config{
		Channel:       tc.Channel,
		Nick:          tc.Nick,
		Token:         tc.Token,
		UseTLS:        tc.TLS,
		TokenProvider: r.tokens.AccessToken,
		Metrics:       r.metrics,
	}
	if r.cfg.RefreshEnabled() {
		ircCfg.RefreshNow = func(ctx context.Context) (string, error) {
			token, _, err := r.tokens.Refresh(ctx)
			return token, err
		}
	}
	r.irc = twitchirc.New(ircCfg, r.OnChatMessage)
	deps.Chat = r.irc
	r.clients = append(r.clients, client{"twitchirc", r.irc.Run})

	if tc.EventSub {
		if r.helix == nil {
			r.logger.Warn("twitch: eventsub needs RIG_TWITCH_CLIENT_ID; redemptions and cheers are off")
		} else {
			es := eventsub.New(eventsub.DefaultURL, r.helix, r)
			r.clients = append(r.clients, client{"eventsub", es.Run})
		}
	}
}

func (r *Rig) connectSinks(deps *actions.Deps) {
	cfg := r.cfg
	if cfg.OBS.URL != "" {
		c := obs.New(obs.Config{URL: cfg.OBS.URL, Password: cfg.OBS.Password, ScreenshotDir: cfg.OBS.ScreenshotDir}, r.completions)
		deps.OBS = c
		r.clients = append(r.clients, client{"obs", c.Run})
	}
	if cfg.Hue.BridgeURL != "" {
		h := hue.New(cfg.Hue.BridgeURL, cfg.Hue.Username, cfg.Hue.Lights)
		deps.Lights = h
		deps.Plugs = h
	}
	if cfg.VR.PipeURL != "" {
		p := vr.NewPipe(cfg.VR.PipeURL)
		deps.Pipe = p
		r.clients = append(r.clients, client{"pipe", p.Run})
	}
	if cfg.VR.SSSVRURL != "" {
		s := vr.NewSSSVR(cfg.VR.SSSVRURL)
		deps.SSSVR = s
		r.clients = append(r.clients, client{"sssvr", s.Run})
	}
	if cfg.VR.OpenVR2WSURL != "" {
		o := vr.NewOpenVR2WS(cfg.VR.OpenVR2WSURL, cfg.VR.OpenVR2WSPwd)
		deps.OpenVR2WS = o
		r.clients = append(r.clients, client{"openvr2ws", o.Run})
	}
	if len(cfg.Discord.Webhooks) > 0 {
		deps.Discord = discord.New(cfg.Discord.Webhooks)
	}
	if cfg.Telegram.Token != "" {
		t, err := telegram.New(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			r.logger.Warn("telegram disabled", "err", err)
		} else {
			deps.Telegram = t
		}
	}
}

// Run loads the events file, starts every loop and client, and blocks until
// ctx is done or the HTTP server fails.
func (r *Rig) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	r.ctxMu.Lock()
	r.runCtx = ctx
	r.ctxMu.Unlock()

	if _, err := r.ReloadEvents(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	start := func(name string, run func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Error("client stopped", "client", name, "err", err)
			}
		}()
	}

	start("audio", func(ctx context.Context) error {
		r.sequencer.Run(ctx)
		return nil
	})
	if r.pipeline != nil {
		start("speech", func(ctx context.Context) error {
			r.pipeline.Run(ctx)
			return nil
		})
		go func() {
			if err := r.voices.Load(ctx); err != nil {
				r.logger.Warn("speech: voice catalogue not loaded", "err", err)
			}
		}()
	}
	for _, c := range r.clients {
		start(c.name, c.run)
	}

	if r.tokens != nil && r.cfg.RefreshEnabled() {
		r.tokens.StartAuto(ctx, func(string) {
			r.logger.Info("twitch: token refreshed")
		})
	}
	if err := watchFiles(ctx, r.logger, []string{r.cfg.EventsFile}, reloadDebounce, func() {
		if _, err := r.ReloadEvents(ctx); err != nil {
			r.logger.Error("events reload failed; keeping previous triggers", "err", err)
		}
	}); err != nil {
		r.logger.Warn("events file not watched", "err", err)
	}
	if r.tokens != nil {
		if err := watchFiles(ctx, r.logger, r.tokens.Files.Paths(), reloadDebounce, func() {
			r.reloadTokens(ctx, false)
		}); err != nil {
			r.logger.Warn("token files not watched", "err", err)
		}
	}

	srvErr := make(chan error, 1)
	go func() { srvErr <- r.server.Start() }()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-srvErr:
		if runErr != nil {
			runErr = fmt.Errorf("rig: http server: %w", runErr)
		}
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := r.server.Shutdown(shutdownCtx); err != nil {
		r.logger.Warn("http shutdown", "err", err)
	}
	wg.Wait()
	if r.pipeline != nil {
		r.pipeline.Close()
	}
	return runErr
}

func (r *Rig) context() context.Context {
	r.ctxMu.RLock()
	defer r.ctxMu.RUnlock()
	return r.runCtx
}

// ReloadEvents re-reads the events file and re-registers every trigger.
// A file that fails to load leaves the current bindings in place.
func (r *Rig) ReloadEvents(ctx context.Context) (int, error) {
	r.reloadMu.Lock()
	defer r.reloadMu.Unlock()

	file, err := config.LoadEvents(r.cfg.EventsFile)
	if err != nil {
		return 0, err
	}
	r.applyEvents(ctx, file)
	rewards, commands, cheers := r.registry.Counts()
	r.logger.Info("events loaded", "file", r.cfg.EventsFile, "rewards", rewards, "commands", commands, "cheers", cheers)
	return rewards + commands + cheers, nil
}

func (r *Rig) applyEvents(ctx context.Context, file config.EventsFile) {
	r.dict.Set(file.Dictionary)
	r.composer.SetScreenshotSound(file.ScreenshotSound)
	if r.pipeline != nil {
		r.pipeline.SetEmptyMessageSound(actions.SoundRequest(file.EmptyMessageSound))
	}
	r.registry.Replace(ctx, file)
	if dropped := r.composer.Forget(r.registry.CallbackKeys()); dropped > 0 {
		r.logger.Info("dropped stale action callbacks", "count", dropped)
	}
}

// ReloadTwitch re-reads the token files and reconnects chat.
func (r *Rig) ReloadTwitch(ctx context.Context) (string, error) {
	return r.reloadTokens(ctx, true)
}

func (r *Rig) reloadTokens(ctx context.Context, force bool) (string, error) {
	if r.tokens == nil {
		return "", errors.New("rig: twitch is not enabled")
	}
	changed, err := r.tokens.Reload()
	if err != nil {
		r.logger.Error("twitch: token reload failed", "err", err)
		return "", err
	}
	if !changed && !force {
		return "", nil
	}
	login, _, err := r.tokens.Validate(ctx)
	if err != nil {
		r.logger.Warn("twitch: token did not validate", "err", err)
		return "", err
	}
	if r.irc != nil {
		if err := r.irc.Reconnect(); err != nil && !errors.Is(err, twitchirc.ErrNotConnected) {
			return "", err
		}
	}
	r.logger.Info("twitch: reloaded token", "as", login)
	return login, nil
}

// FireTrigger runs the cached callback for key as if user had triggered it.
func (r *Rig) FireTrigger(ctx context.Context, key string, user core.User) (actions.Report, error) {
	cb, ok := r.composer.Lookup(key)
	if !ok {
		return actions.Report{}, fmt.Errorf("%w: %s", ErrUnknownTrigger, key)
	}
	r.metrics.TriggerFired("admin")
	return cb(ctx, user, actions.NoIndex, nil), nil
}

func (r *Rig) StopAudio(channel int, clearQueue bool) {
	r.sequencer.Stop(channel, clearQueue)
}

func (r *Rig) OnRedemption(ctx context.Context, red core.Redemption) {
	if _, ok := r.registry.OnRedemption(ctx, red); !ok {
		r.logger.Debug("redemption has no trigger", "reward_id", red.RewardID, "user", red.UserLogin)
	}
}

func (r *Rig) OnCheer(ctx context.Context, c core.Cheer) {
	if _, ok := r.registry.OnCheer(ctx, c); !ok {
		r.logger.Debug("cheer below every trigger", "bits", c.Bits)
	}
}

// OnChatMessage dispatches commands first. Lines that ran nothing may still
// be read aloud.
func (r *Rig) OnChatMessage(msg core.ChatMessage) {
	ctx := r.context()
	if _, ok := r.registry.OnChatMessage(ctx, msg); ok {
		return
	}
	if word, input, ok := triggers.ParseCommand(msg.Text); ok && word == "voice" && r.pipeline != nil {
		if msg.CustomRewardID != "" {
			return
		}
		voice, err := r.pipeline.SetVoiceForUser(ctx, msg.Login, input, "")
		if err != nil {
			r.logger.Warn("speech: voice change failed", "user", msg.Login, "err", err)
			return
		}
		r.logger.Info("speech: voice changed", "user", msg.Login, "voice", voice)
		return
	}
	if r.chatReader != nil {
		r.chatReader.OnChatMessage(ctx, msg)
	}
}

// Metrics exposes the collectors, mainly for tests.
func (r *Rig) Metrics() *httpapi.Metrics { return r.metrics }

// Handler serves the rig's HTTP surface without listening.
func (r *Rig) Handler() http.Handler { return r.server.Handler() }

func (r *Rig) Snapshot() []audio.ChannelSnapshot { return r.sequencer.Snapshot() }

func (r *Rig) SpeechPending() int {
	if r.pipeline == nil {
		return 0
	}
	return r.pipeline.Pending()
}

// Triggers lists the compiled trigger keys in sorted order.
func (r *Rig) Triggers() []string {
	keys := r.composer.Keys()
	sort.Strings(keys)
	return keys
}
