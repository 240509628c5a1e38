package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/you/streamrig/internal/config"
	"github.com/you/streamrig/internal/httpapi"
	"github.com/you/streamrig/internal/logging"
	"github.com/you/streamrig/internal/rig"
	"github.com/you/streamrig/internal/settings"
	"github.com/you/streamrig/internal/version"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	var (
		versionFlag     bool
		eventsFile      string
		settingsBackend string
		settingsPath    string
		httpAddr        string
		httpCorsOrigins string
		httpRateLimit   int
		twChannel       string
		twNick          string
		twTokenFile     string
		twRefreshFile   string
		twTLS           bool
		ttsProvider     string
		ttsReadChat     bool
		audioPlayer     string
		logLevel        string
		logFormat       string
		offline         bool
	)

	flag.BoolVar(&versionFlag, "version", false, "Print build version and exit")
	flag.StringVar(&eventsFile, "events", "", "Path to the events YAML file")
	flag.StringVar(&settingsBackend, "settings-backend", "", "Settings store: sqlite, badger or memory")
	flag.StringVar(&settingsPath, "settings-path", "", "SQLite file or badger directory for settings")
	flag.StringVar(&httpAddr, "http-addr", "", "HTTP status, overlay and admin address (e.g., :8765)")
	flag.StringVar(&httpCorsOrigins, "http-cors-origins", "", "Comma-separated list of allowed CORS origins")
	flag.IntVar(&httpRateLimit, "http-rate-limit", 0, "Maximum HTTP requests per second per client (0 disables)")
	flag.StringVar(&twChannel, "twitch-channel", "", "Twitch channel to join (without #)")
	flag.StringVar(&twNick, "twitch-nick", "", "Twitch nickname to login as")
	flag.StringVar(&twTokenFile, "twitch-token-file", "", "Path to file containing the Twitch OAuth token")
	flag.StringVar(&twRefreshFile, "twitch-refresh-token-file", "", "Path to file containing the Twitch refresh token")
	flag.BoolVar(&twTLS, "twitch-tls", true, "Use TLS (port 6697) for Twitch IRC connection")
	flag.StringVar(&ttsProvider, "tts-provider", "", "Speech provider: google, polly or none")
	flag.BoolVar(&ttsReadChat, "tts-read-chat", false, "Read viewer chat aloud")
	flag.StringVar(&audioPlayer, "audio-player", "", "Command used to play audio files")
	flag.StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")
	flag.StringVar(&logFormat, "log-format", "", "Log format: text, logfmt or json")
	flag.BoolVar(&offline, "offline", false, "Skip Twitch, OBS, VR, lights and webhooks")
	flag.Parse()

	ver, commit, built := version.Resolve()
	if versionFlag {
		fmt.Printf("streamrig version: %s (commit %s, built %s)\n", ver, commit, version.BuildTime)
		os.Exit(0)
	}

	overrides := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) {
		overrides[f.Name] = true
	})

	cfg := config.Load()

	if overrides["events"] {
		cfg.EventsFile = strings.TrimSpace(eventsFile)
	}
	if overrides["settings-backend"] {
		cfg.Settings.Backend = strings.ToLower(strings.TrimSpace(settingsBackend))
	}
	if overrides["settings-path"] {
		cfg.Settings.Path = strings.TrimSpace(settingsPath)
	}
	if overrides["http-addr"] {
		cfg.HTTP.Addr = strings.TrimSpace(httpAddr)
	}
	if overrides["http-cors-origins"] {
		cfg.HTTP.CORSOrigins = nil
		for _, origin := range strings.Split(httpCorsOrigins, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				cfg.HTTP.CORSOrigins = append(cfg.HTTP.CORSOrigins, origin)
			}
		}
	}
	if overrides["http-rate-limit"] {
		cfg.HTTP.RateLimit = httpRateLimit
	}
	if overrides["twitch-channel"] {
		channel := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(twChannel), "#"))
		cfg.Twitch.Channel = channel
		cfg.Twitch.Enabled = channel != ""
		if cfg.Twitch.Nick == "" {
			cfg.Twitch.Nick = channel
		}
	}
	if overrides["twitch-nick"] {
		cfg.Twitch.Nick = strings.TrimSpace(twNick)
	}
	if overrides["twitch-token-file"] {
		cfg.Twitch.TokenFile = strings.TrimSpace(twTokenFile)
	}
	if overrides["twitch-refresh-token-file"] {
		cfg.Twitch.RefreshTokenFile = strings.TrimSpace(twRefreshFile)
	}
	if overrides["twitch-tls"] {
		cfg.Twitch.TLS = twTLS
	}
	if overrides["tts-provider"] {
		cfg.Speech.Provider = strings.ToLower(strings.TrimSpace(ttsProvider))
	}
	if overrides["tts-read-chat"] {
		cfg.Speech.ReadChat = ttsReadChat
	}
	if overrides["audio-player"] {
		cfg.Audio.Player = strings.TrimSpace(audioPlayer)
	}
	if !overrides["log-level"] {
		logLevel = os.Getenv("RIG_LOG_LEVEL")
	}
	if !overrides["log-format"] {
		logFormat = os.Getenv("RIG_LOG_FORMAT")
	}

	logger, err := logging.New(logLevel, logFormat, os.Stderr)
	if err != nil {
		log.Fatalf("streamrig: %v", err)
	}
	slog.SetDefault(logger)

	if cfg.Speech.Provider == "none" {
		cfg.Speech.Provider = ""
	}
	if cfg.Speech.Provider == "google" && cfg.Speech.GoogleAPIKey == "" {
		logger.Warn("speech disabled: RIG_GOOGLE_TTS_KEY is not set")
		cfg.Speech.Provider = ""
	}

	log.Printf("%s", cfg.SummaryJSON())
	logger.Info("starting",
		"version", ver,
		"commit", commit,
		"events", cfg.EventsFile,
		"settings", cfg.Settings.Backend,
		"http", cfg.HTTP.Addr,
		"twitch", cfg.Twitch.Enabled,
		"speech", cfg.Speech.Provider,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("shutting down", "signal", sig.String())
		cancel()
	}()

	store, err := settings.Open(cfg.Settings.Backend, cfg.Settings.Path)
	if err != nil {
		log.Fatalf("streamrig: open settings: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing settings", "err", err)
		}
	}()
	if db, ok := store.(*settings.SQLite); ok {
		if err := db.Ping(); err != nil {
			log.Fatalf("streamrig: ping sqlite: %v", err)
		}
		if err := migrateSQLite(ctx, db.DB()); err != nil {
			log.Fatalf("streamrig: sqlite migrate: %v", err)
		}
	}

	r, err := rig.New(cfg, rig.Options{
		Logger:  logger,
		Store:   store,
		Build:   httpapi.BuildInfo{Version: ver, Revision: commit, BuiltAt: built},
		Offline: offline,
	})
	if err != nil {
		log.Fatalf("streamrig: %v", err)
	}
	if err := r.Run(ctx); err != nil {
		logger.Error("stopped", "err", err)
		os.Exit(1)
	}
	logger.Info("stopped")
}
