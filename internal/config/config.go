package config

import (
	"encoding/json"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	EventsFile string
	Settings   SettingsConfig
	Audio      AudioConfig
	Speech     SpeechConfig
	Twitch     TwitchConfig
	HTTP       HTTPConfig
	OBS        OBSConfig
	Hue        HueConfig
	Discord    DiscordConfig
	Telegram   TelegramConfig
	VR         VRConfig
	LabelsDir  string
}

type SettingsConfig struct {
	Backend string // sqlite | badger | memory
	Path    string
}

type AudioConfig struct {
	Player     string
	TempDir    string
	IntervalMS int
}

type SpeechConfig struct {
	Provider       string // google | polly
	GoogleAPIKey   string
	GoogleEncoding string
	PollyRegion    string
	PollyEngine    string
	Channel        int
	MaxTries       int
	SecretPrefixes []string
	DefaultVoice   string
	VoiceFilter    string
	RandomizeVoice bool
	RandomLanguage string
	SpeakerTimeout int // seconds
	SkipSaid       bool
	ReadChat       bool
	Chatbot        string
	IgnoreUsers    []string          // logins never read aloud, e.g. other bots
	Announcers     map[string]string // bot login to the prefix its announcements start with
}

type TwitchConfig struct {
	Enabled          bool
	Channel          string
	Nick             string
	Token            string
	TokenFile        string
	ClientID         string
	ClientSecret     string
	RefreshToken     string
	RefreshTokenFile string
	TLS              bool
	EventSub         bool
}

type HTTPConfig struct {
	Addr        string
	CORSOrigins []string
	RateLimit   int // requests per second per IP; 0 disables
}

type OBSConfig struct {
	URL           string
	Password      string
	ScreenshotDir string
}

type HueConfig struct {
	BridgeURL string
	Username  string
	Lights    []int
}

type DiscordConfig struct {
	// Webhooks maps event keys to webhook URLs. Read from RIG_DISCORD_WEBHOOKS
	// as key=url pairs.
	Webhooks map[string]string
}

type TelegramConfig struct {
	Token  string
	ChatID int64
}

type VRConfig struct {
	PipeURL      string
	SSSVRURL     string
	OpenVR2WSURL string
	OpenVR2WSPwd string
}

const (
	defaultSettingsPath  = "streamrig.db"
	defaultEventsFile    = "events.yaml"
	defaultHTTPAddr      = ":8765"
	defaultSpeechTries   = 10
	defaultSpeakerSecs   = 30
	defaultSpeechChan    = 100
	defaultIntervalMS    = 250
	defaultOBSURL        = "ws://127.0.0.1:4455"
	defaultScreenshotDir = "screenshots"
)

func Load() Config {
	cfg := Config{}

	cfg.EventsFile = strings.TrimSpace(os.Getenv("RIG_EVENTS_FILE"))
	if cfg.EventsFile == "" {
		cfg.EventsFile = defaultEventsFile
	}

	cfg.Settings.Backend = strings.ToLower(strings.TrimSpace(os.Getenv("RIG_SETTINGS_BACKEND")))
	if cfg.Settings.Backend == "" {
		cfg.Settings.Backend = "sqlite"
	}
	cfg.Settings.Path = strings.TrimSpace(os.Getenv("RIG_SETTINGS_PATH"))
	if cfg.Settings.Path == "" {
		cfg.Settings.Path = defaultSettingsPath
	}

	cfg.Audio.Player = strings.TrimSpace(os.Getenv("RIG_AUDIO_PLAYER"))
	cfg.Audio.TempDir = strings.TrimSpace(os.Getenv("RIG_AUDIO_TEMP_DIR"))
	cfg.Audio.IntervalMS = readInt("RIG_AUDIO_INTERVAL_MS", defaultIntervalMS)

	cfg.Speech.Provider = strings.ToLower(strings.TrimSpace(os.Getenv("RIG_TTS_PROVIDER")))
	if cfg.Speech.Provider == "" {
		cfg.Speech.Provider = "google"
	}
	cfg.Speech.GoogleAPIKey = strings.TrimSpace(os.Getenv("RIG_GOOGLE_TTS_KEY"))
	cfg.Speech.GoogleEncoding = strings.TrimSpace(os.Getenv("RIG_GOOGLE_TTS_ENCODING"))
	cfg.Speech.PollyRegion = strings.TrimSpace(os.Getenv("RIG_POLLY_REGION"))
	if cfg.Speech.PollyRegion == "" {
		cfg.Speech.PollyRegion = strings.TrimSpace(os.Getenv("AWS_REGION"))
	}
	cfg.Speech.PollyEngine = strings.TrimSpace(os.Getenv("RIG_POLLY_ENGINE"))
	cfg.Speech.Channel = readInt("RIG_TTS_CHANNEL", defaultSpeechChan)
	cfg.Speech.MaxTries = readInt("RIG_TTS_MAX_TRIES", defaultSpeechTries)
	cfg.Speech.SecretPrefixes = splitList(os.Getenv("RIG_TTS_SECRET_PREFIXES"))
	cfg.Speech.DefaultVoice = strings.TrimSpace(os.Getenv("RIG_TTS_DEFAULT_VOICE"))
	cfg.Speech.VoiceFilter = strings.TrimSpace(os.Getenv("RIG_TTS_VOICE_FILTER"))
	cfg.Speech.RandomizeVoice = readBool("RIG_TTS_RANDOM_VOICE", false)
	cfg.Speech.RandomLanguage = strings.TrimSpace(os.Getenv("RIG_TTS_RANDOM_LANGUAGE"))
	if cfg.Speech.RandomLanguage == "" {
		cfg.Speech.RandomLanguage = "en-"
	}
	cfg.Speech.SpeakerTimeout = readInt("RIG_TTS_SPEAKER_TIMEOUT_SECS", defaultSpeakerSecs)
	cfg.Speech.SkipSaid = readBool("RIG_TTS_SKIP_SAID", false)
	cfg.Speech.ReadChat = readBool("RIG_TTS_READ_CHAT", false)
	cfg.Speech.Chatbot = strings.TrimSpace(os.Getenv("RIG_TTS_CHATBOT"))
	cfg.Speech.IgnoreUsers = dedupe(splitList(strings.ToLower(os.Getenv("RIG_TTS_IGNORE_USERS"))))
	cfg.Speech.Announcers = readPairs("RIG_TTS_ANNOUNCERS")

	cfg.Twitch.Channel = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(os.Getenv("RIG_TWITCH_CHANNEL")), "#"))
	cfg.Twitch.Nick = strings.TrimSpace(os.Getenv("RIG_TWITCH_NICK"))
	if cfg.Twitch.Nick == "" {
		cfg.Twitch.Nick = cfg.Twitch.Channel
	}
	cfg.Twitch.Token = strings.TrimSpace(os.Getenv("RIG_TWITCH_TOKEN"))
	cfg.Twitch.TokenFile = strings.TrimSpace(os.Getenv("RIG_TWITCH_TOKEN_FILE"))
	cfg.Twitch.ClientID = strings.TrimSpace(os.Getenv("RIG_TWITCH_CLIENT_ID"))
	cfg.Twitch.ClientSecret = strings.TrimSpace(os.Getenv("RIG_TWITCH_CLIENT_SECRET"))
	cfg.Twitch.RefreshToken = strings.TrimSpace(os.Getenv("RIG_TWITCH_REFRESH_TOKEN"))
	cfg.Twitch.RefreshTokenFile = strings.TrimSpace(os.Getenv("RIG_TWITCH_REFRESH_TOKEN_FILE"))
	cfg.Twitch.TLS = readBool("RIG_TWITCH_TLS", true)
	cfg.Twitch.EventSub = readBool("RIG_TWITCH_EVENTSUB", true)
	cfg.Twitch.Enabled = readBool("RIG_TWITCH_ENABLED", cfg.Twitch.Channel != "")

	cfg.HTTP.Addr = strings.TrimSpace(os.Getenv("RIG_HTTP_ADDR"))
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = defaultHTTPAddr
	}
	cfg.HTTP.CORSOrigins = splitList(os.Getenv("RIG_HTTP_CORS_ORIGINS"))
	cfg.HTTP.RateLimit = readInt("RIG_HTTP_RATE_LIMIT", 0)

	cfg.OBS.URL = strings.TrimSpace(os.Getenv("RIG_OBS_URL"))
	if cfg.OBS.URL == "" && envExists("RIG_OBS_PASSWORD") {
		cfg.OBS.URL = defaultOBSURL
	}
	cfg.OBS.Password = strings.TrimSpace(os.Getenv("RIG_OBS_PASSWORD"))
	cfg.OBS.ScreenshotDir = strings.TrimSpace(os.Getenv("RIG_OBS_SCREENSHOT_DIR"))
	if cfg.OBS.ScreenshotDir == "" {
		cfg.OBS.ScreenshotDir = defaultScreenshotDir
	}

	cfg.Hue.BridgeURL = strings.TrimSuffix(strings.TrimSpace(os.Getenv("RIG_HUE_BRIDGE")), "/")
	cfg.Hue.Username = strings.TrimSpace(os.Getenv("RIG_HUE_USERNAME"))
	cfg.Hue.Lights = readIntList("RIG_HUE_LIGHTS")

	cfg.Discord.Webhooks = readPairs("RIG_DISCORD_WEBHOOKS")

	cfg.Telegram.Token = strings.TrimSpace(os.Getenv("RIG_TELEGRAM_TOKEN"))
	if raw := strings.TrimSpace(os.Getenv("RIG_TELEGRAM_CHAT_ID")); raw != "" {
		if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}

	cfg.VR.PipeURL = strings.TrimSpace(os.Getenv("RIG_PIPE_URL"))
	cfg.VR.SSSVRURL = strings.TrimSpace(os.Getenv("RIG_SSSVR_URL"))
	cfg.VR.OpenVR2WSURL = strings.TrimSpace(os.Getenv("RIG_OPENVR2WS_URL"))
	cfg.VR.OpenVR2WSPwd = strings.TrimSpace(os.Getenv("RIG_OPENVR2WS_PASSWORD"))

	cfg.LabelsDir = strings.TrimSpace(os.Getenv("RIG_LABELS_DIR"))
	if cfg.LabelsDir == "" {
		cfg.LabelsDir = "labels"
	}

	return cfg
}

func splitList(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.FieldsFunc(raw, func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\t', '\n':
			return true
		}
		return false
	})
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return dedupe(out)
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		key := strings.ToLower(strings.TrimSpace(v))
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, strings.TrimSpace(v))
	}
	sort.Strings(out)
	return out
}

func readInt(name string, def int) int {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	if n < 0 {
		return def
	}
	return n
}

func readIntList(name string) []int {
	var out []int
	for _, part := range splitList(os.Getenv(name)) {
		n, err := strconv.Atoi(part)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	sort.Ints(out)
	return out
}

// readPairs parses "a=x, b=y" into a map.
func readPairs(name string) map[string]string {
	out := map[string]string{}
	for _, part := range splitList(os.Getenv(name)) {
		key, value, ok := strings.Cut(part, "=")
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if !ok || key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return out
}

func readBool(name string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return def
	}
	return v
}

func envExists(name string) bool {
	_, ok := os.LookupEnv(name)
	return ok
}

func (c Config) AudioInterval() time.Duration {
	if c.Audio.IntervalMS <= 0 {
		return defaultIntervalMS * time.Millisecond
	}
	return time.Duration(c.Audio.IntervalMS) * time.Millisecond
}

func (c Config) SpeakerTimeout() time.Duration {
	return time.Duration(c.Speech.SpeakerTimeout) * time.Second
}

func (c Config) RefreshEnabled() bool {
	return c.Twitch.ClientID != "" && c.Twitch.ClientSecret != "" && (c.Twitch.RefreshToken != "" || c.Twitch.RefreshTokenFile != "")
}

func (c Config) Summary() Summary {
	webhooks := make([]string, 0, len(c.Discord.Webhooks))
	for key := range c.Discord.Webhooks {
		webhooks = append(webhooks, key)
	}
	sort.Strings(webhooks)

	return Summary{
		EventsFile:      c.EventsFile,
		SettingsBackend: c.Settings.Backend,
		SettingsPath:    c.Settings.Path,
		TTSProvider:     c.Speech.Provider,
		TTSChannel:      c.Speech.Channel,
		ReadChat:        c.Speech.ReadChat,
		Twitch: TwitchSummary{
			Enabled:          c.Twitch.Enabled,
			Channel:          c.Twitch.Channel,
			Nick:             c.Twitch.Nick,
			Token:            redactString(c.Twitch.Token),
			TokenFile:        c.Twitch.TokenFile,
			ClientID:         redactString(c.Twitch.ClientID),
			ClientSecret:     redactString(c.Twitch.ClientSecret),
			RefreshToken:     redactString(c.Twitch.RefreshToken),
			RefreshTokenFile: c.Twitch.RefreshTokenFile,
			RefreshEnabled:   c.RefreshEnabled(),
			EventSub:         c.Twitch.EventSub,
		},
		HTTPAddr:        c.HTTP.Addr,
		OBS:             c.OBS.URL != "",
		Hue:             c.Hue.BridgeURL != "",
		DiscordWebhooks: webhooks,
		Telegram:        c.Telegram.Token != "",
	}
}

type Summary struct {
	EventsFile      string        `json:"events_file"`
	SettingsBackend string        `json:"settings_backend"`
	SettingsPath    string        `json:"settings_path"`
	TTSProvider     string        `json:"tts_provider"`
	TTSChannel      int           `json:"tts_channel"`
	ReadChat        bool          `json:"read_chat"`
	Twitch          TwitchSummary `json:"twitch"`
	HTTPAddr        string        `json:"http_addr"`
	OBS             bool          `json:"obs"`
	Hue             bool          `json:"hue"`
	DiscordWebhooks []string      `json:"discord_webhooks,omitempty"`
	Telegram        bool          `json:"telegram"`
}

type TwitchSummary struct {
	Enabled          bool   `json:"enabled"`
	Channel          string `json:"channel,omitempty"`
	Nick             string `json:"nick,omitempty"`
	Token            string `json:"token,omitempty"`
	TokenFile        string `json:"token_file,omitempty"`
	ClientID         string `json:"client_id,omitempty"`
	ClientSecret     string `json:"client_secret,omitempty"`
	RefreshToken     string `json:"refresh_token,omitempty"`
	RefreshTokenFile string `json:"refresh_token_file,omitempty"`
	RefreshEnabled   bool   `json:"refresh_enabled"`
	EventSub         bool   `json:"eventsub"`
}

func (c Config) Redacted() map[string]any {
	webhooks := map[string]string{}
	for key, url := range c.Discord.Webhooks {
		webhooks[key] = redactString(url)
	}

	return map[string]any{
		"events_file": c.EventsFile,
		"settings": map[string]any{
			"backend": c.Settings.Backend,
			"path":    c.Settings.Path,
		},
		"audio": map[string]any{
			"player":      c.Audio.Player,
			"interval_ms": c.Audio.IntervalMS,
		},
		"speech": map[string]any{
			"provider":        c.Speech.Provider,
			"google_api_key":  redactString(c.Speech.GoogleAPIKey),
			"polly_region":    c.Speech.PollyRegion,
			"channel":         c.Speech.Channel,
			"max_tries":       c.Speech.MaxTries,
			"secret_prefixes": append([]string(nil), c.Speech.SecretPrefixes...),
			"default_voice":   c.Speech.DefaultVoice,
			"random_voice":    c.Speech.RandomizeVoice,
			"speaker_timeout": c.Speech.SpeakerTimeout,
			"read_chat":       c.Speech.ReadChat,
		},
		"twitch": map[string]any{
			"enabled":            c.Twitch.Enabled,
			"channel":            c.Twitch.Channel,
			"nick":               c.Twitch.Nick,
			"token":              redactString(c.Twitch.Token),
			"token_file":         c.Twitch.TokenFile,
			"client_id":          redactString(c.Twitch.ClientID),
			"client_secret":      redactString(c.Twitch.ClientSecret),
			"refresh_token":      redactString(c.Twitch.RefreshToken),
			"refresh_token_file": c.Twitch.RefreshTokenFile,
			"tls":                c.Twitch.TLS,
			"eventsub":           c.Twitch.EventSub,
			"refresh_enabled":    c.RefreshEnabled(),
		},
		"http": map[string]any{
			"addr":         c.HTTP.Addr,
			"cors_origins": append([]string(nil), c.HTTP.CORSOrigins...),
			"rate_limit":   c.HTTP.RateLimit,
		},
		"obs": map[string]any{
			"url":            c.OBS.URL,
			"password":       redactString(c.OBS.Password),
			"screenshot_dir": c.OBS.ScreenshotDir,
		},
		"hue": map[string]any{
			"bridge":   c.Hue.BridgeURL,
			"username": redactString(c.Hue.Username),
			"lights":   append([]int(nil), c.Hue.Lights...),
		},
		"discord": map[string]any{"webhooks": webhooks},
		"telegram": map[string]any{
			"token":   redactString(c.Telegram.Token),
			"chat_id": c.Telegram.ChatID,
		},
		"vr": map[string]any{
			"pipe":               c.VR.PipeURL,
			"sssvr":              c.VR.SSSVRURL,
			"openvr2ws":          c.VR.OpenVR2WSURL,
			"openvr2ws_password": redactString(c.VR.OpenVR2WSPwd),
		},
		"labels_dir": c.LabelsDir,
	}
}

func (c Config) RedactedJSON() []byte {
	data, _ := json.MarshalIndent(c.Redacted(), "", "  ")
	return data
}

func redactString(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	return "***REDACTED*** (len=" + strconv.Itoa(len(value)) + ")"
}

func (c Config) SummaryJSON() []byte {
	summary := struct {
		Config Summary `json:"config_summary"`
	}{Config: c.Summary()}
	data, _ := json.Marshal(summary)
	return data
}
