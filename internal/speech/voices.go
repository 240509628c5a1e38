package speech

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"regexp"
	"strings"
	"sync"

	"github.com/you/streamrig/internal/settings"
)

// VoiceInfo describes one voice offered by a synthesizer.
type VoiceInfo struct {
	Name          string
	LanguageCodes []string
	Gender        string
}

// VoiceBook resolves and persists the voice each speaker uses.
type VoiceBook struct {
	synth  Synthesizer
	store  settings.Store
	logger *slog.Logger

	DefaultVoice string // voice name, matched case-insensitively
	Filter       string // only voices whose name contains this are offered
	Randomize    bool   // new speakers get a random voice
	RandomLang   string // language prefix random voices are drawn from
	Pick         func(n int) int

	mu        sync.Mutex
	loaded    bool
	voices    []VoiceInfo
	languages []string
}

func NewVoiceBook(synth Synthesizer, store settings.Store, logger *slog.Logger) *VoiceBook {
	if logger == nil {
		logger = slog.Default()
	}
	return &VoiceBook{synth: synth, store: store, logger: logger, Pick: rand.IntN}
}

// Load fetches the voice catalogue once.
func (b *VoiceBook) Load(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.loaded {
		return nil
	}
	all, err := b.synth.Voices(ctx)
	if err != nil {
		return fmt.Errorf("speech: load voices: %w", err)
	}
	seen := map[string]bool{}
	b.voices = b.voices[:0]
	b.languages = b.languages[:0]
	for _, v := range all {
		if b.Filter != "" && !strings.Contains(v.Name, b.Filter) {
			continue
		}
		b.voices = append(b.voices, v)
		for _, code := range v.LanguageCodes {
			code = strings.ToLower(code)
			if !seen[code] {
				seen[code] = true
				b.languages = append(b.languages, code)
			}
		}
	}
	b.loaded = true
	b.logger.Info("speech: voices loaded", "voices", len(b.voices), "languages", len(b.languages))
	return nil
}

func (b *VoiceBook) catalog() ([]VoiceInfo, []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.voices, b.languages
}

// VoiceFor returns the stored voice for user, creating and storing a
// default one on first use.
func (b *VoiceBook) VoiceFor(ctx context.Context, user string) (settings.UserVoice, error) {
	var voice settings.UserVoice
	found, err := b.store.Pull(ctx, settings.UserVoices, "userName", user, &voice)
	if err != nil {
		return settings.UserVoice{}, err
	}
	if found {
		return voice, nil
	}
	voice = b.Default(ctx, user)
	if err := b.store.Push(ctx, settings.UserVoices, "userName", voice); err != nil {
		b.logger.Warn("speech: store default voice", "user", user, "err", err)
	}
	return voice, nil
}

// Default builds the voice a new speaker starts with.
func (b *VoiceBook) Default(ctx context.Context, user string) settings.UserVoice {
	if err := b.Load(ctx); err != nil {
		b.logger.Warn("speech: voices unavailable", "err", err)
	}
	voices, _ := b.catalog()

	if b.Randomize {
		var pool []VoiceInfo
		for _, v := range voices {
			for _, code := range v.LanguageCodes {
				if strings.HasPrefix(code, b.RandomLang) {
					pool = append(pool, v)
					break
				}
			}
		}
		if len(pool) > 0 {
			return buildVoice(user, &pool[b.Pick(len(pool))])
		}
	}
	for i := range voices {
		if strings.EqualFold(voices[i].Name, b.DefaultVoice) {
			return buildVoice(user, &voices[i])
		}
	}
	return buildVoice(user, nil)
}

func buildVoice(user string, v *VoiceInfo) settings.UserVoice {
	voice := settings.UserVoice{UserName: user, LanguageCode: "en-US", Gender: "FEMALE"}
	if v == nil {
		return voice
	}
	voice.VoiceName = v.Name
	if len(v.LanguageCodes) > 0 {
		voice.LanguageCode = v.LanguageCodes[0]
	}
	if v.Gender != "" {
		voice.Gender = v.Gender
	}
	return voice
}

var voiceNamePattern = regexp.MustCompile(`([a-z]+)-([a-z]+)-([\w]+)-([a-z])`)

// Set applies the space separated settings in input to user's voice and
// stores the result. Recognised words: female, male, a full or partial
// language code, a full voice name, reset/x and random/rand/?.
func (b *VoiceBook) Set(ctx context.Context, user, input string) (settings.UserVoice, bool, error) {
	if err := b.Load(ctx); err != nil {
		b.logger.Warn("speech: voices unavailable", "err", err)
	}
	voices, languages := b.catalog()

	defaultVoice := b.Default(ctx, user)
	voice := defaultVoice
	var stored settings.UserVoice
	if found, err := b.store.Pull(ctx, settings.UserVoices, "userName", user, &stored); err != nil {
		return settings.UserVoice{}, false, err
	} else if found {
		voice = stored
	}

	changed := false
	for _, setting := range strings.Fields(input) {
		setting = strings.ToLower(setting)

		if (setting == "female" || setting == "male") && !strings.EqualFold(setting, voice.Gender) {
			voice.VoiceName = ""
			voice.Gender = strings.ToUpper(setting)
			changed = true
			continue
		}

		if (strings.Contains(setting, "-") && len(strings.Split(setting, "-")) == 2) || len(setting) <= 3 {
			if code, ok := matchLanguage(languages, setting); ok {
				if !strings.EqualFold(code, voice.LanguageCode) {
					voice.VoiceName = ""
					voice.LanguageCode = code
					changed = true
				}
				continue
			}
		}

		if m := voiceNamePattern.FindStringSubmatch(setting); m != nil {
			for _, v := range voices {
				if strings.EqualFold(v.Name, m[0]) && !strings.EqualFold(voice.VoiceName, m[0]) {
					voice.VoiceName = v.Name
					voice.LanguageCode = m[1] + "-" + strings.ToUpper(m[2])
					if v.Gender != "" {
						voice.Gender = v.Gender
					}
					changed = true
					break
				}
			}
			continue
		}

		switch setting {
		case "reset", "x":
			voice = defaultVoice
			changed = true
		case "random", "rand", "?":
			if len(voices) > 0 {
				voice = buildVoice(user, &voices[b.Pick(len(voices))])
				changed = true
			}
		}
	}

	if err := b.store.Push(ctx, settings.UserVoices, "userName", voice); err != nil {
		return voice, changed, err
	}
	b.logger.Info("speech: voice saved", "user", user, "voice", voice.VoiceName, "language", voice.LanguageCode, "changed", changed)
	return voice, changed, nil
}

func matchLanguage(languages []string, setting string) (string, bool) {
	for _, lang := range languages {
		if lang == setting {
			return lang, true
		}
	}
	for _, lang := range languages {
		if strings.HasPrefix(lang, setting) {
			return lang, true
		}
	}
	for _, lang := range languages {
		if strings.HasSuffix(lang, setting) {
			return lang, true
		}
	}
	return "", false
}
