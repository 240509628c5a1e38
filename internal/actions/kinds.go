package actions

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/you/streamrig/internal/audio"
	"github.com/you/streamrig/internal/completion"
	"github.com/you/streamrig/internal/config"
	"github.com/you/streamrig/internal/firetrace"
	"github.com/you/streamrig/internal/speech"
	"github.com/you/streamrig/internal/vr"
)

// Kind names a sub-action. Kinds run in declaration order.
type Kind int

const (
	KindOBS Kind = iota
	KindLights
	KindPlugs
	KindSound
	KindAudioURL
	KindPipe
	KindOpenVR2WS
	KindSign
	KindExec
	KindWeb
	KindScreenshot
	KindDiscord
	KindTelegram
	KindChat
	KindLabel
	KindCommands
)

var kindNames = [...]string{
	KindOBS:        "obs",
	KindLights:     "lights",
	KindPlugs:      "plugs",
	KindSound:      "sound",
	KindAudioURL:   "audioURL",
	KindPipe:       "pipe",
	KindOpenVR2WS:  "openvr2ws",
	KindSign:       "sign",
	KindExec:       "exec",
	KindWeb:        "web",
	KindScreenshot: "screenshot",
	KindDiscord:    "discord",
	KindTelegram:   "telegram",
	KindChat:       "chat",
	KindLabel:      "label",
	KindCommands:   "commands",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// SubAction is one configured side effect of a trigger.
type SubAction interface {
	Kind() Kind
	run(ctx context.Context, c *Composer, f *firing) error
}

// Plan returns the sub-actions configured in a, in invocation order.
// Kinds without config are absent.
func Plan(a config.Actions) []SubAction {
	var out []SubAction
	if len(a.OBS) > 0 {
		out = append(out, obsAction{items: a.OBS})
	}
	if len(a.Lights) > 0 {
		out = append(out, lightsAction{colors: a.Lights})
	}
	if a.Plugs != nil {
		out = append(out, plugsAction{cfg: *a.Plugs})
	}
	if a.Audio != nil || (a.Speech != nil && len(a.Speech.Entries) > 0) {
		out = append(out, soundAction{audio: a.Audio, speech: a.Speech})
	}
	if a.AudioURL != nil {
		out = append(out, audioURLAction{cfg: *a.AudioURL})
	}
	if len(a.Pipe) > 0 {
		out = append(out, pipeAction{items: a.Pipe})
	}
	if len(a.OpenVR2WS) > 0 {
		out = append(out, openVR2WSAction{items: a.OpenVR2WS})
	}
	if a.Sign != nil {
		out = append(out, signAction{cfg: *a.Sign})
	}
	if a.Exec != nil && (len(a.Exec.Run) > 0 || len(a.Exec.URI) > 0) {
		out = append(out, execAction{cfg: *a.Exec})
	}
	if strings.TrimSpace(a.Web) != "" {
		out = append(out, webAction{url: strings.TrimSpace(a.Web)})
	}
	if a.Screenshot != nil {
		out = append(out, screenshotAction{cfg: *a.Screenshot, afterSpeech: a.Speech != nil && len(a.Speech.Entries) > 0})
	}
	if len(a.Discord) > 0 {
		out = append(out, discordAction{messages: a.Discord})
	}
	if len(a.Telegram) > 0 {
		out = append(out, telegramAction{messages: a.Telegram})
	}
	if len(a.Chat) > 0 {
		out = append(out, chatAction{messages: a.Chat})
	}
	if strings.TrimSpace(a.Label) != "" {
		out = append(out, labelAction{key: strings.TrimSpace(a.Label)})
	}
	if a.Commands != nil && len(a.Commands.Entries) > 0 {
		out = append(out, commandsAction{cfg: *a.Commands})
	}
	return out
}

type obsAction struct{ items []config.OBSAction }

func (obsAction) Kind() Kind { return KindOBS }

func (a obsAction) run(ctx context.Context, c *Composer, f *firing) error {
	if c.deps.OBS == nil {
		return ErrNoSink
	}
	item, _ := pick(a.items, f.index, c.randN)
	if err := c.toggleOBS(ctx, item, item.Enabled()); err != nil {
		return err
	}
	if item.DurationMS > 0 {
		later := context.WithoutCancel(ctx)
		c.after(time.Duration(item.DurationMS)*time.Millisecond, func() {
			if err := c.toggleOBS(later, item, !item.Enabled()); err != nil {
				c.logger.Warn("obs revert failed", "trigger", f.key, "err", err)
			}
		})
	}
	return nil
}

func (c *Composer) toggleOBS(ctx context.Context, item config.OBSAction, on bool) error {
	for _, source := range item.Sources {
		var err error
		if item.Filter != "" {
			err = c.deps.OBS.SetSourceFilterEnabled(ctx, source, item.Filter, on)
		} else {
			err = c.deps.OBS.SetSceneItemEnabled(ctx, item.Scene, source, on)
		}
		if err != nil {
			return fmt.Errorf("obs %s: %w", source, err)
		}
	}
	return nil
}

type lightsAction struct{ colors []config.LightAction }

func (lightsAction) Kind() Kind { return KindLights }

func (a lightsAction) run(ctx context.Context, c *Composer, f *firing) error {
	if c.deps.Lights == nil {
		return ErrNoSink
	}
	color, _ := pick(a.colors, f.index, c.randN)
	if c.deps.Speech != nil {
		c.deps.Speech.Submit(ctx, speech.Request{Text: "changed the color", Speaker: f.user.Login, Kind: speech.KindAction})
	}
	return c.deps.Lights.SetColor(ctx, color.X, color.Y)
}

type plugsAction struct{ cfg config.PlugAction }

func (plugsAction) Kind() Kind { return KindPlugs }

func (a plugsAction) run(ctx context.Context, c *Composer, f *firing) error {
	if c.deps.Plugs == nil {
		return ErrNoSink
	}
	if err := c.deps.Plugs.SetPlug(ctx, a.cfg.ID, a.cfg.Trigger); err != nil {
		return err
	}
	if a.cfg.DurationSecs > 0 {
		later := context.WithoutCancel(ctx)
		c.after(time.Duration(a.cfg.DurationSecs)*time.Second, func() {
			if err := c.deps.Plugs.SetPlug(later, a.cfg.ID, a.cfg.Original); err != nil {
				c.logger.Warn("plug revert failed", "trigger", f.key, "plug", a.cfg.ID, "err", err)
			}
		})
	}
	return nil
}

// soundAction plays the configured audio and speaks the configured line.
// With speech configured the audio goes through the speech queue so both
// stay in order.
type soundAction struct {
	audio  *config.AudioAction
	speech *config.SpeechAction
}

func (soundAction) Kind() Kind { return KindSound }

func (a soundAction) run(ctx context.Context, c *Composer, f *firing) error {
	onSpeechQueue := a.speech != nil
	if onSpeechQueue && c.deps.Speech == nil {
		return ErrNoSink
	}
	if a.audio != nil {
		req := audioRequest(*a.audio, f.index)
		if onSpeechQueue {
			c.deps.Speech.SoundEffect(req)
		} else {
			if c.deps.Audio == nil {
				return ErrNoSink
			}
			c.deps.Audio.Enqueue(a.audio.Channel, req)
		}
	}
	if a.speech == nil || len(a.speech.Entries) == 0 {
		return nil
	}
	line, _ := pick(a.speech.Entries, f.index, c.randN)
	kind := speech.ParseKind(a.speech.Type)
	speaker := c.chatbot
	if a.speech.VoiceOf != "" {
		speaker = ExpandTags(a.speech.VoiceOf, f.user)
	}
	c.deps.Speech.Submit(ctx, speech.Request{
		Text:    ExpandTags(line, f.user),
		Speaker: speaker,
		Kind:    kind,
		Token:   f.speechToken,
		Bits:    f.user.Bits,
	})
	return nil
}

// audioRequest builds a sequencer request. A valid index pins one source so
// paired sub-actions stay in step.
func audioRequest(cfg config.AudioAction, index int) audio.Request {
	sources := append([]string(nil), cfg.Src...)
	if index >= 0 && index < len(sources) {
		sources = []string{sources[index]}
	}
	return audio.Request{Sources: sources, Volume: cfg.Volume, Repeat: cfg.Repeat}
}

// SoundRequest converts a configured one-off sound, such as the screenshot
// or empty message sound. A nil or empty config gives nil.
func SoundRequest(cfg *config.AudioAction) *audio.Request {
	if cfg == nil || len(cfg.Src) == 0 {
		return nil
	}
	req := audioRequest(*cfg, NoIndex)
	return &req
}

type audioURLAction struct{ cfg config.AudioAction }

func (audioURLAction) Kind() Kind { return KindAudioURL }

func (a audioURLAction) run(_ context.Context, c *Composer, f *firing) error {
	if c.deps.Audio == nil {
		return ErrNoSink
	}
	url := strings.TrimSpace(f.user.Input)
	if url == "" {
		return nil
	}
	c.deps.Audio.Enqueue(a.cfg.Channel, audio.Request{Sources: []string{url}, Volume: a.cfg.Volume, Repeat: a.cfg.Repeat})
	return nil
}

type pipeAction struct{ items []config.PipeAction }

func (pipeAction) Kind() Kind { return KindPipe }

func (a pipeAction) run(ctx context.Context, c *Composer, f *firing) error {
	if c.deps.Pipe == nil {
		return ErrNoSink
	}
	for _, item := range a.items {
		texts := append([]string(nil), item.Texts...)
		for len(texts) < item.TextAreas {
			texts = append(texts, f.user.Name)
		}
		for i := range texts {
			texts[i] = ExpandTags(texts[i], f.user)
		}
		n := vr.PipeNotification{
			ImagePath:  item.ImagePath,
			ImageData:  item.ImageData,
			Properties: item.Properties,
			Texts:      texts,
			DurationMS: item.DurationMS,
		}
		if n.ImagePath == "" && n.ImageData == "" {
			n.ImagePath = c.profileImage(ctx, f)
		}
		if err := c.deps.Pipe.Notify(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

type openVR2WSAction struct{ items []config.OpenVR2WSAction }

func (openVR2WSAction) Kind() Kind { return KindOpenVR2WS }

func (a openVR2WSAction) run(ctx context.Context, c *Composer, f *firing) error {
	if c.deps.OpenVR2WS == nil {
		return ErrNoSink
	}
	for _, item := range a.items {
		if err := c.deps.OpenVR2WS.SetSetting(ctx, item.Setting, item.Value); err != nil {
			return fmt.Errorf("openvr2ws %s: %w", item.Setting, err)
		}
		if item.DurationSecs > 0 && item.Reset != nil {
			later := context.WithoutCancel(ctx)
			c.after(time.Duration(item.DurationSecs)*time.Second, func() {
				if err := c.deps.OpenVR2WS.SetSetting(later, item.Setting, item.Reset); err != nil {
					c.logger.Warn("openvr2ws reset failed", "trigger", f.key, "setting", item.Setting, "err", err)
				}
			})
		}
	}
	return nil
}

// SignCard is published to overlays as a "sign" event.
type SignCard struct {
	Title      string `json:"title"`
	Image      string `json:"image"`
	Subtitle   string `json:"subtitle"`
	DurationMS int    `json:"durationMs,omitempty"`
}

type signAction struct{ cfg config.SignAction }

func (signAction) Kind() Kind { return KindSign }

func (a signAction) run(ctx context.Context, c *Composer, f *firing) error {
	if c.deps.Overlay == nil {
		return ErrNoSink
	}
	image := a.cfg.Image
	if image == "" {
		image = c.profileImage(ctx, f)
	}
	c.deps.Overlay.Publish("sign", SignCard{
		Title:      ExpandTags(a.cfg.Title, f.user),
		Image:      ExpandTags(image, f.user),
		Subtitle:   ExpandTags(a.cfg.Subtitle, f.user),
		DurationMS: a.cfg.DurationMS,
	})
	return nil
}

type execAction struct{ cfg config.ExecAction }

func (execAction) Kind() Kind { return KindExec }

func (a execAction) run(ctx context.Context, c *Composer, f *firing) error {
	if c.deps.Exec == nil {
		return ErrNoSink
	}
	for _, line := range a.cfg.Run {
		if err := c.deps.Exec.Run(ctx, line); err != nil {
			return err
		}
	}
	for _, uri := range a.cfg.URI {
		if err := c.deps.Exec.OpenURI(ctx, ExpandTags(uri, f.user)); err != nil {
			return err
		}
	}
	return nil
}

type webAction struct{ url string }

func (webAction) Kind() Kind { return KindWeb }

func (a webAction) run(ctx context.Context, c *Composer, _ *firing) error {
	if c.deps.Web == nil {
		return ErrNoSink
	}
	return c.deps.Web.Get(ctx, a.url)
}

// screenshotAction captures from OBS or SuperScreenShotterVR. When the
// viewer wrote something and the trigger speaks, the capture waits for the
// spoken line to finish.
type screenshotAction struct {
	cfg         config.ScreenshotAction
	afterSpeech bool
}

func (screenshotAction) Kind() Kind { return KindScreenshot }

func (a screenshotAction) run(ctx context.Context, c *Composer, f *firing) error {
	if a.cfg.OBSSource != "" && c.deps.OBS == nil {
		return ErrNoSink
	}
	if a.cfg.OBSSource == "" && c.deps.SSSVR == nil {
		return ErrNoSink
	}
	later := context.WithoutCancel(ctx)
	delay := time.Duration(a.cfg.DelaySecs) * time.Second

	if strings.TrimSpace(f.user.Input) != "" && a.afterSpeech && c.deps.Completions != nil {
		c.deps.Completions.Register(f.speechToken, func(completion.Status) {
			if err := a.capture(later, c, f, delay, false); err != nil {
				c.recordFailure(f, KindScreenshot, err)
			}
		})
		f.trace.IncCounter(firetrace.StageDeferred)
		return nil
	}
	return a.capture(ctx, c, f, 0, true)
}

func (a screenshotAction) capture(ctx context.Context, c *Composer, f *firing, delay time.Duration, soundFirst bool) error {
	if a.cfg.OBSSource == "" {
		return c.deps.SSSVR.Screenshot(ctx, vr.ScreenshotRequest{
			Nonce: completion.NewToken("sssvr"),
			Tag:   f.key,
			Delay: delay,
		})
	}

	token := completion.NewToken("obs")
	if soundFirst {
		c.playScreenshotSound()
	} else if c.deps.Completions != nil {
		c.deps.Completions.Register(token, func(status completion.Status) {
			if status == completion.StatusOK {
				c.playScreenshotSound()
			}
		})
	}
	if delay <= 0 {
		return c.deps.OBS.SaveSourceScreenshot(ctx, a.cfg.OBSSource, token)
	}
	c.after(delay, func() {
		if err := c.deps.OBS.SaveSourceScreenshot(ctx, a.cfg.OBSSource, token); err != nil {
			c.recordFailure(f, KindScreenshot, err)
		}
	})
	return nil
}

func (c *Composer) playScreenshotSound() {
	sound := c.sound()
	if sound == nil || c.deps.Audio == nil {
		return
	}
	c.deps.Audio.Enqueue(sound.Channel, audioRequest(*sound, NoIndex))
}

type discordAction struct{ messages []string }

func (discordAction) Kind() Kind { return KindDiscord }

func (a discordAction) run(ctx context.Context, c *Composer, f *firing) error {
	if c.deps.Discord == nil {
		return ErrNoSink
	}
	msg, _ := pick(a.messages, f.index, c.randN)
	return c.deps.Discord.Send(ctx, f.key, f.user.Name, c.profileImage(ctx, f), ExpandTags(msg, f.user))
}

type telegramAction struct{ messages []string }

func (telegramAction) Kind() Kind { return KindTelegram }

func (a telegramAction) run(ctx context.Context, c *Composer, f *firing) error {
	if c.deps.Telegram == nil {
		return ErrNoSink
	}
	msg, _ := pick(a.messages, f.index, c.randN)
	return c.deps.Telegram.Send(ctx, ExpandTags(msg, f.user))
}

type chatAction struct{ messages []string }

func (chatAction) Kind() Kind { return KindChat }

func (a chatAction) run(ctx context.Context, c *Composer, f *firing) error {
	if c.deps.Chat == nil {
		return ErrNoSink
	}
	msg, _ := pick(a.messages, f.index, c.randN)
	return c.deps.Chat.Say(ctx, ExpandTags(msg, f.user))
}

type labelAction struct{ key string }

func (labelAction) Kind() Kind { return KindLabel }

func (a labelAction) run(ctx context.Context, c *Composer, f *firing) error {
	if c.deps.Labels == nil {
		return ErrNoSink
	}
	return c.deps.Labels.Write(ctx, a.key, f.user.Input)
}

// commandsAction runs other commands in order, interval seconds apart. An
// entry "word extra" runs word with extra as the input.
type commandsAction struct{ cfg config.CommandsAction }

func (commandsAction) Kind() Kind { return KindCommands }

func (a commandsAction) run(ctx context.Context, c *Composer, f *firing) error {
	runner := c.commandRunner()
	if runner == nil {
		return ErrNoSink
	}
	later := context.WithoutCancel(ctx)
	interval := time.Duration(a.cfg.Interval) * time.Second
	var delay time.Duration
	for _, entry := range a.cfg.Entries {
		word, extra, hasExtra := strings.Cut(strings.TrimSpace(entry), " ")
		if word == "" {
			continue
		}
		user := f.user
		if hasExtra {
			user.Input = strings.TrimSpace(extra)
		}
		c.after(delay, func() {
			if !runner.RunCommand(later, word, user) {
				c.logger.Debug("chained command not found", "trigger", f.key, "command", word)
			}
		})
		delay += interval
	}
	return nil
}
