package speech

import (
	"container/heap"
	"context"
	"encoding/xml"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/you/streamrig/internal/audio"
	"github.com/you/streamrig/internal/completion"
	"github.com/you/streamrig/internal/settings"
)

const (
	DefaultMaxTries       = 10
	DefaultSpeakerTimeout = 30 * time.Second
	DefaultRequestTimeout = 20 * time.Second
)

var ErrTimedOut = errors.New("speech: request timed out")

// Params is what a synthesizer needs besides the text.
type Params struct {
	VoiceName    string
	LanguageCode string
	Gender       string
	SpeakingRate float64
	Pitch        float64
	SSML         bool
}

// Audio is a synthesized clip.
type Audio struct {
	Data   []byte
	Format string
}

// Synthesizer turns text into audio. Calls may complete in any order.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, params Params) (Audio, error)
	Voices(ctx context.Context) ([]VoiceInfo, error)
}

// Player is the part of the audio sequencer the pipeline feeds.
type Player interface {
	Enqueue(channel int, req audio.Request)
	Stop(channel int, clearQueue bool)
}

// Recorder observes the terminal outcome of every serial.
type Recorder interface {
	SpeechOutcome(outcome string)
}

// Request is one line to speak.
type Request struct {
	Text           string
	Speaker        string
	Kind           Kind
	Token          string
	Bits           int
	SkipDictionary bool
}

type Config struct {
	Channel        int
	Interval       time.Duration
	MaxTries       int
	RequestTimeout time.Duration
	Volume         float64

	SecretPrefixes    []string
	EmptyMessageSound *audio.Request

	SpeakerTimeout time.Duration
	SaidTemplate   string
	SkipSaid       bool

	SkipDictionaryForAnnouncements bool
	SSML                           bool
	RateOverride                   float64

	Logger   *slog.Logger
	Recorder Recorder
	Now      func() time.Time
}

type slotState int

const (
	slotPending slotState = iota
	slotResolved
	slotFailed
	slotEmpty
)

type slot struct {
	serial uint64
	token  string
	state  slotState
	audio  audio.Request
	err    error
}

type serialHeap []*slot

func (h serialHeap) Len() int           { return len(h) }
func (h serialHeap) Less(i, j int) bool { return h[i].serial < h[j].serial }
func (h serialHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *serialHeap) Push(x any)        { *h = append(*h, x.(*slot)) }
func (h *serialHeap) Pop() any {
	old := *h
	n := len(old)
	s := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return s
}

// Pipeline synthesizes lines concurrently and hands the results to the
// player strictly in submission order.
type Pipeline struct {
	synth    Synthesizer
	store    settings.Store
	player   Player
	notifier audio.Notifier
	voices   *VoiceBook
	dict     *Dictionary
	cfg      Config
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	serial       uint64
	slots        map[uint64]*slot
	order        serialHeap
	headSerial   uint64
	headTries    int
	lastSpeaker  string
	lastEnqueued time.Time
}

func NewPipeline(synth Synthesizer, store settings.Store, player Player, notifier audio.Notifier, voices *VoiceBook, dict *Dictionary, cfg Config) *Pipeline {
	if cfg.Interval <= 0 {
		cfg.Interval = audio.DefaultInterval
	}
	if cfg.MaxTries <= 0 {
		cfg.MaxTries = DefaultMaxTries
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.SpeakerTimeout <= 0 {
		cfg.SpeakerTimeout = DefaultSpeakerTimeout
	}
	if cfg.Volume <= 0 {
		cfg.Volume = 1.0
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if voices == nil {
		voices = NewVoiceBook(synth, store, cfg.Logger)
	}
	if dict == nil {
		dict = NewDictionary(nil)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		synth:    synth,
		store:    store,
		player:   player,
		notifier: notifier,
		voices:   voices,
		dict:     dict,
		cfg:      cfg,
		logger:   cfg.Logger,
		ctx:      ctx,
		cancel:   cancel,
		slots:    make(map[uint64]*slot),
	}
}

// Submit queues req and returns its serial, or 0 when the speaker is
// suppressed. Synthesis runs in the background.
func (p *Pipeline) Submit(ctx context.Context, req Request) uint64 {
	speaker := strings.ToLower(strings.TrimSpace(req.Speaker))
	if p.suppressed(ctx, speaker) {
		p.logger.Info("speech: speaker suppressed", "speaker", speaker)
		p.record("suppressed")
		return 0
	}

	serial := p.reserve(req.Token)

	text := strings.TrimSpace(req.Text)
	if text == "" {
		p.resolveEmpty(serial)
		return serial
	}
	if p.isSecret(text) {
		p.settle(serial, slotEmpty, audio.Request{}, nil)
		p.record("skipped")
		return serial
	}

	text = cleanText(text, req.Kind)
	if text == "" {
		p.logger.Warn("speech: text empty after cleaning", "serial", serial)
		p.resolveEmpty(serial)
		return serial
	}

	skipDict := req.SkipDictionary || (req.Kind == KindAnnouncement && p.cfg.SkipDictionaryForAnnouncements)
	if !skipDict {
		text = p.dict.Apply(text)
	}

	name := p.displayName(ctx, speaker)
	now := p.cfg.Now()
	p.mu.Lock()
	if now.Sub(p.lastEnqueued) > p.cfg.SpeakerTimeout {
		p.lastSpeaker = ""
	}
	collapse := p.cfg.SkipSaid || (speaker != "" && p.lastSpeaker == speaker)
	p.lastSpeaker = speaker
	p.lastEnqueued = now
	p.mu.Unlock()

	line := phrase(req.Kind, name, text, req.Bits, p.cfg.SaidTemplate, collapse)
	if p.cfg.SSML {
		line = "<speak>" + escapeSSML(line) + "</speak>"
	}

	p.wg.Add(1)
	go p.synthesize(serial, speaker, line, req.Token)
	return serial
}

// SoundEffect puts an audio item on the speech queue so it plays in turn
// with the lines around it.
func (p *Pipeline) SoundEffect(req audio.Request) uint64 {
	serial := p.reserve(req.Token)
	p.settle(serial, slotResolved, req, nil)
	return serial
}

// Tick inspects the lowest outstanding serial and acts on it.
func (p *Pipeline) Tick() {
	p.mu.Lock()
	var (
		forward  *audio.Request
		failed   *slot
		timedOut *slot
		tries    int
	)
	for p.order.Len() > 0 {
		head := p.order[0]
		if head.serial != p.headSerial {
			p.headSerial = head.serial
			p.headTries = 0
		}
		if head.state == slotEmpty {
			p.dropHeadLocked()
			continue
		}
		switch head.state {
		case slotPending:
			p.headTries++
			if p.headTries > p.cfg.MaxTries {
				timedOut = head
				tries = p.headTries
				p.dropHeadLocked()
			}
		case slotFailed:
			failed = head
			p.dropHeadLocked()
		case slotResolved:
			req := head.audio
			forward = &req
			p.dropHeadLocked()
		}
		break
	}
	p.mu.Unlock()

	switch {
	case timedOut != nil:
		p.logger.Warn("speech: request timed out", "serial", timedOut.serial, "ticks", tries, "err", ErrTimedOut)
		p.record("timed_out")
		if p.notifier != nil && timedOut.token != "" {
			p.notifier.Fire(timedOut.token, completion.StatusError)
		}
	case failed != nil:
		p.logger.Warn("speech: request failed", "serial", failed.serial, "err", failed.err)
	case forward != nil:
		p.player.Enqueue(p.cfg.Channel, *forward)
	}
}

// Run drives Tick until ctx is done.
func (p *Pipeline) Run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Tick()
		}
	}
}

// Stop halts what is being spoken right now.
func (p *Pipeline) Stop(clearQueue bool) {
	p.player.Stop(p.cfg.Channel, clearQueue)
}

// Pending reports how many serials have not drained yet.
func (p *Pipeline) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.order.Len()
}

// SetVoiceForUser changes user's voice from free text and speaks a short
// confirmation in the new voice. It returns the resulting voice name.
func (p *Pipeline) SetVoiceForUser(ctx context.Context, user, input, token string) (string, error) {
	user = strings.ToLower(strings.TrimSpace(user))
	voice, changed, err := p.voices.Set(ctx, user, input)
	if err != nil {
		return "", err
	}
	line := "still sounds like this"
	if changed {
		line = "now sounds like this"
	}
	p.Submit(ctx, Request{Text: line, Speaker: user, Kind: KindAction, Token: token})
	return voice.VoiceName, nil
}

// Close abandons in-flight synthesis and waits for the goroutines.
func (p *Pipeline) Close() {
	p.cancel()
	p.wg.Wait()
}

func (p *Pipeline) reserve(token string) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.serial++
	s := &slot{serial: p.serial, token: token, state: slotPending}
	p.slots[s.serial] = s
	heap.Push(&p.order, s)
	return s.serial
}

// settle stores the outcome of serial unless the slot is already gone.
func (p *Pipeline) settle(serial uint64, state slotState, req audio.Request, err error) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.slots[serial]
	if !ok || s.state != slotPending {
		return false
	}
	s.state = state
	s.audio = req
	s.err = err
	return true
}

func (p *Pipeline) dropHeadLocked() {
	s := heap.Pop(&p.order).(*slot)
	delete(p.slots, s.serial)
	p.headTries = 0
}

// SetEmptyMessageSound replaces the sound played in place of empty lines.
func (p *Pipeline) SetEmptyMessageSound(sound *audio.Request) {
	p.mu.Lock()
	p.cfg.EmptyMessageSound = sound
	p.mu.Unlock()
}

func (p *Pipeline) resolveEmpty(serial uint64) {
	p.mu.Lock()
	sound := p.cfg.EmptyMessageSound
	p.mu.Unlock()
	if sound != nil {
		p.settle(serial, slotResolved, *sound, nil)
	} else {
		p.settle(serial, slotEmpty, audio.Request{}, nil)
	}
	p.record("skipped")
}

func (p *Pipeline) synthesize(serial uint64, speaker, line, token string) {
	defer p.wg.Done()
	ctx, cancel := context.WithTimeout(p.ctx, p.cfg.RequestTimeout)
	defer cancel()

	voice, err := p.voices.VoiceFor(ctx, speaker)
	if err != nil {
		p.logger.Warn("speech: voice lookup failed, using default", "speaker", speaker, "err", err)
		voice = buildVoice(speaker, nil)
	}
	rate, pitch := speechParams(line, p.cfg.RateOverride)
	out, err := p.synth.Synthesize(ctx, line, Params{
		VoiceName:    voice.VoiceName,
		LanguageCode: voice.LanguageCode,
		Gender:       voice.Gender,
		SpeakingRate: rate,
		Pitch:        pitch,
		SSML:         p.cfg.SSML,
	})
	if err == nil && len(out.Data) == 0 {
		err = errors.New("speech: empty audio")
	}
	if err != nil {
		p.mu.Lock()
		p.lastSpeaker = ""
		p.mu.Unlock()
		// A slot already dropped by the drain loop had its token fired there.
		if !p.settle(serial, slotFailed, audio.Request{}, err) {
			p.logger.Debug("speech: late failure ignored", "serial", serial, "err", err)
			return
		}
		p.record("failed")
		if p.notifier != nil {
			p.notifier.Fire(token, completion.StatusError)
		}
		return
	}

	req := audio.Request{Token: token, Data: out.Data, Format: out.Format, Volume: p.cfg.Volume}
	if p.settle(serial, slotResolved, req, nil) {
		p.logger.Debug("speech: synthesized", "serial", serial, "bytes", len(out.Data))
		p.record("ok")
		return
	}
	p.logger.Debug("speech: late result ignored", "serial", serial)
}

func (p *Pipeline) suppressed(ctx context.Context, speaker string) bool {
	if speaker == "" || p.store == nil {
		return false
	}
	var entry settings.BlacklistEntry
	found, err := p.store.Pull(ctx, settings.Blacklist, "userName", speaker, &entry)
	if err != nil {
		p.logger.Warn("speech: blacklist lookup failed", "speaker", speaker, "err", err)
		return false
	}
	return found && entry.Active
}

func (p *Pipeline) displayName(ctx context.Context, speaker string) string {
	if speaker == "" {
		return ""
	}
	if p.store != nil {
		var name settings.CleanName
		if found, err := p.store.Pull(ctx, settings.CleanNames, "userName", speaker, &name); err == nil && found && name.ShortName != "" {
			return name.ShortName
		}
	}
	return cleanName(speaker)
}

func (p *Pipeline) isSecret(text string) bool {
	for _, prefix := range p.cfg.SecretPrefixes {
		if prefix != "" && strings.HasPrefix(text, prefix) {
			return true
		}
	}
	return false
}

func (p *Pipeline) record(outcome string) {
	if p.cfg.Recorder != nil {
		p.cfg.Recorder.SpeechOutcome(outcome)
	}
}

func escapeSSML(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}
