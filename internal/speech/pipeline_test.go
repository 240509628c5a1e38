package speech

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/you/streamrig/internal/audio"
	"github.com/you/streamrig/internal/completion"
	"github.com/you/streamrig/internal/settings"
)

type stubSynth struct {
	mu      sync.Mutex
	gates   map[string]chan error
	calls   []string
	params  []Params
	catalog []VoiceInfo
}

func newStubSynth() *stubSynth {
	return &stubSynth{gates: map[string]chan error{}}
}

// gate makes Synthesize(text) block until a value is sent.
func (s *stubSynth) gate(text string) chan error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan error, 1)
	s.gates[text] = ch
	return ch
}

func (s *stubSynth) Synthesize(ctx context.Context, text string, params Params) (Audio, error) {
	s.mu.Lock()
	s.calls = append(s.calls, text)
	s.params = append(s.params, params)
	gate := s.gates[text]
	s.mu.Unlock()

	if gate != nil {
		select {
		case err := <-gate:
			if err != nil {
				return Audio{}, err
			}
		case <-ctx.Done():
			return Audio{}, ctx.Err()
		}
	}
	return Audio{Data: []byte("audio:" + text), Format: "ogg"}, nil
}

func (s *stubSynth) Voices(context.Context) ([]VoiceInfo, error) {
	return s.catalog, nil
}

func (s *stubSynth) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

type stubPlayer struct {
	mu      sync.Mutex
	queued  []audio.Request
	channel []int
	stopped int
}

func (p *stubPlayer) Enqueue(channel int, req audio.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.channel = append(p.channel, channel)
	p.queued = append(p.queued, req)
}

func (p *stubPlayer) Stop(int, bool) {
	p.mu.Lock()
	p.stopped++
	p.mu.Unlock()
}

func (p *stubPlayer) tokens() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.queued))
	for _, q := range p.queued {
		out = append(out, q.Token)
	}
	return out
}

type stubNotifier struct {
	mu    sync.Mutex
	fired map[string]completion.Status
}

func (n *stubNotifier) Fire(token string, status completion.Status) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fired == nil {
		n.fired = map[string]completion.Status{}
	}
	n.fired[token] = status
}

type outcomeCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *outcomeCounter) SpeechOutcome(o string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[string]int{}
	}
	c.counts[o]++
}

func (c *outcomeCounter) get(o string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[o]
}

type fixture struct {
	p        *Pipeline
	synth    *stubSynth
	player   *stubPlayer
	notifier *stubNotifier
	store    *settings.Memory
	outcomes *outcomeCounter
}

func newFixture(t *testing.T, mutate func(*Config)) *fixture {
	t.Helper()
	f := &fixture{
		synth:    newStubSynth(),
		player:   &stubPlayer{},
		notifier: &stubNotifier{},
		store:    settings.NewMemory(),
		outcomes: &outcomeCounter{},
	}
	cfg := Config{Channel: 7, Recorder: f.outcomes}
	if mutate != nil {
		mutate(&cfg)
	}
	f.p = NewPipeline(f.synth, f.store, f.player, f.notifier, nil, nil, cfg)
	t.Cleanup(f.p.Close)
	return f
}

func (f *fixture) waitSettled(t *testing.T, serial uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.p.mu.Lock()
		s, ok := f.p.slots[serial]
		settled := !ok || s.state != slotPending
		f.p.mu.Unlock()
		if settled {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("serial %d never settled", serial)
}

func announce(text, token string) Request {
	return Request{Text: text, Speaker: "bot", Kind: KindAnnouncement, Token: token}
}

func TestDrainKeepsSubmissionOrder(t *testing.T) {
	f := newFixture(t, nil)
	slow := f.synth.gate("slow line")
	fast := f.synth.gate("fast line")

	s1 := f.p.Submit(context.Background(), announce("slow line", "one"))
	s2 := f.p.Submit(context.Background(), announce("fast line", "two"))
	if s1 != 1 || s2 != 2 {
		t.Fatalf("serials = %d, %d, want 1, 2", s1, s2)
	}

	fast <- nil
	f.waitSettled(t, s2)
	for i := 0; i < 5; i++ {
		f.p.Tick()
	}
	if got := f.player.tokens(); len(got) != 0 {
		t.Fatalf("forwarded %v before serial 1 resolved", got)
	}

	slow <- nil
	f.waitSettled(t, s1)
	f.p.Tick()
	f.p.Tick()

	got := f.player.tokens()
	if len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Fatalf("forwarded = %v, want [one two]", got)
	}
	if f.player.channel[0] != 7 {
		t.Fatalf("channel = %d, want 7", f.player.channel[0])
	}
	if f.outcomes.get("ok") != 2 {
		t.Fatalf("ok outcomes = %d, want 2", f.outcomes.get("ok"))
	}
}

func TestPendingHeadTimesOutAndDrainContinues(t *testing.T) {
	f := newFixture(t, nil)
	f.synth.gate("never")
	f.p.Submit(context.Background(), announce("never", "stuck"))
	later := f.p.Submit(context.Background(), announce("afterwards", "later"))
	f.waitSettled(t, later)

	for i := 0; i < DefaultMaxTries; i++ {
		f.p.Tick()
	}
	if f.p.Pending() != 2 {
		t.Fatalf("Pending = %d before bound, want 2", f.p.Pending())
	}

	f.p.Tick()
	if f.outcomes.get("timed_out") != 1 {
		t.Fatalf("timed_out = %d, want 1", f.outcomes.get("timed_out"))
	}
	if got := f.player.tokens(); len(got) != 0 {
		t.Fatalf("forwarded %v on the timeout tick", got)
	}

	f.p.Tick()
	if got := f.player.tokens(); len(got) != 1 || got[0] != "later" {
		t.Fatalf("forwarded = %v, want [later]", got)
	}
	if f.p.Pending() != 0 {
		t.Fatalf("Pending = %d, want 0", f.p.Pending())
	}
}

func TestTimedOutRequestFiresItsToken(t *testing.T) {
	f := newFixture(t, nil)
	gate := f.synth.gate("never")
	f.p.Submit(context.Background(), announce("never", "stuck"))
	later := f.p.Submit(context.Background(), announce("afterwards", "later"))
	f.waitSettled(t, later)

	for i := 0; i <= DefaultMaxTries; i++ {
		f.p.Tick()
	}
	f.notifier.mu.Lock()
	status, ok := f.notifier.fired["stuck"]
	f.notifier.mu.Unlock()
	if !ok || status != completion.StatusError {
		t.Fatalf("stuck status = %v, %v, want error", status, ok)
	}

	// The synthesis finishing after the drop changes nothing.
	gate <- nil
	f.p.wg.Wait()
	f.p.Tick()
	f.p.Tick()
	if got := f.player.tokens(); len(got) != 1 || got[0] != "later" {
		t.Fatalf("forwarded = %v, want [later]", got)
	}
	f.notifier.mu.Lock()
	status = f.notifier.fired["stuck"]
	f.notifier.mu.Unlock()
	if status != completion.StatusError {
		t.Fatalf("stuck status after late result = %v, want error", status)
	}
	if f.outcomes.get("ok") != 1 {
		t.Fatalf("ok outcomes = %d, want 1", f.outcomes.get("ok"))
	}
}

func TestSSMLEscapesUserText(t *testing.T) {
	f := newFixture(t, func(c *Config) { c.SSML = true })
	s := f.p.Submit(context.Background(), announce("fish & chips <3", "tok"))
	f.waitSettled(t, s)

	f.synth.mu.Lock()
	defer f.synth.mu.Unlock()
	if len(f.synth.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(f.synth.calls))
	}
	if got, want := f.synth.calls[0], "<speak>fish &amp; chips &lt;3</speak>"; got != want {
		t.Fatalf("text = %q, want %q", got, want)
	}
	if !f.synth.params[0].SSML {
		t.Fatalf("SSML param not set")
	}
}

func TestFailedRequestIsDroppedAndReported(t *testing.T) {
	f := newFixture(t, nil)
	gate := f.synth.gate("broken")
	s := f.p.Submit(context.Background(), announce("broken", "tok"))
	next := f.p.Submit(context.Background(), announce("fine", "ok-token"))
	gate <- errors.New("503")
	f.waitSettled(t, s)
	f.waitSettled(t, next)

	f.p.Tick()
	if got := f.player.tokens(); len(got) != 0 {
		t.Fatalf("failed request forwarded: %v", got)
	}
	f.notifier.mu.Lock()
	status, ok := f.notifier.fired["tok"]
	f.notifier.mu.Unlock()
	if !ok || status != completion.StatusError {
		t.Fatalf("token status = %v, %v, want error", status, ok)
	}

	f.p.Tick()
	if got := f.player.tokens(); len(got) != 1 || got[0] != "ok-token" {
		t.Fatalf("forwarded = %v, want [ok-token]", got)
	}
	if f.outcomes.get("failed") != 1 {
		t.Fatalf("failed = %d, want 1", f.outcomes.get("failed"))
	}
}

func TestEmptyInputUsesEmptyMessageSound(t *testing.T) {
	sound := &audio.Request{Sources: []string{"blip.wav"}}
	f := newFixture(t, func(c *Config) { c.EmptyMessageSound = sound })

	f.p.Submit(context.Background(), announce("   ", ""))
	f.p.Tick()

	if f.synth.callCount() != 0 {
		t.Fatalf("synthesizer called for empty input")
	}
	if len(f.player.queued) != 1 || f.player.queued[0].Sources[0] != "blip.wav" {
		t.Fatalf("queued = %+v, want empty message sound", f.player.queued)
	}
}

func TestEmptyInputWithoutSoundDrainsNothing(t *testing.T) {
	f := newFixture(t, nil)
	f.p.Submit(context.Background(), announce("", ""))
	follow := f.p.Submit(context.Background(), announce("after", "a"))
	f.waitSettled(t, follow)
	f.p.Tick()
	if got := f.player.tokens(); len(got) != 1 || got[0] != "a" {
		t.Fatalf("forwarded = %v, want [a]", got)
	}
}

func TestSecretPrefixSkipsSynthesis(t *testing.T) {
	f := newFixture(t, func(c *Config) {
		c.SecretPrefixes = []string{"#"}
		c.EmptyMessageSound = &audio.Request{Sources: []string{"blip.wav"}}
	})
	f.p.Submit(context.Background(), Request{Text: "#hidden", Speaker: "viewer", Kind: KindSaid})
	f.p.Tick()
	if f.synth.callCount() != 0 {
		t.Fatalf("synthesizer called for secret input")
	}
	if len(f.player.queued) != 0 {
		t.Fatalf("secret input queued %+v", f.player.queued)
	}
	if f.p.Pending() != 0 {
		t.Fatalf("Pending = %d, want 0", f.p.Pending())
	}
}

func TestSuppressedSpeakerIsDropped(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.store.Push(context.Background(), settings.Blacklist, "userName", settings.BlacklistEntry{UserName: "troll", Active: true}); err != nil {
		t.Fatalf("push: %v", err)
	}
	if serial := f.p.Submit(context.Background(), Request{Text: "hi", Speaker: "Troll"}); serial != 0 {
		t.Fatalf("serial = %d, want 0", serial)
	}
	if f.synth.callCount() != 0 {
		t.Fatalf("synthesizer called for suppressed speaker")
	}
	if f.outcomes.get("suppressed") != 1 {
		t.Fatalf("suppressed = %d, want 1", f.outcomes.get("suppressed"))
	}
}

func TestSoundEffectKeepsItsPlaceInLine(t *testing.T) {
	f := newFixture(t, nil)
	gate := f.synth.gate("first")
	f.p.Submit(context.Background(), announce("first", "speech"))
	f.p.SoundEffect(audio.Request{Token: "sfx", Sources: []string{"ding.wav"}})

	f.p.Tick()
	if len(f.player.queued) != 0 {
		t.Fatalf("sound effect jumped the queue")
	}
	gate <- nil
	f.waitSettled(t, 1)
	f.p.Tick()
	f.p.Tick()
	if got := f.player.tokens(); len(got) != 2 || got[0] != "speech" || got[1] != "sfx" {
		t.Fatalf("forwarded = %v, want [speech sfx]", got)
	}
}

func TestSaidCollapsesForSameSpeaker(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, func(c *Config) {
		c.SpeakerTimeout = 10 * time.Second
		c.Now = func() time.Time { return now }
	})

	ctx := context.Background()
	s1 := f.p.Submit(ctx, Request{Text: "hello", Speaker: "Alice_42", Kind: KindSaid})
	s2 := f.p.Submit(ctx, Request{Text: "again", Speaker: "alice_42", Kind: KindSaid})
	now = now.Add(time.Minute)
	s3 := f.p.Submit(ctx, Request{Text: "later", Speaker: "alice_42", Kind: KindSaid})
	for _, s := range []uint64{s1, s2, s3} {
		f.waitSettled(t, s)
	}

	f.synth.mu.Lock()
	calls := append([]string(nil), f.synth.calls...)
	f.synth.mu.Unlock()
	want := map[string]bool{"alice said: hello": true, "again": true, "alice said: later": true}
	for _, c := range calls {
		if !want[c] {
			t.Fatalf("unexpected line %q in %v", c, calls)
		}
	}
	if len(calls) != 3 {
		t.Fatalf("calls = %v, want 3", calls)
	}
}

func TestStopDelegatesToSpeechChannel(t *testing.T) {
	f := newFixture(t, nil)
	f.p.Stop(true)
	if f.player.stopped != 1 {
		t.Fatalf("stopped = %d, want 1", f.player.stopped)
	}
}

func TestSetVoiceForUser(t *testing.T) {
	f := newFixture(t, nil)
	f.synth.catalog = []VoiceInfo{
		{Name: "en-US-Wavenet-A", LanguageCodes: []string{"en-US"}, Gender: "MALE"},
		{Name: "sv-SE-Wavenet-A", LanguageCodes: []string{"sv-SE"}, Gender: "FEMALE"},
	}
	f.p.voices.DefaultVoice = "en-us-wavenet-a"

	name, err := f.p.SetVoiceForUser(context.Background(), "Bob", "sv-SE-Wavenet-A", "tok")
	if err != nil {
		t.Fatalf("SetVoiceForUser: %v", err)
	}
	if name != "sv-SE-Wavenet-A" {
		t.Fatalf("voice = %q, want sv-SE-Wavenet-A", name)
	}

	var stored settings.UserVoice
	if found, _ := f.store.Pull(context.Background(), settings.UserVoices, "userName", "bob", &stored); !found {
		t.Fatalf("voice not stored")
	}
	if stored.LanguageCode != "sv-SE" {
		t.Fatalf("language = %q, want sv-SE", stored.LanguageCode)
	}

	name, err = f.p.SetVoiceForUser(context.Background(), "bob", "reset", "")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if name != "en-US-Wavenet-A" {
		t.Fatalf("voice after reset = %q, want en-US-Wavenet-A", name)
	}
}
