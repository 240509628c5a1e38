package audio

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/you/streamrig/internal/completion"
)

const DefaultInterval = 250 * time.Millisecond

// State is the playback state of one channel.
type State int

const (
	StateIdle State = iota
	StateLoading
	StatePlaying
	StateEnded
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StateEnded:
		return "ended"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Request is one queued playback. Sources lists candidate references, one
// of which is chosen at random when the item starts. Data carries inline
// audio instead, as produced by speech synthesis.
type Request struct {
	Token   string
	Sources []string
	Data    []byte
	Format  string // container of Data, e.g. "ogg" or "mp3"
	Volume  float64
	Repeat  int
}

// Clip is what a device is asked to play.
type Clip struct {
	Token  string
	Source string
	Data   []byte
	Format string
	Volume float64
}

// Device plays clips for a single channel. Play blocks until the clip has
// ended (nil), failed (error) or ctx was cancelled.
type Device interface {
	Play(ctx context.Context, clip Clip) error
}

// DeviceFactory builds the device owned by a channel.
type DeviceFactory func(channel int) Device

// Notifier is told the terminal status of every item carrying a token.
type Notifier interface {
	Fire(token string, status completion.Status)
}

// Recorder observes finished items and queue depth changes.
type Recorder interface {
	AudioFinished(channel int, status completion.Status)
	AudioQueueDepth(channel int, depth int)
}

var ErrNoSource = errors.New("audio: request has no source")

type Options struct {
	Interval time.Duration
	Logger   *slog.Logger
	Recorder Recorder
	// Pick returns an index in [0,n). Defaults to math/rand.
	Pick func(n int) int
}

type channelState struct {
	queue   []Request
	state   State
	current *Request
	gen     uint64
	cancel  context.CancelFunc
	device  Device
	last    completion.Status
	played  int64
}

// Sequencer keeps an independent FIFO per channel and plays at most one
// item per channel at a time.
type Sequencer struct {
	factory  DeviceFactory
	notifier Notifier
	opts     Options
	logger   *slog.Logger

	mu       sync.Mutex
	channels map[int]*channelState
	ctx      context.Context
	stop     context.CancelFunc
	wg       sync.WaitGroup
}

func NewSequencer(factory DeviceFactory, notifier Notifier, opts Options) *Sequencer {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Pick == nil {
		opts.Pick = rand.IntN
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Sequencer{
		factory:  factory,
		notifier: notifier,
		opts:     opts,
		logger:   opts.Logger,
		channels: make(map[int]*channelState),
		ctx:      ctx,
		stop:     cancel,
	}
}

// Enqueue appends req to channel's queue, once per repeat.
func (s *Sequencer) Enqueue(channel int, req Request) {
	copies := req.Repeat
	if copies <= 0 {
		copies = 1
	}
	s.mu.Lock()
	ch := s.channelLocked(channel)
	for i := 0; i < copies; i++ {
		ch.queue = append(ch.queue, req)
	}
	depth := len(ch.queue)
	s.mu.Unlock()

	s.logger.Debug("audio: enqueued", "channel", channel, "token", req.Token, "copies", copies, "depth", depth)
	s.recordDepth(channel, depth)
}

// Tick starts the next item on every idle channel that has one queued.
func (s *Sequencer) Tick() {
	s.mu.Lock()
	ids := make([]int, 0, len(s.channels))
	for id := range s.channels {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	sort.Ints(ids)

	for _, id := range ids {
		s.startNext(id)
	}
}

// Run drives Tick at the configured interval until ctx is done, then
// aborts everything still playing.
func (s *Sequencer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Stop returns channel to idle immediately. The item in flight, if any,
// reports StatusAborted. With clearQueue the rest of the queue is dropped.
func (s *Sequencer) Stop(channel int, clearQueue bool) {
	s.mu.Lock()
	ch, ok := s.channels[channel]
	if !ok {
		s.mu.Unlock()
		return
	}
	aborted := s.resetLocked(ch)
	dropped := 0
	if clearQueue {
		dropped = len(ch.queue)
		ch.queue = nil
	}
	depth := len(ch.queue)
	s.mu.Unlock()

	if aborted != nil {
		s.finished(channel, aborted, completion.StatusAborted)
	}
	if dropped > 0 {
		s.logger.Info("audio: cleared queue", "channel", channel, "dropped", dropped)
	}
	s.recordDepth(channel, depth)
}

// Close aborts every channel and waits for in-flight playback to return.
func (s *Sequencer) Close() {
	s.mu.Lock()
	ids := make([]int, 0, len(s.channels))
	for id := range s.channels {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.Stop(id, true)
	}
	s.stop()
	s.wg.Wait()
}

// ChannelSnapshot describes one channel at a point in time.
type ChannelSnapshot struct {
	Channel    int    `json:"channel"`
	State      string `json:"state"`
	Queued     int    `json:"queued"`
	Current    string `json:"current,omitempty"`
	LastStatus string `json:"last_status"`
	Played     int64  `json:"played"`
}

func (s *Sequencer) Snapshot() []ChannelSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ChannelSnapshot, 0, len(s.channels))
	for id, ch := range s.channels {
		snap := ChannelSnapshot{
			Channel:    id,
			State:      ch.state.String(),
			Queued:     len(ch.queue),
			LastStatus: ch.last.String(),
			Played:     ch.played,
		}
		if ch.current != nil {
			snap.Current = ch.current.Token
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Channel < out[j].Channel })
	return out
}

func (s *Sequencer) channelLocked(channel int) *channelState {
	ch, ok := s.channels[channel]
	if !ok {
		ch = &channelState{}
		s.channels[channel] = ch
	}
	return ch
}

// resetLocked cancels the in-flight item and returns it.
func (s *Sequencer) resetLocked(ch *channelState) *Request {
	cur := ch.current
	if ch.cancel != nil {
		ch.cancel()
		ch.cancel = nil
	}
	ch.gen++
	ch.current = nil
	ch.state = StateIdle
	return cur
}

func (s *Sequencer) startNext(channel int) {
	s.mu.Lock()
	ch, ok := s.channels[channel]
	if !ok || ch.state != StateIdle || len(ch.queue) == 0 {
		s.mu.Unlock()
		return
	}

	req := ch.queue[0]
	ch.queue[0] = Request{}
	ch.queue = ch.queue[1:]
	depth := len(ch.queue)

	clip, err := s.resolve(req)
	if err != nil {
		s.mu.Unlock()
		s.logger.Warn("audio: dequeued item without source", "channel", channel, "token", req.Token)
		s.finished(channel, &req, completion.StatusError)
		s.recordDepth(channel, depth)
		s.startNext(channel)
		return
	}

	if ch.device == nil {
		ch.device = s.factory(channel)
	}
	ch.gen++
	gen := ch.gen
	ctx, cancel := context.WithCancel(s.ctx)
	ch.cancel = cancel
	ch.current = &req
	ch.state = StateLoading
	device := ch.device
	s.wg.Add(1)
	s.mu.Unlock()

	s.recordDepth(channel, depth)
	go s.play(ctx, channel, gen, device, clip)
}

func (s *Sequencer) play(ctx context.Context, channel int, gen uint64, device Device, clip Clip) {
	defer s.wg.Done()

	s.mu.Lock()
	if ch := s.channels[channel]; ch != nil && ch.gen == gen {
		ch.state = StatePlaying
	}
	s.mu.Unlock()

	err := device.Play(ctx, clip)

	s.mu.Lock()
	ch := s.channels[channel]
	if ch == nil || ch.gen != gen {
		// Stopped while playing; Stop already reported the item.
		s.mu.Unlock()
		return
	}
	req := ch.current
	status := completion.StatusOK
	ch.state = StateEnded
	if err != nil {
		status = completion.StatusError
		ch.state = StateErrored
	}
	if ch.cancel != nil {
		ch.cancel()
		ch.cancel = nil
	}
	ch.current = nil
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("audio: playback failed", "channel", channel, "token", clip.Token, "source", clip.Source, "err", err)
	}
	if req != nil {
		s.finished(channel, req, status)
	}

	s.mu.Lock()
	if ch.gen == gen {
		ch.state = StateIdle
	}
	s.mu.Unlock()
	s.startNext(channel)
}

func (s *Sequencer) finished(channel int, req *Request, status completion.Status) {
	s.mu.Lock()
	if ch := s.channels[channel]; ch != nil {
		ch.last = status
		ch.played++
	}
	s.mu.Unlock()

	if s.opts.Recorder != nil {
		s.opts.Recorder.AudioFinished(channel, status)
	}
	if req.Token != "" && s.notifier != nil {
		s.notifier.Fire(req.Token, status)
	}
}

func (s *Sequencer) resolve(req Request) (Clip, error) {
	clip := Clip{Token: req.Token, Volume: req.Volume, Data: req.Data, Format: req.Format}
	if clip.Volume <= 0 {
		clip.Volume = 1.0
	}
	if len(req.Data) > 0 {
		return clip, nil
	}
	switch len(req.Sources) {
	case 0:
		return Clip{}, ErrNoSource
	case 1:
		clip.Source = req.Sources[0]
	default:
		clip.Source = req.Sources[s.opts.Pick(len(req.Sources))]
	}
	if clip.Source == "" {
		return Clip{}, ErrNoSource
	}
	return clip, nil
}

func (s *Sequencer) recordDepth(channel, depth int) {
	if s.opts.Recorder != nil {
		s.opts.Recorder.AudioQueueDepth(channel, depth)
	}
}
