package firetrace

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Stage is one counted outcome inside a trigger firing.
type Stage string

const (
	StageFired    Stage = "fired"
	StageRan      Stage = "ran"
	StageDeferred Stage = "deferred"

	StageFailedPrefix = "failed_"
)

// StageFailed creates a Stage for a sub-action that failed.
func StageFailed(kind string) Stage {
	return Stage(fmt.Sprintf("%s%s", StageFailedPrefix, kind))
}

// FireTrace follows one firing of a trigger through its sub-actions.
type FireTrace struct {
	Key     string
	Source  string
	User    string
	TraceID string
	Started time.Time

	mu       sync.Mutex
	counters map[Stage]int64
	kinds    []string
}

// New starts a trace and seeds the fired counter.
func New(key, source, user string) *FireTrace {
	trace := &FireTrace{
		Key:      key,
		Source:   source,
		User:     user,
		TraceID:  uuid.NewString(),
		Started:  time.Now(),
		counters: make(map[Stage]int64),
	}
	trace.counters[StageFired] = 1
	return trace
}

// IncCounter increments the counter for the provided stage and returns the updated value.
func (t *FireTrace) IncCounter(stage Stage) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.counters[stage]++
	return t.counters[stage]
}

// Ran records a sub-action that returned without error.
func (t *FireTrace) Ran(kind string) {
	t.mu.Lock()
	t.kinds = append(t.kinds, kind)
	t.mu.Unlock()
	t.IncCounter(StageRan)
}

func (t *FireTrace) Failed(kind string) {
	t.mu.Lock()
	t.kinds = append(t.kinds, kind+"!")
	t.mu.Unlock()
	t.IncCounter(StageFailed(kind))
}

func (t *FireTrace) Count(stage Stage) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.counters[stage]
}

// LogTrace writes one summary line for the firing.
func (t *FireTrace) LogTrace(logger *slog.Logger, msg string) {
	if logger == nil {
		logger = slog.Default()
	}

	t.mu.Lock()
	kinds := append([]string(nil), t.kinds...)
	t.mu.Unlock()

	logger.Info(msg,
		"trace_id", t.TraceID,
		"trigger", t.Key,
		"source", t.Source,
		"user", t.User,
		"kinds", kinds,
		"elapsed", time.Since(t.Started).Round(time.Microsecond),
		"counters", t.snapshotCounters(),
	)
}

func (t *FireTrace) snapshotCounters() map[Stage]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	copy := make(map[Stage]int64, len(t.counters))
	for stage, count := range t.counters {
		copy[stage] = count
	}
	return copy
}
