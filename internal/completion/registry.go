package completion

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Status is the terminal outcome reported for a correlation token.
type Status int

const (
	StatusOK Status = iota
	StatusError
	StatusAborted
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusError:
		return "error"
	case StatusAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Callback receives the outcome of the item a token was attached to.
type Callback func(Status)

// Registry maps correlation tokens to one-shot callbacks.
//
// A token holds at most one callback. Registering again replaces the
// previous one, which will then never run. Fire removes the entry before
// invoking it so a callback cannot run twice.
type Registry struct {
	mu      sync.Mutex
	pending map[string]Callback
	logger  *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{pending: make(map[string]Callback), logger: logger}
}

// NewToken returns a fresh opaque token, optionally tagged with prefix.
func NewToken(prefix string) string {
	id := uuid.NewString()
	prefix = strings.TrimSpace(prefix)
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}

func (r *Registry) Register(token string, cb Callback) {
	if token == "" || cb == nil {
		return
	}
	r.mu.Lock()
	_, replaced := r.pending[token]
	r.pending[token] = cb
	r.mu.Unlock()
	if replaced {
		r.logger.Debug("completion: replaced callback", "token", token)
	}
}

// Await is the future form of Register. The returned channel receives
// exactly one status and is then closed.
func (r *Registry) Await(token string) <-chan Status {
	ch := make(chan Status, 1)
	r.Register(token, func(s Status) {
		ch <- s
		close(ch)
	})
	return ch
}

// Fire runs and forgets the callback for token. Unknown tokens are ignored.
func (r *Registry) Fire(token string, status Status) {
	if token == "" {
		return
	}
	r.mu.Lock()
	cb, ok := r.pending[token]
	delete(r.pending, token)
	r.mu.Unlock()
	if !ok {
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("completion: callback panicked", "token", token, "panic", rec)
		}
	}()
	cb(status)
}

// Cancel drops the callback for token without running it.
func (r *Registry) Cancel(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.pending[token]
	delete(r.pending, token)
	return ok
}

// Len reports how many tokens are waiting.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
