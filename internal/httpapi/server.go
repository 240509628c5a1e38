package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/you/streamrig/internal/audio"
)

// AudioStatus is the sequencer view served by /api/status.
type AudioStatus interface {
	Snapshot() []audio.ChannelSnapshot
}

// SpeechStatus reports serials reserved but not yet handed to audio.
type SpeechStatus interface {
	Pending() int
}

// CompletionStatus reports callbacks waiting on a token.
type CompletionStatus interface {
	Len() int
}

type Options struct {
	Addr        string
	CORSOrigins []string
	// RateLimit is requests per second per client IP. Zero disables it.
	RateLimit   int
	Build       BuildInfo
	Metrics     *Metrics
	Audio       AudioStatus
	Speech      SpeechStatus
	Completions CompletionStatus
	// Mount registers extra routes, such as the admin endpoints.
	Mount func(mux *http.ServeMux)
}

type Server struct {
	httpServer *http.Server
	opts       Options
	hub        *Hub
	metrics    *Metrics
	limits     *clientLimits
	origins    *origins
	started    time.Time
}

func New(opts Options) *Server {
	srv := &Server{
		opts:    opts,
		metrics: opts.Metrics,
		hub:     NewHub(opts.Metrics),
		limits:  newClientLimits(opts.RateLimit),
		origins: newOrigins(opts.CORSOrigins),
		started: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealthz)
	mux.HandleFunc("/api/info", srv.handleInfo)
	mux.HandleFunc("/api/status", srv.handleStatus)
	mux.Handle("/metrics", srv.metrics.Handler())
	mux.HandleFunc("/overlay/stream", srv.hub.handleStream)
	mux.HandleFunc("/overlay/ws", srv.hub.handleWS(originHosts(opts.CORSOrigins)))
	if opts.Mount != nil {
		opts.Mount(mux)
	}

	srv.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           srv.wrap(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return srv
}

// Hub is the overlay fan-out; it implements the Publish side of labels and
// the sign sub-action.
func (s *Server) Hub() *Hub { return s.hub }

// Handler exposes the wrapped mux for tests and embedding.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := newStatusWriter(w)
		defer func() {
			s.metrics.ObserveRequest(routeOf(r.URL.Path), r.Method, sw.Code(), time.Since(start))
		}()

		if s.origins.check(sw, r) {
			return
		}
		if !s.limits.allow(clientAddr(r)) {
			s.metrics.IncRateLimited()
			http.Error(sw, "rate limited", http.StatusTooManyRequests)
			return
		}
		done := compress(sw, r)
		defer done()
		next.ServeHTTP(sw, r)
	})
}

// routeOf keeps metric label cardinality bounded.
func routeOf(path string) string {
	switch {
	case strings.HasPrefix(path, "/admin/triggers/"):
		return "/admin/triggers/{key}"
	case path == "/healthz", path == "/metrics", strings.HasPrefix(path, "/api/"),
		strings.HasPrefix(path, "/overlay/"), strings.HasPrefix(path, "/admin/"):
		return path
	default:
		return "other"
	}
}

func originHosts(origins []string) []string {
	var out []string
	for _, o := range origins {
		o = strings.TrimSpace(o)
		if o == "*" {
			return []string{"*"}
		}
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			out = append(out, u.Host)
		}
	}
	return out
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type statusResponse struct {
	Uptime         string                  `json:"uptime"`
	Channels       []audio.ChannelSnapshot `json:"channels"`
	SpeechPending  int                     `json:"speech_pending"`
	Completions    int                     `json:"completions_waiting"`
	OverlayClients int                     `json:"overlay_clients"`
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	resp := statusResponse{
		Uptime:         time.Since(s.started).Round(time.Second).String(),
		Channels:       []audio.ChannelSnapshot{},
		OverlayClients: s.hub.Clients(),
	}
	if s.opts.Audio != nil {
		resp.Channels = s.opts.Audio.Snapshot()
	}
	if s.opts.Speech != nil {
		resp.SpeechPending = s.opts.Speech.Pending()
	}
	if s.opts.Completions != nil {
		resp.Completions = s.opts.Completions.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) Start() error {
	log.Printf("http api listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}
