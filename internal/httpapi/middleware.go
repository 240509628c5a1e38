package httpapi

import (
	"compress/gzip"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// statusWriter remembers the status code for metrics. It passes Flush
// through so the overlay stream keeps working behind it.
type statusWriter struct {
	http.ResponseWriter
	code int
	out  io.Writer
}

func newStatusWriter(w http.ResponseWriter) *statusWriter {
	return &statusWriter{ResponseWriter: w, out: w}
}

func (w *statusWriter) WriteHeader(code int) {
	if w.code == 0 {
		w.code = code
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.code == 0 {
		w.code = http.StatusOK
	}
	return w.out.Write(b)
}

func (w *statusWriter) Flush() {
	if f, ok := w.out.(interface{ Flush() error }); ok {
		_ = f.Flush()
	}
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func (w *statusWriter) Code() int {
	if w.code == 0 {
		return http.StatusOK
	}
	return w.code
}

// baseWriter returns the connection's own writer; websocket upgrades need
// its Hijacker.
func baseWriter(w http.ResponseWriter) http.ResponseWriter {
	if sw, ok := w.(*statusWriter); ok {
		return sw.ResponseWriter
	}
	return w
}

var gzipPool = sync.Pool{New: func() any { return gzip.NewWriter(io.Discard) }}

// compress routes the body of w through a pooled gzip writer when the
// client accepts it. The returned func must run after the handler.
// Overlay transports and /metrics are never compressed: the first streams
// and promhttp compresses on its own.
func compress(w *statusWriter, r *http.Request) func() {
	switch {
	case !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip"),
		r.Header.Get("Upgrade") != "",
		strings.HasPrefix(r.URL.Path, "/overlay/"),
		r.URL.Path == "/metrics":
		return func() {}
	}
	gz := gzipPool.Get().(*gzip.Writer)
	gz.Reset(w.ResponseWriter)
	w.out = gz
	w.Header().Set("Content-Encoding", "gzip")
	w.Header().Add("Vary", "Accept-Encoding")
	w.Header().Del("Content-Length")
	return func() {
		_ = gz.Close()
		gzipPool.Put(gz)
	}
}

// clientLimits hands out one token bucket per client address. Buckets idle
// for longer than idle are pruned while the map is large.
type clientLimits struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	every   rate.Limit
	burst   int
	idle    time.Duration
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// newClientLimits returns nil, which allows everything, when rps is 0.
func newClientLimits(rps int) *clientLimits {
	if rps <= 0 {
		return nil
	}
	return &clientLimits{
		buckets: make(map[string]*bucket),
		every:   rate.Limit(rps),
		burst:   rps * 2,
		idle:    5 * time.Minute,
	}
}

func (c *clientLimits) allow(addr string) bool {
	if c == nil {
		return true
	}
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.buckets[addr]
	if !ok {
		if len(c.buckets) >= 512 {
			for k, old := range c.buckets {
				if now.Sub(old.seen) > c.idle {
					delete(c.buckets, k)
				}
			}
		}
		b = &bucket{lim: rate.NewLimiter(c.every, c.burst)}
		c.buckets[addr] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

// clientAddr is the peer address. X-Forwarded-For is only honoured from a
// loopback peer, i.e. a proxy on the streaming machine.
func clientAddr(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		if first, _, _ := strings.Cut(r.Header.Get("X-Forwarded-For"), ","); strings.TrimSpace(first) != "" {
			return strings.TrimSpace(first)
		}
	}
	return host
}

// origins is the CORS allow list. A nil list leaves CORS headers off and
// lets every origin through, which is what overlays loaded from file://
// need.
type origins struct {
	any  bool
	list map[string]struct{}
}

func newOrigins(allowed []string) *origins {
	if len(allowed) == 0 {
		return nil
	}
	o := &origins{list: make(map[string]struct{}, len(allowed))}
	for _, a := range allowed {
		a = strings.TrimRight(strings.TrimSpace(a), "/")
		switch a {
		case "":
		case "*":
			o.any = true
		default:
			o.list[a] = struct{}{}
		}
	}
	return o
}

func (o *origins) allowed(origin string) bool {
	if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
		return false
	}
	if o.any {
		return true
	}
	_, ok := o.list[origin]
	return ok
}

// check applies the policy to r. It reports true when the request has been
// answered, either as a preflight or as a rejected origin.
func (o *origins) check(w http.ResponseWriter, r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if o == nil || origin == "" {
		return false
	}
	if !o.allowed(origin) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return true
	}
	h := w.Header()
	h.Set("Access-Control-Allow-Origin", origin)
	h.Add("Vary", "Origin")
	if r.Method != http.MethodOptions {
		return false
	}
	h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	if req := r.Header.Get("Access-Control-Request-Headers"); req != "" {
		h.Set("Access-Control-Allow-Headers", req)
	}
	h.Set("Access-Control-Max-Age", "600")
	w.WriteHeader(http.StatusNoContent)
	return true
}
