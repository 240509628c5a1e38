package httpapi

import (
	"net/http"
	"os"
	"runtime"
	"time"
)

// BuildInfo describes the compiled binary.
type BuildInfo struct {
	Version  string
	Revision string
	BuiltAt  time.Time
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	info := map[string]any{
		"version":    s.opts.Build.Version,
		"rev":        s.opts.Build.Revision,
		"go":         runtime.Version(),
		"pid":        os.Getpid(),
		"started_at": s.started.UTC().Format(time.RFC3339),
		"speech":     s.opts.Speech != nil,
	}
	if !s.opts.Build.BuiltAt.IsZero() {
		info["built_at"] = s.opts.Build.BuiltAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, info)
}
