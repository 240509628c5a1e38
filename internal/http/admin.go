package httpadmin

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/you/streamrig/internal/actions"
	"github.com/you/streamrig/internal/core"
)

// Controller is the part of the rig the admin routes drive.
type Controller interface {
	ReloadTwitch(ctx context.Context) (login string, err error)
	ReloadEvents(ctx context.Context) (registered int, err error)
	FireTrigger(ctx context.Context, key string, user core.User) (actions.Report, error)
	StopAudio(channel int, clearQueue bool)
}

type Server struct {
	ctl Controller
}

func New(ctl Controller) *Server { return &Server{ctl: ctl} }

func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/admin/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/admin/twitch/reload", post(func(w http.ResponseWriter, r *http.Request) {
		login, err := s.ctl.ReloadTwitch(r.Context())
		if err != nil {
			http.Error(w, "reload failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"status": "ok", "reloaded": true, "login": login})
	}))
	mux.HandleFunc("/admin/events/reload", post(func(w http.ResponseWriter, r *http.Request) {
		n, err := s.ctl.ReloadEvents(r.Context())
		if err != nil {
			http.Error(w, "reload failed: "+err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, map[string]any{"status": "ok", "reloaded": true, "triggers": n})
	}))
	mux.HandleFunc("/admin/audio/stop", post(func(w http.ResponseWriter, r *http.Request) {
		channel, err := strconv.Atoi(r.URL.Query().Get("channel"))
		if err != nil || channel < 0 {
			http.Error(w, "channel must be a non-negative integer", http.StatusBadRequest)
			return
		}
		clearQueue := r.URL.Query().Get("clear") == "1" || r.URL.Query().Get("clear") == "true"
		s.ctl.StopAudio(channel, clearQueue)
		writeJSON(w, map[string]any{"status": "ok", "channel": channel, "cleared": clearQueue})
	}))
	mux.HandleFunc("/admin/triggers/", post(s.handleFire))
}

type fireRequest struct {
	Login string `json:"login"`
	Name  string `json:"name"`
	ID    string `json:"id"`
	Input string `json:"input"`
}

func (s *Server) handleFire(w http.ResponseWriter, r *http.Request) {
	key := strings.TrimPrefix(r.URL.Path, "/admin/triggers/")
	if key == "" {
		http.Error(w, "missing trigger key", http.StatusBadRequest)
		return
	}
	var req fireRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
			http.Error(w, "bad request body: "+err.Error(), http.StatusBadRequest)
			return
		}
	}
	user := core.User{ID: req.ID, Login: strings.ToLower(req.Login), Name: req.Name, Input: req.Input}
	if user.Name == "" {
		user.Name = req.Login
	}
	report, err := s.ctl.FireTrigger(r.Context(), key, user)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	ran := make([]string, 0, len(report.Ran))
	for _, k := range report.Ran {
		ran = append(ran, k.String())
	}
	failed := make([]string, 0, len(report.Failed))
	for _, k := range report.Failed {
		failed = append(failed, k.String())
	}
	writeJSON(w, map[string]any{"status": "ok", "trace_id": report.TraceID, "ran": ran, "failed": failed})
}

func post(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(v)
}
