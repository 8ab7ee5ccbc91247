package runtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/loqalabs/loqa-scribe/internal/hub"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
)

const defaultEventLimit = 100

// Handler returns the HTTP surface. Init must have succeeded.
func (r *Runtime) Handler() http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Recoverer)

	router.Get("/healthz", r.handleHealth)
	router.Get("/readyz", r.handleReady)
	router.Get("/session", r.handleSession)
	router.Get("/session/events", r.handleEvents)
	if r.metrics != nil && r.cfg.Telemetry.PrometheusPath != "" {
		router.Handle(r.cfg.Telemetry.PrometheusPath, r.metrics)
	}

	router.Get(r.cfg.Viewer.Path, r.handleViewer)
	if r.cfg.Viewer.ServeRoot && r.cfg.Viewer.Path != "/" {
		router.Get("/", r.handleViewer)
	}
	return router
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && (r.bus == nil || r.bus.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}

func (r *Runtime) handleSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, r.coord.Status())
}

func (r *Runtime) handleEvents(w http.ResponseWriter, req *http.Request) {
	if !r.journal.Enabled() {
		http.Error(w, "journal disabled", http.StatusNotFound)
		return
	}
	limit := defaultEventLimit
	if raw := req.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = n
	}
	entries, err := r.journal.List(req.Context(), req.URL.Query().Get("recording_id"), limit)
	if err != nil {
		r.logger.Error("journal list failed", slogError(err))
		http.Error(w, "journal unavailable", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (r *Runtime) handleViewer(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Warn("viewer upgrade failed", slogError(err), slog.String("remote", req.RemoteAddr))
		return
	}
	viewer := hub.NewWSViewer(conn, hub.WSOptions{
		SendBuffer:   r.cfg.Viewer.SendBuffer,
		WriteTimeout: time.Duration(r.cfg.Viewer.WriteTimeoutMS) * time.Millisecond,
		PingInterval: time.Duration(r.cfg.Viewer.PingIntervalMS) * time.Millisecond,
	}, r.logger)
	r.coord.Connect(viewer)
	defer r.coord.Disconnect(viewer)

	viewer.Run(func(v hub.Viewer, cmd protocol.Command) {
		r.coord.HandleCommand(v, cmd)
	})
}

// originChecker accepts any origin when allowed is empty, and requests
// without an Origin header such as native clients.
func originChecker(allowed []string) func(*http.Request) bool {
	if len(allowed) == 0 {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return func(req *http.Request) bool {
		origin := req.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := set[strings.ToLower(u.Scheme+"://"+u.Host)]
		return ok
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
