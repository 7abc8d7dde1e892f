// Package serve exposes the archiver state and admin operations over HTTP.
package serve

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"mime"
	"net"
	"net/http"
	"path/filepath"
	"strconv"
	"time"

	"github.com/gftdcojp/plot-archiver/internal/archiver"
	"github.com/gftdcojp/plot-archiver/internal/config"
	"github.com/gftdcojp/plot-archiver/internal/destination"
	"github.com/gftdcojp/plot-archiver/internal/history"
	"github.com/gftdcojp/plot-archiver/internal/job"
	"github.com/gftdcojp/plot-archiver/internal/plot"
	"go.uber.org/zap"
)

// Archiver is the part of the scheduler the API needs.
type Archiver interface {
	Jobs() []archiver.JobStatus
	Destinations() []destination.Snapshot
	QueueLen() int
	RefreshAll(ctx context.Context) error
	Enqueue(p plot.Plot) (*job.Job, error)
}

// Options configures the API. Enqueue only accepts plots that the watcher
// would also pick up: files directly inside one of Sources whose base name
// matches Names.
type Options struct {
	Sources []string
	Names   *plot.Matcher
	Version string
	Logger  *zap.Logger
}

type handler struct {
	archiver Archiver
	history  history.Store
	sources  map[string]bool
	names    *plot.Matcher
	version  string
	logger   *zap.Logger
}

// EnqueueRequest is the body of POST /v1/admin/enqueue.
type EnqueueRequest struct {
	Path string `json:"path"`
}

const defaultHistoryLimit = 50

// NewMux registers the API routes. hist may be nil when history is disabled.
func NewMux(arch Archiver, hist history.Store, opts Options) *http.ServeMux {
	h := &handler{
		archiver: arch,
		history:  hist,
		sources:  make(map[string]bool, len(opts.Sources)),
		names:    opts.Names,
		version:  opts.Version,
		logger:   opts.Logger,
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	for _, src := range opts.Sources {
		h.sources[filepath.Clean(src)] = true
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/status", h.handleStatus)
	mux.HandleFunc("GET /v1/destinations", h.handleDestinations)
	mux.HandleFunc("GET /v1/jobs", h.handleJobs)
	mux.HandleFunc("GET /v1/history", h.handleHistory)
	mux.HandleFunc("POST /v1/admin/refresh", h.handleRefresh)
	mux.HandleFunc("POST /v1/admin/enqueue", h.handleEnqueue)
	return mux
}

// RunHTTP starts the HTTP API server.
func RunHTTP(ctx context.Context, cfg config.APIConfig, arch Archiver, hist history.Store, opts Options) error {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: NewMux(arch, hist, opts),
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("HTTP API listening", zap.String("addr", cfg.Listen))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	var active int
	dests := h.archiver.Destinations()
	var free, claimable int64
	for _, d := range dests {
		if d.ActiveJobID != "" {
			active++
		}
		free += d.FreeBytes
		claimable += d.ClaimableBytes
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"version":         h.version,
		"destinations":    len(dests),
		"active_jobs":     active,
		"queued_jobs":     h.archiver.QueueLen(),
		"tracked_jobs":    len(h.archiver.Jobs()),
		"free_bytes":      free,
		"claimable_bytes": claimable,
		"history_enabled": h.history != nil,
	})
}

func (h *handler) handleDestinations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.archiver.Destinations())
}

func (h *handler) handleJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.archiver.Jobs())
}

func (h *handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "history is disabled"})
		return
	}

	limit := defaultHistoryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
			return
		}
		limit = n
	}

	switch kind := r.URL.Query().Get("kind"); kind {
	case "", "archivals":
		entries, err := h.history.ListArchivals(r.Context(), limit)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		out := make([]map[string]interface{}, 0, len(entries))
		for _, e := range entries {
			out = append(out, map[string]interface{}{
				"job_id":      e.JobID,
				"plot":        e.Plot,
				"destination": e.Destination,
				"size_bytes":  e.SizeBytes,
				"attempt":     e.Attempt,
				"started_at":  e.StartedAt,
				"finished_at": e.FinishedAt,
				"succeeded":   e.Succeeded(),
				"error":       e.Error,
			})
		}
		writeJSON(w, http.StatusOK, out)
	case "evictions":
		entries, err := h.history.ListEvictions(r.Context(), limit)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		out := make([]map[string]interface{}, 0, len(entries))
		for _, e := range entries {
			out = append(out, map[string]interface{}{
				"destination": e.Destination,
				"path":        e.Path,
				"size_bytes":  e.SizeBytes,
				"created_at":  e.CreatedAt,
				"evicted_at":  e.EvictedAt,
				"for_plot":    e.ForPlot,
			})
		}
		writeJSON(w, http.StatusOK, out)
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "kind must be archivals or evictions"})
	}
}

func (h *handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := h.archiver.RefreshAll(r.Context()); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, h.archiver.Destinations())
}

func (h *handler) handleEnqueue(w http.ResponseWriter, r *http.Request) {
	// Browsers may send text/plain cross-origin without a preflight.
	if mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type")); err != nil || mt != "application/json" {
		writeJSON(w, http.StatusUnsupportedMediaType, map[string]string{"error": "content type must be application/json"})
		return
	}

	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.Path == "" || !filepath.IsAbs(req.Path) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "path must be absolute"})
		return
	}
	path := filepath.Clean(req.Path)
	if !h.sources[filepath.Dir(path)] {
		writeJSON(w, http.StatusForbidden, map[string]string{"error": "path is not inside a configured source directory"})
		return
	}
	if !h.names.MatchName(path) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "file name does not match the plot pattern"})
		return
	}

	p, err := plot.FromFile(path)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, fs.ErrNotExist) {
			status = http.StatusNotFound
		}
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	j, err := h.archiver.Enqueue(p)
	switch {
	case errors.Is(err, archiver.ErrAlreadyTracked):
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
		return
	case errors.Is(err, archiver.ErrStopped):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
		return
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	h.logger.Info("plot enqueued via API", zap.String("plot", p.Path), zap.String("job_id", j.ID))
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":     j.ID,
		"plot":       p.Path,
		"size_bytes": p.SizeBytes,
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
