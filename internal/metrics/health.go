package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/gftdcojp/plot-archiver/internal/config"
)

// HealthStatus represents the overall health state.
type HealthStatus struct {
	OK     bool    `json:"ok"`
	Checks []Check `json:"checks,omitempty"`
}

// Check represents an individual health check.
type Check struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Pinger is anything that can report its own availability.
type Pinger interface {
	Ping() error
}

// HealthChecker runs health probes.
type HealthChecker struct {
	destinations []string
	history      Pinger
}

// NewHealthChecker creates a new health checker. history may be nil.
func NewHealthChecker(destinations []string, history Pinger) *HealthChecker {
	return &HealthChecker{
		destinations: destinations,
		history:      history,
	}
}

// Liveness checks if the process is alive.
func (h *HealthChecker) Liveness() HealthStatus {
	return HealthStatus{OK: true}
}

// Readiness checks that every destination is mounted and the history store
// answers.
func (h *HealthChecker) Readiness() HealthStatus {
	status := HealthStatus{OK: true}

	for _, d := range h.destinations {
		name := "destination:" + d
		info, err := os.Stat(d)
		switch {
		case err != nil:
			status.OK = false
			status.Checks = append(status.Checks, Check{Name: name, Status: "error", Error: err.Error()})
		case !info.IsDir():
			status.OK = false
			status.Checks = append(status.Checks, Check{
				Name: name, Status: "error", Error: fmt.Sprintf("%s is not a directory", d),
			})
		default:
			status.Checks = append(status.Checks, Check{Name: name, Status: "ok"})
		}
	}

	if h.history != nil {
		if err := h.history.Ping(); err != nil {
			status.OK = false
			status.Checks = append(status.Checks, Check{
				Name: "history", Status: "error", Error: err.Error(),
			})
		} else {
			status.Checks = append(status.Checks, Check{
				Name: "history", Status: "ok",
			})
		}
	}

	return status
}

// Handler serves liveness and readiness on the configured paths.
func (h *HealthChecker) Handler(cfg config.HealthConfig) http.Handler {
	mux := http.NewServeMux()

	livenessPath := cfg.LivenessPath
	if livenessPath == "" {
		livenessPath = "/healthz"
	}
	readinessPath := cfg.ReadinessPath
	if readinessPath == "" {
		readinessPath = "/readyz"
	}

	mux.HandleFunc(livenessPath, func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, h.Liveness())
	})
	mux.HandleFunc(readinessPath, func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, h.Readiness())
	})
	return mux
}

func writeStatus(w http.ResponseWriter, status HealthStatus) {
	code := http.StatusOK
	if !status.OK {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(status)
}

// RunHealthServer starts the health check HTTP server.
func RunHealthServer(ctx context.Context, cfg config.HealthConfig, checker *HealthChecker) error {
	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: checker.Handler(cfg),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
