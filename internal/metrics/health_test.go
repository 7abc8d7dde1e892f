package metrics

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gftdcojp/plot-archiver/internal/config"
)

type stubPinger struct{ err error }

func (s stubPinger) Ping() error { return s.err }

func TestHealthChecker_Liveness(t *testing.T) {
	checker := NewHealthChecker(nil, nil)
	if !checker.Liveness().OK {
		t.Fatal("liveness should always return OK=true")
	}
}

func TestHealthChecker_Readiness_AllOK(t *testing.T) {
	dir := t.TempDir()
	checker := NewHealthChecker([]string{dir}, stubPinger{})

	status := checker.Readiness()
	if !status.OK {
		t.Fatalf("expected readiness OK=true, got checks: %+v", status.Checks)
	}
	found := map[string]string{}
	for _, c := range status.Checks {
		found[c.Name] = c.Status
	}
	if found["destination:"+dir] != "ok" {
		t.Errorf("destination check missing or failing: %+v", status.Checks)
	}
	if found["history"] != "ok" {
		t.Errorf("history check missing or failing: %+v", status.Checks)
	}
}

func TestHealthChecker_Readiness_DestinationMissing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "unmounted")
	checker := NewHealthChecker([]string{missing}, nil)

	status := checker.Readiness()
	if status.OK {
		t.Fatal("expected readiness OK=false for a missing destination")
	}
	if status.Checks[0].Status != "error" || status.Checks[0].Error == "" {
		t.Fatalf("expected error check, got %+v", status.Checks[0])
	}
}

func TestHealthChecker_Readiness_DestinationIsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0644); err != nil {
		t.Fatal(err)
	}
	status := NewHealthChecker([]string{file}, nil).Readiness()
	if status.OK {
		t.Fatal("expected readiness OK=false when a destination is a file")
	}
}

func TestHealthChecker_Readiness_HistoryError(t *testing.T) {
	checker := NewHealthChecker(nil, stubPinger{err: errors.New("database not open")})
	status := checker.Readiness()
	if status.OK {
		t.Fatal("expected readiness OK=false when history store fails")
	}
	for _, c := range status.Checks {
		if c.Name == "history" && (c.Status != "error" || c.Error == "") {
			t.Fatalf("expected history error, got %+v", c)
		}
	}
}

func TestHealthChecker_Readiness_NilDeps(t *testing.T) {
	checker := NewHealthChecker(nil, nil)
	if !checker.Readiness().OK {
		t.Fatal("expected readiness OK=true with nil dependencies (no checks fail)")
	}
}

func TestHealthServer_Endpoints(t *testing.T) {
	checker := NewHealthChecker([]string{t.TempDir()}, stubPinger{})
	mux := checker.Handler(config.HealthConfig{
		LivenessPath:  "/healthz",
		ReadinessPath: "/readyz",
	})

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("liveness: expected 200, got %d", w.Code)
	}
	var liveResp HealthStatus
	json.Unmarshal(w.Body.Bytes(), &liveResp)
	if !liveResp.OK {
		t.Fatal("liveness response should have OK=true")
	}

	req = httptest.NewRequest("GET", "/readyz", nil)
	w = httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("readiness: expected 200, got %d", w.Code)
	}
}

func TestHealthServer_NotReady(t *testing.T) {
	checker := NewHealthChecker([]string{filepath.Join(t.TempDir(), "gone")}, nil)
	mux := checker.Handler(config.HealthConfig{})

	req := httptest.NewRequest("GET", "/readyz", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("readiness: expected 503, got %d", w.Code)
	}
}
