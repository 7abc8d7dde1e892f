package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/gftdcojp/plot-archiver/internal/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Queue metrics
	PlotsEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pa_plots_enqueued_total",
		Help: "Plots handed to the archiver, retries included",
	})

	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pa_queue_depth",
		Help: "Jobs waiting for a worker",
	})

	ActiveJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pa_active_jobs",
		Help: "Transfers currently running",
	})

	SelectionMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pa_selection_misses_total",
		Help: "Times no destination could take a job",
	})

	// Transfer metrics
	Archivals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pa_archivals_total",
		Help: "Finished archival attempts by result",
	}, []string{"destination", "result"})

	BytesArchived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pa_bytes_archived_total",
		Help: "Bytes of successfully archived plots",
	}, []string{"destination"})

	TransferDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pa_transfer_duration_seconds",
		Help:    "Wall time of successful transfers",
		Buckets: []float64{30, 60, 120, 300, 600, 1200, 1800, 3600},
	}, []string{"destination"})

	TransferSpeed = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pa_transfer_speed_bytes",
		Help: "Moving-average write speed of the active transfer",
	}, []string{"destination"})

	// Destination metrics
	DestinationFreeBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pa_destination_free_bytes",
		Help: "Last known free space per destination",
	}, []string{"destination"})

	DestinationClaimableBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pa_destination_claimable_bytes",
		Help: "Bytes reclaimable by evicting every candidate",
	}, []string{"destination"})

	ProbeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pa_probe_errors_total",
		Help: "Failed free-space probes",
	}, []string{"destination"})

	Evictions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pa_evictions_total",
		Help: "Plots deleted to reclaim space",
	}, []string{"destination"})

	EvictedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pa_evicted_bytes_total",
		Help: "Bytes reclaimed by eviction",
	}, []string{"destination"})
)

// RunServer starts the Prometheus metrics HTTP server.
func RunServer(ctx context.Context, cfg config.MetricsConfig) error {
	mux := http.NewServeMux()
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux.Handle(path, promhttp.Handler())

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: mux,
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
