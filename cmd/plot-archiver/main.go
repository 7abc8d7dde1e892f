package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gftdcojp/plot-archiver/internal/archiver"
	"github.com/gftdcojp/plot-archiver/internal/capacity"
	"github.com/gftdcojp/plot-archiver/internal/clock"
	"github.com/gftdcojp/plot-archiver/internal/config"
	"github.com/gftdcojp/plot-archiver/internal/destination"
	"github.com/gftdcojp/plot-archiver/internal/history"
	"github.com/gftdcojp/plot-archiver/internal/metrics"
	"github.com/gftdcojp/plot-archiver/internal/plot"
	"github.com/gftdcojp/plot-archiver/internal/serve"
	"github.com/gftdcojp/plot-archiver/internal/telemetry"
	"github.com/gftdcojp/plot-archiver/internal/watcher"
	"github.com/gftdcojp/plot-archiver/pkg/natsutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	showVersion := flag.Bool("version", false, "show version")
	flag.Parse()

	if *showVersion {
		fmt.Printf("plot-archiver %s\n", version)
		os.Exit(0)
	}

	if _, err := os.Stat(*configPath); errors.Is(err, os.ErrNotExist) {
		if err := config.WriteDefault(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "failed to write default config: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "wrote default config to %s, add sources and destinations and restart\n", *configPath)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Observability.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("fatal error", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// History is optional; keep the interface nil when disabled.
	var store history.Store
	var pinger metrics.Pinger
	if cfg.History.Enabled {
		bs, err := history.NewBoltStore(cfg.History.Path, logger.Named("history"))
		if err != nil {
			return fmt.Errorf("opening history store: %w", err)
		}
		defer bs.Close()
		store = bs
		pinger = bs
	}

	sinks := telemetry.Multi{telemetry.NewLogSink(logger.Named("telemetry"))}
	if cfg.Telemetry.NATS.Enabled {
		nc, err := natsutil.Connect(cfg.Telemetry.NATS, logger.Named("nats"))
		if err != nil {
			return fmt.Errorf("connecting to NATS: %w", err)
		}
		defer nc.Drain()
		sinks = append(sinks, telemetry.NewNATSSink(nc, cfg.Telemetry.NATS.SubjectPrefix, logger.Named("nats-sink")))
	}

	evictable, err := plot.NewMatcher(cfg.Eviction.Patterns)
	if err != nil {
		return fmt.Errorf("compiling eviction patterns: %w", err)
	}
	names, err := plot.NewMatcher([]string{cfg.PlotPattern})
	if err != nil {
		return fmt.Errorf("compiling plot pattern: %w", err)
	}

	probe := capacity.NewStatfsProbe()
	dests := make([]*destination.Destination, 0, len(cfg.Destinations))
	for _, loc := range cfg.Destinations {
		dests = append(dests, destination.New(destination.Config{
			Location: loc,
			Probe:    probe,
			Matcher:  evictable,
			Logger:   logger.Named("destination").With(zap.String("destination", loc)),
		}))
	}
	if err := archiver.InitDestinations(ctx, dests); err != nil {
		return fmt.Errorf("initializing destinations: %w", err)
	}

	clk := clock.NewReal()
	sched := archiver.New(archiver.Config{
		Destinations: dests,
		Sink:         sinks,
		History:      store,
		Clock:        clk,
		Logger:       logger.Named("archiver"),
		Archiver:     cfg.Archiver,
	})
	defer sched.Shutdown()

	w, err := watcher.New(watcher.Config{
		Directories:        cfg.Sources,
		Names:              names,
		AwaitWriteFinish:   cfg.Watcher.AwaitWriteFinish,
		PollInterval:       cfg.Watcher.PollInterval.Duration(),
		StabilityThreshold: cfg.Watcher.StabilityThreshold.Duration(),
		Clock:              clk,
		Logger:             logger.Named("watcher"),
	}, func(p plot.Plot) error {
		_, err := sched.Enqueue(p)
		if errors.Is(err, archiver.ErrAlreadyTracked) {
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return w.Run(gctx) })

	// Start HTTP API
	if cfg.API.Enabled {
		g.Go(func() error {
			return serve.RunHTTP(gctx, cfg.API, sched, store, serve.Options{
				Sources: cfg.Sources,
				Names:   names,
				Version: version,
				Logger:  logger.Named("api"),
			})
		})
	}

	// Start metrics server
	if cfg.Observability.Metrics.Enabled {
		g.Go(func() error { return metrics.RunServer(gctx, cfg.Observability.Metrics) })
	}

	// Start health server
	if cfg.Observability.Health.Enabled {
		healthChecker := metrics.NewHealthChecker(cfg.Destinations, pinger)
		g.Go(func() error {
			return metrics.RunHealthServer(gctx, cfg.Observability.Health, healthChecker)
		})
	}

	logger.Info("plot-archiver started",
		zap.String("version", version),
		zap.Strings("sources", cfg.Sources),
		zap.Strings("destinations", cfg.Destinations),
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("shutting down")
	return nil
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	switch cfg.Level {
	case "debug":
		zapCfg.Level.SetLevel(zap.DebugLevel)
	case "info":
		zapCfg.Level.SetLevel(zap.InfoLevel)
	case "warn":
		zapCfg.Level.SetLevel(zap.WarnLevel)
	case "error":
		zapCfg.Level.SetLevel(zap.ErrorLevel)
	}

	switch cfg.Output {
	case "", "stderr":
	case "stdout":
		zapCfg.OutputPaths = []string{"stdout"}
	default:
		zapCfg.OutputPaths = []string{cfg.Output}
	}

	return zapCfg.Build()
}
