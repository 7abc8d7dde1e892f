package config

import "time"

// DefaultPlotPattern matches the file names produced by the plotter.
const DefaultPlotPattern = `^plot-k[0-9]+.+\.plot$`

func DefaultConfig() *Config {
	return &Config{
		Sources:      []string{},
		Destinations: []string{},
		PlotPattern:  DefaultPlotPattern,
		Eviction: EvictionConfig{
			Patterns: []string{},
		},
		Archiver: ArchiverConfig{
			RetryDelay:       Duration(time.Second),
			SelectionBackoff: Duration(time.Second),
			FreeSpaceRefresh: "@every 1h",
			ProgressInterval: Duration(time.Second),
			SpeedWindow:      15,
			BufferSize:       ByteSize(16 * 1024 * 1024), // 16MB
		},
		Watcher: WatcherConfig{
			AwaitWriteFinish:   true,
			PollInterval:       Duration(time.Second),
			StabilityThreshold: Duration(5 * time.Second),
		},
		History: HistoryConfig{
			Enabled: false,
			Path:    "plot-archiver.db",
		},
		Telemetry: TelemetryConfig{
			NATS: NATSConfig{
				Enabled:        false,
				URL:            "nats://localhost:4222",
				SubjectPrefix:  "plotarchiver",
				ConnectionName: "plot-archiver",
				MaxReconnects:  -1,
				ReconnectWait:  Duration(2 * time.Second),
			},
		},
		API: APIConfig{
			Enabled: true,
			Listen:  "127.0.0.1:8080",
		},
		Observability: ObservabilityConfig{
			Metrics: MetricsConfig{
				Enabled: false,
				Listen:  ":9090",
				Path:    "/metrics",
			},
			Health: HealthConfig{
				Enabled:       false,
				Listen:        ":8081",
				LivenessPath:  "/healthz",
				ReadinessPath: "/readyz",
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "console",
				Output: "stderr",
			},
		},
	}
}
