package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Sources       []string            `yaml:"sources"`
	Destinations  []string            `yaml:"destinations"`
	PlotPattern   string              `yaml:"plot_pattern"`
	Eviction      EvictionConfig      `yaml:"eviction"`
	Archiver      ArchiverConfig      `yaml:"archiver"`
	Watcher       WatcherConfig       `yaml:"watcher"`
	History       HistoryConfig       `yaml:"history"`
	Telemetry     TelemetryConfig     `yaml:"telemetry"`
	API           APIConfig           `yaml:"api"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// EvictionConfig lists the regular expressions a destination file path must
// match before it may be deleted to make room for a new plot.
type EvictionConfig struct {
	Patterns []string `yaml:"patterns"`
}

type ArchiverConfig struct {
	// MaxConcurrent caps transfers across all destinations. 0 means no cap.
	MaxConcurrent int `yaml:"max_concurrent"`
	// MaxConcurrentPerSource caps transfers reading from one source directory. 0 means no cap.
	MaxConcurrentPerSource int      `yaml:"max_concurrent_per_source"`
	RetryDelay             Duration `yaml:"retry_delay"`
	SelectionBackoff       Duration `yaml:"selection_backoff"`
	// FreeSpaceRefresh is a cron spec ("@every 1h", "*/30 * * * *").
	FreeSpaceRefresh string   `yaml:"free_space_refresh"`
	ProgressInterval Duration `yaml:"progress_interval"`
	SpeedWindow      int      `yaml:"speed_window"`
	BufferSize       ByteSize `yaml:"buffer_size"`
}

type WatcherConfig struct {
	AwaitWriteFinish   bool     `yaml:"await_write_finish"`
	PollInterval       Duration `yaml:"poll_interval"`
	StabilityThreshold Duration `yaml:"stability_threshold"`
}

type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type TelemetryConfig struct {
	NATS NATSConfig `yaml:"nats"`
}

type NATSConfig struct {
	Enabled         bool      `yaml:"enabled"`
	URL             string    `yaml:"url"`
	SubjectPrefix   string    `yaml:"subject_prefix"`
	CredentialsFile string    `yaml:"credentials_file"`
	NKeySeedFile    string    `yaml:"nkey_seed_file"`
	TLS             TLSConfig `yaml:"tls"`
	ConnectionName  string    `yaml:"connection_name"`
	MaxReconnects   int       `yaml:"max_reconnects"`
	ReconnectWait   Duration  `yaml:"reconnect_wait"`
}

type TLSConfig struct {
	CAFile   string `yaml:"ca_file"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type ObservabilityConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Health  HealthConfig  `yaml:"health"`
	Logging LoggingConfig `yaml:"logging"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

type HealthConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Listen        string `yaml:"listen"`
	LivenessPath  string `yaml:"liveness_path"`
	ReadinessPath string `yaml:"readiness_path"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// WriteDefault writes the default configuration document to path. It refuses
// to overwrite an existing file.
func WriteDefault(path string) error {
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return fmt.Errorf("encoding default config: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("writing config file: %w", err)
	}
	return f.Close()
}

func (c *Config) Validate() error {
	if len(c.Sources) == 0 {
		return fmt.Errorf("at least one source directory must be configured")
	}
	if len(c.Destinations) == 0 {
		return fmt.Errorf("at least one destination directory must be configured")
	}

	seen := make(map[string]bool)
	for i, d := range c.Destinations {
		if d == "" {
			return fmt.Errorf("destinations[%d] is empty", i)
		}
		if seen[d] {
			return fmt.Errorf("destinations[%d] (%s) is listed twice", i, d)
		}
		seen[d] = true
	}
	for i, s := range c.Sources {
		if s == "" {
			return fmt.Errorf("sources[%d] is empty", i)
		}
	}

	if _, err := regexp.Compile(c.PlotPattern); err != nil {
		return fmt.Errorf("plot_pattern: %w", err)
	}
	for i, p := range c.Eviction.Patterns {
		if _, err := regexp.Compile(p); err != nil {
			return fmt.Errorf("eviction.patterns[%d]: %w", i, err)
		}
	}

	a := c.Archiver
	if a.MaxConcurrent < 0 {
		return fmt.Errorf("archiver.max_concurrent must be >= 0")
	}
	if a.MaxConcurrentPerSource < 0 {
		return fmt.Errorf("archiver.max_concurrent_per_source must be >= 0")
	}
	if a.RetryDelay < 0 || a.SelectionBackoff < 0 {
		return fmt.Errorf("archiver delays must be >= 0")
	}
	if a.ProgressInterval <= 0 {
		return fmt.Errorf("archiver.progress_interval must be > 0")
	}
	if a.SpeedWindow < 2 {
		return fmt.Errorf("archiver.speed_window must be >= 2, got %d", a.SpeedWindow)
	}
	if a.BufferSize < 4*1024 {
		return fmt.Errorf("archiver.buffer_size must be at least 4KB, got %d", a.BufferSize)
	}
	if a.FreeSpaceRefresh != "" {
		if _, err := cron.ParseStandard(a.FreeSpaceRefresh); err != nil {
			return fmt.Errorf("archiver.free_space_refresh: %w", err)
		}
	}

	if c.Watcher.AwaitWriteFinish {
		if c.Watcher.PollInterval <= 0 {
			return fmt.Errorf("watcher.poll_interval must be > 0")
		}
		if c.Watcher.StabilityThreshold < c.Watcher.PollInterval {
			return fmt.Errorf("watcher.stability_threshold must be >= watcher.poll_interval")
		}
	}

	if c.History.Enabled && c.History.Path == "" {
		return fmt.Errorf("history.path is required when history is enabled")
	}

	if c.Telemetry.NATS.Enabled && c.Telemetry.NATS.URL == "" {
		return fmt.Errorf("telemetry.nats.url is required when the NATS sink is enabled")
	}

	return nil
}

// Duration wraps time.Duration for YAML unmarshaling of strings like "5m", "24h".
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// ByteSize wraps int64 for YAML unmarshaling of strings like "256MB", "10GB".
type ByteSize int64

func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		// Try as integer
		var n int64
		if err2 := value.Decode(&n); err2 != nil {
			return err
		}
		*b = ByteSize(n)
		return nil
	}
	parsed, err := parseByteSize(s)
	if err != nil {
		return err
	}
	*b = ByteSize(parsed)
	return nil
}

func (b ByteSize) MarshalYAML() (interface{}, error) {
	const mb = 1024 * 1024
	if b > 0 && b%mb == 0 {
		return fmt.Sprintf("%dMB", int64(b)/mb), nil
	}
	return int64(b), nil
}

func parseByteSize(s string) (int64, error) {
	if len(s) == 0 {
		return 0, fmt.Errorf("empty byte size")
	}

	var multiplier int64 = 1
	numStr := s

	switch {
	case len(s) >= 2 && s[len(s)-2:] == "KB":
		multiplier = 1024
		numStr = s[:len(s)-2]
	case len(s) >= 2 && s[len(s)-2:] == "MB":
		multiplier = 1024 * 1024
		numStr = s[:len(s)-2]
	case len(s) >= 2 && s[len(s)-2:] == "GB":
		multiplier = 1024 * 1024 * 1024
		numStr = s[:len(s)-2]
	case len(s) >= 2 && s[len(s)-2:] == "TB":
		multiplier = 1024 * 1024 * 1024 * 1024
		numStr = s[:len(s)-2]
	case s[len(s)-1] == 'B':
		numStr = s[:len(s)-1]
	}

	var n int64
	_, err := fmt.Sscanf(numStr, "%d", &n)
	if err != nil {
		return 0, fmt.Errorf("invalid byte size %q: %w", s, err)
	}
	return n * multiplier, nil
}
