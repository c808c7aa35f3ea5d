package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ChuLiYu/kw-sourcing/internal/controller"
	"github.com/ChuLiYu/kw-sourcing/internal/scanner"
	"github.com/ChuLiYu/kw-sourcing/internal/sink"
	"github.com/ChuLiYu/kw-sourcing/internal/storage/redis"
	"github.com/ChuLiYu/kw-sourcing/internal/webdriver"
	"github.com/ChuLiYu/kw-sourcing/pkg/types"
)

// Environment overrides, also read from .env.
const (
	EnvPostgresDSN  = "KW_POSTGRES_DSN"
	EnvRedisURL     = "KW_REDIS_URL"
	EnvWebDriverURL = "KW_WEBDRIVER_URL"
)

// Config represents the complete system configuration structure
// Maps config file fields through YAML tags
type Config struct {
	Source struct {
		URL          string   `yaml:"url"`
		WebDriverURL string   `yaml:"webdriver_url"`
		Headless     bool     `yaml:"headless"`
		Sessions     int      `yaml:"sessions"`
		Departments  []string `yaml:"departments"` // empty: read from the source
		// RequestTimeout bounds every WebDriver command.
		RequestTimeout time.Duration `yaml:"request_timeout"`
	} `yaml:"source"`

	Scan struct {
		ErrorSleep    time.Duration `yaml:"error_sleep"`
		StableTimeout time.Duration `yaml:"stable_timeout"`
		Settle        time.Duration `yaml:"settle"`
		StartSequence int           `yaml:"start_sequence"`
		EndSequence   int           `yaml:"end_sequence"`
	} `yaml:"scan"`

	Sink struct {
		JournalPath  string   `yaml:"journal_path"`
		PostgresDSN  string   `yaml:"postgres_dsn"`
		KafkaBrokers []string `yaml:"kafka_brokers"`
		KafkaTopic   string   `yaml:"kafka_topic"`
		// MirrorTimeout bounds each postgres or kafka mirror write.
		MirrorTimeout time.Duration `yaml:"mirror_timeout"`
	} `yaml:"sink"`

	Queue struct {
		RedisURL string `yaml:"redis_url"`
		Key      string `yaml:"key"`
		Seed     bool   `yaml:"seed"`
	} `yaml:"queue"`

	Snapshot struct {
		Path     string        `yaml:"path"`
		Interval time.Duration `yaml:"interval"`
		Keep     int           `yaml:"keep"`
	} `yaml:"snapshot"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"metrics"`

	GRPC struct {
		Enabled bool `yaml:"enabled"`
		Port    int  `yaml:"port"`
	} `yaml:"grpc"`

	Log struct {
		Dir   string `yaml:"dir"`
		Level string `yaml:"level"`
	} `yaml:"log"`
}

// DefaultConfig returns the values used for keys missing from the file.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Source.WebDriverURL = "http://localhost:9515"
	cfg.Source.Sessions = 1
	cfg.Source.RequestTimeout = webdriver.DefaultRequestTimeout
	cfg.Scan.ErrorSleep = scanner.DefaultErrorSleep
	cfg.Scan.StableTimeout = scanner.DefaultStableTimeout
	cfg.Scan.Settle = scanner.DefaultSettle
	cfg.Scan.EndSequence = types.SequenceSpace
	cfg.Sink.JournalPath = "data/results.wal"
	cfg.Sink.MirrorTimeout = sink.DefaultMirrorTimeout
	cfg.Queue.Key = redis.DefaultKey
	cfg.Queue.Seed = true
	cfg.Snapshot.Path = "data/progress.json"
	cfg.Snapshot.Interval = controller.DefaultSnapshotInterval
	cfg.Metrics.Port = 9090
	cfg.GRPC.Port = 50051
	cfg.Log.Dir = "logs"
	cfg.Log.Level = "info"
	return cfg
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	cfg.applyEnv()
	return cfg, nil
}

// applyEnv lets the environment override connection strings.
func (c *Config) applyEnv() {
	if v := os.Getenv(EnvPostgresDSN); v != "" {
		c.Sink.PostgresDSN = v
	}
	if v := os.Getenv(EnvRedisURL); v != "" {
		c.Queue.RedisURL = v
	}
	if v := os.Getenv(EnvWebDriverURL); v != "" {
		c.Source.WebDriverURL = v
	}
}

// Validate checks the settings a run depends on.
func (c *Config) Validate() error {
	var errs []error
	if c.Source.URL == "" {
		errs = append(errs, errors.New("source.url is required"))
	}
	if c.Source.Sessions < 1 {
		errs = append(errs, fmt.Errorf("source.sessions must be positive, got %d", c.Source.Sessions))
	}
	if c.Scan.StartSequence < 0 || c.Scan.EndSequence > types.SequenceSpace || c.Scan.StartSequence > c.Scan.EndSequence {
		errs = append(errs, fmt.Errorf("scan range [%d, %d) outside [0, %d)", c.Scan.StartSequence, c.Scan.EndSequence, types.SequenceSpace))
	}
	if c.Sink.JournalPath == "" {
		errs = append(errs, errors.New("sink.journal_path is required"))
	}
	if _, err := c.Departments(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// WebDriver returns the session settings for source.*.
func (c *Config) WebDriver(logger *slog.Logger) webdriver.Config {
	return webdriver.Config{
		WebDriverURL:   c.Source.WebDriverURL,
		SourceURL:      c.Source.URL,
		Headless:       c.Source.Headless,
		RequestTimeout: c.Source.RequestTimeout,
		Logger:         logger,
	}
}

// Departments parses source.departments.
func (c *Config) Departments() ([]types.DepartmentCode, error) {
	out := make([]types.DepartmentCode, 0, len(c.Source.Departments))
	for _, s := range c.Source.Departments {
		code := types.DepartmentCode(strings.ToUpper(strings.TrimSpace(s)))
		if err := code.Validate(); err != nil {
			return nil, fmt.Errorf("source.departments: %w", err)
		}
		out = append(out, code)
	}
	return out, nil
}
