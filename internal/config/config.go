package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Client    ClientConfig    `yaml:"client"`
	Snapshot  SnapshotConfig  `yaml:"snapshot"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains server database settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ClientConfig contains settings for the offline-first sync client.
type ClientConfig struct {
	APIURL        string   `yaml:"api_url"`
	PushURL       string   `yaml:"push_url"`
	StorePath     string   `yaml:"store_path"`
	PageSize      int      `yaml:"page_size"`
	ProbeTimeout  Duration `yaml:"probe_timeout"`
	ProbeInterval Duration `yaml:"probe_interval"`
	SyncInterval  Duration `yaml:"sync_interval"`
	PushMinDelay  Duration `yaml:"push_min_delay"`
	PushMaxDelay  Duration `yaml:"push_max_delay"`
}

// SnapshotConfig contains catalog snapshot settings. An empty Bucket keeps
// snapshots local.
type SnapshotConfig struct {
	Interval  Duration `yaml:"interval"`
	Dir       string   `yaml:"dir"`
	Bucket    string   `yaml:"bucket"`
	Endpoint  string   `yaml:"endpoint"`
	Region    string   `yaml:"region"`
	UseSSL    *bool    `yaml:"use_ssl"`
	AccessKey string   `yaml:"-"` // env-only, never in YAML
	SecretKey string   `yaml:"-"` // env-only, never in YAML
}

// HeartbeatConfig contains push keepalive settings. A zero interval
// disables heartbeats.
type HeartbeatConfig struct {
	Interval Duration `yaml:"interval"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
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

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	// Determine config path
	configPath := getEnv("SHELFSYNC_CONFIG_PATH", "config/shelfsync.yaml")

	// Load YAML file if it exists (missing file is not an error)
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	// Load YAML file (file must exist for this function)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	useSSL := true
	return &Config{
		Server: ServerConfig{
			Port:            3001,
			ReadTimeout:     Duration(30 * time.Second),
			WriteTimeout:    Duration(30 * time.Second),
			ShutdownTimeout: Duration(15 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "data/shelfsync.db",
		},
		Client: ClientConfig{
			APIURL:        "http://localhost:3001/api",
			PushURL:       "ws://localhost:3001/ws",
			StorePath:     "data/shelfsync-client.db",
			PageSize:      10,
			ProbeTimeout:  Duration(5 * time.Second),
			ProbeInterval: Duration(10 * time.Second),
			SyncInterval:  Duration(60 * time.Second),
			PushMinDelay:  Duration(1 * time.Second),
			PushMaxDelay:  Duration(30 * time.Second),
		},
		Snapshot: SnapshotConfig{
			Interval: Duration(1 * time.Hour),
			Dir:      "data/snapshots",
			Region:   "us-east-1",
			UseSSL:   &useSSL,
		},
		Heartbeat: HeartbeatConfig{
			Interval: Duration(25 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // Missing config file is not an error
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// envOverrides applies SHELFSYNC_* variables in order, keeping the first
// parse error.
type envOverrides struct {
	err error
}

func (e *envOverrides) string(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func (e *envOverrides) int(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" || e.err != nil {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.err = fmt.Errorf("invalid %s %q: %w", key, v, err)
		return
	}
	*dst = n
}

func (e *envOverrides) duration(key string, dst *Duration) {
	v := os.Getenv(key)
	if v == "" || e.err != nil {
		return
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.err = fmt.Errorf("invalid %s %q: %w", key, v, err)
		return
	}
	*dst = Duration(d)
}

func (e *envOverrides) bool(key string, dst **bool) {
	v := os.Getenv(key)
	if v == "" || e.err != nil {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.err = fmt.Errorf("invalid %s %q: %w", key, v, err)
		return
	}
	*dst = &b
}

// applyEnvOverrides applies environment variable overrides to the config.
// Empty env vars do not override.
func applyEnvOverrides(cfg *Config) error {
	e := &envOverrides{}

	// Server
	e.int("SHELFSYNC_PORT", &cfg.Server.Port)
	e.duration("SHELFSYNC_READ_TIMEOUT", &cfg.Server.ReadTimeout)
	e.duration("SHELFSYNC_WRITE_TIMEOUT", &cfg.Server.WriteTimeout)
	e.duration("SHELFSYNC_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)

	// Database
	e.string("SHELFSYNC_DB_PATH", &cfg.Database.Path)

	// Client
	e.string("SHELFSYNC_API_URL", &cfg.Client.APIURL)
	e.string("SHELFSYNC_PUSH_URL", &cfg.Client.PushURL)
	e.string("SHELFSYNC_STORE_PATH", &cfg.Client.StorePath)
	e.int("SHELFSYNC_PAGE_SIZE", &cfg.Client.PageSize)
	e.duration("SHELFSYNC_PROBE_TIMEOUT", &cfg.Client.ProbeTimeout)
	e.duration("SHELFSYNC_PROBE_INTERVAL", &cfg.Client.ProbeInterval)
	e.duration("SHELFSYNC_SYNC_INTERVAL", &cfg.Client.SyncInterval)
	e.duration("SHELFSYNC_PUSH_MIN_DELAY", &cfg.Client.PushMinDelay)
	e.duration("SHELFSYNC_PUSH_MAX_DELAY", &cfg.Client.PushMaxDelay)

	// Snapshot
	e.duration("SHELFSYNC_SNAPSHOT_INTERVAL", &cfg.Snapshot.Interval)
	e.string("SHELFSYNC_SNAPSHOT_DIR", &cfg.Snapshot.Dir)
	e.string("SHELFSYNC_SNAPSHOT_BUCKET", &cfg.Snapshot.Bucket)
	e.string("SHELFSYNC_S3_ENDPOINT", &cfg.Snapshot.Endpoint)
	e.string("SHELFSYNC_S3_REGION", &cfg.Snapshot.Region)
	e.string("SHELFSYNC_S3_ACCESS_KEY", &cfg.Snapshot.AccessKey)
	e.string("SHELFSYNC_S3_SECRET_KEY", &cfg.Snapshot.SecretKey)
	e.bool("SHELFSYNC_S3_USE_SSL", &cfg.Snapshot.UseSSL)

	// Heartbeat
	e.duration("SHELFSYNC_HEARTBEAT_INTERVAL", &cfg.Heartbeat.Interval)

	// Log
	e.string("SHELFSYNC_LOG_LEVEL", &cfg.Log.Level)
	e.string("SHELFSYNC_LOG_FORMAT", &cfg.Log.Format)

	return e.err
}

// validate checks value ranges and cross-field constraints.
func (c *Config) validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Database.Path == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if c.Client.PageSize < 1 || c.Client.PageSize > 100 {
		errs = append(errs, fmt.Errorf("client.page_size must be between 1 and 100, got %d", c.Client.PageSize))
	}
	if c.Client.ProbeTimeout <= 0 {
		errs = append(errs, errors.New("client.probe_timeout must be positive"))
	}
	if c.Client.PushMinDelay <= 0 || c.Client.PushMaxDelay < c.Client.PushMinDelay {
		errs = append(errs, errors.New("client.push_max_delay must be at least client.push_min_delay, which must be positive"))
	}
	if c.Snapshot.Bucket != "" && c.Snapshot.Endpoint == "" {
		errs = append(errs, errors.New("snapshot.endpoint is required when snapshot.bucket is set"))
	}
	if c.Snapshot.Interval < 0 || c.Heartbeat.Interval < 0 {
		errs = append(errs, errors.New("snapshot and heartbeat intervals must not be negative"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of json, text", c.Log.Format))
	}

	return errors.Join(errs...)
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
