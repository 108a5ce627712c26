package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all quillhub configuration.
type Config struct {
	// Core settings
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	BaseURL     string `yaml:"base_url"` // public URL used in feeds, sitemaps and emails

	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Content   ContentConfig   `yaml:"content"`
	Mailer    MailerConfig    `yaml:"mailer"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr         string `yaml:"addr"`
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
	SessionTTL   string `yaml:"session_ttl"`
}

// StorageConfig configures the database and search index locations.
type StorageConfig struct {
	DataDir      string `yaml:"data_dir"`
	DatabasePath string `yaml:"database_path"` // defaults to <data_dir>/quillhub.db
	IndexPath    string `yaml:"index_path"`    // defaults to <data_dir>/bleve

	// How long to wait for another process to release the index.
	IndexLockTimeout string `yaml:"index_lock_timeout"`
}

// CacheConfig configures the in-process TTL cache.
type CacheConfig struct {
	DefaultTTL    string `yaml:"default_ttl"`
	StatsTTL      string `yaml:"stats_ttl"`
	SweepInterval string `yaml:"sweep_interval"`
}

// RateLimitConfig configures per-client request limits.
type RateLimitConfig struct {
	Enabled bool `yaml:"enabled"`
	// Requests per minute for mutating endpoints (comments, subscribe, login, views)
	PerMinute int `yaml:"per_minute"`
	Burst     int `yaml:"burst"`

	// Reverse proxies (IPs or CIDRs) whose X-Forwarded-For header is believed.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// ContentConfig configures editorial behaviour.
type ContentConfig struct {
	PageSize        int    `yaml:"page_size"`
	LockTTL         string `yaml:"lock_ttl"`
	MaxRevisions    int    `yaml:"max_revisions"`
	AutoApprove     bool   `yaml:"auto_approve_comments"`
	UndoDepth       int    `yaml:"undo_depth"`
	UsernameRetries int    `yaml:"username_retries"`
}

// MailerConfig configures newsletter delivery.
type MailerConfig struct {
	Provider string `yaml:"provider"` // "log" or "http"
	Endpoint string `yaml:"endpoint"`
	Token    string `yaml:"token"`
	From     string `yaml:"from"`
	Timeout  string `yaml:"timeout"`
}

// JobsConfig configures the background worker.
type JobsConfig struct {
	Interval    string `yaml:"interval"`
	Concurrency int    `yaml:"concurrency"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
	JSON  bool   `yaml:"json"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:        "quillhub",
		Description: "Stories, guides and picks from our authors",
		BaseURL:     "http://localhost:6893",
		Server: ServerConfig{
			Addr:         "localhost:6893",
			ReadTimeout:  "15s",
			WriteTimeout: "30s",
			SessionTTL:   "720h",
		},
		Storage: StorageConfig{
			DataDir:          "./data",
			IndexLockTimeout: "2s",
		},
		Cache: CacheConfig{
			DefaultTTL:    "5m",
			StatsTTL:      "5m",
			SweepInterval: "1m",
		},
		RateLimit: RateLimitConfig{
			Enabled:   true,
			PerMinute: 30,
			Burst:     10,
		},
		Content: ContentConfig{
			PageSize:        10,
			LockTTL:         "15m",
			MaxRevisions:    50,
			AutoApprove:     false,
			UndoDepth:       20,
			UsernameRetries: 5,
		},
		Mailer: MailerConfig{
			Provider: "log",
			From:     "newsletter@localhost",
			Timeout:  "30s",
		},
		Jobs: JobsConfig{
			Interval:    "1m",
			Concurrency: 5,
		},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  true,
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("QUILLHUB_DATA_DIR"); dir != "" {
		c.Storage.DataDir = dir
	}
	if path := os.Getenv("QUILLHUB_DB"); path != "" {
		c.Storage.DatabasePath = path
	}
	if addr := os.Getenv("QUILLHUB_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
	if url := os.Getenv("QUILLHUB_BASE_URL"); url != "" {
		c.BaseURL = url
	}
	if token := os.Getenv("QUILLHUB_MAILER_TOKEN"); token != "" {
		c.Mailer.Token = token
	}
}

// Validate checks the configuration for values the server cannot run with.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base_url is required")
	}
	if c.Storage.DataDir == "" && c.Storage.DatabasePath == "" {
		return fmt.Errorf("storage.data_dir or storage.database_path is required")
	}
	switch c.Mailer.Provider {
	case "log":
	case "http":
		if c.Mailer.Endpoint == "" {
			return fmt.Errorf("mailer.endpoint is required for the http provider")
		}
	default:
		return fmt.Errorf("unsupported mailer provider: %s (supported: log, http)", c.Mailer.Provider)
	}
	if c.Content.PageSize <= 0 || c.Content.PageSize > 100 {
		return fmt.Errorf("content.page_size must be between 1 and 100")
	}
	if c.Jobs.Concurrency <= 0 {
		return fmt.Errorf("jobs.concurrency must be positive")
	}
	return nil
}

// DatabasePath returns the SQLite file path.
func (c *Config) DatabasePath() string {
	if c.Storage.DatabasePath != "" {
		return c.Storage.DatabasePath
	}
	return filepath.Join(c.Storage.DataDir, "quillhub.db")
}

// IndexPath returns the bleve index directory.
func (c *Config) IndexPath() string {
	if c.Storage.IndexPath != "" {
		return c.Storage.IndexPath
	}
	return filepath.Join(c.Storage.DataDir, "bleve")
}

func (c *Config) CacheTTL() time.Duration {
	return parseDuration(c.Cache.DefaultTTL, 5*time.Minute)
}

func (c *Config) StatsTTL() time.Duration {
	return parseDuration(c.Cache.StatsTTL, 5*time.Minute)
}

func (c *Config) SweepInterval() time.Duration {
	return parseDuration(c.Cache.SweepInterval, time.Minute)
}

func (c *Config) IndexLockTimeout() time.Duration {
	return parseDuration(c.Storage.IndexLockTimeout, 2*time.Second)
}

func (c *Config) LockTTL() time.Duration {
	return parseDuration(c.Content.LockTTL, 15*time.Minute)
}

func (c *Config) SessionTTL() time.Duration {
	return parseDuration(c.Server.SessionTTL, 30*24*time.Hour)
}

func (c *Config) ReadTimeout() time.Duration {
	return parseDuration(c.Server.ReadTimeout, 15*time.Second)
}

func (c *Config) WriteTimeout() time.Duration {
	return parseDuration(c.Server.WriteTimeout, 30*time.Second)
}

func (c *Config) MailerTimeout() time.Duration {
	return parseDuration(c.Mailer.Timeout, 30*time.Second)
}

func (c *Config) JobInterval() time.Duration {
	return parseDuration(c.Jobs.Interval, time.Minute)
}

// parseDuration parses s, returning fallback when s is empty or invalid.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
