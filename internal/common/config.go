package common

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Broker      BrokerConfig    `toml:"broker"`
	Auth        AuthConfig      `toml:"auth"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Workers     WorkersConfig   `toml:"workers"`
	Publisher   PublisherConfig `toml:"publisher"`
	WebSocket   WebSocketConfig `toml:"websocket"`
	Logging     LoggingConfig   `toml:"logging"`
	Seed        SeedConfig      `toml:"seed"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type BrokerConfig struct {
	PollInterval      string `toml:"poll_interval"`      // e.g. "1s" - how often workers poll for messages
	VisibilityTimeout string `toml:"visibility_timeout"` // e.g. "5m" - message visibility timeout for redelivery
	MaxReceive        int    `toml:"max_receive"`        // Max times a message can be received before it is dropped
	DefaultQueue      string `toml:"default_queue"`      // Queue used when no region is selected
}

type AuthConfig struct {
	JWTSecret        string `toml:"jwt_secret"`         // HS256 signing secret (FABRICA_JWT_SECRET)
	EncryptionKey    string `toml:"encryption_key"`     // 32-byte key for credential encryption at rest (FABRICA_ENCRYPTION_KEY)
	AccessTokenTTL   string `toml:"access_token_ttl"`   // e.g. "15m"
	RefreshTokenTTL  string `toml:"refresh_token_ttl"`  // e.g. "168h"
	SeedAdminUser    string `toml:"seed_admin_user"`    // Optional bootstrap admin email
	SeedAdminPass    string `toml:"seed_admin_pass"`    // Optional bootstrap admin password
	AllowTokenInURL  bool   `toml:"allow_token_in_url"` // WebSocket clients pass ?token=...
	BcryptCost       int    `toml:"bcrypt_cost"`
	RefreshRotation  bool   `toml:"refresh_rotation"`
	ClockSkewSeconds int    `toml:"clock_skew_seconds"`
}

type SchedulerConfig struct {
	TickInterval            string `toml:"tick_interval"`            // e.g. "30s"
	BatchSize               int    `toml:"batch_size"`               // Max jobs released/reconciled per tick
	ReconciliationThreshold string `toml:"reconciliation_threshold"` // Queued-age before re-dispatch, e.g. "2m"
	LogRetention            string `toml:"log_retention"`            // Retention for logs of terminal jobs, e.g. "720h"
}

type WorkersConfig struct {
	Embedded       bool     `toml:"embedded"`         // Run the worker processor inside the API process (Badger is single-process)
	Queues         []string `toml:"queues"`           // Queues this worker consumes (default queue is always included)
	MaxHostWorkers int      `toml:"max_host_workers"` // Bounded per-job host fan-out (default 20)
	DriverTimeout  string   `toml:"driver_timeout"`   // Default per-command device timeout, e.g. "30s"
	DriverRetries  int      `toml:"driver_retries"`   // Per-host transient retry count
}

type PublisherConfig struct {
	PollInterval   string `toml:"poll_interval"`   // Delivery table scan interval, e.g. "5s"
	MaxRetries     int    `toml:"max_retries"`     // Delivery attempts before giving up (default 3)
	RequestTimeout string `toml:"request_timeout"` // Webhook POST timeout (default "10s")
}

// WebSocketConfig contains configuration for WebSocket log streaming
type WebSocketConfig struct {
	ReplayLimit       int    `toml:"replay_limit"`       // Logs replayed on subscribe (default 100)
	KeepaliveInterval string `toml:"keepalive_interval"` // Ping interval, minimum 5s
	PollInterval      string `toml:"poll_interval"`      // Store poll interval for live tailing
	WriteTimeout      string `toml:"write_timeout"`      // Send-side timeout before dropping a subscriber
}

type LoggingConfig struct {
	Level      string   `toml:"level"`       // "debug", "info", "warn", "error"
	Output     []string `toml:"output"`      // "stdout", "file"
	TimeFormat string   `toml:"time_format"` // Time format for logs (default: "15:04:05.000")
}

// SeedConfig points at optional TOML seed files loaded on first boot
type SeedConfig struct {
	Dir string `toml:"dir"` // Directory containing seed files (customers.toml, devices.toml, ...)
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data",
			},
		},
		Broker: BrokerConfig{
			PollInterval:      "1s",
			VisibilityTimeout: "5m",
			MaxReceive:        3,
			DefaultQueue:      "fabrica_default",
		},
		Auth: AuthConfig{
			AccessTokenTTL:   "15m",
			RefreshTokenTTL:  "168h",
			AllowTokenInURL:  true,
			BcryptCost:       10,
			RefreshRotation:  true,
			ClockSkewSeconds: 30,
		},
		Scheduler: SchedulerConfig{
			TickInterval:            "30s",
			BatchSize:               50,
			ReconciliationThreshold: "2m",
			LogRetention:            "720h", // 30 days
		},
		Workers: WorkersConfig{
			Embedded:       true,
			Queues:         []string{},
			MaxHostWorkers: 20,
			DriverTimeout:  "30s",
			DriverRetries:  1,
		},
		Publisher: PublisherConfig{
			PollInterval:   "5s",
			MaxRetries:     3,
			RequestTimeout: "10s",
		},
		WebSocket: WebSocketConfig{
			ReplayLimit:       100,
			KeepaliveInterval: "30s",
			PollInterval:      "1s",
			WriteTimeout:      "10s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		Seed: SeedConfig{
			Dir: "",
		},
	}
}

// LoadFromFiles loads configuration from multiple files with priority:
// default -> file1 -> file2 -> ... -> env. Later files override earlier files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("FABRICA_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("FABRICA_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("FABRICA_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if badgerPath := os.Getenv("FABRICA_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	if pollInterval := os.Getenv("FABRICA_BROKER_POLL_INTERVAL"); pollInterval != "" {
		config.Broker.PollInterval = pollInterval
	}
	if visibilityTimeout := os.Getenv("FABRICA_BROKER_VISIBILITY_TIMEOUT"); visibilityTimeout != "" {
		config.Broker.VisibilityTimeout = visibilityTimeout
	}
	if maxReceive := os.Getenv("FABRICA_BROKER_MAX_RECEIVE"); maxReceive != "" {
		if mr, err := strconv.Atoi(maxReceive); err == nil {
			config.Broker.MaxReceive = mr
		}
	}
	if defaultQueue := os.Getenv("FABRICA_BROKER_DEFAULT_QUEUE"); defaultQueue != "" {
		config.Broker.DefaultQueue = defaultQueue
	}

	if secret := os.Getenv("FABRICA_JWT_SECRET"); secret != "" {
		config.Auth.JWTSecret = secret
	}
	if key := os.Getenv("FABRICA_ENCRYPTION_KEY"); key != "" {
		config.Auth.EncryptionKey = key
	}

	if tick := os.Getenv("FABRICA_SCHEDULER_TICK_INTERVAL"); tick != "" {
		config.Scheduler.TickInterval = tick
	}
	if batch := os.Getenv("FABRICA_SCHEDULER_BATCH_SIZE"); batch != "" {
		if b, err := strconv.Atoi(batch); err == nil {
			config.Scheduler.BatchSize = b
		}
	}

	if maxWorkers := os.Getenv("FABRICA_WORKERS_MAX_HOST_WORKERS"); maxWorkers != "" {
		if mw, err := strconv.Atoi(maxWorkers); err == nil {
			config.Workers.MaxHostWorkers = mw
		}
	}
	if timeout := os.Getenv("FABRICA_WORKERS_DRIVER_TIMEOUT"); timeout != "" {
		if _, err := time.ParseDuration(timeout); err == nil {
			config.Workers.DriverTimeout = timeout
		}
	}

	if level := os.Getenv("FABRICA_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}

	if seedDir := os.Getenv("FABRICA_SEED_DIR"); seedDir != "" {
		config.Seed.Dir = seedDir
	}
}

// ApplyFlagOverrides applies command-line flag overrides to config
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// ValidateSecrets checks that required secrets are present.
// Both processes refuse to start without them.
func (c *Config) ValidateSecrets() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("jwt signing secret is required (FABRICA_JWT_SECRET or auth.jwt_secret)")
	}
	if len(c.Auth.EncryptionKey) != 32 {
		return fmt.Errorf("encryption key must be exactly 32 bytes, got %d (FABRICA_ENCRYPTION_KEY or auth.encryption_key)", len(c.Auth.EncryptionKey))
	}
	return nil
}

// IsProduction returns true if the environment is set to production
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// Duration parses a duration string with a fallback default.
func Duration(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
