// Package config loads service configuration from defaults, an optional
// YAML file, .env files and environment variables, in that order of
// increasing priority.
package config

import (
	"time"

	"github.com/shehryarbajwa/renderpool/internal/logger"
	"github.com/shehryarbajwa/renderpool/internal/storage"
)

// Browser drivers
const (
	DriverLocal  = "local"
	DriverDocker = "docker"
)

// Storage drivers
const (
	StorageNone       = "none"
	StorageFilesystem = "filesystem"
	StorageMinio      = "minio"
)

// Config is the full service configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    logger.Config    `yaml:"logging"`
	Browser    BrowserConfig    `yaml:"browser"`
	Pool       PoolConfig       `yaml:"pool"`
	Navigation NavigationConfig `yaml:"navigation"`
	Extraction ExtractionConfig `yaml:"extraction"`
	Storage    StorageConfig    `yaml:"storage"`
	Credits    map[string]int   `yaml:"credits"`
	RateLimit  RateLimitConfig  `yaml:"rate_limit"`
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"SERVER_ADDR"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
}

// BrowserConfig selects and tunes the browser launcher
type BrowserConfig struct {
	Driver      string `yaml:"driver" env:"BROWSER_DRIVER"`
	Bin         string `yaml:"bin" env:"BROWSER_BIN"`
	Headless    bool   `yaml:"headless" env:"BROWSER_HEADLESS"`
	NoSandbox   bool   `yaml:"no_sandbox" env:"BROWSER_NO_SANDBOX"`
	UserAgent   string `yaml:"user_agent" env:"BROWSER_USER_AGENT"`
	DockerImage string `yaml:"docker_image" env:"BROWSER_DOCKER_IMAGE"`
	DockerHost  string `yaml:"docker_host" env:"BROWSER_DOCKER_HOST"`
}

// PoolConfig sizes the session pool
type PoolConfig struct {
	MaxSessions     int           `yaml:"max_sessions" env:"POOL_MAX_SESSIONS"`
	SessionLifetime time.Duration `yaml:"session_lifetime" env:"POOL_SESSION_LIFETIME"`
	MaxIdle         time.Duration `yaml:"max_idle" env:"POOL_MAX_IDLE"`
	ReclaimInterval time.Duration `yaml:"reclaim_interval" env:"POOL_RECLAIM_INTERVAL"`
	HealthInterval  time.Duration `yaml:"health_interval" env:"POOL_HEALTH_INTERVAL"`
	QueueTimeout    time.Duration `yaml:"queue_timeout" env:"POOL_QUEUE_TIMEOUT"`
	LaunchTimeout   time.Duration `yaml:"launch_timeout" env:"POOL_LAUNCH_TIMEOUT"`
	LaunchRetries   int           `yaml:"launch_retries" env:"POOL_LAUNCH_RETRIES"`
	WarmSessions    int           `yaml:"warm_sessions" env:"POOL_WARM_SESSIONS"`
}

// NavigationConfig holds the retry budget and per-operation load settings
type NavigationConfig struct {
	Retries    int                            `yaml:"retries" env:"NAVIGATION_RETRIES"`
	Operations map[string]OperationNavigation `yaml:"operations"`
}

// OperationNavigation tunes one operation. Zero fields keep the defaults.
type OperationNavigation struct {
	Timeout   time.Duration `yaml:"timeout"`
	WaitUntil string        `yaml:"wait_until"`
	Block     []string      `yaml:"block"`
}

// ExtractionConfig bounds individual jobs
type ExtractionConfig struct {
	JobTimeout  time.Duration `yaml:"job_timeout" env:"EXTRACTION_JOB_TIMEOUT"`
	MaxWaitTime time.Duration `yaml:"max_wait_time" env:"EXTRACTION_MAX_WAIT_TIME"`
}

// StorageConfig selects the artifact store
type StorageConfig struct {
	Driver string              `yaml:"driver" env:"STORAGE_DRIVER"`
	Path   string              `yaml:"path" env:"STORAGE_PATH"`
	Minio  storage.MinioConfig `yaml:"minio"`
}

// RateLimitConfig limits each caller
type RateLimitConfig struct {
	RequestsPerHour int `yaml:"requests_per_hour" env:"RATE_LIMIT_PER_HOUR"`
	Burst           int `yaml:"burst" env:"RATE_LIMIT_BURST"`
	Concurrency     int `yaml:"concurrency" env:"RATE_LIMIT_CONCURRENCY"`
}

// Default returns the production defaults
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    2 * time.Minute,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Logging: logger.Config{Level: "info"},
		Browser: BrowserConfig{
			Driver:      DriverLocal,
			Headless:    true,
			NoSandbox:   true,
			DockerImage: "browserless/chrome:latest",
		},
		Pool: PoolConfig{
			MaxSessions:     10,
			SessionLifetime: 8*time.Minute + 30*time.Second,
			MaxIdle:         time.Hour,
			ReclaimInterval: time.Hour,
			HealthInterval:  3 * time.Minute,
			QueueTimeout:    30 * time.Second,
			LaunchTimeout:   10 * time.Second,
			LaunchRetries:   2,
		},
		Navigation: NavigationConfig{Retries: 2},
		Extraction: ExtractionConfig{
			JobTimeout:  90 * time.Second,
			MaxWaitTime: 5 * time.Second,
		},
		Storage: StorageConfig{
			Driver: StorageNone,
			Path:   "./data/artifacts",
			Minio:  storage.MinioConfig{Endpoint: "localhost:9000", Bucket: "renderpool-artifacts"},
		},
		RateLimit: RateLimitConfig{
			RequestsPerHour: 100,
			Burst:           10,
			Concurrency:     5,
		},
	}
}
