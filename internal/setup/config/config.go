package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

var (
	ErrConfigFileNotFound    = errors.New("could not find config file in any config path")
	ErrConfigVersionMissing  = errors.New("config file is missing version field")
	ErrConfigVersionMismatch = errors.New("config file version mismatch")
	ErrInvalidBackend        = errors.New("unknown cache backend")
)

// RepositoryVersion is the repository version tag for config file references.
const RepositoryVersion = "v0.1.0"

// CurrentVersion is the current version of the config file.
const CurrentVersion = 1

// FileName is the name of the config file looked up in every search path.
const FileName = "governor.toml"

// Cache backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Config represents the entire application configuration.
type Config struct {
	// Version of the config file.
	Version        int            `koanf:"version"`
	Debug          Debug          `koanf:"debug"`
	Queue          Queue          `koanf:"queue"`
	Cache          Cache          `koanf:"cache"`
	ProfileService ProfileService `koanf:"profile_service"`
	CircuitBreaker CircuitBreaker `koanf:"circuit_breaker"`
	Retry          Retry          `koanf:"retry"`
	Redis          Redis          `koanf:"redis"`
	PostgreSQL     PostgreSQL     `koanf:"postgresql"`
	SQLite         SQLite         `koanf:"sqlite"`
}

// Debug contains debug-related configuration.
type Debug struct {
	// Log level (debug, info, warn, error).
	LogLevel string `koanf:"log_level"`
	// Maximum log sessions to keep.
	MaxLogsToKeep int `koanf:"max_logs_to_keep"`
	// Maximum lines per log file.
	MaxLogLines int `koanf:"max_log_lines"`
	// Report queue state to Redis while running.
	ReportStatus bool `koanf:"report_status"`
}

// Queue contains the pacing policy of the request queue.
type Queue struct {
	// Dispatches allowed per rolling window.
	MaxPerWindow int `koanf:"max_per_window"`
	// Rolling window length in milliseconds.
	Window int `koanf:"window"`
	// Minimum time between dispatches in milliseconds.
	MinInterval int `koanf:"min_interval"`
	// Admission re-check interval in milliseconds.
	PollInterval int `koanf:"poll_interval"`
	// Pause after each completed request in milliseconds.
	RequestDelay int `koanf:"request_delay"`
	// Timeout of a single request in milliseconds (0 disables).
	ItemTimeout int `koanf:"item_timeout"`
}

// Cache contains the snapshot cache configuration.
type Cache struct {
	// Snapshot store (memory, redis, postgres, sqlite).
	Backend string `koanf:"backend"`
	// Age in hours at which a snapshot is refetched.
	StalenessHours int `koanf:"staleness_hours"`
	// Share one network call between concurrent identical resolutions.
	Coalesce bool `koanf:"coalesce"`
	// Concurrent resolutions in batch mode.
	BatchConcurrency int `koanf:"batch_concurrency"`
	// Key prefix for the redis backend.
	KeyPrefix string `koanf:"key_prefix"`
}

// ProfileService contains the profile-data service configuration.
type ProfileService struct {
	// Base URL of the service API.
	BaseURL string `koanf:"base_url"`
	// API key sent as a bearer token.
	APIKey string `koanf:"api_key"`
	// HTTP request timeout in milliseconds.
	RequestTimeout int `koanf:"request_timeout"`
	// User agent sent with every request.
	UserAgent string `koanf:"user_agent"`
}

// CircuitBreaker contains circuit breaker configuration of the profile-data client.
type CircuitBreaker struct {
	// Maximum number of requests allowed to pass through when the circuit is half-open.
	MaxRequests uint32 `koanf:"max_requests"`
	// The cyclic period of the closed state for the circuit breaker to clear the internal counts.
	Interval int `koanf:"interval"`
	// The period of the open state after which the state of the circuit breaker becomes half-open.
	Timeout int `koanf:"timeout"`
	// Consecutive failures that open the circuit (0 never opens it).
	FailureThreshold uint32 `koanf:"failure_threshold"`
}

// Retry contains caller-side retry configuration.
type Retry struct {
	// Maximum retry attempts of a failed full fetch.
	MaxRetries uint64 `koanf:"max_retries"`
}

// Redis contains Redis connection configuration.
type Redis struct {
	// Redis hostname.
	Host string `koanf:"host"`
	// Redis port.
	Port int `koanf:"port"`
	// Redis username.
	Username string `koanf:"username"`
	// Redis password.
	Password string `koanf:"password"`
	// Disable client-side caching (required by servers without CLIENT TRACKING).
	DisableCache bool `koanf:"disable_cache"`
}

// PostgreSQL contains database connection configuration.
type PostgreSQL struct {
	// Database hostname.
	Host string `koanf:"host"`
	// Database port.
	Port int `koanf:"port"`
	// Database username.
	User string `koanf:"user"`
	// Database password.
	Password string `koanf:"password"`
	// Database name.
	DBName string `koanf:"db_name"`
	// Maximum open connections.
	MaxOpenConns int `koanf:"max_open_conns"`
	// Maximum idle connections.
	MaxIdleConns int `koanf:"max_idle_conns"`
	// Connection lifetime in minutes.
	MaxLifetime int `koanf:"max_lifetime"`
	// Idle timeout in minutes.
	MaxIdleTime int `koanf:"max_idle_time"`
	// Apply pending migrations on startup.
	AutoMigrate bool `koanf:"auto_migrate"`
}

// SQLite contains the local snapshot database configuration.
type SQLite struct {
	// Path of the database file.
	Path string `koanf:"path"`
}

// Default returns the configuration used for every value the config file leaves out.
func Default() *Config {
	return &Config{
		Version: CurrentVersion,
		Debug: Debug{
			LogLevel:      "info",
			MaxLogsToKeep: 10,
			MaxLogLines:   10000,
		},
		Queue: Queue{
			MaxPerWindow: 10,
			Window:       60000,
			MinInterval:  3000,
			PollInterval: 250,
			RequestDelay: 0,
			ItemTimeout:  30000,
		},
		Cache: Cache{
			Backend:          BackendMemory,
			StalenessHours:   7 * 24,
			Coalesce:         false,
			BatchConcurrency: 4,
			KeyPrefix:        "profilegov:snapshot:",
		},
		ProfileService: ProfileService{
			RequestTimeout: 20000,
			UserAgent:      "profilegov/" + RepositoryVersion,
		},
		CircuitBreaker: CircuitBreaker{
			MaxRequests:      1,
			Interval:         60000,
			Timeout:          30000,
			FailureThreshold: 5,
		},
		Retry: Retry{
			MaxRetries: 2,
		},
		Redis: Redis{
			Host: "localhost",
			Port: 6379,
		},
		PostgreSQL: PostgreSQL{
			Host:         "localhost",
			Port:         5432,
			User:         "postgres",
			DBName:       "profilegov",
			MaxOpenConns: 10,
			MaxIdleConns: 5,
			MaxLifetime:  30,
			MaxIdleTime:  5,
		},
		SQLite: SQLite{
			Path: "profilegov.db",
		},
	}
}

// SearchPaths returns the directories searched for the config file, in order.
func SearchPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	return []string{
		".profilegov",
		homeDir + "/.profilegov/config",
		"/etc/profilegov/config",
		"/app/config",
		"config",
		".",
	}, nil
}

// LoadConfig loads the configuration from the first search path holding a config file.
// Returns the config along with the used config directory.
func LoadConfig() (*Config, string, error) {
	paths, err := SearchPaths()
	if err != nil {
		return nil, "", err
	}

	return LoadConfigFrom(paths...)
}

// LoadConfigFrom loads the configuration from the first of the given directories holding a config file.
func LoadConfigFrom(paths ...string) (*Config, string, error) {
	k := koanf.New(".")

	var usedConfigPath string

	for _, path := range paths {
		configPath := filepath.Join(path, FileName)
		if err := k.Load(file.Provider(configPath), toml.Parser()); err == nil {
			usedConfigPath = path
			break
		}
	}

	if usedConfigPath == "" {
		return nil, "", fmt.Errorf("%w: %s", ErrConfigFileNotFound, FileName)
	}

	// Values missing from the file keep their defaults
	config := Default()
	config.Version = 0

	if err := k.Unmarshal("", config); err != nil {
		return nil, "", fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := checkConfigVersion(config.Version, CurrentVersion); err != nil {
		return nil, "", err
	}

	if err := config.Validate(); err != nil {
		return nil, "", err
	}

	return config, usedConfigPath, nil
}

// Validate checks values that have no sensible fallback.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case BackendMemory, BackendRedis, BackendPostgres, BackendSQLite:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidBackend, c.Cache.Backend)
	}

	return nil
}

// checkConfigVersion checks if the config file version is correct.
func checkConfigVersion(current, expected int) error {
	if current == 0 {
		return fmt.Errorf("%w: %s", ErrConfigVersionMissing, FileName)
	}

	if current != expected {
		return fmt.Errorf(
			"%w: %s (got: %d, expected: %d)\n"+
				"Please update your config file from: https://github.com/robalyx/profilegov/tree/%s/config/%s",
			ErrConfigVersionMismatch,
			FileName,
			current,
			expected,
			RepositoryVersion,
			FileName,
		)
	}

	return nil
}

// StalenessThreshold returns the snapshot staleness threshold.
func (c Cache) StalenessThreshold() time.Duration {
	return time.Duration(c.StalenessHours) * time.Hour
}

// Timeout returns the HTTP request timeout of the profile-data service.
func (p ProfileService) Timeout() time.Duration {
	return time.Duration(p.RequestTimeout) * time.Millisecond
}
