// Package config provides configuration management for vidsift using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment variable overrides.
const EnvPrefix = "VIDSIFT"

// Default configuration values.
const (
	defaultServerPort      = 8080
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 10
	defaultConnMaxIdleTime = 30 * time.Minute
	defaultMaxRetries      = 3
	defaultReportRetries   = 2
)

// Worker driver names.
const (
	DriverRemote = "remote"
	DriverDryRun = "dryrun"
)

// Job store backends.
const (
	JobStoreSQL   = "sql"
	JobStoreRedis = "redis"
)

// Config holds all configuration for the application.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	JobStore     JobStoreConfig     `mapstructure:"jobstore"`
	Storage      StorageConfig      `mapstructure:"storage"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	Reports      ReportsConfig      `mapstructure:"reports"`
	Credentials  CredentialsConfig  `mapstructure:"credentials"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// StorageConfig holds file storage configuration.
type StorageConfig struct {
	BaseDir    string `mapstructure:"base_dir"`
	ReportsDir string `mapstructure:"reports_dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`  // debug, info, warn, error
	Format     string `mapstructure:"format"` // json, text
	AddSource  bool   `mapstructure:"add_source"`
	TimeFormat string `mapstructure:"time_format"`
	// RedactFields lists attribute names whose values are masked in log output.
	RedactFields []string `mapstructure:"redact_fields"`
}

// OrchestratorConfig holds the timing and retry knobs for automation runs.
type OrchestratorConfig struct {
	MaxSegmentDuration Duration `mapstructure:"max_segment_duration"`
	TaskTimeout        Duration `mapstructure:"task_timeout"`
	MeasureTimeout     Duration `mapstructure:"measure_timeout"`
	MaxRetries         int      `mapstructure:"max_retries"`
	RetryBaseDelay     Duration `mapstructure:"retry_base_delay"`
	RetryMaxDelay      Duration `mapstructure:"retry_max_delay"`
	InterSegmentDelay  Duration `mapstructure:"inter_segment_delay"`
	InterVideoDelay    Duration `mapstructure:"inter_video_delay"`
	PausePollInterval  Duration `mapstructure:"pause_poll_interval"`
	StaleAfter         Duration `mapstructure:"stale_after"`
}

// WorkerConfig holds worker context configuration.
type WorkerConfig struct {
	Driver            string   `mapstructure:"driver"`     // remote, dryrun
	EntryURL          string   `mapstructure:"entry_url"`  // page each context is opened at
	DriverURL         string   `mapstructure:"driver_url"` // base URL of the rendering sidecar
	ReadyTimeout      Duration `mapstructure:"ready_timeout"`
	ReadyPollInterval Duration `mapstructure:"ready_poll_interval"`
	SettleDelay       Duration `mapstructure:"settle_delay"`
	RequestTimeout    Duration `mapstructure:"request_timeout"`
}

// ReportsConfig controls where segment reports are delivered.
type ReportsConfig struct {
	BackendURL    string   `mapstructure:"backend_url"` // empty disables backend submission
	Timeout       Duration `mapstructure:"timeout"`
	RetryAttempts int      `mapstructure:"retry_attempts"`
	WriteFiles    bool     `mapstructure:"write_files"`
	StoreDatabase bool     `mapstructure:"store_database"`
}

// JobStoreConfig selects where run state, the queue and outcomes live.
// Reports always stay in the database.
type JobStoreConfig struct {
	Backend       string `mapstructure:"backend"` // sql, redis
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db"`
	RedisPrefix   string `mapstructure:"redis_prefix"`
}

// CredentialsConfig holds the source of the backend bearer token.
type CredentialsConfig struct {
	Token            string   `mapstructure:"token"`
	TokenFile        string   `mapstructure:"token_file"`
	RefreshThreshold Duration `mapstructure:"refresh_threshold"`
	WatchFile        bool     `mapstructure:"watch_file"` // reload token_file as soon as it changes
}

// SchedulerConfig holds cron expressions for maintenance jobs.
type SchedulerConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	TokenRefresh string `mapstructure:"token_refresh"`
	StaleSweep   string `mapstructure:"stale_sweep"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with VIDSIFT_ and use underscores for nesting.
// Example: VIDSIFT_ORCHESTRATOR_MAX_RETRIES=5.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/vidsift")
		v.AddConfigPath("$HOME/.vidsift")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	return Unmarshal(v)
}

// Unmarshal decodes and validates a populated viper instance.
func Unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(DecodeHook())); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// DecodeHook returns the mapstructure hooks needed for vidsift's config types.
// Duration values go through TextUnmarshaler so "2d" and "45 minutes" work.
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.TextUnmarshallerHookFunc(),
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// SetDefaults configures default values for all configuration options.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "vidsift.db")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Storage defaults
	v.SetDefault("storage.base_dir", "./data")
	v.SetDefault("storage.reports_dir", "reports")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
	v.SetDefault("logging.redact_fields", []string{"token", "access_token", "refresh_token", "authorization", "api_key", "password"})

	// Orchestrator defaults. A 45 minute segment keeps each analysis task
	// inside the external tool's input limits; 12 minutes covers its slowest
	// observed responses.
	v.SetDefault("orchestrator.max_segment_duration", "45m")
	v.SetDefault("orchestrator.task_timeout", "12m")
	v.SetDefault("orchestrator.measure_timeout", "60s")
	v.SetDefault("orchestrator.max_retries", defaultMaxRetries)
	v.SetDefault("orchestrator.retry_base_delay", "2s")
	v.SetDefault("orchestrator.retry_max_delay", "5m")
	v.SetDefault("orchestrator.inter_segment_delay", "2s")
	v.SetDefault("orchestrator.inter_video_delay", "3s")
	v.SetDefault("orchestrator.pause_poll_interval", "1s")
	v.SetDefault("orchestrator.stale_after", "1h")

	// Worker defaults
	v.SetDefault("worker.driver", DriverRemote)
	v.SetDefault("worker.entry_url", "https://aistudio.google.com/prompts/new_chat")
	v.SetDefault("worker.driver_url", "http://127.0.0.1:9223")
	v.SetDefault("worker.ready_timeout", "30s")
	v.SetDefault("worker.ready_poll_interval", "1s")
	v.SetDefault("worker.settle_delay", "2s")
	v.SetDefault("worker.request_timeout", "30s")

	// Reports defaults
	v.SetDefault("reports.backend_url", "")
	v.SetDefault("reports.timeout", "30s")
	v.SetDefault("reports.retry_attempts", defaultReportRetries)
	v.SetDefault("reports.write_files", true)
	v.SetDefault("reports.store_database", true)

	// Credentials defaults
	v.SetDefault("jobstore.backend", JobStoreSQL)
	v.SetDefault("jobstore.redis_addr", "localhost:6379")
	v.SetDefault("jobstore.redis_password", "")
	v.SetDefault("jobstore.redis_db", 0)
	v.SetDefault("jobstore.redis_prefix", "vidsift:")

	v.SetDefault("credentials.token", "")
	v.SetDefault("credentials.token_file", "")
	v.SetDefault("credentials.refresh_threshold", "5m")
	v.SetDefault("credentials.watch_file", true)

	// Scheduler defaults (standard 5-field cron)
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.token_refresh", "*/10 * * * *")
	v.SetDefault("scheduler.stale_sweep", "*/15 * * * *")
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}

	switch c.JobStore.Backend {
	case JobStoreSQL:
	case JobStoreRedis:
		if c.JobStore.RedisAddr == "" {
			return fmt.Errorf("jobstore.redis_addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("jobstore.backend must be one of: %s, %s", JobStoreSQL, JobStoreRedis)
	}

	if c.Storage.BaseDir == "" {
		return fmt.Errorf("storage.base_dir is required")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if err := c.Orchestrator.Validate(); err != nil {
		return err
	}

	switch c.Worker.Driver {
	case DriverRemote:
		if c.Worker.DriverURL == "" {
			return fmt.Errorf("worker.driver_url is required for the remote driver")
		}
	case DriverDryRun:
	default:
		return fmt.Errorf("worker.driver must be one of: %s, %s", DriverRemote, DriverDryRun)
	}
	if c.Worker.ReadyPollInterval <= 0 {
		return fmt.Errorf("worker.ready_poll_interval must be positive")
	}

	if c.Reports.RetryAttempts < 0 {
		return fmt.Errorf("reports.retry_attempts must not be negative")
	}

	return nil
}

// Validate checks orchestrator settings.
func (c *OrchestratorConfig) Validate() error {
	if c.MaxRetries < 1 {
		return fmt.Errorf("orchestrator.max_retries must be at least 1")
	}
	if c.TaskTimeout <= 0 {
		return fmt.Errorf("orchestrator.task_timeout must be positive")
	}
	if c.MeasureTimeout <= 0 {
		return fmt.Errorf("orchestrator.measure_timeout must be positive")
	}
	if c.MaxSegmentDuration < 0 {
		return fmt.Errorf("orchestrator.max_segment_duration must not be negative")
	}
	if c.PausePollInterval <= 0 {
		return fmt.Errorf("orchestrator.pause_poll_interval must be positive")
	}
	if c.StaleAfter <= 0 {
		return fmt.Errorf("orchestrator.stale_after must be positive")
	}
	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ReportsPath returns the full path to the report output directory.
func (c *StorageConfig) ReportsPath() string {
	if filepath.IsAbs(c.ReportsDir) {
		return c.ReportsDir
	}
	return filepath.Join(c.BaseDir, c.ReportsDir)
}
