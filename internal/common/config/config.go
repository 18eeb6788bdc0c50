// Package config provides configuration management for the workstream coordinator.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the coordinator service.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Coordinator CoordinatorConfig `mapstructure:"coordinator"`
	Worktree    WorktreeConfig    `mapstructure:"worktree"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Audit       AuditConfig       `mapstructure:"audit"`
	Events      EventsConfig      `mapstructure:"events"`
}

// ServerConfig holds HTTP/WebSocket bridge server configuration (C5).
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// CoordinatorConfig holds the core inputs to the workstream coordinator (§6).
type CoordinatorConfig struct {
	// ServerBaseURL is the base URL of the remote agent transport endpoint.
	ServerBaseURL string `mapstructure:"serverBaseUrl"`
	// RepoPath is the root of the source repository workstreams operate on.
	RepoPath string `mapstructure:"repoPath"`
	// UseWorktrees controls whether each workstream gets an isolated working copy.
	UseWorktrees bool `mapstructure:"useWorktrees"`
}

// WorktreeConfig holds Git working-copy configuration (C3).
type WorktreeConfig struct {
	BasePath     string `mapstructure:"basePath"`     // directory name nested under the repo root, default .goose-worktrees
	BranchPrefix string `mapstructure:"branchPrefix"` // default goose/
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// AuditConfig holds the optional durable audit-log sink configuration.
// The audit log is write-only: the coordinator never reads it back to
// reconstruct workstream state.
type AuditConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
}

// EventsConfig holds optional external event-bus configuration.
type EventsConfig struct {
	// NatsURL empty means no external bus; events fan out only to in-process observers.
	NatsURL       string `mapstructure:"natsUrl"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("WORKSTREAM_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("coordinator.serverBaseUrl", "")
	v.SetDefault("coordinator.repoPath", ".")
	v.SetDefault("coordinator.useWorktrees", true)

	v.SetDefault("worktree.basePath", ".goose-worktrees")
	v.SetDefault("worktree.branchPrefix", "goose/")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("audit.enabled", false)
	v.SetDefault("audit.host", "localhost")
	v.SetDefault("audit.port", 5432)
	v.SetDefault("audit.user", "coordinator")
	v.SetDefault("audit.dbName", "coordinator_audit")
	v.SetDefault("audit.sslMode", "disable")
	v.SetDefault("audit.maxConns", 10)

	// Events defaults - empty URL means use in-process-only fan-out
	v.SetDefault("events.natsUrl", "")
	v.SetDefault("events.clientId", "workstream-coordinator")
	v.SetDefault("events.maxReconnects", 10)
}

// Load reads configuration from default locations (working directory, /etc/workstream-coordinator/)
// plus environment variables prefixed WORKSTREAM_, falling back to built-in defaults.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("WORKSTREAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("logging.level", "WORKSTREAM_LOG_LEVEL")
	_ = v.BindEnv("coordinator.serverBaseUrl", "WORKSTREAM_SERVER_BASE_URL")
	_ = v.BindEnv("coordinator.repoPath", "WORKSTREAM_REPO_PATH")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/workstream-coordinator/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that required configuration fields hold sane values.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Audit.Enabled {
		if cfg.Audit.Port <= 0 || cfg.Audit.Port > 65535 {
			errs = append(errs, "audit.port must be between 1 and 65535")
		}
		if cfg.Audit.DBName == "" {
			errs = append(errs, "audit.dbName is required when audit.enabled is true")
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN returns the PostgreSQL connection string for the audit sink.
func (a *AuditConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		a.Host, a.Port, a.User, a.Password, a.DBName, a.SSLMode,
	)
}

// ExpandedWorktreeBase joins the worktree base-path name under the given repo root.
func (w *WorktreeConfig) ExpandedWorktreeBase(repoRoot string) string {
	return filepath.Join(repoRoot, w.BasePath)
}
