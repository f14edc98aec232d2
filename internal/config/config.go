// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// AppConfig holds all application configuration.
// It is instantiated by NewConfig() and passed to components that need it (dependency injection).
type AppConfig struct {
	Log       LogConfig       `mapstructure:"log"`
	Server    ServerConfig    `mapstructure:"server"`
	PubSub    PubSubConfig    `mapstructure:"pubsub"`
	Graph     GraphConfig     `mapstructure:"graph"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Runtime   RuntimeConfig   `mapstructure:"runtime"`
	BuildLogs BuildLogsConfig `mapstructure:"build_logs"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Tracing   TracingConfig   `mapstructure:"tracing"`
}

// LogConfig holds comprehensive logging configuration
type LogConfig struct {
	Level    string            `mapstructure:"level"`
	Format   string            `mapstructure:"format"`
	Output   []LogOutputConfig `mapstructure:"output"`
	Levels   map[string]string `mapstructure:"levels"`
	Context  LogContextConfig  `mapstructure:"context"`
	Sampling LogSamplingConfig `mapstructure:"sampling"`
}

// LogOutputConfig defines where logs are written
type LogOutputConfig struct {
	Type    string          `mapstructure:"type"` // "file", "console"
	Enabled bool            `mapstructure:"enabled"`
	Path    string          `mapstructure:"path"`   // For file output
	Rotate  LogRotateConfig `mapstructure:"rotate"` // For file output
}

// LogRotateConfig defines log rotation settings
type LogRotateConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// LogContextConfig defines what context to include in logs
type LogContextConfig struct {
	IncludeCaller    bool `mapstructure:"include_caller"`
	IncludeTimestamp bool `mapstructure:"include_timestamp"`
}

// LogSamplingConfig defines log sampling settings
type LogSamplingConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Initial    uint32        `mapstructure:"initial"`
	Thereafter uint32        `mapstructure:"thereafter"`
	Tick       time.Duration `mapstructure:"tick"`
}

// ServerConfig holds the HTTP shim configuration.
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"` // Empty = allow all (development); set for production
	MaxBodyBytes   int64    `mapstructure:"max_body_bytes"`
}

// PubSubConfig selects and configures the outbound transport.
type PubSubConfig struct {
	Transport string `mapstructure:"transport"` // "pubsub", "websocket" or "log"
	Project   string `mapstructure:"project"`
	Topic     string `mapstructure:"topic"`
	Endpoint  string `mapstructure:"endpoint"` // gRPC host:port override; empty uses the default service
}

// GraphConfig holds the goal query endpoint.
type GraphConfig struct {
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// DashboardConfig holds dashboard and log viewer URLs.
type DashboardConfig struct {
	URL      string `mapstructure:"url"`
	RolarURL string `mapstructure:"rolar_url"`
}

// StorageConfig holds the cache storage location.
type StorageConfig struct {
	Bucket    string `mapstructure:"bucket"`
	LocalPath string `mapstructure:"local_path"` // Used when no bucket is configured
}

// RuntimeConfig configures the automation runtime built on cold start.
type RuntimeConfig struct {
	Name        string         `mapstructure:"name"`
	Version     string         `mapstructure:"version"`
	SettingsDir string         `mapstructure:"settings_dir"` // Directory with *.yaml runtime settings
	GoalTimeout time.Duration  `mapstructure:"goal_timeout"`
	Temporal    TemporalConfig `mapstructure:"temporal"`
}

// TemporalConfig holds Temporal-related configuration.
type TemporalConfig struct {
	HostPort  string `mapstructure:"host_port"`
	Namespace string `mapstructure:"namespace"`
	TaskQueue string `mapstructure:"task_queue"`
}

// BuildLogsConfig selects how build logs are retrieved.
type BuildLogsConfig struct {
	Source         string        `mapstructure:"source"` // "gcloud", "docker" or "none"
	GCloudPath     string        `mapstructure:"gcloud_path"`
	Image          string        `mapstructure:"image"`
	DockerHost     string        `mapstructure:"docker_host"`
	CredentialsDir string        `mapstructure:"credentials_dir"`
	Timeout        time.Duration `mapstructure:"timeout"`
}

// DatabaseConfig holds the optional Postgres connection used for goal serialization.
type DatabaseConfig struct {
	DSN string `mapstructure:"dsn"` // Empty disables the Postgres ledger
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Endpoint    string  `mapstructure:"endpoint"` // OTLP/HTTP endpoint URL
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// envBindings maps config keys onto the plain environment variables the hosting
// platform provides.
var envBindings = map[string]string{
	"storage.bucket":      "STORAGE",
	"pubsub.topic":        "TOPIC",
	"pubsub.project":      "GOOGLE_CLOUD_PROJECT",
	"graph.endpoint":      "ATOMIST_GRAPHQL_ENDPOINT",
	"dashboard.url":       "ATOMIST_DASHBOARD_URL",
	"dashboard.rolar_url": "ATOMIST_ROLAR_URL",
	"server.port":         "PORT",
}

// NewConfig creates a new AppConfig by reading from a file, environment variables,
// and applying defaults.
func NewConfig(configPath string) (*AppConfig, error) {
	cfg := defaultConfig()

	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/goalbridge/")
	}

	v.SetEnvPrefix("GOALBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, env := range envBindings {
		if err := v.BindEnv(key, "GOALBRIDGE_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	// Read the config file. It's okay if it doesn't exist.
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !(configPath != "" && errors.Is(err, os.ErrNotExist)) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// defaultConfig returns an AppConfig with default values.
func defaultConfig() AppConfig {
	return AppConfig{
		Log: LogConfig{
			Level:  "DEBUG",
			Format: "json",
			Output: []LogOutputConfig{
				{
					Type:    "console",
					Enabled: true,
				},
			},
			Levels: map[string]string{
				"bridge":    "DEBUG",
				"runtime":   "DEBUG",
				"publisher": "INFO",
				"goals":     "DEBUG",
				"api":       "INFO",
				"temporal":  "WARN",
				"database":  "INFO",
			},
			Context: LogContextConfig{
				IncludeTimestamp: true,
			},
			Sampling: LogSamplingConfig{
				Initial:    100,
				Thereafter: 100,
				Tick:       time.Second,
			},
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			MaxBodyBytes: 10 << 20,
		},
		PubSub: PubSubConfig{
			Transport: "pubsub",
		},
		Graph: GraphConfig{
			Endpoint: "https://automation.atomist.com/graphql/team",
			Timeout:  30 * time.Second,
		},
		Dashboard: DashboardConfig{
			URL:      "https://app.atomist.com",
			RolarURL: "https://rolar.atomist.com",
		},
		Storage: StorageConfig{
			LocalPath: "/tmp/sdm",
		},
		Runtime: RuntimeConfig{
			Name:        "@atomist/sdm",
			Version:     "0.0.0",
			SettingsDir: ".",
			GoalTimeout: 20 * time.Minute,
			Temporal: TemporalConfig{
				HostPort:  "localhost:7233",
				Namespace: "default",
				TaskQueue: "sdm-handlers",
			},
		},
		BuildLogs: BuildLogsConfig{
			Source:     "gcloud",
			GCloudPath: "gcloud",
			Image:      "gcr.io/google.com/cloudsdktool/google-cloud-cli:slim",
			Timeout:    2 * time.Minute,
		},
		Tracing: TracingConfig{
			ServiceName: "goalbridge",
			SampleRatio: 1.0,
		},
	}
}

// normalize cleans up values that arrive in platform-specific shapes.
func (c *AppConfig) normalize() {
	c.Storage.Bucket = NormalizeBucket(c.Storage.Bucket)
	if c.Runtime.SettingsDir != "" {
		c.Runtime.SettingsDir = expandPath(c.Runtime.SettingsDir)
	}
	if c.BuildLogs.CredentialsDir != "" {
		c.BuildLogs.CredentialsDir = expandPath(c.BuildLogs.CredentialsDir)
	}
	if c.Storage.LocalPath != "" {
		c.Storage.LocalPath = expandPath(c.Storage.LocalPath)
	}
}

// NormalizeBucket lower-cases a bucket reference and strips any gs:// scheme.
func NormalizeBucket(bucket string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(bucket)), "gs://", "")
}

// expandPath expands ~ to home directory and environment variables
func expandPath(path string) string {
	if path == "" {
		return path
	}

	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[1:])
		}
	}

	return os.ExpandEnv(path)
}

// validate checks if the configuration is valid.
func (c *AppConfig) validate() error {
	validLogLevels := map[string]bool{
		"TRACE": true, "DEBUG": true, "INFO": true, "WARN": true, "ERROR": true, "FATAL": true, "PANIC": true,
	}
	if !validLogLevels[strings.ToUpper(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.PubSub.Transport {
	case "pubsub":
		// Topic may be injected per deployment; checked when the transport is built.
	case "websocket", "log":
	default:
		return fmt.Errorf("pubsub.transport must be 'pubsub', 'websocket' or 'log', got: %s", c.PubSub.Transport)
	}

	switch c.BuildLogs.Source {
	case "gcloud", "docker", "none":
	default:
		return fmt.Errorf("build_logs.source must be 'gcloud', 'docker' or 'none', got: %s", c.BuildLogs.Source)
	}

	if c.Graph.Endpoint == "" {
		return errors.New("graph.endpoint is required")
	}

	if c.Runtime.GoalTimeout <= 0 {
		return errors.New("runtime.goal_timeout must be positive")
	}

	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing.sample_ratio must be within [0,1], got: %v", c.Tracing.SampleRatio)
	}

	return nil
}

// CachePath returns the local cache directory used when no bucket is configured.
func (s StorageConfig) CachePath() string {
	if s.Bucket != "" {
		return ""
	}
	if s.LocalPath == "" {
		return "/tmp/sdm"
	}
	return s.LocalPath
}
