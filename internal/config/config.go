package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Queue       QueueConfig       `yaml:"queue"`
	Session     SessionConfig     `yaml:"session"`
	Aggregation AggregationConfig `yaml:"aggregation"`
	Inference   InferenceConfig   `yaml:"inference"`
	Storage     StorageConfig     `yaml:"storage"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig contains HTTP API server configuration
type ServerConfig struct {
	Port          int    `yaml:"port"`
	Address       string `yaml:"address"`
	UploadDir     string `yaml:"upload_dir"`      // directory for temporary audio uploads
	MaxUploadSize int64  `yaml:"max_upload_size"` // bytes
}

// QueueConfig contains job queue and worker configuration
type QueueConfig struct {
	MaxRecentResults int `yaml:"max_recent_results"` // retained completed jobs
	StopTimeout      int `yaml:"stop_timeout"`       // seconds to wait for the worker on shutdown
}

// SessionConfig contains session tracking configuration
type SessionConfig struct {
	GapThreshold int `yaml:"gap_threshold"` // seconds of inactivity that open a new session
}

// AggregationConfig contains periodic aggregation configuration
type AggregationConfig struct {
	Window      int    `yaml:"window"`       // seconds, initial aggregation interval
	MinWindow   int    `yaml:"min_window"`   // seconds, lower bound for dynamic updates
	MaxWindow   int    `yaml:"max_window"`   // seconds, upper bound for dynamic updates
	LogPath     string `yaml:"log_path"`     // append-only JSONL log of aggregated results
	MaxRecent   int    `yaml:"max_recent"`   // in-memory aggregates retained for the dashboard
	StopTimeout int    `yaml:"stop_timeout"` // seconds to wait for the aggregator on shutdown
}

// InferenceConfig contains inference pipeline API configuration
type InferenceConfig struct {
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Timeout       int    `yaml:"timeout"` // seconds; must exceed one-time model load time
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
}

// StorageConfig contains result persistence configuration
type StorageConfig struct {
	Driver string `yaml:"driver"` // "sqlite" or "postgres"
	DSN    string `yaml:"dsn"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Queue.Validate(); err != nil {
		return fmt.Errorf("queue config: %w", err)
	}

	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("session config: %w", err)
	}

	if err := c.Aggregation.Validate(); err != nil {
		return fmt.Errorf("aggregation config: %w", err)
	}

	if err := c.Inference.Validate(); err != nil {
		return fmt.Errorf("inference config: %w", err)
	}

	if err := c.Storage.Validate(); err != nil {
		return fmt.Errorf("storage config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}

	if s.Address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if s.UploadDir == "" {
		return fmt.Errorf("upload_dir cannot be empty")
	}

	if s.MaxUploadSize < 1024 {
		return fmt.Errorf("max_upload_size must be at least 1024 bytes, got %d", s.MaxUploadSize)
	}

	return nil
}

// Validate validates queue configuration
func (q *QueueConfig) Validate() error {
	if q.MaxRecentResults < 1 {
		return fmt.Errorf("max_recent_results must be at least 1, got %d", q.MaxRecentResults)
	}

	if q.StopTimeout < 1 {
		return fmt.Errorf("stop_timeout must be at least 1 second, got %d", q.StopTimeout)
	}

	return nil
}

// Validate validates session configuration
func (s *SessionConfig) Validate() error {
	if s.GapThreshold < 1 {
		return fmt.Errorf("gap_threshold must be at least 1 second, got %d", s.GapThreshold)
	}

	return nil
}

// Validate validates aggregation configuration
func (a *AggregationConfig) Validate() error {
	if a.MinWindow < 1 {
		return fmt.Errorf("min_window must be at least 1 second, got %d", a.MinWindow)
	}

	if a.MaxWindow <= a.MinWindow {
		return fmt.Errorf("max_window (%d) must be greater than min_window (%d)", a.MaxWindow, a.MinWindow)
	}

	if a.Window < a.MinWindow || a.Window > a.MaxWindow {
		return fmt.Errorf("window must be between %d and %d seconds, got %d", a.MinWindow, a.MaxWindow, a.Window)
	}

	if a.LogPath == "" {
		return fmt.Errorf("log_path cannot be empty")
	}

	if a.MaxRecent < 1 {
		return fmt.Errorf("max_recent must be at least 1, got %d", a.MaxRecent)
	}

	if a.StopTimeout < 1 {
		return fmt.Errorf("stop_timeout must be at least 1 second, got %d", a.StopTimeout)
	}

	return nil
}

// Validate validates inference configuration
func (i *InferenceConfig) Validate() error {
	if i.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if i.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", i.Timeout)
	}

	if i.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", i.MaxRetries)
	}

	if i.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", i.MaxConcurrent)
	}

	return nil
}

// Validate validates storage configuration
func (s *StorageConfig) Validate() error {
	validDrivers := map[string]bool{"sqlite": true, "postgres": true}
	if !validDrivers[s.Driver] {
		return fmt.Errorf("driver must be 'sqlite' or 'postgres', got '%s'", s.Driver)
	}

	if s.DSN == "" {
		return fmt.Errorf("dsn cannot be empty")
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetStopTimeoutDuration returns the worker stop timeout as a time.Duration
func (q *QueueConfig) GetStopTimeoutDuration() time.Duration {
	return time.Duration(q.StopTimeout) * time.Second
}

// GetGapThresholdDuration returns the session gap threshold as a time.Duration
func (s *SessionConfig) GetGapThresholdDuration() time.Duration {
	return time.Duration(s.GapThreshold) * time.Second
}

// GetWindowDuration returns the aggregation window as a time.Duration
func (a *AggregationConfig) GetWindowDuration() time.Duration {
	return time.Duration(a.Window) * time.Second
}

// GetMinWindowDuration returns the minimum aggregation window as a time.Duration
func (a *AggregationConfig) GetMinWindowDuration() time.Duration {
	return time.Duration(a.MinWindow) * time.Second
}

// GetMaxWindowDuration returns the maximum aggregation window as a time.Duration
func (a *AggregationConfig) GetMaxWindowDuration() time.Duration {
	return time.Duration(a.MaxWindow) * time.Second
}

// GetStopTimeoutDuration returns the aggregator stop timeout as a time.Duration
func (a *AggregationConfig) GetStopTimeoutDuration() time.Duration {
	return time.Duration(a.StopTimeout) * time.Second
}

// GetTimeoutDuration returns the inference timeout as a time.Duration
func (i *InferenceConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(i.Timeout) * time.Second
}
