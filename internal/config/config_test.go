package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validConfig returns a configuration that passes validation, for use as a
// base in the table tests below.
func validConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:          8000,
			Address:       "0.0.0.0",
			UploadDir:     "/tmp/ser-uploads",
			MaxUploadSize: 10 << 20,
		},
		Queue: QueueConfig{
			MaxRecentResults: 100,
			StopTimeout:      5,
		},
		Session: SessionConfig{
			GapThreshold: 60,
		},
		Aggregation: AggregationConfig{
			Window:      300,
			MinWindow:   60,
			MaxWindow:   3600,
			LogPath:     "data/ser_results/aggregated.jsonl",
			MaxRecent:   1000,
			StopTimeout: 5,
		},
		Inference: InferenceConfig{
			Endpoint:      "http://localhost:9000/analyze",
			APIKey:        "test-key",
			Timeout:       300,
			MaxRetries:    3,
			MaxConcurrent: 1,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			DSN:    "data/ser.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		errorMsg string // empty means the config must validate
	}{
		{
			name:   "valid configuration",
			mutate: func(c *Config) {},
		},
		{
			name:     "invalid server port",
			mutate:   func(c *Config) { c.Server.Port = 70000 },
			errorMsg: "port must be between 1 and 65535",
		},
		{
			name:     "empty upload dir",
			mutate:   func(c *Config) { c.Server.UploadDir = "" },
			errorMsg: "upload_dir cannot be empty",
		},
		{
			name:     "zero recent results",
			mutate:   func(c *Config) { c.Queue.MaxRecentResults = 0 },
			errorMsg: "max_recent_results must be at least 1",
		},
		{
			name:     "zero gap threshold",
			mutate:   func(c *Config) { c.Session.GapThreshold = 0 },
			errorMsg: "gap_threshold must be at least 1 second",
		},
		{
			name:     "aggregation window below minimum",
			mutate:   func(c *Config) { c.Aggregation.Window = 30 },
			errorMsg: "window must be between 60 and 3600 seconds",
		},
		{
			name:     "max window not above min window",
			mutate:   func(c *Config) { c.Aggregation.MaxWindow = 60 },
			errorMsg: "must be greater than min_window",
		},
		{
			name:     "empty aggregation log path",
			mutate:   func(c *Config) { c.Aggregation.LogPath = "" },
			errorMsg: "log_path cannot be empty",
		},
		{
			name:     "empty inference endpoint",
			mutate:   func(c *Config) { c.Inference.Endpoint = "" },
			errorMsg: "endpoint cannot be empty",
		},
		{
			name:     "negative inference retries",
			mutate:   func(c *Config) { c.Inference.MaxRetries = -1 },
			errorMsg: "max_retries cannot be negative",
		},
		{
			name:     "unsupported storage driver",
			mutate:   func(c *Config) { c.Storage.Driver = "mysql" },
			errorMsg: "driver must be 'sqlite' or 'postgres'",
		},
		{
			name:     "invalid log level",
			mutate:   func(c *Config) { c.Logging.Level = "trace" },
			errorMsg: "level must be one of",
		},
		{
			name:     "invalid log format",
			mutate:   func(c *Config) { c.Logging.Format = "xml" },
			errorMsg: "format must be 'json' or 'text'",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := validConfig()
			tt.mutate(&config)

			err := config.Validate()
			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("Expected valid config but got error: %v", err)
				}
				return
			}

			if err == nil {
				t.Errorf("Expected error containing '%s' but got none", tt.errorMsg)
			} else if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	tempDir := t.TempDir()

	tests := []struct {
		name        string
		configYAML  string
		expectError bool
		errorMsg    string
	}{
		{
			name: "valid configuration file",
			configYAML: `
server:
  port: 8000
  address: "0.0.0.0"
  upload_dir: "/tmp/ser-uploads"
  max_upload_size: 10485760
queue:
  max_recent_results: 100
  stop_timeout: 5
session:
  gap_threshold: 60
aggregation:
  window: 300
  min_window: 60
  max_window: 3600
  log_path: "data/ser_results/aggregated.jsonl"
  max_recent: 1000
  stop_timeout: 5
inference:
  endpoint: "http://localhost:9000/analyze"
  api_key: "test-key"
  timeout: 300
  max_retries: 3
  max_concurrent: 1
storage:
  driver: "sqlite"
  dsn: "data/ser.db"
logging:
  level: "info"
  format: "json"
  output: "stdout"
`,
			expectError: false,
		},
		{
			name: "invalid YAML syntax",
			configYAML: `
server:
  port: not_a_number
`,
			expectError: true,
			errorMsg:    "failed to parse",
		},
		{
			name: "missing required fields",
			configYAML: `
server:
  port: 8000
`,
			expectError: true,
			errorMsg:    "address cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.configYAML), 0644); err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)

			if tt.expectError {
				if err == nil {
					t.Errorf("Expected error but got none")
				} else if tt.errorMsg != "" && !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				} else if config == nil {
					t.Errorf("Expected config to be loaded but got nil")
				}
			}
		})
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Errorf("Expected error for nonexistent file but got none")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading file, got: %v", err)
	}
}

func TestDurationHelpers(t *testing.T) {
	queue := QueueConfig{StopTimeout: 5}
	if queue.GetStopTimeoutDuration() != 5*time.Second {
		t.Errorf("Expected 5 seconds, got %v", queue.GetStopTimeoutDuration())
	}

	session := SessionConfig{GapThreshold: 60}
	if session.GetGapThresholdDuration() != 60*time.Second {
		t.Errorf("Expected 60 seconds, got %v", session.GetGapThresholdDuration())
	}

	agg := AggregationConfig{Window: 300, MinWindow: 60, MaxWindow: 3600, StopTimeout: 5}
	if agg.GetWindowDuration() != 300*time.Second {
		t.Errorf("Expected 300 seconds, got %v", agg.GetWindowDuration())
	}
	if agg.GetMinWindowDuration() != 60*time.Second {
		t.Errorf("Expected 60 seconds, got %v", agg.GetMinWindowDuration())
	}
	if agg.GetMaxWindowDuration() != 3600*time.Second {
		t.Errorf("Expected 3600 seconds, got %v", agg.GetMaxWindowDuration())
	}

	inference := InferenceConfig{Timeout: 300}
	if inference.GetTimeoutDuration() != 300*time.Second {
		t.Errorf("Expected 300 seconds, got %v", inference.GetTimeoutDuration())
	}
}
