package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	return path
}

const validConfig = `
server:
  bind_address: "127.0.0.1"
  port: 9090
  send_timeout_ms: 500
  max_message_kb: 32

audio:
  sample_rate: 16000
  channels: 1
  bytes_per_sample: 2
  block_duration_ms: 40
  flush_interval_ms: 5
  self_filter: false

jitter:
  history_size: 3
  tiers:
    - max_latency_ms: 50
      min_ms: 40
      max_ms: 120
    - max_latency_ms: 0
      min_ms: 60
      max_ms: 180

logging:
  level: "debug"
  format: "json"
  output: "stderr"
`

func TestLoadValidConfig(t *testing.T) {
	path := writeConfigFile(t, validConfig)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load valid config: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Audio.SelfFilter {
		t.Error("Expected self_filter disabled")
	}
	if cfg.Jitter.HistorySize != 3 {
		t.Errorf("Expected history size 3, got %d", cfg.Jitter.HistorySize)
	}
	if len(cfg.Jitter.Tiers) != 2 {
		t.Errorf("Expected 2 jitter tiers, got %d", len(cfg.Jitter.Tiers))
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Expected debug level, got %s", cfg.Logging.Level)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfigFile(t, "server: [not a mapping")

	if _, err := Load(path); err == nil {
		t.Error("Expected error for malformed YAML")
	}
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default configuration failed validation: %v", err)
	}
}

func TestValidationFailures(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port too low", func(c *Config) { c.Server.Port = 0 }},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }},
		{"empty bind address", func(c *Config) { c.Server.BindAddress = "" }},
		{"zero send timeout", func(c *Config) { c.Server.SendTimeoutMs = 0 }},
		{"low sample rate", func(c *Config) { c.Audio.SampleRate = 4000 }},
		{"three channels", func(c *Config) { c.Audio.Channels = 3 }},
		{"wrong sample width", func(c *Config) { c.Audio.BytesPerSample = 1 }},
		{"zero block duration", func(c *Config) { c.Audio.BlockDurationMs = 0 }},
		{"zero flush interval", func(c *Config) { c.Audio.FlushIntervalMs = 0 }},
		{"zero history size", func(c *Config) { c.Jitter.HistorySize = 0 }},
		{"no tiers", func(c *Config) { c.Jitter.Tiers = nil }},
		{"degenerate window", func(c *Config) {
			c.Jitter.Tiers = []JitterTier{{MaxLatencyMs: 0, MinMs: 100, MaxMs: 100}}
		}},
		{"no fallback tier", func(c *Config) {
			c.Jitter.Tiers = []JitterTier{{MaxLatencyMs: 100, MinMs: 80, MaxMs: 250}}
		}},
		{"fallback not last", func(c *Config) {
			c.Jitter.Tiers = []JitterTier{
				{MaxLatencyMs: 0, MinMs: 120, MaxMs: 350},
				{MaxLatencyMs: 100, MinMs: 80, MaxMs: 250},
			}
		}},
		{"non-increasing tiers", func(c *Config) {
			c.Jitter.Tiers = []JitterTier{
				{MaxLatencyMs: 200, MinMs: 80, MaxMs: 250},
				{MaxLatencyMs: 100, MinMs: 100, MaxMs: 300},
				{MaxLatencyMs: 0, MinMs: 120, MaxMs: 350},
			}
		}},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("Expected validation error for %s", tt.name)
			}
		})
	}
}

func TestDerivedValues(t *testing.T) {
	cfg := Default()

	// 48000 Hz x 2 channels x 2 bytes = 192 bytes per millisecond.
	if got := cfg.Audio.BytesPerMillisecond(); got != 192 {
		t.Errorf("Expected 192 bytes/ms, got %d", got)
	}

	// 20 ms blocks at 192 bytes/ms.
	if got := cfg.Audio.BlockSizeBytes(); got != 3840 {
		t.Errorf("Expected 3840-byte blocks, got %d", got)
	}

	if got := cfg.Audio.GetFlushInterval(); got != 10*time.Millisecond {
		t.Errorf("Expected 10ms flush interval, got %v", got)
	}

	if got := cfg.Server.GetSendTimeout(); got != time.Second {
		t.Errorf("Expected 1s send timeout, got %v", got)
	}

	if got := cfg.Server.MaxMessageBytes(); got != 64*1024 {
		t.Errorf("Expected 64KB message limit, got %d", got)
	}
}

func TestPartialFileKeepsDefaults(t *testing.T) {
	path := writeConfigFile(t, "server:\n  port: 9999\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load partial config: %v", err)
	}

	if cfg.Server.Port != 9999 {
		t.Errorf("Expected overridden port 9999, got %d", cfg.Server.Port)
	}
	if cfg.Audio.SampleRate != 48000 {
		t.Errorf("Expected default sample rate, got %d", cfg.Audio.SampleRate)
	}
	if cfg.Jitter.HistorySize != 5 {
		t.Errorf("Expected default history size, got %d", cfg.Jitter.HistorySize)
	}
}
