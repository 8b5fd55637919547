package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Audio   AudioConfig   `yaml:"audio"`
	Jitter  JitterConfig  `yaml:"jitter"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig contains the HTTP/WebSocket listener configuration
type ServerConfig struct {
	BindAddress   string `yaml:"bind_address"`
	Port          int    `yaml:"port"`
	SendTimeoutMs int    `yaml:"send_timeout_ms"` // per-speaker write deadline
	MaxMessageKB  int    `yaml:"max_message_kb"`  // inbound frame size limit
}

// AudioConfig contains the PCM format and relay timing parameters
type AudioConfig struct {
	SampleRate      int  `yaml:"sample_rate"`
	Channels        int  `yaml:"channels"`
	BytesPerSample  int  `yaml:"bytes_per_sample"`
	BlockDurationMs int  `yaml:"block_duration_ms"` // target broadcast block duration
	FlushIntervalMs int  `yaml:"flush_interval_ms"` // flush scheduler tick
	SelfFilter      bool `yaml:"self_filter"`       // drop audio to speakers sharing a mic clientId
}

// JitterConfig contains the jitter window estimation parameters
type JitterConfig struct {
	HistorySize int          `yaml:"history_size"`
	Tiers       []JitterTier `yaml:"tiers"`
}

// JitterTier maps a buffered-latency band to an advisory playout window.
// The tier applies when latency is below MaxLatencyMs; a tier with
// MaxLatencyMs == 0 is the unbounded fallback and must come last.
type JitterTier struct {
	MaxLatencyMs int `yaml:"max_latency_ms"`
	MinMs        int `yaml:"min_ms"`
	MaxMs        int `yaml:"max_ms"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a configuration with the stock stereo capture format
// and the standard jitter table.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			BindAddress:   "0.0.0.0",
			Port:          8080,
			SendTimeoutMs: 1000,
			MaxMessageKB:  64,
		},
		Audio: AudioConfig{
			SampleRate:      48000,
			Channels:        2,
			BytesPerSample:  2,
			BlockDurationMs: 20,
			FlushIntervalMs: 10,
			SelfFilter:      true,
		},
		Jitter: JitterConfig{
			HistorySize: 5,
			Tiers: []JitterTier{
				{MaxLatencyMs: 100, MinMs: 80, MaxMs: 250},
				{MaxLatencyMs: 200, MinMs: 100, MaxMs: 300},
				{MaxLatencyMs: 0, MinMs: 120, MaxMs: 350},
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
	}
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Jitter.Validate(); err != nil {
		return fmt.Errorf("jitter config: %w", err)
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

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.SendTimeoutMs < 1 {
		return fmt.Errorf("send_timeout_ms must be at least 1, got %d", s.SendTimeoutMs)
	}

	if s.MaxMessageKB < 1 {
		return fmt.Errorf("max_message_kb must be at least 1, got %d", s.MaxMessageKB)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate < 8000 {
		return fmt.Errorf("sample_rate must be at least 8000 Hz, got %d", a.SampleRate)
	}

	if a.Channels < 1 || a.Channels > 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", a.Channels)
	}

	if a.BytesPerSample != 2 {
		return fmt.Errorf("bytes_per_sample must be 2 (16-bit PCM), got %d", a.BytesPerSample)
	}

	if a.BlockDurationMs < 1 {
		return fmt.Errorf("block_duration_ms must be at least 1, got %d", a.BlockDurationMs)
	}

	if a.FlushIntervalMs < 1 {
		return fmt.Errorf("flush_interval_ms must be at least 1, got %d", a.FlushIntervalMs)
	}

	return nil
}

// Validate validates jitter estimation configuration
func (j *JitterConfig) Validate() error {
	if j.HistorySize < 1 {
		return fmt.Errorf("history_size must be at least 1, got %d", j.HistorySize)
	}

	if len(j.Tiers) == 0 {
		return fmt.Errorf("tiers cannot be empty")
	}

	prev := 0
	for i, tier := range j.Tiers {
		if tier.MinMs <= 0 || tier.MaxMs <= tier.MinMs {
			return fmt.Errorf("tier %d: window must satisfy 0 < min_ms < max_ms, got (%d,%d)",
				i, tier.MinMs, tier.MaxMs)
		}

		if tier.MaxLatencyMs == 0 {
			if i != len(j.Tiers)-1 {
				return fmt.Errorf("tier %d: unbounded tier (max_latency_ms 0) must be last", i)
			}
			continue
		}

		if tier.MaxLatencyMs <= prev {
			return fmt.Errorf("tier %d: max_latency_ms must be strictly increasing, got %d after %d",
				i, tier.MaxLatencyMs, prev)
		}
		prev = tier.MaxLatencyMs
	}

	last := j.Tiers[len(j.Tiers)-1]
	if last.MaxLatencyMs != 0 {
		return fmt.Errorf("last tier must be the unbounded fallback (max_latency_ms 0), got %d",
			last.MaxLatencyMs)
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

// BytesPerMillisecond returns how many buffered bytes correspond to one
// millisecond of audio in the configured capture format.
func (a *AudioConfig) BytesPerMillisecond() int {
	return a.SampleRate * a.Channels * a.BytesPerSample / 1000
}

// BlockSizeBytes returns the broadcast block size, floored to whole bytes.
func (a *AudioConfig) BlockSizeBytes() int {
	return a.BlockDurationMs * a.BytesPerMillisecond()
}

// GetFlushInterval returns the flush scheduler tick as a time.Duration
func (a *AudioConfig) GetFlushInterval() time.Duration {
	return time.Duration(a.FlushIntervalMs) * time.Millisecond
}

// GetSendTimeout returns the per-speaker write deadline as a time.Duration
func (s *ServerConfig) GetSendTimeout() time.Duration {
	return time.Duration(s.SendTimeoutMs) * time.Millisecond
}

// MaxMessageBytes returns the inbound frame size limit in bytes
func (s *ServerConfig) MaxMessageBytes() int64 {
	return int64(s.MaxMessageKB) * 1024
}
