package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.famguard/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`
	UserID         string `toml:"user_id"`

	Remote Remote `toml:"remote"`
	Engine Engine `toml:"engine"`
}

// Remote configures the Firestore project and cloud function endpoint.
// An empty ProjectID selects the in-memory store (local development).
type Remote struct {
	ProjectID        string `toml:"project_id"`
	CredentialsFile  string `toml:"credentials_file"`
	FunctionsBaseURL string `toml:"functions_base_url"`
}

// Engine holds timing and retry knobs for the sync engine. Zero values are
// replaced with defaults on load.
type Engine struct {
	ProbeHosts        []string `toml:"probe_hosts"`
	ProbeIntervalSec  int      `toml:"probe_interval_sec"`
	ProbeTimeoutSec   int      `toml:"probe_timeout_sec"`
	HeartbeatSec      int      `toml:"heartbeat_sec"`
	PresenceWindowSec int      `toml:"presence_window_sec"`
	TypingTTLSec      int      `toml:"typing_ttl_sec"`
	SweepIntervalSec  int      `toml:"sweep_interval_sec"`
	RetryBaseSec      int      `toml:"retry_base_sec"`
	RetryCapSec       int      `toml:"retry_cap_sec"`
	MaxRetries        int      `toml:"max_retries"`
	ConflictAttempts  int      `toml:"conflict_attempts"`
}

// Default probe hosts: lightweight 204 endpoints, tried in order.
var defaultProbeHosts = []string{
	"https://clients3.google.com/generate_204",
	"https://www.gstatic.com/generate_204",
	"https://connectivitycheck.gstatic.com/generate_204",
}

// Load reads config from the given path and applies defaults.
// Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Default returns a config with all defaults applied.
func Default() *Config {
	cfg := &Config{DefaultProfile: "default"}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero-valued engine settings.
func (c *Config) ApplyDefaults() {
	if c.DefaultProfile == "" {
		c.DefaultProfile = "default"
	}
	e := &c.Engine
	if len(e.ProbeHosts) == 0 {
		e.ProbeHosts = append([]string(nil), defaultProbeHosts...)
	}
	if e.ProbeIntervalSec <= 0 {
		e.ProbeIntervalSec = 60
	}
	if e.ProbeTimeoutSec <= 0 {
		e.ProbeTimeoutSec = 3
	}
	if e.HeartbeatSec <= 0 {
		e.HeartbeatSec = 30
	}
	if e.PresenceWindowSec <= 0 {
		e.PresenceWindowSec = 120
	}
	if e.TypingTTLSec <= 0 {
		e.TypingTTLSec = 10
	}
	if e.SweepIntervalSec <= 0 {
		e.SweepIntervalSec = 120
	}
	if e.RetryBaseSec <= 0 {
		e.RetryBaseSec = 30
	}
	if e.RetryCapSec <= 0 {
		e.RetryCapSec = 600
	}
	if e.MaxRetries <= 0 {
		e.MaxRetries = 8
	}
	if e.ConflictAttempts <= 0 {
		e.ConflictAttempts = 3
	}
}

// Durations converted from the integer-second fields.

func (e Engine) ProbeInterval() time.Duration { return time.Duration(e.ProbeIntervalSec) * time.Second }

func (e Engine) ProbeTimeout() time.Duration { return time.Duration(e.ProbeTimeoutSec) * time.Second }

func (e Engine) Heartbeat() time.Duration { return time.Duration(e.HeartbeatSec) * time.Second }

func (e Engine) PresenceWindow() time.Duration {
	return time.Duration(e.PresenceWindowSec) * time.Second
}

func (e Engine) TypingTTL() time.Duration { return time.Duration(e.TypingTTLSec) * time.Second }

func (e Engine) SweepInterval() time.Duration { return time.Duration(e.SweepIntervalSec) * time.Second }

func (e Engine) RetryBase() time.Duration { return time.Duration(e.RetryBaseSec) * time.Second }

func (e Engine) RetryCap() time.Duration { return time.Duration(e.RetryCapSec) * time.Second }
