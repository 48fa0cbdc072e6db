// Package config is claspd's declarative configuration surface (spec §6):
// a JSON file naming every server-wide tunable, loaded the way the
// client's internal/config package loads user preferences, with flag
// values always taking precedence when both are present (main.go's job).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config mirrors SPEC_FULL.md §6's CLI surface field for field: "a relay
// binary reads a JSON config file exposing at minimum: ws_port, quic_port?,
// cert?, key?, auth_port?, max_sessions, session_timeout, param_ttl,
// signal_ttl, journal_path?, trust_anchor[], max_chain_depth,
// app_config_path?, drain_timeout, health_port?, metrics_port?."
type Config struct {
	WSPort         int      `json:"ws_port"`
	QUICPort       int      `json:"quic_port,omitempty"`
	Cert           string   `json:"cert,omitempty"`
	Key            string   `json:"key,omitempty"`
	AuthPort       int      `json:"auth_port,omitempty"`
	MaxSessions    int      `json:"max_sessions"`
	SessionTimeout Duration `json:"session_timeout,omitempty"`
	ParamTTL       Duration `json:"param_ttl,omitempty"`
	SignalTTL      Duration `json:"signal_ttl,omitempty"`
	JournalPath    string   `json:"journal_path,omitempty"`
	TrustAnchor    []string `json:"trust_anchor"`
	MaxChainDepth  int      `json:"max_chain_depth"`
	AppConfigPath  string   `json:"app_config_path,omitempty"`
	DrainTimeout   Duration `json:"drain_timeout,omitempty"`
	HealthPort     int      `json:"health_port,omitempty"`
	MetricsPort    int      `json:"metrics_port,omitempty"`

	RegistryPath string `json:"registry_path,omitempty"`
}

// Duration wraps time.Duration with JSON marshaling as a Go duration
// string ("30s", "5m"), so the config file stays human-editable instead of
// forcing nanosecond integers.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Default returns claspd's factory-default configuration.
func Default() Config {
	return Config{
		WSPort:         4433,
		MaxSessions:    100,
		SessionTimeout: Duration(300 * time.Second),
		ParamTTL:       Duration(time.Hour),
		SignalTTL:      Duration(5 * time.Second),
		MaxChainDepth:  5,
		DrainTimeout:   Duration(10 * time.Second),
		HealthPort:     8090,
	}
}

// Load reads cfg from path, starting from Default so any field the file
// omits keeps its default value. Returns Default unmodified if path is
// empty.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path as indented JSON, for `claspd -print-config` or
// first-run scaffolding.
func Save(cfg Config, path string) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
