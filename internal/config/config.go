// Package config holds Citadel's server configuration: TOML file plus
// flag overrides, grounded on infodancer-pop3d's internal/config
// package (FileConfig wrapper, Default/Validate/merge shape).
package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"time"
)

// Config is the top-level server configuration.
type Config struct {
	NodeName  string        `toml:"node_name"`
	LogLevel  string        `toml:"log_level"`
	DataDir   string        `toml:"data_dir"`
	Listeners []Listener    `toml:"listeners"`
	TLS       TLSConfig     `toml:"tls"`
	Timeouts  Timeouts      `toml:"timeouts"`
	Limits    Limits        `toml:"limits"`
	Metrics   MetricsConfig `toml:"metrics"`
	HTTP      HTTPConfig    `toml:"http"`
}

// Listener is one line-protocol listen address: TCP or a Unix-domain
// socket path, matching §6's "TCP (default 504) or Unix-domain socket".
type Listener struct {
	Network string `toml:"network"` // "tcp" or "unix"
	Address string `toml:"address"`
}

// TLSConfig carries STLS material; TLS certificate *management* is an
// explicit Non-goal, so this struct only ever points at files the
// operator already provisioned.
type TLSConfig struct {
	CertFile   string `toml:"cert_file"`
	KeyFile    string `toml:"key_file"`
	MinVersion string `toml:"min_version"`
}

// Timeouts holds the session/keepalive durations from §4.6/§5.
type Timeouts struct {
	Session   string `toml:"session"`   // SLEEPING, default 180s
	Keepalive string `toml:"keepalive"` // S_KEEPALIVE, default 30s
}

// Limits bounds resource usage, per §5's "resources requiring scoped
// acquisition".
type Limits struct {
	MaxConnections int `toml:"max_connections"`
	SessionPoolCap int `toml:"session_pool_cap"`
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Path    string `toml:"path"`
}

// HTTPConfig configures the REST gateway (C10).
type HTTPConfig struct {
	Address  string `toml:"address"`
	StaticDir string `toml:"static_dir"`
}

// Default returns a Config with sensible defaults, matching the
// teacher's Default().
func Default() Config {
	return Config{
		NodeName: "citadel",
		LogLevel: "info",
		DataDir:  "./data",
		Listeners: []Listener{
			{Network: "tcp", Address: ":504"},
		},
		TLS: TLSConfig{MinVersion: "1.2"},
		Timeouts: Timeouts{
			Session:   "180s",
			Keepalive: "30s",
		},
		Limits: Limits{
			MaxConnections: 4096,
			SessionPoolCap: 256,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9216",
			Path:    "/metrics",
		},
		HTTP: HTTPConfig{
			Address: ":8080",
		},
	}
}

// Validate checks the configuration for obvious misconfiguration.
func (c *Config) Validate() error {
	if c.NodeName == "" {
		return errors.New("config: node_name is required")
	}
	if len(c.Listeners) == 0 {
		return errors.New("config: at least one listener is required")
	}
	for i, l := range c.Listeners {
		if l.Address == "" {
			return fmt.Errorf("config: listener %d: address is required", i)
		}
		if l.Network != "tcp" && l.Network != "unix" {
			return fmt.Errorf("config: listener %d: invalid network %q", i, l.Network)
		}
	}
	if c.Limits.MaxConnections <= 0 {
		return errors.New("config: max_connections must be positive")
	}
	if c.TLS.MinVersion != "" {
		if _, ok := minTLSVersions[c.TLS.MinVersion]; !ok {
			return fmt.Errorf("config: invalid tls.min_version %q", c.TLS.MinVersion)
		}
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		return errors.New("config: metrics.address is required when metrics are enabled")
	}
	return nil
}

// SessionTimeout parses Timeouts.Session, defaulting to 180s.
func (t *Timeouts) SessionTimeout() time.Duration {
	return parseDurationOr(t.Session, 180*time.Second)
}

// KeepaliveInterval parses Timeouts.Keepalive, defaulting to 30s.
func (t *Timeouts) KeepaliveInterval() time.Duration {
	return parseDurationOr(t.Keepalive, 30*time.Second)
}

func parseDurationOr(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// MinTLSVersion returns the crypto/tls constant for TLS.MinVersion,
// defaulting to TLS 1.2.
func (c *TLSConfig) MinTLSVersion() uint16 {
	if v, ok := minTLSVersions[c.MinVersion]; ok {
		return v
	}
	return tls.VersionTLS12
}

var minTLSVersions = map[string]uint16{
	"1.0": tls.VersionTLS10,
	"1.1": tls.VersionTLS11,
	"1.2": tls.VersionTLS12,
	"1.3": tls.VersionTLS13,
}
