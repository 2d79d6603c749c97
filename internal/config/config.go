// Package config loads and hot-reloads the easyhack supervisor's YAML
// configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport selects how the subprocess manager wires a game child's I/O.
type Transport string

const (
	TransportPipes Transport = "pipes"
	TransportPTY   Transport = "pty"
)

// Config is the on-disk shape of the supervisor's configuration file.
// Field names mirror spec.md §6's recognized option table plus the
// SPEC_FULL §6 additions.
type Config struct {
	Port        int    `yaml:"port"`
	BindAddr4   string `yaml:"bind_addr_4"`
	BindAddr6   string `yaml:"bind_addr_6"`
	DisableIPv4 bool   `yaml:"disable_ipv4"`
	DisableIPv6 bool   `yaml:"disable_ipv6"`

	IdleMarkInterval time.Duration `yaml:"idle_mark_interval"`
	ShutdownGrace    time.Duration `yaml:"shutdown_grace"`
	AuthTimeout      time.Duration `yaml:"auth_timeout"`

	AcceptRatePerSec float64 `yaml:"accept_rate_per_sec"`
	AcceptBurst      int     `yaml:"accept_burst"`

	Transport  Transport `yaml:"transport"`
	VTSnapshot bool      `yaml:"vt_snapshot"`

	GameBin  string   `yaml:"game_bin"`
	GameArgs []string `yaml:"game_args"`

	// SessionMemLimitBytes/SessionPIDLimit cap each game child via a
	// cgroup v2 sub-cgroup (internal/rlimit). Zero means unconfined.
	SessionMemLimitBytes uint64 `yaml:"session_mem_limit_bytes"`
	SessionPIDLimit      uint32 `yaml:"session_pid_limit"`

	// Users seeds the reference in-memory credential store (auth.MemStore)
	// when no external Authenticator is wired in. spec.md declares the
	// credential store out of scope; this exists only so eshkd can run
	// standalone without a real one.
	Users []UserCred `yaml:"users"`

	AuditDBPath string `yaml:"audit_db_path"`

	AdminAddr      string `yaml:"admin_addr"`
	AdminJWTSecret string `yaml:"admin_jwt_secret"`

	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// UserCred is one seed entry for auth.MemStore.
type UserCred struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// Default returns the configuration used when no file is present, matching
// spec.md's stated defaults (10 minute idle mark, 5 second shutdown grace,
// dual-stack enabled).
func Default() *Config {
	return &Config{
		Port:             8642,
		BindAddr4:        "0.0.0.0",
		BindAddr6:        "::",
		IdleMarkInterval: 10 * time.Minute,
		ShutdownGrace:    5 * time.Second,
		AuthTimeout:      30 * time.Second,
		AcceptRatePerSec: 50,
		AcceptBurst:      100,
		Transport:        TransportPipes,
		VTSnapshot:       true,
		AuditDBPath:      "",
		LogLevel:         "info",
	}
}

// Load reads and parses the configuration file at path, filling unset
// fields from Default. A missing file is not an error — the defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

// applyDefaults fills any zero-valued field left unset by a partial YAML
// document, the same merge-with-defaults shape the teacher's config layer
// used for user/project settings.
func applyDefaults(cfg *Config) {
	d := Default()
	if cfg.Port == 0 {
		cfg.Port = d.Port
	}
	if cfg.BindAddr4 == "" {
		cfg.BindAddr4 = d.BindAddr4
	}
	if cfg.BindAddr6 == "" {
		cfg.BindAddr6 = d.BindAddr6
	}
	if cfg.IdleMarkInterval == 0 {
		cfg.IdleMarkInterval = d.IdleMarkInterval
	}
	if cfg.ShutdownGrace == 0 {
		cfg.ShutdownGrace = d.ShutdownGrace
	}
	if cfg.AuthTimeout == 0 {
		cfg.AuthTimeout = d.AuthTimeout
	}
	if cfg.AcceptRatePerSec == 0 {
		cfg.AcceptRatePerSec = d.AcceptRatePerSec
	}
	if cfg.AcceptBurst == 0 {
		cfg.AcceptBurst = d.AcceptBurst
	}
	if cfg.Transport == "" {
		cfg.Transport = d.Transport
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = d.LogLevel
	}
}

// Reloadable is the subset of running server state that may change live,
// without a restart, when the config file is edited. Listener endpoints and
// transport are deliberately excluded — changing either live would leave
// the registry and transport-typed pipes in an inconsistent state.
type Reloadable struct {
	IdleMarkInterval time.Duration
	ShutdownGrace    time.Duration
	AuthTimeout      time.Duration
	AcceptRatePerSec float64
	AcceptBurst      int
	AdminJWTSecret   string
}

// ToReloadable extracts the fields a hot reload is allowed to change.
func (c *Config) ToReloadable() Reloadable {
	return Reloadable{
		IdleMarkInterval: c.IdleMarkInterval,
		ShutdownGrace:    c.ShutdownGrace,
		AuthTimeout:      c.AuthTimeout,
		AcceptRatePerSec: c.AcceptRatePerSec,
		AcceptBurst:      c.AcceptBurst,
		AdminJWTSecret:   c.AdminJWTSecret,
	}
}
