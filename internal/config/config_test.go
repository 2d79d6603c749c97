package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := Default()
	if cfg.Port != want.Port || cfg.ShutdownGrace != want.ShutdownGrace {
		t.Fatalf("Load(missing) = %+v, want defaults %+v", cfg, want)
	}
}

func TestLoadEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != Default().Port {
		t.Fatalf("Load(\"\") did not return defaults: %+v", cfg)
	}
}

func TestLoadPartialFileFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(path, []byte("port: 9000\ngame_bin: /bin/game\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != 9000 {
		t.Fatalf("Port = %d, want 9000", cfg.Port)
	}
	if cfg.GameBin != "/bin/game" {
		t.Fatalf("GameBin = %q, want /bin/game", cfg.GameBin)
	}
	if cfg.ShutdownGrace != Default().ShutdownGrace {
		t.Fatalf("ShutdownGrace = %v, want default %v", cfg.ShutdownGrace, Default().ShutdownGrace)
	}
	if cfg.Transport != TransportPipes {
		t.Fatalf("Transport = %q, want default %q", cfg.Transport, TransportPipes)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(path, []byte("port: [unterminated\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for malformed YAML, got nil")
	}
}

func TestToReloadableExtractsOnlyLiveFields(t *testing.T) {
	cfg := &Config{
		Port:             1234, // not reloadable — must not leak through
		IdleMarkInterval: time.Minute,
		ShutdownGrace:    2 * time.Second,
		AuthTimeout:      3 * time.Second,
		AcceptRatePerSec: 5,
		AcceptBurst:      6,
		AdminJWTSecret:   "shh",
	}
	r := cfg.ToReloadable()
	if r.IdleMarkInterval != time.Minute || r.ShutdownGrace != 2*time.Second ||
		r.AuthTimeout != 3*time.Second || r.AcceptRatePerSec != 5 || r.AcceptBurst != 6 ||
		r.AdminJWTSecret != "shh" {
		t.Fatalf("ToReloadable() = %+v", r)
	}
}

func TestUsersSeedListParses(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	data := "game_bin: /bin/game\nusers:\n  - username: alice\n    password: hunter2\n  - username: bob\n    password: correcthorse\n"
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Users) != 2 || cfg.Users[0].Username != "alice" || cfg.Users[1].Username != "bob" {
		t.Fatalf("Users = %+v", cfg.Users)
	}
}
