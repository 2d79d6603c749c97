// Command eshkd is the connection-multiplexing game server supervisor
// daemon (spec.md §1-§5). It loads configuration, binds the dual-stack
// listener set, spawns the supervisor's event loop, and waits on a signal
// to shut down within the configured grace period.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/john-champagne/easyhack/internal/admin"
	"github.com/john-champagne/easyhack/internal/audit"
	"github.com/john-champagne/easyhack/internal/auth"
	"github.com/john-champagne/easyhack/internal/config"
	"github.com/john-champagne/easyhack/internal/listener"
	"github.com/john-champagne/easyhack/internal/logger"
	"github.com/john-champagne/easyhack/internal/shutdown"
	"github.com/john-champagne/easyhack/internal/subprocess"
	"github.com/john-champagne/easyhack/internal/supervisor"
)

func main() {
	root := &cobra.Command{
		Use:   "eshkd",
		Short: "easyhack game server supervisor",
		RunE:  run,
	}
	root.Flags().String("config", "", "path to YAML config file")
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.GameBin == "" {
		return fmt.Errorf("config: game_bin is required")
	}

	if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	authN, err := buildAuthenticator(cfg)
	if err != nil {
		return fmt.Errorf("build authenticator: %w", err)
	}

	spawner := subprocess.NewSpawner(cfg.GameBin, cfg.GameArgs, cfg.Transport)
	spawner.MemLimitBytes = cfg.SessionMemLimitBytes
	spawner.PIDLimit = cfg.SessionPIDLimit

	listeners, err := listener.Open(cfg)
	if err != nil {
		return fmt.Errorf("open listeners: %w", err)
	}
	defer listeners.Close()

	var hooks []supervisor.Hook

	var auditLog *audit.Log
	if cfg.AuditDBPath != "" {
		auditLog, err = audit.Open(cfg.AuditDBPath)
		if err != nil {
			return fmt.Errorf("open audit db: %w", err)
		}
		defer auditLog.Close()
		hooks = append(hooks, auditLog)
	}

	sup := supervisor.New(cfg, authN, spawner, listeners, hooks...)

	var adminSrv *admin.Server
	if cfg.AdminAddr != "" {
		adminSrv = &admin.Server{Source: sup, Control: sup, Secret: []byte(cfg.AdminJWTSecret)}
		sup.AddHook(adminSrv)
		go func() {
			if err := adminSrv.Start(cfg.AdminAddr); err != nil {
				logger.Warn("admin: server stopped", "error", err)
			}
		}()
		defer adminSrv.Close()
	}

	if cfgPath != "" {
		watcher, err := config.Watch(cfgPath, logger.Log, func(next *config.Config) {
			if next.Port != cfg.Port || next.BindAddr4 != cfg.BindAddr4 || next.BindAddr6 != cfg.BindAddr6 ||
				next.DisableIPv4 != cfg.DisableIPv4 || next.DisableIPv6 != cfg.DisableIPv6 || next.Transport != cfg.Transport {
				logger.Warn("config: listener and transport changes take effect only after a restart")
			}
			r := next.ToReloadable()
			listeners.SetRate(r.AcceptRatePerSec, r.AcceptBurst)
			sup.ApplyReload(r)
		})
		if err != nil {
			logger.Warn("config: hot reload disabled", "error", err)
		} else {
			defer watcher.Close()
		}
	}

	stopSignals := shutdown.Watch(sup)
	defer stopSignals()

	logger.Info("eshkd: starting", "port", cfg.Port, "transport", cfg.Transport)

	start := time.Now()
	err = sup.Run(context.Background())
	logger.Info("eshkd: stopped", "uptime", time.Since(start))
	return err
}

// buildAuthenticator wires the reference in-memory credential store from
// config.Users. spec.md declares the real credential store an external
// collaborator; this is only the standalone reference implementation.
func buildAuthenticator(cfg *config.Config) (auth.Authenticator, error) {
	store := auth.NewMemStore()
	for _, u := range cfg.Users {
		if _, err := store.AddUser(u.Username, u.Password); err != nil {
			return nil, fmt.Errorf("seed user %s: %w", u.Username, err)
		}
	}
	return store, nil
}
