package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vnatgroup/wabridge/internal/backend"
	"github.com/vnatgroup/wabridge/internal/bus"
	"github.com/vnatgroup/wabridge/internal/config"
	"github.com/vnatgroup/wabridge/internal/directory"
	"github.com/vnatgroup/wabridge/internal/filter"
	"github.com/vnatgroup/wabridge/internal/gateway"
	"github.com/vnatgroup/wabridge/internal/pipeline"
	"github.com/vnatgroup/wabridge/internal/router"
	"github.com/vnatgroup/wabridge/internal/sessions"
	"github.com/vnatgroup/wabridge/internal/telemetry"
	"github.com/vnatgroup/wabridge/internal/tenant"
	"github.com/vnatgroup/wabridge/internal/transport"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bridge server",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

func runServe() {
	setupLogging()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("config load failed", "path", cfgPath, "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("config invalid", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}
	defer shutdownTelemetry(context.Background())

	dir, err := directory.Open(cfg.Directory)
	if err != nil {
		slog.Error("directory open failed", "backend", cfg.Directory.Backend, "error", err)
		os.Exit(1)
	}
	defer dir.Close()
	slog.Info("tenant directory ready", "backend", cfg.Directory.Backend)

	registry := sessions.NewRegistry()
	sweeper := sessions.NewSweeper(registry, cfg.SessionTTL(), cfg.SweepInterval(), cfg.Sessions.SweepSchedule)
	go sweeper.Run(ctx)

	backendClient := backend.New(cfg.Backend, cfg.BackendTimeout())
	turnRouter := router.New(backendClient, registry, dir, cfg.Replies.Fallback)

	events := bus.New()
	manager := tenant.NewManager(
		transport.NewFactory(cfg.Bridge),
		events,
		tenant.TimerScheduler{},
		tenant.Limits{
			MaxQRIssues:          cfg.Tenants.MaxQRIssues,
			MaxReconnectAttempts: cfg.Tenants.ReconnectMaxAttempts,
		},
		cfg.ReconnectDelay(),
	)
	defer manager.Shutdown()

	pipe := pipeline.New(manager, filter.New(dir), turnRouter, cfg.Replies, cfg.DebounceWindow())
	defer pipe.Stop()
	manager.SetMessageHandler(pipe.HandleInbound)
	manager.SetRemoveHandler(pipe.DropTenant)

	// Hot reload covers reply texts only; connection and directory settings
	// need a restart.
	if err := config.Watch(ctx, cfgPath, func(fresh *config.Config) {
		pipe.UpdateReplies(fresh.Replies)
	}); err != nil {
		slog.Warn("config watch unavailable", "error", err)
	}

	srv := gateway.NewServer(cfg.Gateway, events, manager)
	if err := srv.Start(ctx); err != nil {
		slog.Error("gateway failed", "error", err)
		os.Exit(1)
	}

	slog.Info("bridge stopped")
}
