package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/relay/internal/config"
	"github.com/haasonsaas/relay/internal/engine"
	"github.com/haasonsaas/relay/internal/gateway"
	"github.com/haasonsaas/relay/internal/provider"
	"github.com/haasonsaas/relay/internal/store"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		Example: `  # In-memory store, providers from relay.yaml
  relay serve --config relay.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	logger := newLogger(cfg.Logging, debug)
	slog.SetDefault(logger)

	st, err := buildStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	defer st.Close()

	registry, err := provider.NewRegistry(cfg.ProviderSpecs())
	if err != nil {
		return fmt.Errorf("providers: %w", err)
	}
	logger.Info("providers configured", "names", registry.Names())

	eng := engine.New(st, registry, engine.NewToolRegistry(), logger, engine.NewMetrics(), cfg.EngineConfig())
	defer eng.Close()

	srv := gateway.New(gateway.Config{
		Addr:           cfg.Addr(),
		APIKeys:        cfg.Auth.APIKeys,
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
	}, st, eng, logger)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newLogger(cfg config.LoggingConfig, debug bool) *slog.Logger {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

func buildStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case "memory":
		return store.NewMemory(), nil
	case "redis":
		backend, err := store.NewRedis(ctx, store.RedisOptions{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		if cfg.Cache {
			return store.NewCached(backend), nil
		}
		return backend, nil
	case "postgres":
		pgCfg := store.DefaultPostgresConfig()
		pgCfg.DSN = cfg.Postgres.DSN
		if cfg.Postgres.MaxOpenConns > 0 {
			pgCfg.MaxOpenConns = cfg.Postgres.MaxOpenConns
		}
		if cfg.Postgres.MaxIdleConns > 0 {
			pgCfg.MaxIdleConns = cfg.Postgres.MaxIdleConns
		}
		if cfg.Postgres.ConnMaxLifetime > 0 {
			pgCfg.ConnMaxLifetime = cfg.Postgres.ConnMaxLifetime
		}
		backend, err := store.NewPostgres(pgCfg)
		if err != nil {
			return nil, err
		}
		if cfg.Cache {
			return store.NewCached(backend), nil
		}
		return backend, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
