package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tandem-dev/tandem/internal/config"
	"github.com/tandem-dev/tandem/internal/httpserver"
	"github.com/tandem-dev/tandem/internal/metrics"
	"github.com/tandem-dev/tandem/internal/store"
	"github.com/tandem-dev/tandem/pkg/agent/agentcli"
	"github.com/tandem-dev/tandem/pkg/session"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the engine HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	log, flush, err := newLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer flush()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runtime := agentcli.New(agentcli.Config{
		Command: cfg.Backend.Command,
		Args:    cfg.Backend.Args,
	}, log)

	opts := []session.Option{session.WithLogger(log)}
	var st *store.Store
	if cfg.Store.Enabled {
		st, err = store.New(store.Config{Driver: cfg.Store.Driver, DSN: cfg.Store.DSN}, log)
		if err != nil {
			return err
		}
		defer st.Close()
		opts = append(opts, session.WithRecorder(st))
	}

	registry := session.NewRegistry(runtime, opts...)
	m := metrics.New(registry.Count)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := httpserver.New(addr, registry, m, cfg.Backend.Model, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "server shutdown")
	}
	if err := registry.CloseAll(shutdownCtx); err != nil {
		log.Error(err, "closing sessions")
	}
	log.Info("shutdown complete")
	return nil
}

func newLogger(level string) (logr.Logger, func(), error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return logr.Logger{}, nil, fmt.Errorf("parse log level %q: %w", level, err)
	}
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = lvl
	zl, err := zapCfg.Build()
	if err != nil {
		return logr.Logger{}, nil, err
	}
	return zapr.NewLogger(zl), func() { _ = zl.Sync() }, nil
}
