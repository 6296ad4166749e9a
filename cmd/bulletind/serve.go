package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maorm36/bulletin"
	"github.com/maorm36/bulletin/internal/config"
	"github.com/maorm36/bulletin/internal/httpapi"
	"github.com/maorm36/bulletin/retry"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = cfg.Addr()
			}
			return run(cmd.Context(), cfg, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides HOST and PORT)")
	return cmd
}

func checkConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config",
		Short: "Validate configuration and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: store=%s addr=%s cache=%t\n", cfg.Store, cfg.Addr(), cfg.CacheEnabled)
			return nil
		},
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// run wires the backends, the service and the HTTP server, and blocks
// until a signal or a server error.
func run(parent context.Context, cfg *config.Config, addr string) error {
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	be, err := openBackends(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer be.close(context.Background())

	opts := []bulletin.Option{
		bulletin.WithStore(be.store),
		bulletin.WithLogger(logger),
		bulletin.WithMaxConcurrentWrites(cfg.MaxConcurrentWrites),
		bulletin.WithShutdownTimeout(cfg.ShutdownTimeout),
		bulletin.WithOTel(cfg.OTelEnabled),
	}
	if cfg.EventsRedis && be.redis != nil {
		opts = append(opts, bulletin.WithRedisClient(be.redis))
	}

	svc, err := bulletin.NewService(opts...)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	policy := retry.DefaultPolicy()
	policy.Attempts = cfg.ConnectAttempts
	policy.Retryable = func(err error) bool {
		return !errors.Is(err, bulletin.ErrAlreadyConnected) && retry.IsRetryable(err)
	}
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		logger.Warn("service connect failed, retrying", "attempt", attempt, "wait", wait, "error", err)
	}
	if err := retry.Do(ctx, policy, svc.Connect); err != nil {
		return fmt.Errorf("connect service: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := svc.Close(shutdownCtx); err != nil {
			logger.Error("service close", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:              addr,
		Handler:           httpapi.NewRouter(svc, logger, cfg.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		logger.Info("starting HTTP server", "addr", addr, "store", cfg.Store, "cache", cfg.CacheEnabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down gracefully")
	case err := <-errChan:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	logger.Info("server stopped cleanly")
	return nil
}
