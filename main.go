// Command aichat runs the reference chat backend.
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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/xiaot623/aichat/internal/config"
	"github.com/xiaot623/aichat/internal/engine"
	"github.com/xiaot623/aichat/internal/observability"
	"github.com/xiaot623/aichat/internal/policy"
	"github.com/xiaot623/aichat/internal/service"
	"github.com/xiaot623/aichat/internal/statestore"
	handler "github.com/xiaot623/aichat/internal/transport/http"
)

func main() {
	if err := run(); err != nil {
		slog.Error("aichat stopped with error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.LoadDotEnv(); err != nil {
		return err
	}

	// Load configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	observability.Setup(cfg.LogLevel, cfg.LogFormat)

	slog.Info("Starting aichat backend",
		"http_port", cfg.HTTPPort,
		"state_store", cfg.StateStore,
		"mode", cfg.Mode,
	)

	// Initialize state store
	store, err := statestore.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize state store: %w", err)
	}
	defer store.Close()

	// Initialize completion engine
	eng, err := engine.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	// Initialize policy engine
	ctx := context.Background()
	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy, cfg.MaxAttachmentBytes, cfg.AllowedContentTypes)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	// Initialize service
	svc := service.New(store, eng, policyEngine, metrics, cfg)

	server := handler.NewServer(cfg, svc, metrics, reg)

	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("Chat API started", "port", cfg.HTTPPort)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	}

	slog.Info("Shutting down aichat backend...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Failed to shutdown server gracefully", "error", err)
	}

	slog.Info("aichat backend stopped")
	return nil
}
