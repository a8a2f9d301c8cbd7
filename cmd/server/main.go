// Interferogram job server entry point
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robert-malhotra/s1-insar/internal/app"
	"github.com/robert-malhotra/s1-insar/internal/config"
	"github.com/robert-malhotra/s1-insar/pkg/server"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := app.NewLogger(cfg.Logging, os.Stdout)
	logger.Info("starting interferogram job server",
		"processor_version", cfg.Processor.Version,
		"addr", cfg.Server.Address(),
		"store", cfg.Jobs.Store,
	)

	svc, err := server.NewFromConfig(cfg, logger)
	if err != nil {
		return err
	}
	// The worker stops only after in-flight requests drain.
	defer func() {
		if err := svc.Close(); err != nil {
			logger.Warn("failed to close job service", "error", err)
		}
	}()

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      svc.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  2 * time.Minute,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listenErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		listenErr <- srv.ListenAndServe()
	}()

	select {
	case err := <-listenErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutdown requested", "timeout", cfg.Server.ShutdownTimeout)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
