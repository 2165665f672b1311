package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"pbserver/internal/config"
	"pbserver/internal/httpserver"
	"pbserver/internal/metrics"
	"pbserver/internal/paste"
	"pbserver/internal/storage"
	"pbserver/internal/throttle"
)

func main() {
	cfg, err := config.Load(os.Args[1:], os.Getenv, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(2)
	}
	logger := setupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	openCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	raw, err := openStore(openCtx, cfg)
	cancel()
	if err != nil {
		logger.Error("failed opening data store", "store", cfg.Store, "error", err)
		os.Exit(1)
	}
	defer raw.Close()
	store := storage.WithTimeout(raw, cfg.StoreTimeout)

	var (
		recorder       metrics.Recorder = metrics.Noop{}
		metricsHandler http.Handler
	)
	if cfg.EnableMetrics {
		prom := metrics.NewPrometheus()
		recorder = prom
		metricsHandler = prom.Handler()
	}

	limits := throttle.Limits{
		Read:   cfg.ReadLimit,
		Write:  cfg.WriteLimit,
		Window: cfg.ThrottleWindow(),
	}
	pastes := paste.New(store, throttle.New(store, limits), paste.Config{
		MaxBodySize: cfg.MaxBodySize,
		Expiry:      cfg.PasteExpiry(),
	})

	srv, err := httpserver.New(httpserver.Config{
		Pastes:         pastes,
		Limits:         limits,
		TrustProxy:     cfg.BehindProxy,
		BaseURL:        cfg.BaseURL,
		Logger:         logger,
		Metrics:        recorder,
		MetricsHandler: metricsHandler,
	})
	if err != nil {
		logger.Error("failed to construct server", "error", err)
		os.Exit(1)
	}

	if sweeper, ok := raw.(storage.Sweeper); ok {
		httpserver.StartJanitor(ctx, sweeper, cfg.SweepInterval, logger, recorder)
	}

	srvHTTP := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr, "store", cfg.Store)
		if err := srvHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srvHTTP.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", "error", err)
		}
	case err := <-errCh:
		logger.Error("http server error", "error", err)
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}

func setupLogging(level string) *slog.Logger {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: l}))
}
