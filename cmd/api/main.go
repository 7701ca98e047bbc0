package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/hamed0406/apipulse/internal/config"
	"github.com/hamed0406/apipulse/internal/httpapi"
	"github.com/hamed0406/apipulse/internal/logging"
	"github.com/hamed0406/apipulse/internal/metrics"
	"github.com/hamed0406/apipulse/internal/monitor"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.NewLogger(cfg.LogDir, cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	m := metrics.New()
	svc := monitor.New(logger, m, monitor.Options{
		Source:         cfg.AssetsSource,
		ProbeTimeout:   cfg.ProbeTimeout(),
		BaseURL:        cfg.BaseURL,
		Concurrency:    cfg.Concurrency,
		Interval:       cfg.SweepInterval(),
		RetryAttempts:  cfg.RetryAttempts,
		RetryBackoff:   cfg.RetryBackoff(),
		OffloadEnabled: cfg.OffloadEnabled,
		OffloadBuffer:  cfg.OffloadBuffer,
	})

	// a failed load is served as an error state, not a crash
	if err := svc.Load(ctx); err == nil {
		go svc.Run(ctx)
	}

	api := httpapi.NewServer(logger, svc, m)
	api.BaseContext = ctx
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Router(cfg.AllowedOrigins, cfg.RatePerMin, cfg.RateBurst),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("api_listen",
			zap.String("addr", cfg.Addr),
			zap.String("assets_source", cfg.AssetsSource),
			zap.Bool("offloaded", svc.Offloaded()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_listen_failed", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := multierr.Combine(srv.Shutdown(shutdownCtx), svc.Close()); err != nil {
		logger.Warn("api_shutdown", zap.Error(err))
	}
	logger.Info("api_stopped")
}
