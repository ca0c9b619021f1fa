package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Dzaakk/usage-bucket/bucket"
	"github.com/Dzaakk/usage-bucket/config"
	"github.com/Dzaakk/usage-bucket/internal/handler"
	"github.com/Dzaakk/usage-bucket/internal/metrics"
	"github.com/Dzaakk/usage-bucket/internal/middleware"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load(os.Getenv("BUCKET_CONFIG"))
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		log.Fatal(err)
	}

	b := bucket.New(bucket.NewLimit(cfg.Limit.Window, cfg.Limit.Count))
	m := metrics.New(prometheus.DefaultRegisterer)
	rateLimitMW := middleware.NewRateLimit(b, m, logger)

	logger.Info("admission policy loaded",
		"window", cfg.Limit.Window,
		"count", cfg.Limit.Count,
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/api/hello", rateLimitMW.Handler(handler.HelloHandler))
	mux.HandleFunc("/api/status", handler.StatusHandler)
	mux.Handle("/metrics", promhttp.Handler())

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	stopSweep := make(chan struct{})
	if cfg.Sweep.Interval > 0 {
		go sweepLoop(b, m, logger, cfg.Sweep, stopSweep)
	}

	go func() {
		logger.Info("starting HTTP server", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			log.Fatal(err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	close(stopSweep)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		log.Fatal(err)
	}

	logger.Info("server stopped")
}

// sweepLoop periodically evicts usage entries idle longer than the
// retention. The bucket never sweeps itself; the schedule lives here,
// with the rest of the process concerns.
func sweepLoop(b *bucket.Bucket, m *metrics.Metrics, logger *slog.Logger, cfg config.SweepConfig, stop <-chan struct{}) {
	ticker := time.NewTicker(cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed := b.Sweep(cfg.Retention)
			m.AddSwept(removed)
			m.SetTracked(b.Len())
			if removed > 0 {
				logger.Info("swept stale usage entries",
					"removed", removed,
					"tracked", b.Len(),
				)
			}
		case <-stop:
			return
		}
	}
}
