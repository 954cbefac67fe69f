package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/miradorstack/mirador-anomaly/internal/alarm"
	"github.com/miradorstack/mirador-anomaly/internal/anomaly"
	"github.com/miradorstack/mirador-anomaly/internal/api"
	"github.com/miradorstack/mirador-anomaly/internal/cache"
	"github.com/miradorstack/mirador-anomaly/internal/config"
	"github.com/miradorstack/mirador-anomaly/internal/engine"
	"github.com/miradorstack/mirador-anomaly/internal/ingest"
	"github.com/miradorstack/mirador-anomaly/internal/metrics"
	"github.com/miradorstack/mirador-anomaly/internal/models"
	"github.com/miradorstack/mirador-anomaly/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting mirador-anomaly", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cacheProvider cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("valkey cache unavailable, refractory windows stay in-memory", slog.Any("error", err))
		} else {
			cacheProvider = provider
			defer provider.Close()
		}
	}
	refractoryStore := engine.NewCacheRefractoryStore(cacheProvider, logger, cfg.Cache.RefractoryTimeout)

	alerts, err := models.LoadAlerts(cfg.Alerts.Path)
	if err != nil {
		logger.Error("failed to load alert pack", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("alert pack loaded", slog.String("path", cfg.Alerts.Path), slog.Int("alerts", len(alerts)))

	subscribers := []anomaly.Subscriber{anomaly.LogSubscriber{Logger: logger}}
	if cfg.Export.Path != "" {
		sink, err := api.OpenExport(cfg.Export.Path)
		if err != nil {
			logger.Error("failed to open export sink", slog.String("path", cfg.Export.Path), slog.Any("error", err))
			os.Exit(1)
		}
		defer sink.Close()
		subscribers = append(subscribers, api.NewExportSubscriber(sink, logger))
	}

	queue := alarm.NewQueue(cfg.Alarm.MinUpdateTimeSec, logger)
	eng, err := engine.New(alerts, queue, refractoryStore, logger, subscribers...)
	if err != nil {
		logger.Error("failed to build engine", slog.Any("error", err))
		os.Exit(1)
	}

	switch cfg.Alarm.Backend {
	case "timer":
		timerSvc := alarm.NewTimerService(eng.OnAlarmFired, logger)
		queue.SetService(timerSvc)
		defer timerSvc.Close()
	case "remote":
		remoteSvc, err := alarm.NewRemoteService(cfg.Alarm.RemoteAddress, cfg.Alarm.RemoteTimeout, logger)
		if err != nil {
			logger.Error("failed to dial alarm daemon", slog.Any("error", err))
			os.Exit(1)
		}
		queue.SetService(remoteSvc)
		defer remoteSvc.Close()
	case "none", "":
		queue.SetService(alarm.NoopService{})
		logger.Info("no alarm backend configured, relying on catch-up polling")
	default:
		logger.Error("unknown alarm backend", slog.String("backend", cfg.Alarm.Backend))
		os.Exit(1)
	}

	server, err := api.NewServer(cfg.Server)
	if err != nil {
		logger.Error("failed to create gRPC server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	go eng.RunCatchUp(ctx, cfg.Alarm.CatchUpInterval)

	go func() {
		source, err := ingest.Open(cfg.Ingest.Path)
		if err != nil {
			logger.Error("failed to open event source", slog.String("path", cfg.Ingest.Path), slog.Any("error", err))
			stop()
			return
		}
		defer source.Close()
		logger.Info("ingesting events", slog.String("path", cfg.Ingest.Path))
		if err := ingest.NewReader(logger).Run(ctx, source, eng); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("event ingestion stopped", slog.Any("error", err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	eng.CancelAllAlarms()

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("mirador-anomaly stopped")
}
