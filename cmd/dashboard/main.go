package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/goccy/go-json"
	"github.com/jonboulle/clockwork"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"migration_dash/internal/cache"
	"migration_dash/internal/config"
	"migration_dash/internal/httpapi"
	"migration_dash/internal/observability"
	"migration_dash/internal/publisher"
	"migration_dash/internal/scheduler"
	"migration_dash/internal/service"
	"migration_dash/internal/storage/sqlstore"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to config file")
	once := flag.Bool("once", false, "print one snapshot as JSON and exit")
	flag.Parse()

	// Logs go to stderr in one-shot mode so stdout carries only the snapshot.
	logOutput := io.Writer(os.Stdout)
	if *once {
		logOutput = os.Stderr
	}

	// Setup logger
	logger := setupLogger(logOutput, "info")

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return 1
	}

	logger = setupLogger(logOutput, cfg.LogLevel)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Tracing.Enabled {
		shutdown, err := observability.SetupTracing(ctx, cfg.Tracing.Endpoint, cfg.Tracing.Insecure)
		if err != nil {
			logger.Error("failed to setup tracing", "error", err)
			return 1
		}
		defer func() {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("tracing shutdown failed", "error", err)
			}
		}()
	}

	// Initialize repository
	schema := sqlstore.Schema{
		Table:           cfg.Database.Table,
		TokenColumn:     cfg.Database.TokenColumn,
		UpdatedAtColumn: cfg.Database.UpdatedAtColumn,
	}
	connector := sqlstore.NewDSNConnector(cfg.Database.Driver, cfg.Database.DSN())
	statsStore, err := sqlstore.NewStatsStore(connector, cfg.Database.Driver, schema, clockwork.NewRealClock(), logger)
	if err != nil {
		logger.Error("failed to create stats store", "error", err)
		return 1
	}

	// Initialize cache file
	cacheOpts := []cache.Option{cache.WithLogger(logger)}
	if cfg.Cache.Compress {
		compressor, err := cache.NewZstdCompressor()
		if err != nil {
			logger.Error("failed to create compressor", "error", err)
			return 1
		}
		defer compressor.Close()
		cacheOpts = append(cacheOpts, cache.WithCompressor(compressor))
	}
	fileCache := cache.NewFileCache(cfg.Cache.Path, cfg.Cache.TTL, cacheOpts...)

	// Initialize RabbitMQ publisher
	var snapshotPublisher service.Publisher
	if cfg.RabbitMQ.Enabled {
		rabbitMQ, err := publisher.NewRabbitMQ(publisher.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
			QueueName:  cfg.RabbitMQ.QueueName,
		}, logger)
		if err != nil {
			logger.Error("failed to connect to rabbitmq", "error", err)
			return 1
		}
		defer rabbitMQ.Close()
		snapshotPublisher = rabbitMQ
	}

	statsService := service.NewStatsService(statsStore, fileCache, snapshotPublisher, logger)

	if *once {
		return printSnapshot(ctx, statsService, cfg.Refresh.Timeout, logger)
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if cfg.Refresh.IsEnabled() {
		sched := scheduler.NewScheduler(statsService, cfg.Refresh.Interval, cfg.Refresh.Timeout, logger)
		go func() {
			if err := sched.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("scheduler error", "error", err)
			}
		}()
	}

	api := httpapi.NewServer(statsService, httpapi.Options{
		ResponseCache:        httpapi.NewResponseCache(cfg.HTTP.ResponseCacheSizeMB, cfg.HTTP.ResponseTTL()),
		RefreshRatePerMinute: cfg.HTTP.RefreshRatePerMinute,
		MetricsEnabled:       cfg.Metrics.Enabled,
		ReloadInterval:       cfg.Refresh.Interval,
	}, logger)

	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      api.Handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("starting migration dashboard",
		"addr", cfg.HTTP.Addr,
		"driver", cfg.Database.Driver,
		"cache_path", cfg.Cache.Path,
		"cache_ttl", cfg.Cache.TTL,
		"refresh_enabled", cfg.Refresh.IsEnabled(),
		"refresh_interval", cfg.Refresh.Interval,
	)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server error", "error", err)
		return 1
	}
	return 0
}

func printSnapshot(ctx context.Context, stats *service.StatsService, timeout time.Duration, logger *slog.Logger) int {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	snapshot, err := stats.Snapshot(ctx)
	if err != nil {
		logger.Error("failed to get snapshot", "error", err)
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snapshot); err != nil {
		logger.Error("failed to encode snapshot", "error", err)
		return 1
	}
	return 0
}

func setupLogger(w io.Writer, level string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	handler := slog.NewJSONHandler(w, opts)
	return slog.New(handler)
}
