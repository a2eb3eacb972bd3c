package main

import (
	"context"
	"errors"
	"net/http"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/okian/recon/internal/adapters/http/api"
	"github.com/okian/recon/internal/adapters/http/swagger"
	"github.com/okian/recon/internal/adapters/mq/consumer"
	app "github.com/okian/recon/internal/app"
	"github.com/okian/recon/internal/config"
	"github.com/okian/recon/internal/domain/model"
	"github.com/okian/recon/pkg/logger"
	"github.com/okian/recon/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	writeTimeout              = 60 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	systemMetricsInterval     = 10 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, ingestion workers and the optional Kafka consumer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, log, err := setup(ctx)
			if err != nil {
				return err
			}
			return serve(ctx, cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, log logger.Logger) error {
	engine, store, closeStore, err := openEngine(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := app.New(store, engine,
		app.WithLogger(log.Named("service")),
		app.WithWorkerCount(cfg.WorkerCount),
		app.WithQueueSize(cfg.QueueSize),
		app.WithSubmissionCacheSize(cfg.SubmissionCacheSize),
		app.WithMaxCleanupLimit(cfg.MaxCleanupLimit),
	)
	if err := svc.Start(ctx); err != nil {
		return err
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := svc.Stop(stopCtx); err != nil {
			log.Error(stopCtx, "service shutdown failed", logger.Error(err))
		}
	}()

	go startSystemMetricsUpdater(ctx)

	consumerDone := startConsumer(ctx, cfg, svc, log)

	// HTTP mux and routes.
	mux := http.NewServeMux()
	swagger.Register(ctx, mux)
	stats := api.StatsFunc(func(ctx context.Context) any { return svc.GetStats(ctx) })
	api.NewServer(svc, stats, store).Register(ctx, mux)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "server shutdown failed", logger.Error(err))
	}
	<-consumerDone

	log.Info(shutdownCtx, "server stopped")
	return nil
}

// startConsumer runs the Kafka processor when brokers are configured. The
// returned channel is closed once the processor has stopped.
func startConsumer(ctx context.Context, cfg *config.Config, svc *app.Service, log logger.Logger) <-chan struct{} {
	done := make(chan struct{})
	if len(cfg.KafkaBrokers) == 0 {
		close(done)
		return done
	}

	reader := consumer.NewReader(cfg.KafkaBrokers, cfg.KafkaGroupID, cfg.KafkaTopic)
	proc := consumer.NewProcessor(reader, svc.StreamHandler(),
		consumer.WithLogger(log.Named("kafka-consumer")),
		consumer.WithDefaultSource(model.SourceRemoteSession),
	)
	log.Info(ctx, "starting kafka consumer",
		logger.Any("brokers", cfg.KafkaBrokers),
		logger.String("topic", cfg.KafkaTopic),
		logger.String("group", cfg.KafkaGroupID),
	)

	go func() {
		defer close(done)
		defer func() {
			if err := reader.Close(); err != nil {
				log.Error(context.Background(), "failed to close kafka reader", logger.Error(err))
			}
		}()
		if err := proc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error(ctx, "kafka consumer stopped", logger.Error(err))
		}
	}()
	return done
}

// startSystemMetricsUpdater updates system metrics until ctx is done.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(systemMetricsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}
