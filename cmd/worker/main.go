package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/jwalitptl/anamnesis-api/config"
	"github.com/jwalitptl/anamnesis-api/internal/email"
	"github.com/jwalitptl/anamnesis-api/internal/model"
	"github.com/jwalitptl/anamnesis-api/internal/repository/postgres"
	"github.com/jwalitptl/anamnesis-api/pkg/logger"
	"github.com/jwalitptl/anamnesis-api/pkg/messaging"
	"github.com/jwalitptl/anamnesis-api/pkg/messaging/redis"
	"github.com/jwalitptl/anamnesis-api/pkg/metrics"
	"github.com/jwalitptl/anamnesis-api/pkg/worker"
)

func setupHealthCheck(addr string, ready func(context.Context) error, registry *prometheus.Registry, logger *logger.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	mux.HandleFunc("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := ready(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	mux.Handle("/health/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(err, "Health check server failed")
		}
	}()
	return srv
}

func main() {
	// Load config
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	if cfg.Server.Storage != "postgres" {
		log.Fatal().Str("storage", cfg.Server.Storage).Msg("The worker needs the postgres outbox")
	}

	appLogger := logger.NewLogger(cfg.Log.ToLoggerConfig())
	appLogger.SetGlobal()

	// Initialize database
	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		appLogger.Fatal(err, "Failed to connect to database")
	}
	defer db.Close()

	// Initialize Redis broker
	broker, err := redis.NewRedisBroker(cfg.Redis.ToBrokerConfig(), appLogger.Zerolog())
	if err != nil {
		appLogger.Fatal(err, "Failed to create Redis broker")
	}
	defer broker.Close()

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry, "anamnesis", "worker")

	baseRepo := postgres.NewBaseRepository(db)
	outboxRepo := postgres.NewOutboxRepository(baseRepo)

	processor := worker.NewOutboxProcessor(
		outboxRepo,
		broker,
		cfg.Outbox.ToWorkerConfig(),
		appLogger,
		m,
	)
	cleanup := worker.NewOutboxCleanupWorker(outboxRepo, cfg.Outbox.ToCleanupConfig(), appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Patients get their link by email once the dispatch event is published.
	notifier := email.NewNotifier(email.NewService(cfg.SMTP.ToMailerConfig()), m, appLogger)
	subscriber := messaging.NewBrokerAdapter(broker, appLogger.Zerolog())
	if err := subscriber.Subscribe(ctx, model.EventAnamnesisDispatched, notifier.HandleDispatched); err != nil {
		appLogger.Fatal(err, "Failed to subscribe to dispatched events")
	}

	healthSrv := setupHealthCheck(cfg.Monitoring.WorkerHealthAddr, func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return err
		}
		return broker.Ping(ctx)
	}, registry, appLogger)

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		appLogger.Info("Shutting down...")
		cancel()
	}()

	go cleanup.Start(ctx)
	processor.Start(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(err, "Health check server forced to shutdown")
	}
}
