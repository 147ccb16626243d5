package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/anamnesis-api/config"
	anamnesisHandler "github.com/jwalitptl/anamnesis-api/internal/handler/anamnesis"
	"github.com/jwalitptl/anamnesis-api/internal/handler/health"
	patientHandler "github.com/jwalitptl/anamnesis-api/internal/handler/patient"
	templateHandler "github.com/jwalitptl/anamnesis-api/internal/handler/template"
	"github.com/jwalitptl/anamnesis-api/internal/middleware"
	"github.com/jwalitptl/anamnesis-api/internal/repository"
	"github.com/jwalitptl/anamnesis-api/internal/repository/memory"
	"github.com/jwalitptl/anamnesis-api/internal/repository/postgres"
	"github.com/jwalitptl/anamnesis-api/internal/router"
	anamnesisService "github.com/jwalitptl/anamnesis-api/internal/service/anamnesis"
	patientService "github.com/jwalitptl/anamnesis-api/internal/service/patient"
	templateService "github.com/jwalitptl/anamnesis-api/internal/service/template"
	"github.com/jwalitptl/anamnesis-api/pkg/logger"
	"github.com/jwalitptl/anamnesis-api/pkg/messaging/redis"
	"github.com/jwalitptl/anamnesis-api/pkg/metrics"
	"github.com/jwalitptl/anamnesis-api/pkg/token"
	"github.com/jwalitptl/anamnesis-api/pkg/worker"
)

type repositories struct {
	templates repository.TemplateRepository
	sections  repository.SectionRepository
	fields    repository.FieldRepository
	anamneses repository.AnamnesisRepository
	patients  repository.PatientRepository
	outbox    repository.OutboxRepository
	ping      health.Pinger
	close     func() error
}

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(cfg.Log.ToLoggerConfig())
	appLogger.SetGlobal()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repos, err := openRepositories(ctx, cfg)
	if err != nil {
		appLogger.Fatal(err, "failed to initialize storage", "storage", cfg.Server.Storage)
	}
	defer repos.close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry, "anamnesis", "api")

	// Initialize services
	templateSvc := templateService.NewService(repos.templates, repos.sections, repos.fields, repos.anamneses, m, appLogger)
	patientSvc := patientService.NewService(repos.patients)
	anamnesisSvc := anamnesisService.NewService(
		repos.anamneses,
		repos.patients,
		templateSvc,
		token.NewIssuer(cfg.Anamnesis.TokenSecret, cfg.Anamnesis.TokenIssuer),
		anamnesisService.Config{
			PublicBaseURL: cfg.Anamnesis.PublicBaseURL,
			LinkTTL:       cfg.Anamnesis.LinkTTL,
			CacheTTL:      cfg.Anamnesis.CacheTTL,
		},
		m,
		appLogger,
	)

	var gatherer prometheus.Gatherer
	if cfg.Monitoring.PrometheusEnabled {
		gatherer = registry
	}

	// Setup router
	r := router.NewRouter(
		health.NewHandler(repos.ping, gatherer),
		templateHandler.NewHandler(templateSvc),
		patientHandler.NewHandler(patientSvc),
		anamnesisHandler.NewHandler(anamnesisSvc),
		m,
		router.RouterConfig{
			RateLimitEnabled: cfg.RateLimit.Enabled,
			RateLimit:        rate.Limit(cfg.RateLimit.RequestsPerSecond),
			RateBurst:        cfg.RateLimit.Burst,
			CORSConfig:       middleware.DefaultCORSConfig(cfg.Security.AllowedOrigins),
			MaxBodySize:      cfg.Security.MaxBodyBytes,
		},
	)
	r.Setup()

	// The memory store lives in this process, so its outbox is drained here.
	if cfg.Server.Storage == "memory" {
		startInProcessOutbox(ctx, cfg, repos.outbox, appLogger, m)
	}

	srv := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        r.Engine(),
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	// Start server
	go func() {
		appLogger.Info("starting server", "addr", srv.Addr, "storage", cfg.Server.Storage)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal(err, "failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("shutting down server...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error(err, "server forced to shutdown")
	}

	appLogger.Info("server exited")
}

func openRepositories(ctx context.Context, cfg *config.Config) (*repositories, error) {
	if cfg.Server.Storage == "memory" {
		db := memory.New()
		return &repositories{
			templates: memory.NewTemplateRepository(db),
			sections:  memory.NewSectionRepository(db),
			fields:    memory.NewFieldRepository(db),
			anamneses: memory.NewAnamnesisRepository(db),
			patients:  memory.NewPatientRepository(db),
			outbox:    memory.NewOutboxRepository(db),
			close:     func() error { return nil },
		}, nil
	}

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := postgres.Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return postgresRepositories(db), nil
}

func postgresRepositories(db *sqlx.DB) *repositories {
	base := postgres.NewBaseRepository(db)
	return &repositories{
		templates: postgres.NewTemplateRepository(base),
		sections:  postgres.NewSectionRepository(base),
		fields:    postgres.NewFieldRepository(base),
		anamneses: postgres.NewAnamnesisRepository(base),
		patients:  postgres.NewPatientRepository(db),
		outbox:    postgres.NewOutboxRepository(base),
		ping:      db.PingContext,
		close:     db.Close,
	}
}

func startInProcessOutbox(ctx context.Context, cfg *config.Config, outbox repository.OutboxRepository, appLogger *logger.Logger, m *metrics.Metrics) {
	broker, err := redis.NewRedisBroker(cfg.Redis.ToBrokerConfig(), appLogger.Zerolog())
	if err != nil {
		appLogger.Warn("outbox events will not be published", "error", err.Error())
		return
	}
	go func() {
		<-ctx.Done()
		broker.Close()
	}()

	processor := worker.NewOutboxProcessor(outbox, broker, cfg.Outbox.ToWorkerConfig(), appLogger, m)
	go processor.Start(ctx)
	go worker.NewOutboxCleanupWorker(outbox, cfg.Outbox.ToCleanupConfig(), appLogger).Start(ctx)
}
