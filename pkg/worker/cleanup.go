package worker

import (
	"context"
	"time"

	"github.com/jwalitptl/anamnesis-api/internal/repository"
	"github.com/jwalitptl/anamnesis-api/pkg/logger"
)

type OutboxCleanupConfig struct {
	Retention time.Duration
	Interval  time.Duration
}

// OutboxCleanupWorker deletes processed events older than the retention.
type OutboxCleanupWorker struct {
	repo   repository.OutboxRepository
	config OutboxCleanupConfig
	logger *logger.Logger
	now    func() time.Time
}

func NewOutboxCleanupWorker(repo repository.OutboxRepository, config OutboxCleanupConfig, logger *logger.Logger) *OutboxCleanupWorker {
	return &OutboxCleanupWorker{
		repo:   repo,
		config: config,
		logger: logger,
		now:    time.Now,
	}
}

func (w *OutboxCleanupWorker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Cleanup(ctx)
		}
	}
}

func (w *OutboxCleanupWorker) Cleanup(ctx context.Context) {
	deleted, err := w.repo.DeleteProcessedBefore(ctx, w.now().Add(-w.config.Retention))
	if err != nil {
		w.logger.Error(err, "Failed to clean up outbox")
		return
	}
	if deleted > 0 {
		w.logger.Info("Outbox cleaned up", "deleted", deleted)
	}
}
