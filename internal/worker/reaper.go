package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/pipeline"
	"github.com/jwalitptl/referral-api/internal/repository"
	"github.com/jwalitptl/referral-api/pkg/logger"
)

const (
	DefaultStaleAfter   = time.Hour
	DefaultReapInterval = 5 * time.Minute
)

// StaleBatchReaper fails batches left PROCESSING by a worker that died mid-run.
type StaleBatchReaper struct {
	batches    repository.BatchRepository
	orch       *pipeline.Orchestrator
	logger     *logger.Logger
	staleAfter time.Duration
	interval   time.Duration
	now        func() time.Time
}

func NewStaleBatchReaper(batches repository.BatchRepository, orch *pipeline.Orchestrator, log *logger.Logger,
	staleAfter, interval time.Duration) *StaleBatchReaper {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	return &StaleBatchReaper{
		batches:    batches,
		orch:       orch,
		logger:     log.With("worker", "reaper"),
		staleAfter: staleAfter,
		interval:   interval,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (r *StaleBatchReaper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Reap(ctx); err != nil {
				r.logger.Error(err, "stale batch sweep failed")
			}
		}
	}
}

// Reap fails every PROCESSING batch whose last heartbeat is older than staleAfter and returns
// how many it failed. A batch that checkpoints between the listing and the update is left alone.
func (r *StaleBatchReaper) Reap(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.staleAfter)
	stale, err := r.batches.ListStale(ctx, model.BatchStatusProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list stale batches: %w", err)
	}

	reaped := 0
	cause := fmt.Errorf("batch stalled: no heartbeat since %s", cutoff.Format(time.RFC3339))
	for _, batch := range stale {
		ok, err := r.orch.FailStale(ctx, batch, cutoff, cause)
		if err != nil {
			r.logger.Error(err, "failed to reap batch", "batch_id", batch.ID.String())
			continue
		}
		if ok {
			reaped++
		}
	}
	if reaped > 0 {
		r.logger.Info("reaped stale batches", "count", reaped)
	}
	return reaped, nil
}
