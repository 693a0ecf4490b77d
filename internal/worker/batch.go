package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/pipeline"
	"github.com/jwalitptl/referral-api/internal/repository"
	"github.com/jwalitptl/referral-api/pkg/logger"
	"github.com/jwalitptl/referral-api/pkg/messaging"
	"github.com/jwalitptl/referral-api/pkg/metrics"
)

const (
	DefaultPollTimeout = 5 * time.Second
	DefaultLockTTL     = 30 * time.Minute
)

type BatchWorkerConfig struct {
	PollTimeout time.Duration
	// LockTTL bounds how long one worker may hold a batch.
	LockTTL time.Duration
}

// BatchWorker drains batch jobs from the queue and runs them through the orchestrator.
// The lock keeps two workers from running the same batch when a job is delivered twice.
type BatchWorker struct {
	queue   messaging.Queue
	locker  messaging.Locker
	batches repository.BatchRepository
	orch    *pipeline.Orchestrator
	logger  *logger.Logger
	metrics *metrics.Metrics
	config  BatchWorkerConfig
}

func NewBatchWorker(queue messaging.Queue, locker messaging.Locker, batches repository.BatchRepository,
	orch *pipeline.Orchestrator, log *logger.Logger, m *metrics.Metrics, config BatchWorkerConfig) *BatchWorker {
	if config.PollTimeout <= 0 {
		config.PollTimeout = DefaultPollTimeout
	}
	if config.LockTTL <= 0 {
		config.LockTTL = DefaultLockTTL
	}
	return &BatchWorker{
		queue:   queue,
		locker:  locker,
		batches: batches,
		orch:    orch,
		logger:  log.With("worker", "batch"),
		metrics: m,
		config:  config,
	}
}

// Start blocks until ctx is done or the queue is closed.
func (w *BatchWorker) Start(ctx context.Context) {
	w.logger.Info("batch worker started", "poll_timeout", w.config.PollTimeout.String())
	for {
		if ctx.Err() != nil {
			w.logger.Info("batch worker stopped")
			return
		}

		w.observeDepth(ctx)
		msg, err := w.queue.Dequeue(ctx, w.config.PollTimeout)
		switch {
		case err == nil:
		case errors.Is(err, messaging.ErrEmpty):
			continue
		case errors.Is(err, messaging.ErrClosed):
			w.logger.Info("batch queue closed, worker exiting")
			return
		case ctx.Err() != nil:
			continue
		default:
			w.logger.Error(err, "failed to dequeue batch job")
			w.backoff(ctx)
			continue
		}

		if err := w.Handle(ctx, msg); err != nil {
			w.logger.Error(err, "failed to handle batch job")
		}
	}
}

// Handle runs one queued job. Jobs for batches that are no longer QUEUED are dropped.
func (w *BatchWorker) Handle(ctx context.Context, msg []byte) error {
	var job model.BatchJob
	if err := json.Unmarshal(msg, &job); err != nil {
		return fmt.Errorf("failed to decode batch job: %w", err)
	}
	log := w.logger.With("batch_id", job.BatchID.String())

	key := lockKey(job.BatchID)
	ok, err := w.locker.Acquire(ctx, key, w.config.LockTTL)
	if err != nil {
		return fmt.Errorf("failed to lock batch: %w", err)
	}
	if !ok {
		log.Debug("batch locked by another worker")
		return nil
	}
	defer func() {
		if err := w.locker.Release(context.WithoutCancel(ctx), key); err != nil {
			log.Error(err, "failed to release batch lock")
		}
	}()

	batch, err := w.batches.Get(ctx, job.BatchID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Warn("batch job for unknown batch")
			return nil
		}
		return fmt.Errorf("failed to load batch: %w", err)
	}
	if batch.Status != model.BatchStatusQueued {
		log.Debug("batch already picked up", "status", string(batch.Status))
		return nil
	}

	if !job.EnqueuedAt.IsZero() {
		log.Debug("batch dequeued", "queued_for", time.Since(job.EnqueuedAt).String())
	}

	// Settings and cancellation failures are already recorded on the batch.
	if _, err := w.orch.Execute(ctx, batch); err != nil {
		log.Warn("batch did not complete", "error", err.Error())
	}
	return nil
}

func (w *BatchWorker) observeDepth(ctx context.Context) {
	if w.metrics == nil {
		return
	}
	n, err := w.queue.Len(ctx)
	if err != nil {
		return
	}
	w.metrics.BatchQueueDepth.Set(float64(n))
}

func (w *BatchWorker) backoff(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
	}
}

func lockKey(id uuid.UUID) string {
	return "batch:" + id.String()
}
