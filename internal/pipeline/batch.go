package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository"
	"github.com/jwalitptl/referral-api/pkg/logger"
	"github.com/jwalitptl/referral-api/pkg/metrics"
)

var (
	// ErrSettingsMissing aborts a batch before its first row.
	ErrSettingsMissing = errors.New("settings missing")
	// ErrBatchAborted is returned when the batch left PROCESSING while it was running,
	// for instance because the stale batch reaper failed it.
	ErrBatchAborted = errors.New("batch no longer processing")
)

const (
	// progressEvery controls how often running counters are persisted for pollers.
	progressEvery = 25
	// DefaultHeartbeat bounds the time between two checkpoints of a running batch.
	DefaultHeartbeat = time.Minute
)

// Orchestrator walks a batch's rows through the Processor strictly in order.
type Orchestrator struct {
	store     *repository.Store
	processor *Processor
	logger    *logger.Logger
	metrics   *metrics.Metrics
	heartbeat time.Duration
	now       func() time.Time
}

func NewOrchestrator(store *repository.Store, processor *Processor, log *logger.Logger, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		store:     store,
		processor: processor,
		logger:    log,
		metrics:   m,
		heartbeat: DefaultHeartbeat,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithHeartbeat sets how long a running batch may go without a checkpoint. It must stay well
// below the reaper's stale_after.
func (o *Orchestrator) WithHeartbeat(d time.Duration) *Orchestrator {
	if d > 0 {
		o.heartbeat = d
	}
	return o
}

// NewBatch builds a QUEUED batch carrying the validated rows.
func NewBatch(payload *model.CsvPayload, uploaderID uuid.UUID) *model.UploadBatch {
	return &model.UploadBatch{
		Filename:   payload.Meta.Filename,
		UploadedBy: uploaderID,
		Status:     model.BatchStatusQueued,
		Rows:       payload.Rows,
		Total:      len(payload.Rows),
	}
}

// Run validates the payload, records the batch and processes it synchronously.
func (o *Orchestrator) Run(ctx context.Context, payload *model.CsvPayload, uploaderID uuid.UUID) (*model.BatchResult, error) {
	if err := ValidatePayload(payload); err != nil {
		return nil, err
	}
	batch := NewBatch(payload, uploaderID)
	if err := o.store.Batches.Create(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to create upload batch: %w", err)
	}
	return o.Execute(ctx, batch)
}

// LoadSettings returns the settings a batch needs, or ErrSettingsMissing.
func LoadSettings(ctx context.Context, store *repository.Store) (*model.Settings, error) {
	settings, err := store.Settings.Get(ctx)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrSettingsMissing
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}
	if strings.TrimSpace(settings.ReviewURL) == "" || strings.TrimSpace(settings.ReferralRewardCopy) == "" {
		return nil, fmt.Errorf("%w: review_url and referral_reward_copy must be set", ErrSettingsMissing)
	}
	return settings, nil
}

// Execute processes a stored batch. The batch ends COMPLETED, or FAILED when a precondition
// fails or ctx is cancelled. Per-row failures never fail the batch.
func (o *Orchestrator) Execute(ctx context.Context, batch *model.UploadBatch) (*model.BatchResult, error) {
	log := o.logger.With("batch_id", batch.ID.String())
	start := o.now()

	settings, err := LoadSettings(ctx, o.store)
	if err != nil {
		o.fail(ctx, batch, err)
		return nil, err
	}

	batch.Status = model.BatchStatusProcessing
	batch.StartedAt = &start
	batch.Total = len(batch.Rows)
	batch.Processed, batch.Sent, batch.Deferred, batch.Redeemed = 0, 0, 0, 0
	if err := o.store.Batches.Update(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to mark batch processing: %w", err)
	}
	log.Info("batch started", "filename", batch.Filename, "rows", batch.Total)

	actor := batch.UploadedBy
	lastBeat := start
	for i, row := range batch.Rows {
		if err := ctx.Err(); err != nil {
			o.failRunning(context.WithoutCancel(ctx), batch, fmt.Errorf("interrupted after %d of %d rows: %w", i, batch.Total, err))
			return nil, err
		}

		res := o.processor.Process(ctx, RowContext{Batch: batch, Settings: settings, Index: i, Row: row})
		switch res.Outcome {
		case OutcomeFailed:
			log.Warn("row failed", "row", i+1, "error", res.Err.Error())
			o.record(ctx, batch.ID, &actor, model.AuditRowError, model.JSONMap{
				"row":   rowPayload(row),
				"index": i,
				"error": res.Err.Error(),
			})
			continue
		case OutcomeSent:
			batch.Sent++
		case OutcomeDeferred:
			batch.Deferred++
		}
		batch.Processed++
		if res.Redeemed {
			batch.Redeemed++
		}

		if now := o.now(); (i+1)%progressEvery == 0 || now.Sub(lastBeat) >= o.heartbeat {
			lastBeat = now
			ok, err := o.store.Batches.Checkpoint(ctx, batch)
			if err != nil {
				log.Error(err, "failed to persist batch progress")
			} else if !ok {
				log.Warn("batch left processing while running, stopping", "row", i+1)
				return nil, ErrBatchAborted
			}
		}
	}

	done := o.now()
	batch.Status = model.BatchStatusCompleted
	batch.CompletedAt = &done
	ok, err := o.store.Batches.Checkpoint(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("failed to complete batch: %w", err)
	}
	if !ok {
		log.Warn("batch left processing before completion")
		return nil, ErrBatchAborted
	}

	result := batch.Result()
	o.record(ctx, batch.ID, &actor, model.AuditBatchSummary, model.JSONMap{
		"total":     result.Total,
		"processed": result.Processed,
		"sent":      result.Sent,
		"deferred":  result.Deferred,
		"redeemed":  result.Redeemed,
	})

	if o.metrics != nil {
		o.metrics.BatchesTotal.WithLabelValues(string(model.BatchStatusCompleted)).Inc()
		o.metrics.BatchDuration.Observe(done.Sub(start).Seconds())
	}
	log.Info("batch completed",
		"processed", result.Processed, "sent", result.Sent, "deferred", result.Deferred, "redeemed", result.Redeemed)
	return result, nil
}

// Fail marks the batch FAILED with cause and records a batch_failed audit entry.
func (o *Orchestrator) Fail(ctx context.Context, batch *model.UploadBatch, cause error) {
	o.fail(ctx, batch, cause)
}

// FailStale fails a PROCESSING batch whose heartbeat is older than before. It reports false,
// and records nothing, when the batch checkpointed since it was listed or is no longer running.
func (o *Orchestrator) FailStale(ctx context.Context, batch *model.UploadBatch, before time.Time, cause error) (bool, error) {
	msg := cause.Error()
	ok, err := o.store.Batches.FailRunning(ctx, batch.ID, msg, o.now(), before)
	if err != nil || !ok {
		return false, err
	}
	o.failed(ctx, batch, msg)
	return true, nil
}

func (o *Orchestrator) fail(ctx context.Context, batch *model.UploadBatch, cause error) {
	msg := cause.Error()
	done := o.now()
	batch.Status = model.BatchStatusFailed
	batch.Error = &msg
	batch.CompletedAt = &done

	if err := o.store.Batches.Update(ctx, batch); err != nil {
		o.logger.Error(err, "failed to mark batch failed", "batch_id", batch.ID.String())
	}
	o.failed(ctx, batch, msg)
}

// failRunning fails the batch this orchestrator is running unless someone else already did.
func (o *Orchestrator) failRunning(ctx context.Context, batch *model.UploadBatch, cause error) {
	msg := cause.Error()
	ok, err := o.store.Batches.FailRunning(ctx, batch.ID, msg, o.now(), time.Time{})
	if err != nil {
		o.logger.Error(err, "failed to mark batch failed", "batch_id", batch.ID.String())
		return
	}
	if ok {
		o.failed(ctx, batch, msg)
	}
}

// failed records the audit entry, metric and log line for a batch that just became FAILED.
func (o *Orchestrator) failed(ctx context.Context, batch *model.UploadBatch, msg string) {
	batch.Status = model.BatchStatusFailed
	batch.Error = &msg
	actor := batch.UploadedBy
	o.record(ctx, batch.ID, &actor, model.AuditBatchFailed, model.JSONMap{"error": msg})
	if o.metrics != nil {
		o.metrics.BatchesTotal.WithLabelValues(string(model.BatchStatusFailed)).Inc()
	}
	o.logger.Warn("batch failed", "batch_id", batch.ID.String(), "error", msg)
}

// record writes an audit entry. Audit failures are logged, they never stop a batch.
func (o *Orchestrator) record(ctx context.Context, batchID uuid.UUID, actor *uuid.UUID, action string, payload model.JSONMap) {
	entry := &model.AuditLog{BatchID: &batchID, ActorID: actor, Action: action, Payload: payload}
	if err := o.store.Audit.Create(ctx, entry); err != nil {
		o.logger.Error(err, "failed to write audit entry", "action", action, "batch_id", batchID.String())
	}
}
