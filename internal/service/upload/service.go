// Package upload accepts appointment exports and hands them to the batch pipeline.
package upload

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/pipeline"
	"github.com/jwalitptl/referral-api/internal/repository"
	"github.com/jwalitptl/referral-api/internal/service/audit"
	apperrors "github.com/jwalitptl/referral-api/pkg/errors"
	"github.com/jwalitptl/referral-api/pkg/logger"
	"github.com/jwalitptl/referral-api/pkg/messaging"
)

type Mode string

const (
	// ModeQueue stores the batch and enqueues it for the batch worker.
	ModeQueue Mode = "queue"
	// ModeInline runs the batch inside the request.
	ModeInline Mode = "inline"
)

type Service struct {
	batches repository.BatchRepository
	orch    *pipeline.Orchestrator
	queue   messaging.Queue
	auditor *audit.Service
	logger  *logger.Logger
	mode    Mode
	now     func() time.Time
}

func NewService(store *repository.Store, orch *pipeline.Orchestrator, queue messaging.Queue,
	auditor *audit.Service, log *logger.Logger, mode Mode) *Service {
	if mode == "" {
		mode = ModeQueue
	}
	return &Service{
		batches: store.Batches,
		orch:    orch,
		queue:   queue,
		auditor: auditor,
		logger:  log,
		mode:    mode,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SubmitCSV normalizes a vendor export and submits it. An invalid file creates no batch.
func (s *Service) SubmitCSV(ctx context.Context, actor *model.Actor, filename string, r io.Reader) (*model.UploadBatch, error) {
	if !strings.EqualFold(filepath.Ext(filename), ".csv") {
		return nil, apperrors.BadRequest("only .csv files are accepted", nil)
	}
	payload, err := pipeline.Normalize(r, filepath.Base(filename))
	if err != nil {
		return nil, err
	}
	return s.Submit(ctx, actor, payload)
}

// Submit validates the payload, stores a QUEUED batch and dispatches it according to the mode.
func (s *Service) Submit(ctx context.Context, actor *model.Actor, payload *model.CsvPayload) (*model.UploadBatch, error) {
	if err := pipeline.ValidatePayload(payload); err != nil {
		return nil, err
	}

	batch := pipeline.NewBatch(payload, actor.ID)
	if err := s.batches.Create(ctx, batch); err != nil {
		return nil, fmt.Errorf("failed to create upload batch: %w", err)
	}
	s.logger.Info("batch submitted", "batch_id", batch.ID.String(), "rows", batch.Total, "mode", string(s.mode))

	if err := s.auditor.LogBatch(ctx, batch.ID, &actor.ID, model.AuditBatchQueued, model.JSONMap{
		"filename": batch.Filename,
		"total":    batch.Total,
	}); err != nil {
		s.logger.Error(err, "audit write failed", "action", model.AuditBatchQueued)
	}

	if s.mode == ModeInline {
		if _, err := s.orch.Execute(ctx, batch); err != nil {
			if errors.Is(err, pipeline.ErrSettingsMissing) {
				return nil, apperrors.Precondition("clinic settings are incomplete", err)
			}
			return nil, fmt.Errorf("failed to process batch: %w", err)
		}
		return s.Get(ctx, batch.ID)
	}

	job, err := json.Marshal(model.BatchJob{BatchID: batch.ID, EnqueuedAt: s.now()})
	if err != nil {
		return nil, fmt.Errorf("failed to encode batch job: %w", err)
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.orch.Fail(context.WithoutCancel(ctx), batch, fmt.Errorf("enqueue failed: %w", err))
		return nil, fmt.Errorf("failed to enqueue batch: %w", err)
	}
	return batch, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.UploadBatch, error) {
	batch, err := s.batches.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("upload batch", err)
		}
		return nil, fmt.Errorf("failed to get upload batch: %w", err)
	}
	return batch, nil
}

func (s *Service) List(ctx context.Context, filters *model.BatchFilters) ([]*model.UploadBatch, int64, error) {
	filters.Pagination = filters.Pagination.Normalize()
	batches, total, err := s.batches.List(ctx, filters)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list upload batches: %w", err)
	}
	return batches, total, nil
}
