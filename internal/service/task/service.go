package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository"
	"github.com/jwalitptl/referral-api/internal/service/audit"
	apperrors "github.com/jwalitptl/referral-api/pkg/errors"
)

// ErrTaskClosed is returned when completing a task that is no longer OPEN.
var ErrTaskClosed = errors.New("task already completed")

type Service struct {
	repo    repository.TaskRepository
	auditor *audit.Service
	now     func() time.Time
}

func NewService(repo repository.TaskRepository, auditor *audit.Service) *Service {
	return &Service{
		repo:    repo,
		auditor: auditor,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.TaskWithDetails, error) {
	task, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("task", err)
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return task, nil
}

func (s *Service) List(ctx context.Context, filters *model.TaskFilters) ([]*model.TaskWithDetails, int64, error) {
	switch filters.Status {
	case "", model.TaskStatusOpen, model.TaskStatusCompleted:
	default:
		return nil, 0, apperrors.BadRequest("invalid status filter", nil)
	}
	filters.Pagination = filters.Pagination.Normalize()
	tasks, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, total, nil
}

// Complete moves an OPEN task to COMPLETED. It succeeds at most once per task.
func (s *Service) Complete(ctx context.Context, actor *model.Actor, id uuid.UUID) (*model.TaskWithDetails, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}

	ok, err := s.repo.Complete(ctx, id, actor.ID, s.now())
	if err != nil {
		return nil, fmt.Errorf("failed to complete task: %w", err)
	}
	if !ok {
		return nil, apperrors.Conflict("task is not open", ErrTaskClosed)
	}

	task, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	s.auditor.Record(ctx, &actor.ID, model.AuditTaskCompleted, model.JSONMap{
		"taskId":     id.String(),
		"code":       task.Code,
		"referrerId": task.ReferrerID.String(),
	})
	return task, nil
}
