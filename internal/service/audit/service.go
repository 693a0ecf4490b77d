package audit

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository"
	"github.com/jwalitptl/referral-api/pkg/logger"
)

// Service writes and reads the append-only audit trail.
type Service struct {
	repo   repository.AuditRepository
	logger *logger.Logger
}

func NewService(repo repository.AuditRepository, log *logger.Logger) *Service {
	return &Service{repo: repo, logger: log}
}

// Log records an action taken by actor. A nil actor marks a system action.
func (s *Service) Log(ctx context.Context, actor *uuid.UUID, action string, payload model.JSONMap) error {
	entry := &model.AuditLog{ActorID: actor, Action: action, Payload: payload}
	if err := s.repo.Create(ctx, entry); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// LogBatch records an action against an upload batch.
func (s *Service) LogBatch(ctx context.Context, batchID uuid.UUID, actor *uuid.UUID, action string, payload model.JSONMap) error {
	entry := &model.AuditLog{BatchID: &batchID, ActorID: actor, Action: action, Payload: payload}
	if err := s.repo.Create(ctx, entry); err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

// Record is Log for callers that must not fail because the audit write did.
func (s *Service) Record(ctx context.Context, actor *uuid.UUID, action string, payload model.JSONMap) {
	if err := s.Log(ctx, actor, action, payload); err != nil {
		s.logger.Error(err, "audit write failed", "action", action)
	}
}

func (s *Service) List(ctx context.Context, filters *model.AuditFilters) ([]*model.AuditLog, int64, error) {
	filters.Pagination = filters.Pagination.Normalize()
	logs, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list audit logs: %w", err)
	}
	return logs, total, nil
}

func (s *Service) Stats(ctx context.Context) (*model.AuditStats, error) {
	stats, err := s.repo.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get audit stats: %w", err)
	}
	return stats, nil
}
