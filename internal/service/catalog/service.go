// Package catalog administers the service catalog that drives email branching.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/pipeline"
	"github.com/jwalitptl/referral-api/internal/repository"
	"github.com/jwalitptl/referral-api/internal/service/audit"
	apperrors "github.com/jwalitptl/referral-api/pkg/errors"
)

type Service struct {
	services     repository.ServiceRepository
	appointments repository.AppointmentRepository
	auditor      *audit.Service
}

func NewService(store *repository.Store, auditor *audit.Service) *Service {
	return &Service{
		services:     store.Services,
		appointments: store.Appointments,
		auditor:      auditor,
	}
}

func (s *Service) Create(ctx context.Context, actor *model.Actor, req *model.CreateServiceRequest) (*model.Service, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperrors.BadRequest("name is required", nil)
	}

	suggestion := pipeline.Classify(name, model.Deref(req.Category))
	svc := &model.Service{
		Name:                 name,
		Classification:       req.Classification,
		Category:             req.Category,
		Description:          req.Description,
		SuggestionConfidence: suggestion.Confidence,
		RequiresReview:       suggestion.RequiresManualReview,
	}
	if svc.Classification == "" {
		svc.Classification = model.ClassificationUnknown
	}
	if svc.Classification != model.ClassificationUnknown {
		svc.RequiresReview = false
	}
	if suggestion.Type != model.ClassificationUnknown {
		t := suggestion.Type
		svc.SuggestedClassification = &t
	}

	if err := s.services.Create(ctx, svc); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.Conflict(fmt.Sprintf("service %q already exists", name), err)
		}
		return nil, fmt.Errorf("failed to create service: %w", err)
	}

	s.auditor.Record(ctx, &actor.ID, model.AuditServiceCreated, model.JSONMap{
		"serviceId":      svc.ID.String(),
		"name":           svc.Name,
		"classification": string(svc.Classification),
	})
	return svc, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.Service, error) {
	svc, err := s.services.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("service", err)
		}
		return nil, fmt.Errorf("failed to get service: %w", err)
	}
	return svc, nil
}

func (s *Service) Update(ctx context.Context, actor *model.Actor, id uuid.UUID, req *model.UpdateServiceRequest) (*model.Service, error) {
	svc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, apperrors.BadRequest("name cannot be empty", nil)
		}
		svc.Name = name
	}
	if req.Category != nil {
		svc.Category = model.StringPtr(strings.TrimSpace(*req.Category))
	}
	if req.Description != nil {
		svc.Description = model.StringPtr(strings.TrimSpace(*req.Description))
	}

	if err := s.services.Update(ctx, svc); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.Conflict(fmt.Sprintf("service %q already exists", svc.Name), err)
		}
		return nil, fmt.Errorf("failed to update service: %w", err)
	}

	s.auditor.Record(ctx, &actor.ID, model.AuditServiceUpdated, model.JSONMap{
		"serviceId": svc.ID.String(),
		"name":      svc.Name,
	})
	return svc, nil
}

// Delete removes a service nothing references yet.
func (s *Service) Delete(ctx context.Context, actor *model.Actor, id uuid.UUID) error {
	svc, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	count, err := s.appointments.CountByService(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to count appointments: %w", err)
	}
	if count > 0 {
		return apperrors.Conflict(fmt.Sprintf("service has %d appointments", count), nil)
	}

	if err := s.services.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete service: %w", err)
	}

	s.auditor.Record(ctx, &actor.ID, model.AuditServiceDeleted, model.JSONMap{
		"serviceId": id.String(),
		"name":      svc.Name,
	})
	return nil
}

func (s *Service) List(ctx context.Context, filters *model.ServiceFilters) ([]*model.Service, int64, error) {
	if filters.Classification != "" && !filters.Classification.Valid() {
		return nil, 0, apperrors.BadRequest("invalid classification filter", nil)
	}
	filters.Pagination = filters.Pagination.Normalize()
	services, total, err := s.services.List(ctx, filters)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list services: %w", err)
	}
	return services, total, nil
}

// ListUnknown returns UNKNOWN services with the number of appointments waiting on them.
func (s *Service) ListUnknown(ctx context.Context) ([]*model.UnknownService, error) {
	services, err := s.services.ListUnknown(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list unknown services: %w", err)
	}
	return services, nil
}

// Classify sets the authoritative classification. Appointments already deferred are not replayed.
func (s *Service) Classify(ctx context.Context, actor *model.Actor, id uuid.UUID, c model.Classification) (*model.Service, error) {
	if c != model.ClassificationMedical && c != model.ClassificationWellness {
		return nil, apperrors.BadRequest("classification must be MEDICAL or WELLNESS", nil)
	}
	svc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	previous := svc.Classification

	if err := s.services.SetClassification(ctx, id, c); err != nil {
		return nil, fmt.Errorf("failed to classify service: %w", err)
	}
	svc.Classification = c
	svc.RequiresReview = false

	s.auditor.Record(ctx, &actor.ID, model.AuditServiceClassified, model.JSONMap{
		"serviceId": id.String(),
		"name":      svc.Name,
		"from":      string(previous),
		"to":        string(c),
	})
	return svc, nil
}

// Preview runs the keyword heuristic without touching the catalog.
func (s *Service) Preview(req *model.ClassifyPreviewRequest) pipeline.Classification {
	return pipeline.Classify(req.ServiceName, req.Category)
}

func (s *Service) Stats(ctx context.Context) (*model.ServiceStats, error) {
	stats, err := s.services.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get service stats: %w", err)
	}
	return stats, nil
}
