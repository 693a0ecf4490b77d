package referral

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/pipeline"
	"github.com/jwalitptl/referral-api/internal/repository"
	"github.com/jwalitptl/referral-api/internal/service/audit"
	apperrors "github.com/jwalitptl/referral-api/pkg/errors"
)

type Service struct {
	referrals repository.ReferralRepository
	patients  repository.PatientRepository
	issuer    *pipeline.CodeIssuer
	auditor   *audit.Service
}

func NewService(store *repository.Store, issuer *pipeline.CodeIssuer, auditor *audit.Service) *Service {
	return &Service{
		referrals: store.Referrals,
		patients:  store.Patients,
		issuer:    issuer,
		auditor:   auditor,
	}
}

// Issue returns the patient's ACTIVE code, creating one when needed. The bool reports creation.
func (s *Service) Issue(ctx context.Context, actor *model.Actor, patientID uuid.UUID) (*model.ReferralCode, bool, error) {
	patient, err := s.patients.Get(ctx, patientID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, false, apperrors.NotFound("patient", err)
		}
		return nil, false, fmt.Errorf("failed to get patient: %w", err)
	}

	code, created, err := s.issuer.EnsureActive(ctx, patient)
	if err != nil {
		if errors.Is(err, pipeline.ErrCodeGenerationExhausted) {
			return nil, false, apperrors.Conflict("could not generate a unique referral code", err)
		}
		return nil, false, fmt.Errorf("failed to issue referral code: %w", err)
	}

	if created {
		s.auditor.Record(ctx, &actor.ID, model.AuditReferralIssued, model.JSONMap{
			"code":      code.Code,
			"patientId": patient.ID.String(),
		})
	}
	return code, created, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*model.ReferralCodeDetails, error) {
	code, err := s.referrals.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("referral code", err)
		}
		return nil, fmt.Errorf("failed to get referral code: %w", err)
	}
	return code, nil
}

func (s *Service) List(ctx context.Context, filters *model.ReferralFilters) ([]*model.ReferralCodeDetails, int64, error) {
	switch filters.Status {
	case "", model.ReferralStatusActive, model.ReferralStatusRedeemed:
	default:
		return nil, 0, apperrors.BadRequest("invalid status filter", nil)
	}
	filters.Pagination = filters.Pagination.Normalize()
	codes, total, err := s.referrals.List(ctx, filters)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list referral codes: %w", err)
	}
	return codes, total, nil
}
