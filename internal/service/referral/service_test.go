package referral

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/pipeline"
	"github.com/jwalitptl/referral-api/internal/repository/memory"
	"github.com/jwalitptl/referral-api/internal/service/audit"
	apperrors "github.com/jwalitptl/referral-api/pkg/errors"
	"github.com/jwalitptl/referral-api/pkg/logger"
)

func TestIssueReturnsExistingActiveCode(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store, pipeline.NewCodeIssuer(store.Referrals, 0, nil), audit.NewService(store.Audit, logger.Nop()))
	ctx := context.Background()
	actor := &model.Actor{ID: uuid.New(), Role: model.RoleStaff}

	last := "Nguyen"
	patient, err := store.Patients.Upsert(ctx, model.PatientUpsert{Email: "p@x.com", LastName: &last})
	require.NoError(t, err)

	code, created, err := svc.Issue(ctx, actor, patient.ID)
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, pipeline.ValidCode(code.Code))
	assert.Equal(t, "ZX-NGU-", code.Code[:7])

	again, created, err := svc.Issue(ctx, actor, patient.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, code.Code, again.Code)

	details, err := svc.Get(ctx, code.ID)
	require.NoError(t, err)
	assert.Equal(t, "p@x.com", details.OwnerEmail)

	list, total, err := svc.List(ctx, &model.ReferralFilters{Status: model.ReferralStatusActive})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, list, 1)

	logs, _, err := store.Audit.List(ctx, &model.AuditFilters{Action: model.AuditReferralIssued})
	require.NoError(t, err)
	assert.Len(t, logs, 1)
}

func TestIssueUnknownPatient(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store, pipeline.NewCodeIssuer(store.Referrals, 0, nil), audit.NewService(store.Audit, logger.Nop()))

	_, _, err := svc.Issue(context.Background(), &model.Actor{ID: uuid.New()}, uuid.New())
	assert.Equal(t, http.StatusNotFound, apperrors.HTTPStatus(err))

	_, _, err = svc.List(context.Background(), &model.ReferralFilters{Status: "USED"})
	assert.Equal(t, http.StatusBadRequest, apperrors.HTTPStatus(err))
}
