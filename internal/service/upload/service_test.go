package upload

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/referral-api/internal/email"
	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/pipeline"
	"github.com/jwalitptl/referral-api/internal/repository"
	"github.com/jwalitptl/referral-api/internal/repository/memory"
	"github.com/jwalitptl/referral-api/internal/service/audit"
	apperrors "github.com/jwalitptl/referral-api/pkg/errors"
	"github.com/jwalitptl/referral-api/pkg/logger"
	"github.com/jwalitptl/referral-api/pkg/messaging"
)

const sampleCSV = "Email,Service,Start Time,Status\n" +
	"a@x.com,MRI Scan,2024-01-01,Completed\n" +
	"b@x.com,Consultation,2024-01-02,No-Show\n"

func setup(t *testing.T, mode Mode) (*Service, *repository.Store, *messaging.MemoryQueue) {
	t.Helper()
	store := memory.NewStore()
	require.NoError(t, store.Settings.Save(context.Background(), &model.Settings{
		ReviewURL: "https://g.page/review", ReferralRewardCopy: "Give $20",
	}))
	auditor := audit.NewService(store.Audit, logger.Nop())
	processor := pipeline.NewProcessor(store, email.NewMemoryDispatcher(), pipeline.NewCodeIssuer(store.Referrals, 0, nil),
		pipeline.Templates{}, logger.Nop(), nil)
	orch := pipeline.NewOrchestrator(store, processor, logger.Nop(), nil)
	queue := messaging.NewMemoryQueue(10)
	return NewService(store, orch, queue, auditor, logger.Nop(), mode), store, queue
}

func TestSubmitCSVQueuesBatch(t *testing.T) {
	svc, store, queue := setup(t, ModeQueue)
	ctx := context.Background()
	actor := &model.Actor{ID: uuid.New(), Role: model.RoleStaff}

	batch, err := svc.SubmitCSV(ctx, actor, "export.csv", strings.NewReader(sampleCSV))
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusQueued, batch.Status)
	assert.Equal(t, 2, batch.Total)
	assert.Equal(t, actor.ID, batch.UploadedBy)

	raw, err := queue.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	var job model.BatchJob
	require.NoError(t, json.Unmarshal(raw, &job))
	assert.Equal(t, batch.ID, job.BatchID)

	logs, _, err := store.Audit.List(ctx, &model.AuditFilters{Action: model.AuditBatchQueued})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, batch.ID, *logs[0].BatchID)
}

func TestSubmitInlineRunsBatch(t *testing.T) {
	svc, _, queue := setup(t, ModeInline)
	ctx := context.Background()

	batch, err := svc.SubmitCSV(ctx, &model.Actor{ID: uuid.New()}, "export.CSV", strings.NewReader(sampleCSV))
	require.NoError(t, err)
	assert.Equal(t, model.BatchStatusCompleted, batch.Status)
	assert.Equal(t, 2, batch.Processed)
	assert.Equal(t, 2, batch.Deferred)

	n, err := queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestSubmitInlineWithoutSettings(t *testing.T) {
	svc, store, _ := setup(t, ModeInline)
	ctx := context.Background()
	require.NoError(t, store.Settings.Save(ctx, &model.Settings{}))

	_, err := svc.SubmitCSV(ctx, &model.Actor{ID: uuid.New()}, "export.csv", strings.NewReader(sampleCSV))
	assert.ErrorIs(t, err, pipeline.ErrSettingsMissing)
	assert.Equal(t, http.StatusPreconditionFailed, apperrors.HTTPStatus(err))
}

func TestSubmitRejectsInvalidInput(t *testing.T) {
	svc, _, _ := setup(t, ModeQueue)
	ctx := context.Background()
	actor := &model.Actor{ID: uuid.New()}

	_, err := svc.SubmitCSV(ctx, actor, "export.xlsx", strings.NewReader(sampleCSV))
	assert.Equal(t, http.StatusBadRequest, apperrors.HTTPStatus(err))

	_, err = svc.SubmitCSV(ctx, actor, "export.csv", strings.NewReader("Email,Service,Date\nnope,Yoga,2024-01-01\n"))
	assert.Equal(t, http.StatusBadRequest, apperrors.HTTPStatus(err))

	_, total, err := svc.List(ctx, &model.BatchFilters{})
	require.NoError(t, err)
	assert.Zero(t, total)

	_, err = svc.Get(ctx, uuid.New())
	assert.Equal(t, http.StatusNotFound, apperrors.HTTPStatus(err))
}
