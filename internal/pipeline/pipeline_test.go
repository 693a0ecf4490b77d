package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/referral-api/internal/email"
	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository"
	"github.com/jwalitptl/referral-api/internal/repository/memory"
	"github.com/jwalitptl/referral-api/pkg/logger"
	"github.com/jwalitptl/referral-api/pkg/metrics"
)

type fixture struct {
	store    *repository.Store
	mailer   *email.MemoryDispatcher
	codes    *CodeIssuer
	orch     *Orchestrator
	metrics  *metrics.Metrics
	uploader uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	require.NoError(t, store.Settings.Save(context.Background(), &model.Settings{
		ClinicName:         "Zenith Clinic",
		ReviewURL:          "https://g.page/zenith/review",
		ReferralRewardCopy: "Give $20, get $20",
	}))

	m := metrics.New("test")
	mailer := email.NewMemoryDispatcher()
	codes := NewCodeIssuer(store.Referrals, DefaultCodeAttempts, m)
	templates := Templates{
		Medical:  email.Template{ID: "medical-review", Subject: "Thanks for your visit"},
		Wellness: email.Template{ID: "wellness-referral", Subject: "Your referral code"},
	}
	processor := NewProcessor(store, mailer, codes, templates, logger.Nop(), m)
	return &fixture{
		store:    store,
		mailer:   mailer,
		codes:    codes,
		orch:     NewOrchestrator(store, processor, logger.Nop(), m),
		metrics:  m,
		uploader: uuid.New(),
	}
}

func (f *fixture) run(t *testing.T, rows ...model.CsvRow) *model.BatchResult {
	t.Helper()
	res, err := f.orch.Run(context.Background(), &model.CsvPayload{Meta: model.CsvMeta{Filename: "upload.csv"}, Rows: rows}, f.uploader)
	require.NoError(t, err)
	return res
}

func (f *fixture) service(t *testing.T, name string, c model.Classification) *model.Service {
	t.Helper()
	svc := &model.Service{Name: name, Classification: c}
	require.NoError(t, f.store.Services.Create(context.Background(), svc))
	return svc
}

// actions counts audit entries by action, optionally restricted to one batch.
func (f *fixture) actions(t *testing.T, batchID *uuid.UUID) map[string]int {
	t.Helper()
	logs, _, err := f.store.Audit.List(context.Background(), &model.AuditFilters{
		Pagination: model.Pagination{Page: 1, Limit: 200},
		BatchID:    batchID,
	})
	require.NoError(t, err)
	out := map[string]int{}
	for _, l := range logs {
		out[l.Action]++
	}
	return out
}

func (f *fixture) auditEntries(t *testing.T, action string) []*model.AuditLog {
	t.Helper()
	logs, _, err := f.store.Audit.List(context.Background(), &model.AuditFilters{
		Pagination: model.Pagination{Page: 1, Limit: 200},
		Action:     action,
	})
	require.NoError(t, err)
	return logs
}

func row(email, service string) model.CsvRow {
	return model.CsvRow{
		PatientEmail:      email,
		ServiceName:       service,
		AppointmentDate:   model.NewAppointmentDate(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		AppointmentStatus: model.CsvStatusCompleted,
	}
}
