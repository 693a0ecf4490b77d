package postgres

import (
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/referral-api/internal/repository"
	"github.com/jwalitptl/referral-api/pkg/metrics"
)

// NewStore wires every postgres repository onto one handle.
func NewStore(db *sqlx.DB, m *metrics.Metrics) *repository.Store {
	base := NewBaseRepository(db, m)
	return &repository.Store{
		Users:        NewUserRepository(base),
		Patients:     NewPatientRepository(base),
		Services:     NewServiceRepository(base),
		Appointments: NewAppointmentRepository(base),
		Referrals:    NewReferralRepository(base),
		Tasks:        NewTaskRepository(base),
		Batches:      NewBatchRepository(base),
		Audit:        NewAuditRepository(base),
		Settings:     NewSettingsRepository(base),
	}
}
