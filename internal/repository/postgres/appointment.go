package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository"
)

type appointmentRepository struct {
	BaseRepository
}

func NewAppointmentRepository(base BaseRepository) repository.AppointmentRepository {
	return &appointmentRepository{base}
}

func (r *appointmentRepository) Create(ctx context.Context, appt *model.Appointment) error {
	query := `
		INSERT INTO appointments (
			id, external_id, patient_id, service_id, batch_id,
			date, status, idempotency_key, processed_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	now := time.Now().UTC()
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	if appt.ProcessedAt.IsZero() {
		appt.ProcessedAt = now
	}
	appt.CreatedAt = now
	appt.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, query,
		appt.ID,
		appt.ExternalID,
		appt.PatientID,
		appt.ServiceID,
		appt.BatchID,
		appt.Date,
		appt.Status,
		appt.IdempotencyKey,
		appt.ProcessedAt,
		appt.CreatedAt,
		appt.UpdatedAt,
	)
	if err = r.track("appointment_create", err); err != nil {
		return fmt.Errorf("failed to create appointment: %w", err)
	}
	return nil
}

func (r *appointmentRepository) ExistsByKey(ctx context.Context, key string) (bool, error) {
	var exists bool
	err := r.db.GetContext(ctx, &exists,
		`SELECT EXISTS(SELECT 1 FROM appointments WHERE idempotency_key = $1)`, key)
	if err = r.track("appointment_exists", err); err != nil {
		return false, fmt.Errorf("failed to check appointment: %w", err)
	}
	return exists, nil
}

func (r *appointmentRepository) CountByService(ctx context.Context, serviceID uuid.UUID) (int64, error) {
	var n int64
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM appointments WHERE service_id = $1`, serviceID)
	if err = r.track("appointment_count", err); err != nil {
		return 0, fmt.Errorf("failed to count appointments: %w", err)
	}
	return n, nil
}
