package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository"
)

const patientColumns = `id, email, first_name, last_name, created_at, updated_at`

type patientRepository struct {
	BaseRepository
}

func NewPatientRepository(base BaseRepository) repository.PatientRepository {
	return &patientRepository{base}
}

func (r *patientRepository) Upsert(ctx context.Context, in model.PatientUpsert) (*model.Patient, error) {
	query := `
		INSERT INTO patients (id, email, first_name, last_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
		ON CONFLICT (email) DO UPDATE SET
			first_name = COALESCE(EXCLUDED.first_name, patients.first_name),
			last_name = COALESCE(EXCLUDED.last_name, patients.last_name),
			updated_at = EXCLUDED.updated_at
		RETURNING ` + patientColumns

	var patient model.Patient
	err := r.db.GetContext(ctx, &patient, query,
		uuid.New(),
		strings.ToLower(strings.TrimSpace(in.Email)),
		in.FirstName,
		in.LastName,
		time.Now().UTC(),
	)
	if err = r.track("patient_upsert", err); err != nil {
		return nil, fmt.Errorf("failed to upsert patient: %w", err)
	}
	return &patient, nil
}

func (r *patientRepository) Get(ctx context.Context, id uuid.UUID) (*model.Patient, error) {
	var patient model.Patient
	err := r.db.GetContext(ctx, &patient, `SELECT `+patientColumns+` FROM patients WHERE id = $1`, id)
	if err = r.track("patient_get", err); err != nil {
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}
	return &patient, nil
}

func (r *patientRepository) GetByEmail(ctx context.Context, email string) (*model.Patient, error) {
	var patient model.Patient
	err := r.db.GetContext(ctx, &patient, `SELECT `+patientColumns+` FROM patients WHERE email = $1`,
		strings.ToLower(strings.TrimSpace(email)))
	if err = r.track("patient_get_by_email", err); err != nil {
		return nil, fmt.Errorf("failed to get patient by email: %w", err)
	}
	return &patient, nil
}
