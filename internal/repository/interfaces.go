package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/model"
)

// All repository interfaces in one file
type (
	UserRepository interface {
		Create(ctx context.Context, user *model.User) error
		Get(ctx context.Context, id uuid.UUID) (*model.User, error)
		GetByEmail(ctx context.Context, email string) (*model.User, error)
		Update(ctx context.Context, user *model.User) error
		Delete(ctx context.Context, id uuid.UUID) error
		List(ctx context.Context, filters *model.UserFilters) ([]*model.User, int64, error)
	}

	// PatientRepository keys patients by lowercased email.
	PatientRepository interface {
		// Upsert creates the patient or fills in provided names. Names are never cleared.
		Upsert(ctx context.Context, in model.PatientUpsert) (*model.Patient, error)
		Get(ctx context.Context, id uuid.UUID) (*model.Patient, error)
		GetByEmail(ctx context.Context, email string) (*model.Patient, error)
	}

	ServiceRepository interface {
		// EnsureByName inserts svc when no service with that name exists and returns the
		// stored row either way. An existing classification is never touched.
		EnsureByName(ctx context.Context, svc *model.Service) (*model.Service, bool, error)
		Create(ctx context.Context, svc *model.Service) error
		Get(ctx context.Context, id uuid.UUID) (*model.Service, error)
		GetByName(ctx context.Context, name string) (*model.Service, error)
		Update(ctx context.Context, svc *model.Service) error
		SetClassification(ctx context.Context, id uuid.UUID, c model.Classification) error
		Delete(ctx context.Context, id uuid.UUID) error
		List(ctx context.Context, filters *model.ServiceFilters) ([]*model.Service, int64, error)
		ListUnknown(ctx context.Context) ([]*model.UnknownService, error)
		Stats(ctx context.Context) (*model.ServiceStats, error)
	}

	AppointmentRepository interface {
		// Create returns ErrDuplicate when the idempotency key already exists.
		Create(ctx context.Context, appt *model.Appointment) error
		ExistsByKey(ctx context.Context, key string) (bool, error)
		CountByService(ctx context.Context, serviceID uuid.UUID) (int64, error)
	}

	ReferralRepository interface {
		// Create returns ErrDuplicate when the code is taken and ErrActiveCodeExists when the
		// owner already holds an ACTIVE code.
		Create(ctx context.Context, code *model.ReferralCode) error
		Get(ctx context.Context, id uuid.UUID) (*model.ReferralCodeDetails, error)
		GetByCode(ctx context.Context, code string) (*model.ReferralCode, error)
		GetActiveByOwner(ctx context.Context, ownerID uuid.UUID) (*model.ReferralCode, error)
		// Redeem moves an ACTIVE code to REDEEMED. It reports false when the code was not ACTIVE.
		Redeem(ctx context.Context, id, redeemerID uuid.UUID, at time.Time) (bool, error)
		List(ctx context.Context, filters *model.ReferralFilters) ([]*model.ReferralCodeDetails, int64, error)
	}

	TaskRepository interface {
		Create(ctx context.Context, task *model.Task) error
		Get(ctx context.Context, id uuid.UUID) (*model.TaskWithDetails, error)
		List(ctx context.Context, filters *model.TaskFilters) ([]*model.TaskWithDetails, int64, error)
		// Complete closes an OPEN task. It reports false when the task was not OPEN.
		Complete(ctx context.Context, id, by uuid.UUID, at time.Time) (bool, error)
	}

	BatchRepository interface {
		Create(ctx context.Context, batch *model.UploadBatch) error
		Get(ctx context.Context, id uuid.UUID) (*model.UploadBatch, error)
		// Update persists status, counters, error and timestamps.
		Update(ctx context.Context, batch *model.UploadBatch) error
		// Checkpoint is Update restricted to a batch that is still PROCESSING. It reports false
		// when the batch was moved out of PROCESSING by someone else.
		Checkpoint(ctx context.Context, batch *model.UploadBatch) (bool, error)
		// FailRunning marks a PROCESSING batch FAILED. A non-zero staleBefore also requires the
		// heartbeat to be older than it. It reports false when nothing matched.
		FailRunning(ctx context.Context, id uuid.UUID, cause string, at, staleBefore time.Time) (bool, error)
		List(ctx context.Context, filters *model.BatchFilters) ([]*model.UploadBatch, int64, error)
		// ListStale returns batches in status whose heartbeat is older than before.
		ListStale(ctx context.Context, status model.BatchStatus, before time.Time) ([]*model.UploadBatch, error)
	}

	AuditRepository interface {
		Create(ctx context.Context, log *model.AuditLog) error
		List(ctx context.Context, filters *model.AuditFilters) ([]*model.AuditLog, int64, error)
		Stats(ctx context.Context) (*model.AuditStats, error)
	}

	// SettingsRepository returns ErrNotFound until settings were saved once.
	SettingsRepository interface {
		Get(ctx context.Context) (*model.Settings, error)
		Save(ctx context.Context, settings *model.Settings) error
	}
)
