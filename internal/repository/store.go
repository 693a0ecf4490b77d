package repository

import (
	"errors"
)

var (
	ErrNotFound  = errors.New("record not found")
	ErrDuplicate = errors.New("duplicate record")

	// ErrActiveCodeExists means the owner already holds an ACTIVE referral code.
	ErrActiveCodeExists = errors.New("owner already has an active referral code")
)

// Store is the persistence handle passed to services, the pipeline and workers.
type Store struct {
	Users        UserRepository
	Patients     PatientRepository
	Services     ServiceRepository
	Appointments AppointmentRepository
	Referrals    ReferralRepository
	Tasks        TaskRepository
	Batches      BatchRepository
	Audit        AuditRepository
	Settings     SettingsRepository
}
