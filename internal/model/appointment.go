package model

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	AppointmentStatusCompleted AppointmentStatus = "COMPLETED"
	AppointmentStatusNoShow    AppointmentStatus = "NO_SHOW"
	AppointmentStatusCancelled AppointmentStatus = "CANCELLED"
	AppointmentStatusOther     AppointmentStatus = "OTHER"
)

// Appointment rows are unique on IdempotencyKey.
type Appointment struct {
	Base
	ExternalID     *string           `db:"external_id" json:"external_id,omitempty"`
	PatientID      uuid.UUID         `db:"patient_id" json:"patient_id"`
	ServiceID      uuid.UUID         `db:"service_id" json:"service_id"`
	BatchID        uuid.UUID         `db:"batch_id" json:"batch_id"`
	Date           time.Time         `db:"date" json:"date"`
	Status         AppointmentStatus `db:"status" json:"status"`
	IdempotencyKey string            `db:"idempotency_key" json:"idempotency_key"`
	ProcessedAt    time.Time         `db:"processed_at" json:"processed_at"`
}
