package model

import (
	"time"

	"github.com/google/uuid"
)

type BatchStatus string

const (
	BatchStatusQueued     BatchStatus = "QUEUED"
	BatchStatusProcessing BatchStatus = "PROCESSING"
	BatchStatusCompleted  BatchStatus = "COMPLETED"
	BatchStatusFailed     BatchStatus = "FAILED"
)

// Finished reports whether the batch reached a terminal status.
func (s BatchStatus) Finished() bool {
	return s == BatchStatusCompleted || s == BatchStatusFailed
}

// UploadBatch is one CSV ingestion. Rows holds the validated payload until a worker runs it.
type UploadBatch struct {
	ID          uuid.UUID   `json:"id" db:"id"`
	Filename    string      `json:"filename" db:"filename"`
	UploadedBy  uuid.UUID   `json:"uploaded_by" db:"uploaded_by"`
	Status      BatchStatus `json:"status" db:"status"`
	Total       int         `json:"total" db:"total"`
	Processed   int         `json:"processed" db:"processed"`
	Sent        int         `json:"sent" db:"sent"`
	Deferred    int         `json:"deferred" db:"deferred"`
	Redeemed    int         `json:"redeemed" db:"redeemed"`
	Error       *string     `json:"error,omitempty" db:"error"`
	Rows        CsvRows     `json:"-" db:"payload"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	// UpdatedAt moves on every write. A running batch uses it as its heartbeat.
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
	StartedAt   *time.Time  `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty" db:"completed_at"`
}

// Result returns the counters in the shape callers of an upload expect.
func (b *UploadBatch) Result() *BatchResult {
	return &BatchResult{
		BatchID:   b.ID,
		Total:     b.Total,
		Processed: b.Processed,
		Sent:      b.Sent,
		Deferred:  b.Deferred,
		Redeemed:  b.Redeemed,
	}
}

type BatchResult struct {
	BatchID   uuid.UUID `json:"batchId"`
	Total     int       `json:"total"`
	Processed int       `json:"processed"`
	Sent      int       `json:"sent"`
	Deferred  int       `json:"deferred"`
	Redeemed  int       `json:"redeemed"`
}

type BatchFilters struct {
	Pagination
	Status BatchStatus `form:"status"`
}

// BatchJob is the message the upload service enqueues for the batch worker.
type BatchJob struct {
	BatchID    uuid.UUID `json:"batch_id"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
