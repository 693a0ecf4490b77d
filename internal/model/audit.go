package model

import (
	"time"

	"github.com/google/uuid"
)

// AuditLog is append-only.
type AuditLog struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	BatchID   *uuid.UUID `json:"batch_id,omitempty" db:"batch_id"`
	ActorID   *uuid.UUID `json:"actor_id,omitempty" db:"actor_id"`
	Action    string     `json:"action" db:"action"`
	Payload   JSONMap    `json:"payload" db:"payload"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
}

const (
	// Pipeline actions
	AuditSkipNonCompleted       = "skip_non_completed"
	AuditDuplicateSkip          = "duplicate_skip"
	AuditReferralRedeemed       = "referral_redeemed"
	AuditUnknownServiceDeferred = "unknown_service_deferred"
	AuditEmailSent              = "email_sent"
	AuditRowError               = "row_error"
	AuditBatchSummary           = "batch_summary"
	AuditBatchQueued            = "batch_queued"
	AuditBatchFailed            = "batch_failed"

	// Admin actions
	AuditLogin             = "login"
	AuditUserCreated       = "USER_CREATED"
	AuditUserUpdated       = "USER_UPDATED"
	AuditUserDeleted       = "USER_DELETED"
	AuditProfileUpdated    = "PROFILE_UPDATED"
	AuditServiceCreated    = "service_created"
	AuditServiceUpdated    = "service_updated"
	AuditServiceDeleted    = "service_deleted"
	AuditServiceClassified = "service_classified"
	AuditReferralIssued    = "referral_issued"
	AuditTaskCompleted     = "task_completed"
	AuditSettingsUpdated   = "settings_updated"
)

type AuditFilters struct {
	Pagination
	Action    string     `form:"action"`
	BatchID   *uuid.UUID `form:"-"`
	ActorID   *uuid.UUID `form:"-"`
	StartDate *time.Time `form:"-"`
	EndDate   *time.Time `form:"-"`
}

type AuditStats struct {
	Total    int64            `json:"total"`
	ByAction map[string]int64 `json:"by_action"`
}
