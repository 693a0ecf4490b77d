package model

import (
	"time"

	"github.com/google/uuid"
)

type TaskType string

const (
	TaskTypeIssueReward TaskType = "ISSUE_REWARD"
)

type TaskStatus string

const (
	TaskStatusOpen      TaskStatus = "OPEN"
	TaskStatusCompleted TaskStatus = "COMPLETED"
)

type Task struct {
	Base
	Type           TaskType   `db:"type" json:"type"`
	Status         TaskStatus `db:"status" json:"status"`
	ReferralCodeID uuid.UUID  `db:"referral_code_id" json:"referral_code_id"`
	ReferrerID     uuid.UUID  `db:"referrer_id" json:"referrer_id"`
	NewPatientID   uuid.UUID  `db:"new_patient_id" json:"new_patient_id"`
	CompletedAt    *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	CompletedByID  *uuid.UUID `db:"completed_by_id" json:"completed_by_id,omitempty"`
}

type TaskWithDetails struct {
	Task
	Code            string `db:"code" json:"code"`
	ReferrerEmail   string `db:"referrer_email" json:"referrer_email"`
	NewPatientEmail string `db:"new_patient_email" json:"new_patient_email"`
}

type TaskFilters struct {
	Pagination
	Status TaskStatus `form:"status"`
	Type   TaskType   `form:"type"`
}
