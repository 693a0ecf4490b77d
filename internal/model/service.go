package model

import (
	"time"

	"github.com/google/uuid"
)

type Classification string

const (
	ClassificationMedical  Classification = "MEDICAL"
	ClassificationWellness Classification = "WELLNESS"
	ClassificationUnknown  Classification = "UNKNOWN"
)

func (c Classification) Valid() bool {
	switch c {
	case ClassificationMedical, ClassificationWellness, ClassificationUnknown:
		return true
	}
	return false
}

// Service is keyed by name. Classification only changes through an admin action.
type Service struct {
	Base
	Name           string         `db:"name" json:"name"`
	Classification Classification `db:"classification" json:"classification"`
	Category       *string        `db:"category" json:"category,omitempty"`
	Description    *string        `db:"description" json:"description,omitempty"`
	// Heuristic suggestion recorded when the service was first seen.
	SuggestedClassification *Classification `db:"suggested_classification" json:"suggested_classification,omitempty"`
	SuggestionConfidence    float64         `db:"suggestion_confidence" json:"suggestion_confidence"`
	RequiresReview          bool            `db:"requires_review" json:"requires_review"`
}

type UnknownService struct {
	ID           uuid.UUID       `db:"id" json:"id"`
	Name         string          `db:"name" json:"name"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	PendingCount int             `db:"pending_count" json:"pending_count"`
	Suggested    *Classification `db:"suggested_classification" json:"suggested_classification,omitempty"`
}

type ServiceFilters struct {
	Pagination
	Search         string         `form:"search"`
	Classification Classification `form:"classification"`
}

type ServiceStats struct {
	Total            int64                    `json:"total"`
	ByClassification map[Classification]int64 `json:"by_classification"`
	RequiresReview   int64                    `json:"requires_review"`
}

type CreateServiceRequest struct {
	Name           string         `json:"name" binding:"required"`
	Classification Classification `json:"classification" binding:"omitempty,oneof=MEDICAL WELLNESS UNKNOWN"`
	Category       *string        `json:"category"`
	Description    *string        `json:"description"`
}

type UpdateServiceRequest struct {
	Name        *string `json:"name"`
	Category    *string `json:"category"`
	Description *string `json:"description"`
}

type ClassifyServiceRequest struct {
	Classification Classification `json:"classification" binding:"required,oneof=MEDICAL WELLNESS"`
}

type ClassifyPreviewRequest struct {
	ServiceName string `json:"serviceName" binding:"required"`
	Category    string `json:"category"`
}
