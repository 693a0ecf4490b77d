package model

import (
	"time"

	"github.com/google/uuid"
)

type ReferralStatus string

const (
	ReferralStatusActive   ReferralStatus = "ACTIVE"
	ReferralStatusRedeemed ReferralStatus = "REDEEMED"
)

type ReferralCode struct {
	Base
	Code         string         `db:"code" json:"code"`
	OwnerID      uuid.UUID      `db:"owner_id" json:"owner_id"`
	Status       ReferralStatus `db:"status" json:"status"`
	RedeemedAt   *time.Time     `db:"redeemed_at" json:"redeemed_at,omitempty"`
	RedeemedByID *uuid.UUID     `db:"redeemed_by_id" json:"redeemed_by_id,omitempty"`
}

// ReferralCodeDetails adds owner contact fields for listings.
type ReferralCodeDetails struct {
	ReferralCode
	OwnerEmail string `db:"owner_email" json:"owner_email"`
}

type ReferralFilters struct {
	Pagination
	Status ReferralStatus `form:"status"`
	Search string         `form:"search"`
}

type IssueReferralRequest struct {
	PatientID uuid.UUID `json:"patient_id" binding:"required"`
}
