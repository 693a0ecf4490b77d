package model

import "time"

// Settings is a single-row table read at the start of every batch.
type Settings struct {
	ID                 int       `db:"id" json:"-"`
	ClinicName         string    `db:"clinic_name" json:"clinic_name"`
	ReviewURL          string    `db:"review_url" json:"review_url"`
	ReferralRewardCopy string    `db:"referral_reward_copy" json:"referral_reward_copy"`
	AllowedEmailDomain string    `db:"allowed_email_domain" json:"allowed_email_domain"`
	UpdatedAt          time.Time `db:"updated_at" json:"updated_at"`
}

type UpdateSettingsRequest struct {
	ClinicName         string `json:"clinic_name" binding:"required"`
	ReviewURL          string `json:"review_url" binding:"required,url"`
	ReferralRewardCopy string `json:"referral_reward_copy" binding:"required"`
	AllowedEmailDomain string `json:"allowed_email_domain"`
}
