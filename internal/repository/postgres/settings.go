package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository"
)

type settingsRepository struct {
	BaseRepository
}

func NewSettingsRepository(base BaseRepository) repository.SettingsRepository {
	return &settingsRepository{base}
}

func (r *settingsRepository) Get(ctx context.Context) (*model.Settings, error) {
	var s model.Settings
	err := r.db.GetContext(ctx, &s, `
		SELECT id, clinic_name, review_url, referral_reward_copy, allowed_email_domain, updated_at
		FROM settings WHERE id = 1`)
	if err = r.track("settings_get", err); err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	return &s, nil
}

func (r *settingsRepository) Save(ctx context.Context, s *model.Settings) error {
	query := `
		INSERT INTO settings (id, clinic_name, review_url, referral_reward_copy, allowed_email_domain, updated_at)
		VALUES (1, $1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			clinic_name = EXCLUDED.clinic_name,
			review_url = EXCLUDED.review_url,
			referral_reward_copy = EXCLUDED.referral_reward_copy,
			allowed_email_domain = EXCLUDED.allowed_email_domain,
			updated_at = EXCLUDED.updated_at
	`

	s.ID = 1
	s.UpdatedAt = time.Now().UTC()
	_, err := r.db.ExecContext(ctx, query, s.ClinicName, s.ReviewURL, s.ReferralRewardCopy, s.AllowedEmailDomain, s.UpdatedAt)
	if err = r.track("settings_save", err); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}
