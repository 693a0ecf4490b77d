package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository"
)

const referralColumns = `id, code, owner_id, status, redeemed_at, redeemed_by_id, created_at, updated_at`

type referralRepository struct {
	BaseRepository
}

func NewReferralRepository(base BaseRepository) repository.ReferralRepository {
	return &referralRepository{base}
}

func (r *referralRepository) Create(ctx context.Context, code *model.ReferralCode) error {
	query := `
		INSERT INTO referral_codes (id, code, owner_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	if code.ID == uuid.Nil {
		code.ID = uuid.New()
	}
	if code.Status == "" {
		code.Status = model.ReferralStatusActive
	}
	code.CreatedAt = time.Now().UTC()
	code.UpdatedAt = code.CreatedAt

	_, err := r.db.ExecContext(ctx, query,
		code.ID,
		code.Code,
		code.OwnerID,
		code.Status,
		code.CreatedAt,
		code.UpdatedAt,
	)
	if err = r.track("referral_create", err); err != nil {
		return fmt.Errorf("failed to create referral code: %w", err)
	}
	return nil
}

func (r *referralRepository) Get(ctx context.Context, id uuid.UUID) (*model.ReferralCodeDetails, error) {
	query := `
		SELECT r.id, r.code, r.owner_id, r.status, r.redeemed_at, r.redeemed_by_id,
			r.created_at, r.updated_at, p.email AS owner_email
		FROM referral_codes r
		JOIN patients p ON p.id = r.owner_id
		WHERE r.id = $1
	`

	var code model.ReferralCodeDetails
	err := r.db.GetContext(ctx, &code, query, id)
	if err = r.track("referral_get", err); err != nil {
		return nil, fmt.Errorf("failed to get referral code: %w", err)
	}
	return &code, nil
}

func (r *referralRepository) GetByCode(ctx context.Context, code string) (*model.ReferralCode, error) {
	var ref model.ReferralCode
	err := r.db.GetContext(ctx, &ref, `SELECT `+referralColumns+` FROM referral_codes WHERE code = $1`,
		strings.ToUpper(strings.TrimSpace(code)))
	if err = r.track("referral_get_by_code", err); err != nil {
		return nil, fmt.Errorf("failed to get referral code: %w", err)
	}
	return &ref, nil
}

func (r *referralRepository) GetActiveByOwner(ctx context.Context, ownerID uuid.UUID) (*model.ReferralCode, error) {
	query := `SELECT ` + referralColumns + ` FROM referral_codes
		WHERE owner_id = $1 AND status = 'ACTIVE'
		ORDER BY created_at ASC
		LIMIT 1`

	var ref model.ReferralCode
	err := r.db.GetContext(ctx, &ref, query, ownerID)
	if err = r.track("referral_get_active", err); err != nil {
		return nil, fmt.Errorf("failed to get active referral code: %w", err)
	}
	return &ref, nil
}

func (r *referralRepository) Redeem(ctx context.Context, id, redeemerID uuid.UUID, at time.Time) (bool, error) {
	query := `
		UPDATE referral_codes SET
			status = 'REDEEMED',
			redeemed_at = $1,
			redeemed_by_id = $2,
			updated_at = $1
		WHERE id = $3 AND status = 'ACTIVE'
	`

	result, err := r.db.ExecContext(ctx, query, at, redeemerID, id)
	if err = r.track("referral_redeem", err); err != nil {
		return false, fmt.Errorf("failed to redeem referral code: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

func (r *referralRepository) List(ctx context.Context, filters *model.ReferralFilters) ([]*model.ReferralCodeDetails, int64, error) {
	var where whereClause
	if filters.Status != "" {
		where.add("r.status = $%d", filters.Status)
	}
	if filters.Search != "" {
		where.add("(r.code ILIKE $%[1]d OR p.email ILIKE $%[1]d)", escapeLike(filters.Search))
	}

	from := ` FROM referral_codes r JOIN patients p ON p.id = r.owner_id`

	var total int64
	err := r.db.GetContext(ctx, &total, `SELECT COUNT(*)`+from+where.String(), where.args...)
	if err = r.track("referral_count", err); err != nil {
		return nil, 0, fmt.Errorf("failed to count referral codes: %w", err)
	}

	p := filters.Pagination.Normalize()
	limit, args := where.page(p.Limit, p.Offset())
	codes := []*model.ReferralCodeDetails{}
	err = r.db.SelectContext(ctx, &codes, `
		SELECT r.id, r.code, r.owner_id, r.status, r.redeemed_at, r.redeemed_by_id,
			r.created_at, r.updated_at, p.email AS owner_email`+from+where.String()+
		` ORDER BY r.created_at DESC`+limit, args...)
	if err = r.track("referral_list", err); err != nil {
		return nil, 0, fmt.Errorf("failed to list referral codes: %w", err)
	}
	return codes, total, nil
}
