package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository"
)

const batchColumns = `id, filename, uploaded_by, status, total, processed, sent, deferred, redeemed,
	error, payload, created_at, updated_at, started_at, completed_at`

// Listings skip the payload column.
const batchSummaryColumns = `id, filename, uploaded_by, status, total, processed, sent, deferred, redeemed,
	error, created_at, updated_at, started_at, completed_at`

type batchRepository struct {
	BaseRepository
}

func NewBatchRepository(base BaseRepository) repository.BatchRepository {
	return &batchRepository{base}
}

func (r *batchRepository) Create(ctx context.Context, batch *model.UploadBatch) error {
	query := `
		INSERT INTO upload_batches (
			id, filename, uploaded_by, status, total, payload, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
	`

	if batch.ID == uuid.Nil {
		batch.ID = uuid.New()
	}
	if batch.Status == "" {
		batch.Status = model.BatchStatusQueued
	}
	batch.Total = len(batch.Rows)
	batch.CreatedAt = time.Now().UTC()
	batch.UpdatedAt = batch.CreatedAt

	_, err := r.db.ExecContext(ctx, query,
		batch.ID,
		batch.Filename,
		batch.UploadedBy,
		batch.Status,
		batch.Total,
		batch.Rows,
		batch.CreatedAt,
	)
	if err = r.track("batch_create", err); err != nil {
		return fmt.Errorf("failed to create upload batch: %w", err)
	}
	return nil
}

func (r *batchRepository) Get(ctx context.Context, id uuid.UUID) (*model.UploadBatch, error) {
	var batch model.UploadBatch
	err := r.db.GetContext(ctx, &batch, `SELECT `+batchColumns+` FROM upload_batches WHERE id = $1`, id)
	if err = r.track("batch_get", err); err != nil {
		return nil, fmt.Errorf("failed to get upload batch: %w", err)
	}
	return &batch, nil
}

func (r *batchRepository) Update(ctx context.Context, batch *model.UploadBatch) error {
	result, err := r.write(ctx, batch, "")
	if err = r.track("batch_update", err); err != nil {
		return fmt.Errorf("failed to update upload batch: %w", err)
	}
	return affectedOne(result)
}

func (r *batchRepository) Checkpoint(ctx context.Context, batch *model.UploadBatch) (bool, error) {
	result, err := r.write(ctx, batch, ` AND status = 'PROCESSING'`)
	if err = r.track("batch_checkpoint", err); err != nil {
		return false, fmt.Errorf("failed to checkpoint upload batch: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

func (r *batchRepository) write(ctx context.Context, batch *model.UploadBatch, guard string) (sql.Result, error) {
	query := `
		UPDATE upload_batches SET
			status = $1,
			processed = $2,
			sent = $3,
			deferred = $4,
			redeemed = $5,
			error = $6,
			started_at = $7,
			completed_at = $8,
			updated_at = $9
		WHERE id = $10` + guard

	batch.UpdatedAt = time.Now().UTC()
	return r.db.ExecContext(ctx, query,
		batch.Status,
		batch.Processed,
		batch.Sent,
		batch.Deferred,
		batch.Redeemed,
		batch.Error,
		batch.StartedAt,
		batch.CompletedAt,
		batch.UpdatedAt,
		batch.ID,
	)
}

func (r *batchRepository) FailRunning(ctx context.Context, id uuid.UUID, cause string, at, staleBefore time.Time) (bool, error) {
	query := `
		UPDATE upload_batches SET
			status = 'FAILED',
			error = $1,
			completed_at = $2,
			updated_at = $2
		WHERE id = $3 AND status = 'PROCESSING'`
	args := []interface{}{cause, at, id}
	if !staleBefore.IsZero() {
		query += ` AND updated_at < $4`
		args = append(args, staleBefore)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err = r.track("batch_fail_running", err); err != nil {
		return false, fmt.Errorf("failed to fail upload batch: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}

func (r *batchRepository) List(ctx context.Context, filters *model.BatchFilters) ([]*model.UploadBatch, int64, error) {
	var where whereClause
	if filters.Status != "" {
		where.add("status = $%d", filters.Status)
	}

	var total int64
	err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM upload_batches`+where.String(), where.args...)
	if err = r.track("batch_count", err); err != nil {
		return nil, 0, fmt.Errorf("failed to count upload batches: %w", err)
	}

	p := filters.Pagination.Normalize()
	limit, args := where.page(p.Limit, p.Offset())
	batches := []*model.UploadBatch{}
	err = r.db.SelectContext(ctx, &batches,
		`SELECT `+batchSummaryColumns+` FROM upload_batches`+where.String()+` ORDER BY created_at DESC`+limit, args...)
	if err = r.track("batch_list", err); err != nil {
		return nil, 0, fmt.Errorf("failed to list upload batches: %w", err)
	}
	return batches, total, nil
}

func (r *batchRepository) ListStale(ctx context.Context, status model.BatchStatus, before time.Time) ([]*model.UploadBatch, error) {
	batches := []*model.UploadBatch{}
	err := r.db.SelectContext(ctx, &batches, `
		SELECT `+batchSummaryColumns+` FROM upload_batches
		WHERE status = $1 AND updated_at < $2
		ORDER BY created_at ASC`, status, before)
	if err = r.track("batch_list_stale", err); err != nil {
		return nil, fmt.Errorf("failed to list stale batches: %w", err)
	}
	return batches, nil
}
