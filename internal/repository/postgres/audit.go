package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository"
)

type auditRepository struct {
	BaseRepository
}

func NewAuditRepository(base BaseRepository) repository.AuditRepository {
	return &auditRepository{base}
}

func (r *auditRepository) Create(ctx context.Context, log *model.AuditLog) error {
	query := `
		INSERT INTO audit_logs (id, batch_id, actor_id, action, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx, query,
		log.ID,
		log.BatchID,
		log.ActorID,
		log.Action,
		log.Payload,
		log.CreatedAt,
	)
	if err = r.track("audit_create", err); err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

func (r *auditRepository) List(ctx context.Context, filters *model.AuditFilters) ([]*model.AuditLog, int64, error) {
	var where whereClause
	if filters.Action != "" {
		where.add("action = $%d", filters.Action)
	}
	if filters.BatchID != nil {
		where.add("batch_id = $%d", *filters.BatchID)
	}
	if filters.ActorID != nil {
		where.add("actor_id = $%d", *filters.ActorID)
	}
	if filters.StartDate != nil {
		where.add("created_at >= $%d", *filters.StartDate)
	}
	if filters.EndDate != nil {
		where.add("created_at <= $%d", *filters.EndDate)
	}

	var total int64
	err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM audit_logs`+where.String(), where.args...)
	if err = r.track("audit_count", err); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	p := filters.Pagination.Normalize()
	limit, args := where.page(p.Limit, p.Offset())
	logs := []*model.AuditLog{}
	err = r.db.SelectContext(ctx, &logs, `
		SELECT id, batch_id, actor_id, action, payload, created_at
		FROM audit_logs`+where.String()+` ORDER BY created_at DESC`+limit, args...)
	if err = r.track("audit_list", err); err != nil {
		return nil, 0, fmt.Errorf("failed to list audit logs: %w", err)
	}
	return logs, total, nil
}

func (r *auditRepository) Stats(ctx context.Context) (*model.AuditStats, error) {
	var rows []struct {
		Action string `db:"action"`
		Count  int64  `db:"count"`
	}
	err := r.db.SelectContext(ctx, &rows, `SELECT action, COUNT(*) AS count FROM audit_logs GROUP BY action`)
	if err = r.track("audit_stats", err); err != nil {
		return nil, fmt.Errorf("failed to get audit stats: %w", err)
	}

	stats := &model.AuditStats{ByAction: map[string]int64{}}
	for _, row := range rows {
		stats.ByAction[row.Action] = row.Count
		stats.Total += row.Count
	}
	return stats, nil
}
