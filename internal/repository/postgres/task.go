package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository"
)

const taskDetailsSelect = `
	SELECT t.id, t.type, t.status, t.referral_code_id, t.referrer_id, t.new_patient_id,
		t.completed_at, t.completed_by_id, t.created_at, t.updated_at,
		r.code, ref.email AS referrer_email, np.email AS new_patient_email
	FROM tasks t
	JOIN referral_codes r ON r.id = t.referral_code_id
	JOIN patients ref ON ref.id = t.referrer_id
	JOIN patients np ON np.id = t.new_patient_id`

type taskRepository struct {
	BaseRepository
}

func NewTaskRepository(base BaseRepository) repository.TaskRepository {
	return &taskRepository{base}
}

func (r *taskRepository) Create(ctx context.Context, task *model.Task) error {
	query := `
		INSERT INTO tasks (
			id, type, status, referral_code_id, referrer_id, new_patient_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if task.Status == "" {
		task.Status = model.TaskStatusOpen
	}
	task.CreatedAt = time.Now().UTC()
	task.UpdatedAt = task.CreatedAt

	_, err := r.db.ExecContext(ctx, query,
		task.ID,
		task.Type,
		task.Status,
		task.ReferralCodeID,
		task.ReferrerID,
		task.NewPatientID,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err = r.track("task_create", err); err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

func (r *taskRepository) Get(ctx context.Context, id uuid.UUID) (*model.TaskWithDetails, error) {
	var task model.TaskWithDetails
	err := r.db.GetContext(ctx, &task, taskDetailsSelect+` WHERE t.id = $1`, id)
	if err = r.track("task_get", err); err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &task, nil
}

func (r *taskRepository) List(ctx context.Context, filters *model.TaskFilters) ([]*model.TaskWithDetails, int64, error) {
	var where whereClause
	if filters.Status != "" {
		where.add("t.status = $%d", filters.Status)
	}
	if filters.Type != "" {
		where.add("t.type = $%d", filters.Type)
	}

	var total int64
	err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM tasks t`+where.String(), where.args...)
	if err = r.track("task_count", err); err != nil {
		return nil, 0, fmt.Errorf("failed to count tasks: %w", err)
	}

	p := filters.Pagination.Normalize()
	limit, args := where.page(p.Limit, p.Offset())
	tasks := []*model.TaskWithDetails{}
	err = r.db.SelectContext(ctx, &tasks, taskDetailsSelect+where.String()+` ORDER BY t.created_at DESC`+limit, args...)
	if err = r.track("task_list", err); err != nil {
		return nil, 0, fmt.Errorf("failed to list tasks: %w", err)
	}
	return tasks, total, nil
}

func (r *taskRepository) Complete(ctx context.Context, id, by uuid.UUID, at time.Time) (bool, error) {
	query := `
		UPDATE tasks SET
			status = 'COMPLETED',
			completed_at = $1,
			completed_by_id = $2,
			updated_at = $1
		WHERE id = $3 AND status = 'OPEN'
	`

	result, err := r.db.ExecContext(ctx, query, at, by, id)
	if err = r.track("task_complete", err); err != nil {
		return false, fmt.Errorf("failed to complete task: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 1, nil
}
