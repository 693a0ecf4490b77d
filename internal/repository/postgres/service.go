package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository"
)

const serviceColumns = `id, name, classification, category, description,
	suggested_classification, suggestion_confidence, requires_review, created_at, updated_at`

type serviceRepository struct {
	BaseRepository
}

func NewServiceRepository(base BaseRepository) repository.ServiceRepository {
	return &serviceRepository{base}
}

func (r *serviceRepository) EnsureByName(ctx context.Context, svc *model.Service) (*model.Service, bool, error) {
	query := `
		INSERT INTO services (
			id, name, classification, category, description,
			suggested_classification, suggestion_confidence, requires_review, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (name) DO NOTHING
		RETURNING ` + serviceColumns

	if svc.Classification == "" {
		svc.Classification = model.ClassificationUnknown
	}

	var stored model.Service
	err := r.db.GetContext(ctx, &stored, query,
		uuid.New(),
		svc.Name,
		svc.Classification,
		svc.Category,
		svc.Description,
		svc.SuggestedClassification,
		svc.SuggestionConfidence,
		svc.RequiresReview,
		time.Now().UTC(),
	)
	err = r.track("service_ensure", err)
	if err == nil {
		return &stored, true, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to ensure service: %w", err)
	}

	// The name already existed, ON CONFLICT DO NOTHING returned no row.
	existing, err := r.GetByName(ctx, svc.Name)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *serviceRepository) Create(ctx context.Context, svc *model.Service) error {
	query := `
		INSERT INTO services (
			id, name, classification, category, description,
			suggested_classification, suggestion_confidence, requires_review, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	if svc.ID == uuid.Nil {
		svc.ID = uuid.New()
	}
	if svc.Classification == "" {
		svc.Classification = model.ClassificationUnknown
	}
	svc.CreatedAt = time.Now().UTC()
	svc.UpdatedAt = svc.CreatedAt

	_, err := r.db.ExecContext(ctx, query,
		svc.ID,
		svc.Name,
		svc.Classification,
		svc.Category,
		svc.Description,
		svc.SuggestedClassification,
		svc.SuggestionConfidence,
		svc.RequiresReview,
		svc.CreatedAt,
		svc.UpdatedAt,
	)
	if err = r.track("service_create", err); err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	return nil
}

func (r *serviceRepository) Get(ctx context.Context, id uuid.UUID) (*model.Service, error) {
	var svc model.Service
	err := r.db.GetContext(ctx, &svc, `SELECT `+serviceColumns+` FROM services WHERE id = $1`, id)
	if err = r.track("service_get", err); err != nil {
		return nil, fmt.Errorf("failed to get service: %w", err)
	}
	return &svc, nil
}

func (r *serviceRepository) GetByName(ctx context.Context, name string) (*model.Service, error) {
	var svc model.Service
	err := r.db.GetContext(ctx, &svc, `SELECT `+serviceColumns+` FROM services WHERE name = $1`, name)
	if err = r.track("service_get_by_name", err); err != nil {
		return nil, fmt.Errorf("failed to get service by name: %w", err)
	}
	return &svc, nil
}

// Update changes descriptive fields only. Classification goes through SetClassification.
func (r *serviceRepository) Update(ctx context.Context, svc *model.Service) error {
	query := `
		UPDATE services SET
			name = $1,
			category = $2,
			description = $3,
			updated_at = $4
		WHERE id = $5
	`

	svc.UpdatedAt = time.Now().UTC()
	result, err := r.db.ExecContext(ctx, query, svc.Name, svc.Category, svc.Description, svc.UpdatedAt, svc.ID)
	if err = r.track("service_update", err); err != nil {
		return fmt.Errorf("failed to update service: %w", err)
	}
	return affectedOne(result)
}

func (r *serviceRepository) SetClassification(ctx context.Context, id uuid.UUID, c model.Classification) error {
	query := `
		UPDATE services SET
			classification = $1,
			requires_review = FALSE,
			updated_at = $2
		WHERE id = $3
	`

	result, err := r.db.ExecContext(ctx, query, c, time.Now().UTC(), id)
	if err = r.track("service_classify", err); err != nil {
		return fmt.Errorf("failed to classify service: %w", err)
	}
	return affectedOne(result)
}

func (r *serviceRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM services WHERE id = $1`, id)
	if err = r.track("service_delete", err); err != nil {
		return fmt.Errorf("failed to delete service: %w", err)
	}
	return affectedOne(result)
}

func (r *serviceRepository) List(ctx context.Context, filters *model.ServiceFilters) ([]*model.Service, int64, error) {
	var where whereClause
	if filters.Search != "" {
		where.add("name ILIKE $%d", escapeLike(filters.Search))
	}
	if filters.Classification != "" {
		where.add("classification = $%d", filters.Classification)
	}

	var total int64
	err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM services`+where.String(), where.args...)
	if err = r.track("service_count", err); err != nil {
		return nil, 0, fmt.Errorf("failed to count services: %w", err)
	}

	p := filters.Pagination.Normalize()
	limit, args := where.page(p.Limit, p.Offset())
	services := []*model.Service{}
	err = r.db.SelectContext(ctx, &services,
		`SELECT `+serviceColumns+` FROM services`+where.String()+` ORDER BY name ASC`+limit, args...)
	if err = r.track("service_list", err); err != nil {
		return nil, 0, fmt.Errorf("failed to list services: %w", err)
	}
	return services, total, nil
}

func (r *serviceRepository) ListUnknown(ctx context.Context) ([]*model.UnknownService, error) {
	query := `
		SELECT s.id, s.name, s.created_at, s.suggested_classification, COUNT(a.id) AS pending_count
		FROM services s
		LEFT JOIN appointments a ON a.service_id = s.id
		WHERE s.classification = 'UNKNOWN'
		GROUP BY s.id
		ORDER BY pending_count DESC, s.created_at ASC
	`

	services := []*model.UnknownService{}
	err := r.db.SelectContext(ctx, &services, query)
	if err = r.track("service_list_unknown", err); err != nil {
		return nil, fmt.Errorf("failed to list unknown services: %w", err)
	}
	return services, nil
}

func (r *serviceRepository) Stats(ctx context.Context) (*model.ServiceStats, error) {
	var rows []struct {
		Classification model.Classification `db:"classification"`
		Count          int64                `db:"count"`
	}
	err := r.db.SelectContext(ctx, &rows,
		`SELECT classification, COUNT(*) AS count FROM services GROUP BY classification`)
	if err = r.track("service_stats", err); err != nil {
		return nil, fmt.Errorf("failed to get service stats: %w", err)
	}

	stats := &model.ServiceStats{ByClassification: map[model.Classification]int64{}}
	for _, row := range rows {
		stats.ByClassification[row.Classification] = row.Count
		stats.Total += row.Count
	}

	err = r.db.GetContext(ctx, &stats.RequiresReview,
		`SELECT COUNT(*) FROM services WHERE requires_review AND classification = 'UNKNOWN'`)
	if err = r.track("service_stats", err); err != nil {
		return nil, fmt.Errorf("failed to get service stats: %w", err)
	}
	return stats, nil
}
