package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository"
)

type batchRepository struct{ *db }

func (r *batchRepository) Create(_ context.Context, batch *model.UploadBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if batch.ID == uuid.Nil {
		batch.ID = uuid.New()
	}
	if batch.Status == "" {
		batch.Status = model.BatchStatusQueued
	}
	batch.Total = len(batch.Rows)
	batch.CreatedAt = r.now()
	batch.UpdatedAt = batch.CreatedAt
	r.batches[batch.ID] = *batch
	return nil
}

func (r *batchRepository) Get(_ context.Context, id uuid.UUID) (*model.UploadBatch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.batches[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &b, nil
}

func (r *batchRepository) Update(_ context.Context, batch *model.UploadBatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.batches[batch.ID]; !ok {
		return repository.ErrNotFound
	}
	r.write(batch)
	return nil
}

func (r *batchRepository) Checkpoint(_ context.Context, batch *model.UploadBatch) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[batch.ID]
	if !ok || b.Status != model.BatchStatusProcessing {
		return false, nil
	}
	r.write(batch)
	return true, nil
}

// write copies the mutable fields. Callers hold the lock.
func (r *batchRepository) write(batch *model.UploadBatch) {
	b := r.batches[batch.ID]
	batch.UpdatedAt = r.now()
	b.Status = batch.Status
	b.Processed = batch.Processed
	b.Sent = batch.Sent
	b.Deferred = batch.Deferred
	b.Redeemed = batch.Redeemed
	b.Error = batch.Error
	b.StartedAt = batch.StartedAt
	b.CompletedAt = batch.CompletedAt
	b.UpdatedAt = batch.UpdatedAt
	r.batches[batch.ID] = b
}

func (r *batchRepository) FailRunning(_ context.Context, id uuid.UUID, cause string, at, staleBefore time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[id]
	if !ok || b.Status != model.BatchStatusProcessing {
		return false, nil
	}
	if !staleBefore.IsZero() && !b.UpdatedAt.Before(staleBefore) {
		return false, nil
	}
	b.Status = model.BatchStatusFailed
	b.Error = &cause
	b.CompletedAt = &at
	b.UpdatedAt = at
	r.batches[id] = b
	return true, nil
}

func (r *batchRepository) List(_ context.Context, filters *model.BatchFilters) ([]*model.UploadBatch, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.UploadBatch
	for _, b := range r.batches {
		if filters.Status != "" && b.Status != filters.Status {
			continue
		}
		b := b
		b.Rows = nil
		out = append(out, &b)
	}
	sortNewestFirst(out, func(b *model.UploadBatch) time.Time { return b.CreatedAt })
	return paginate(out, filters.Pagination), int64(len(out)), nil
}

func (r *batchRepository) ListStale(_ context.Context, status model.BatchStatus, before time.Time) ([]*model.UploadBatch, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []*model.UploadBatch{}
	for _, b := range r.batches {
		if b.Status == status && b.UpdatedAt.Before(before) {
			b := b
			out = append(out, &b)
		}
	}
	return out, nil
}

type auditRepository struct{ *db }

func (r *auditRepository) Create(_ context.Context, log *model.AuditLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if log.ID == uuid.Nil {
		log.ID = uuid.New()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = r.now()
	}
	r.audit = append(r.audit, *log)
	return nil
}

func (r *auditRepository) List(_ context.Context, filters *model.AuditFilters) ([]*model.AuditLog, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.AuditLog
	// Newest first; entries are appended in time order.
	for i := len(r.audit) - 1; i >= 0; i-- {
		l := r.audit[i]
		if filters.Action != "" && l.Action != filters.Action {
			continue
		}
		if filters.BatchID != nil && (l.BatchID == nil || *l.BatchID != *filters.BatchID) {
			continue
		}
		if filters.ActorID != nil && (l.ActorID == nil || *l.ActorID != *filters.ActorID) {
			continue
		}
		if filters.StartDate != nil && l.CreatedAt.Before(*filters.StartDate) {
			continue
		}
		if filters.EndDate != nil && l.CreatedAt.After(*filters.EndDate) {
			continue
		}
		out = append(out, &l)
	}
	return paginate(out, filters.Pagination), int64(len(out)), nil
}

func (r *auditRepository) Stats(_ context.Context) (*model.AuditStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := &model.AuditStats{ByAction: map[string]int64{}}
	for _, l := range r.audit {
		stats.Total++
		stats.ByAction[l.Action]++
	}
	return stats, nil
}

type settingsRepository struct{ *db }

func (r *settingsRepository) Get(_ context.Context) (*model.Settings, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.settings == nil {
		return nil, repository.ErrNotFound
	}
	s := *r.settings
	return &s, nil
}

func (r *settingsRepository) Save(_ context.Context, s *model.Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s.ID = 1
	s.UpdatedAt = r.now()
	stored := *s
	r.settings = &stored
	return nil
}
