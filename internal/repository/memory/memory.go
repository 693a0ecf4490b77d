// Package memory is a map-backed repository.Store. It enforces the same unique keys
// as the postgres schema and is safe for concurrent use.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository"
)

type db struct {
	mu sync.RWMutex

	users        map[uuid.UUID]model.User
	patients     map[uuid.UUID]model.Patient
	services     map[uuid.UUID]model.Service
	appointments map[uuid.UUID]model.Appointment
	referrals    map[uuid.UUID]model.ReferralCode
	tasks        map[uuid.UUID]model.Task
	batches      map[uuid.UUID]model.UploadBatch
	audit        []model.AuditLog
	settings     *model.Settings

	now func() time.Time
}

// NewStore returns an empty in-memory store.
func NewStore() *repository.Store {
	d := &db{
		users:        map[uuid.UUID]model.User{},
		patients:     map[uuid.UUID]model.Patient{},
		services:     map[uuid.UUID]model.Service{},
		appointments: map[uuid.UUID]model.Appointment{},
		referrals:    map[uuid.UUID]model.ReferralCode{},
		tasks:        map[uuid.UUID]model.Task{},
		batches:      map[uuid.UUID]model.UploadBatch{},
		now:          func() time.Time { return time.Now().UTC() },
	}
	return &repository.Store{
		Users:        &userRepository{d},
		Patients:     &patientRepository{d},
		Services:     &serviceRepository{d},
		Appointments: &appointmentRepository{d},
		Referrals:    &referralRepository{d},
		Tasks:        &taskRepository{d},
		Batches:      &batchRepository{d},
		Audit:        &auditRepository{d},
		Settings:     &settingsRepository{d},
	}
}

// paginate slices items for the requested page.
func paginate[T any](items []T, p model.Pagination) []T {
	p = p.Normalize()
	start := p.Offset()
	if start >= len(items) {
		return []T{}
	}
	end := start + p.Limit
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func sortNewestFirst[T any](items []T, created func(T) time.Time) {
	sort.SliceStable(items, func(i, j int) bool {
		return created(items[i]).After(created(items[j]))
	})
}

type userRepository struct{ *db }

func (r *userRepository) Create(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	user.Email = strings.ToLower(user.Email)
	for _, u := range r.users {
		if u.Email == user.Email {
			return repository.ErrDuplicate
		}
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	user.CreatedAt = r.now()
	user.UpdatedAt = user.CreatedAt
	r.users[user.ID] = *user
	return nil
}

func (r *userRepository) Get(_ context.Context, id uuid.UUID) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (r *userRepository) GetByEmail(_ context.Context, email string) (*model.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	email = strings.ToLower(email)
	for _, u := range r.users {
		if u.Email == email {
			u := u
			return &u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *userRepository) Update(_ context.Context, user *model.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.users[user.ID]
	if !ok {
		return repository.ErrNotFound
	}
	user.Email = strings.ToLower(user.Email)
	for _, u := range r.users {
		if u.ID != user.ID && u.Email == user.Email {
			return repository.ErrDuplicate
		}
	}
	user.CreatedAt = existing.CreatedAt
	user.UpdatedAt = r.now()
	r.users[user.ID] = *user
	return nil
}

func (r *userRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.users[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.users, id)
	return nil
}

func (r *userRepository) List(_ context.Context, filters *model.UserFilters) ([]*model.User, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.User
	for _, u := range r.users {
		if filters.Search != "" && !containsFold(u.Email, filters.Search) && !containsFold(u.Name, filters.Search) {
			continue
		}
		u := u
		out = append(out, &u)
	}
	sortNewestFirst(out, func(u *model.User) time.Time { return u.CreatedAt })
	return paginate(out, filters.Pagination), int64(len(out)), nil
}
