package memory

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository"
)

type patientRepository struct{ *db }

func (r *patientRepository) Upsert(_ context.Context, in model.PatientUpsert) (*model.Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	email := strings.ToLower(strings.TrimSpace(in.Email))
	now := r.now()
	for id, p := range r.patients {
		if p.Email != email {
			continue
		}
		if in.FirstName != nil {
			p.FirstName = in.FirstName
		}
		if in.LastName != nil {
			p.LastName = in.LastName
		}
		p.UpdatedAt = now
		r.patients[id] = p
		return &p, nil
	}
	p := model.Patient{
		Base:      model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		Email:     email,
		FirstName: in.FirstName,
		LastName:  in.LastName,
	}
	r.patients[p.ID] = p
	return &p, nil
}

func (r *patientRepository) Get(_ context.Context, id uuid.UUID) (*model.Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.patients[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (r *patientRepository) GetByEmail(_ context.Context, email string) (*model.Patient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, p := range r.patients {
		if p.Email == email {
			p := p
			return &p, nil
		}
	}
	return nil, repository.ErrNotFound
}

type serviceRepository struct{ *db }

func (r *serviceRepository) byName(name string) (model.Service, bool) {
	for _, s := range r.services {
		if s.Name == name {
			return s, true
		}
	}
	return model.Service{}, false
}

func (r *serviceRepository) EnsureByName(_ context.Context, svc *model.Service) (*model.Service, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byName(svc.Name); ok {
		return &existing, false, nil
	}
	stored := *svc
	stored.ID = uuid.New()
	if stored.Classification == "" {
		stored.Classification = model.ClassificationUnknown
	}
	stored.CreatedAt = r.now()
	stored.UpdatedAt = stored.CreatedAt
	r.services[stored.ID] = stored
	return &stored, true, nil
}

func (r *serviceRepository) Create(_ context.Context, svc *model.Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byName(svc.Name); ok {
		return repository.ErrDuplicate
	}
	if svc.ID == uuid.Nil {
		svc.ID = uuid.New()
	}
	if svc.Classification == "" {
		svc.Classification = model.ClassificationUnknown
	}
	svc.CreatedAt = r.now()
	svc.UpdatedAt = svc.CreatedAt
	r.services[svc.ID] = *svc
	return nil
}

func (r *serviceRepository) Get(_ context.Context, id uuid.UUID) (*model.Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.services[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &s, nil
}

func (r *serviceRepository) GetByName(_ context.Context, name string) (*model.Service, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byName(name)
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &s, nil
}

func (r *serviceRepository) Update(_ context.Context, svc *model.Service) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.services[svc.ID]
	if !ok {
		return repository.ErrNotFound
	}
	if other, ok := r.byName(svc.Name); ok && other.ID != svc.ID {
		return repository.ErrDuplicate
	}
	existing.Name = svc.Name
	existing.Category = svc.Category
	existing.Description = svc.Description
	existing.UpdatedAt = r.now()
	r.services[svc.ID] = existing
	*svc = existing
	return nil
}

func (r *serviceRepository) SetClassification(_ context.Context, id uuid.UUID, c model.Classification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.services[id]
	if !ok {
		return repository.ErrNotFound
	}
	s.Classification = c
	s.RequiresReview = false
	s.UpdatedAt = r.now()
	r.services[id] = s
	return nil
}

func (r *serviceRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.services[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.services, id)
	return nil
}

func (r *serviceRepository) List(_ context.Context, filters *model.ServiceFilters) ([]*model.Service, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.Service
	for _, s := range r.services {
		if filters.Search != "" && !containsFold(s.Name, filters.Search) {
			continue
		}
		if filters.Classification != "" && s.Classification != filters.Classification {
			continue
		}
		s := s
		out = append(out, &s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return paginate(out, filters.Pagination), int64(len(out)), nil
}

func (r *serviceRepository) ListUnknown(_ context.Context) ([]*model.UnknownService, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	counts := map[uuid.UUID]int{}
	for _, a := range r.appointments {
		counts[a.ServiceID]++
	}
	out := []*model.UnknownService{}
	for _, s := range r.services {
		if s.Classification != model.ClassificationUnknown {
			continue
		}
		out = append(out, &model.UnknownService{
			ID:           s.ID,
			Name:         s.Name,
			CreatedAt:    s.CreatedAt,
			PendingCount: counts[s.ID],
			Suggested:    s.SuggestedClassification,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PendingCount != out[j].PendingCount {
			return out[i].PendingCount > out[j].PendingCount
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (r *serviceRepository) Stats(_ context.Context) (*model.ServiceStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stats := &model.ServiceStats{ByClassification: map[model.Classification]int64{}}
	for _, s := range r.services {
		stats.Total++
		stats.ByClassification[s.Classification]++
		if s.RequiresReview && s.Classification == model.ClassificationUnknown {
			stats.RequiresReview++
		}
	}
	return stats, nil
}

type appointmentRepository struct{ *db }

func (r *appointmentRepository) Create(_ context.Context, appt *model.Appointment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.appointments {
		if a.IdempotencyKey == appt.IdempotencyKey {
			return repository.ErrDuplicate
		}
	}
	now := r.now()
	if appt.ID == uuid.Nil {
		appt.ID = uuid.New()
	}
	if appt.ProcessedAt.IsZero() {
		appt.ProcessedAt = now
	}
	appt.CreatedAt = now
	appt.UpdatedAt = now
	r.appointments[appt.ID] = *appt
	return nil
}

func (r *appointmentRepository) ExistsByKey(_ context.Context, key string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, a := range r.appointments {
		if a.IdempotencyKey == key {
			return true, nil
		}
	}
	return false, nil
}

func (r *appointmentRepository) CountByService(_ context.Context, serviceID uuid.UUID) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var n int64
	for _, a := range r.appointments {
		if a.ServiceID == serviceID {
			n++
		}
	}
	return n, nil
}

type referralRepository struct{ *db }

func (r *referralRepository) details(c model.ReferralCode) *model.ReferralCodeDetails {
	return &model.ReferralCodeDetails{ReferralCode: c, OwnerEmail: r.patients[c.OwnerID].Email}
}

func (r *referralRepository) Create(_ context.Context, code *model.ReferralCode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if code.Status == "" {
		code.Status = model.ReferralStatusActive
	}
	for _, c := range r.referrals {
		if c.Code == code.Code {
			return repository.ErrDuplicate
		}
	}
	for _, c := range r.referrals {
		if code.Status == model.ReferralStatusActive && c.Status == model.ReferralStatusActive && c.OwnerID == code.OwnerID {
			return repository.ErrActiveCodeExists
		}
	}
	if code.ID == uuid.Nil {
		code.ID = uuid.New()
	}
	code.CreatedAt = r.now()
	code.UpdatedAt = code.CreatedAt
	r.referrals[code.ID] = *code
	return nil
}

func (r *referralRepository) Get(_ context.Context, id uuid.UUID) (*model.ReferralCodeDetails, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.referrals[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.details(c), nil
}

func (r *referralRepository) GetByCode(_ context.Context, code string) (*model.ReferralCode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, c := range r.referrals {
		if c.Code == code {
			c := c
			return &c, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *referralRepository) GetActiveByOwner(_ context.Context, ownerID uuid.UUID) (*model.ReferralCode, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var found *model.ReferralCode
	for _, c := range r.referrals {
		if c.OwnerID != ownerID || c.Status != model.ReferralStatusActive {
			continue
		}
		if found == nil || c.CreatedAt.Before(found.CreatedAt) {
			c := c
			found = &c
		}
	}
	if found == nil {
		return nil, repository.ErrNotFound
	}
	return found, nil
}

func (r *referralRepository) Redeem(_ context.Context, id, redeemerID uuid.UUID, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.referrals[id]
	if !ok || c.Status != model.ReferralStatusActive {
		return false, nil
	}
	c.Status = model.ReferralStatusRedeemed
	c.RedeemedAt = &at
	c.RedeemedByID = &redeemerID
	c.UpdatedAt = at
	r.referrals[id] = c
	return true, nil
}

func (r *referralRepository) List(_ context.Context, filters *model.ReferralFilters) ([]*model.ReferralCodeDetails, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.ReferralCodeDetails
	for _, c := range r.referrals {
		if filters.Status != "" && c.Status != filters.Status {
			continue
		}
		d := r.details(c)
		if filters.Search != "" && !containsFold(d.Code, filters.Search) && !containsFold(d.OwnerEmail, filters.Search) {
			continue
		}
		out = append(out, d)
	}
	sortNewestFirst(out, func(d *model.ReferralCodeDetails) time.Time { return d.CreatedAt })
	return paginate(out, filters.Pagination), int64(len(out)), nil
}

type taskRepository struct{ *db }

func (r *taskRepository) details(t model.Task) *model.TaskWithDetails {
	return &model.TaskWithDetails{
		Task:            t,
		Code:            r.referrals[t.ReferralCodeID].Code,
		ReferrerEmail:   r.patients[t.ReferrerID].Email,
		NewPatientEmail: r.patients[t.NewPatientID].Email,
	}
}

func (r *taskRepository) Create(_ context.Context, task *model.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	if task.Status == "" {
		task.Status = model.TaskStatusOpen
	}
	task.CreatedAt = r.now()
	task.UpdatedAt = task.CreatedAt
	r.tasks[task.ID] = *task
	return nil
}

func (r *taskRepository) Get(_ context.Context, id uuid.UUID) (*model.TaskWithDetails, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tasks[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return r.details(t), nil
}

func (r *taskRepository) List(_ context.Context, filters *model.TaskFilters) ([]*model.TaskWithDetails, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*model.TaskWithDetails
	for _, t := range r.tasks {
		if filters.Status != "" && t.Status != filters.Status {
			continue
		}
		if filters.Type != "" && t.Type != filters.Type {
			continue
		}
		out = append(out, r.details(t))
	}
	sortNewestFirst(out, func(t *model.TaskWithDetails) time.Time { return t.CreatedAt })
	return paginate(out, filters.Pagination), int64(len(out)), nil
}

func (r *taskRepository) Complete(_ context.Context, id, by uuid.UUID, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok || t.Status != model.TaskStatusOpen {
		return false, nil
	}
	t.Status = model.TaskStatusCompleted
	t.CompletedAt = &at
	t.CompletedByID = &by
	t.UpdatedAt = at
	r.tasks[id] = t
	return true, nil
}
