package user

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository"
	"github.com/jwalitptl/referral-api/internal/service/audit"
	apperrors "github.com/jwalitptl/referral-api/pkg/errors"
	"github.com/jwalitptl/referral-api/pkg/security"
)

// DomainPolicy returns the email domain new users must belong to, empty for any.
type DomainPolicy func(ctx context.Context) string

type Service struct {
	repo    repository.UserRepository
	hasher  security.PasswordHasher
	auditor *audit.Service
	domain  DomainPolicy
}

func NewService(repo repository.UserRepository, hasher security.PasswordHasher, auditor *audit.Service, domain DomainPolicy) *Service {
	if domain == nil {
		domain = func(context.Context) string { return "" }
	}
	return &Service{
		repo:    repo,
		hasher:  hasher,
		auditor: auditor,
		domain:  domain,
	}
}

func (s *Service) CreateUser(ctx context.Context, actor *model.Actor, req *model.CreateUserRequest) (*model.User, error) {
	email := normalizeEmail(req.Email)
	if err := s.checkDomain(ctx, email); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(req.Password)
	if err != nil {
		if errors.Is(err, security.ErrPasswordTooShort) {
			return nil, apperrors.BadRequest("password must be at least 8 characters", err)
		}
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	role := req.Role
	if role == "" {
		role = model.RoleStaff
	}
	user := &model.User{
		Email:        email,
		Name:         strings.TrimSpace(req.Name),
		PasswordHash: hash,
		Role:         role,
	}
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.Conflict("email already in use", err)
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.auditor.Record(ctx, &actor.ID, model.AuditUserCreated, model.JSONMap{
		"userId": user.ID.String(),
		"email":  user.Email,
		"role":   string(user.Role),
	})
	return user, nil
}

func (s *Service) GetUser(ctx context.Context, id uuid.UUID) (*model.User, error) {
	user, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("user", err)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (s *Service) UpdateUser(ctx context.Context, actor *model.Actor, id uuid.UUID, req *model.UpdateUserRequest) (*model.User, error) {
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}

	changed := []string{}
	if req.Email != nil {
		email := normalizeEmail(*req.Email)
		if err := s.checkDomain(ctx, email); err != nil {
			return nil, err
		}
		user.Email = email
		changed = append(changed, "email")
	}
	if req.Name != nil {
		user.Name = strings.TrimSpace(*req.Name)
		changed = append(changed, "name")
	}
	if req.Role != nil {
		if actor.ID == id && *req.Role != user.Role {
			return nil, apperrors.Forbidden("cannot change your own role")
		}
		user.Role = *req.Role
		changed = append(changed, "role")
	}
	if req.Password != nil {
		hash, err := s.hasher.Hash(*req.Password)
		if err != nil {
			return nil, apperrors.BadRequest("invalid password", err)
		}
		user.PasswordHash = hash
		changed = append(changed, "password")
	}

	if err := s.repo.Update(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.Conflict("email already in use", err)
		}
		return nil, fmt.Errorf("failed to update user: %w", err)
	}

	s.auditor.Record(ctx, &actor.ID, model.AuditUserUpdated, model.JSONMap{
		"userId":  user.ID.String(),
		"changed": changed,
	})
	return user, nil
}

func (s *Service) DeleteUser(ctx context.Context, actor *model.Actor, id uuid.UUID) error {
	if actor.ID == id {
		return apperrors.Forbidden("cannot delete your own account")
	}
	user, err := s.GetUser(ctx, id)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	s.auditor.Record(ctx, &actor.ID, model.AuditUserDeleted, model.JSONMap{
		"userId": id.String(),
		"email":  user.Email,
	})
	return nil
}

func (s *Service) ListUsers(ctx context.Context, filters *model.UserFilters) ([]*model.User, int64, error) {
	filters.Pagination = filters.Pagination.Normalize()
	users, total, err := s.repo.List(ctx, filters)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	return users, total, nil
}

// UpdateProfile lets any user edit their own name, email and password.
// A password change requires the current password.
func (s *Service) UpdateProfile(ctx context.Context, actor *model.Actor, req *model.UpdateProfileRequest) (*model.User, error) {
	user, err := s.GetUser(ctx, actor.ID)
	if err != nil {
		return nil, err
	}

	if req.Email != nil {
		email := normalizeEmail(*req.Email)
		if err := s.checkDomain(ctx, email); err != nil {
			return nil, err
		}
		user.Email = email
	}
	if req.Name != nil {
		user.Name = strings.TrimSpace(*req.Name)
	}
	if req.NewPassword != "" {
		if req.CurrentPassword == "" {
			return nil, apperrors.BadRequest("current password is required", nil)
		}
		if err := s.hasher.Compare(user.PasswordHash, req.CurrentPassword); err != nil {
			return nil, apperrors.BadRequest("current password is incorrect", nil)
		}
		hash, err := s.hasher.Hash(req.NewPassword)
		if err != nil {
			return nil, apperrors.BadRequest("invalid password", err)
		}
		user.PasswordHash = hash
	}

	if err := s.repo.Update(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, apperrors.Conflict("email already in use", err)
		}
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}

	s.auditor.Record(ctx, &actor.ID, model.AuditProfileUpdated, model.JSONMap{
		"passwordChanged": req.NewPassword != "",
	})
	return user, nil
}

func (s *Service) checkDomain(ctx context.Context, email string) error {
	domain := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s.domain(ctx)), "@"))
	if domain == "" {
		return nil
	}
	if !strings.HasSuffix(email, "@"+domain) {
		return apperrors.BadRequest(fmt.Sprintf("email must belong to %s", domain), nil)
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
