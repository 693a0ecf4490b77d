package settings

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository"
	"github.com/jwalitptl/referral-api/internal/service/audit"
	apperrors "github.com/jwalitptl/referral-api/pkg/errors"
)

const (
	cacheKey        = "settings"
	DefaultCacheTTL = time.Minute
)

// Service serves the clinic settings row from a short-lived cache.
type Service struct {
	repo    repository.SettingsRepository
	auditor *audit.Service
	cache   *cache.Cache
}

func NewService(repo repository.SettingsRepository, auditor *audit.Service, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Service{
		repo:    repo,
		auditor: auditor,
		cache:   cache.New(ttl, 2*ttl),
	}
}

func (s *Service) Get(ctx context.Context) (*model.Settings, error) {
	if cached, ok := s.cache.Get(cacheKey); ok {
		settings := *cached.(*model.Settings)
		return &settings, nil
	}

	settings, err := s.repo.Get(ctx)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NotFound("settings", err)
		}
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}

	stored := *settings
	s.cache.SetDefault(cacheKey, &stored)
	return settings, nil
}

func (s *Service) Update(ctx context.Context, actor *model.Actor, req *model.UpdateSettingsRequest) (*model.Settings, error) {
	settings := &model.Settings{
		ClinicName:         strings.TrimSpace(req.ClinicName),
		ReviewURL:          strings.TrimSpace(req.ReviewURL),
		ReferralRewardCopy: strings.TrimSpace(req.ReferralRewardCopy),
		AllowedEmailDomain: strings.ToLower(strings.TrimPrefix(strings.TrimSpace(req.AllowedEmailDomain), "@")),
	}
	if err := s.repo.Save(ctx, settings); err != nil {
		return nil, fmt.Errorf("failed to save settings: %w", err)
	}
	s.cache.Delete(cacheKey)

	s.auditor.Record(ctx, &actor.ID, model.AuditSettingsUpdated, model.JSONMap{
		"clinicName":         settings.ClinicName,
		"reviewUrl":          settings.ReviewURL,
		"allowedEmailDomain": settings.AllowedEmailDomain,
	})
	return settings, nil
}

// AllowedEmailDomain returns the configured domain restriction for user emails, empty when unset.
func (s *Service) AllowedEmailDomain(ctx context.Context) string {
	settings, err := s.Get(ctx)
	if err != nil {
		return ""
	}
	return settings.AllowedEmailDomain
}
