package seed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/pipeline"
	"github.com/jwalitptl/referral-api/internal/repository"
	"github.com/jwalitptl/referral-api/pkg/logger"
	"github.com/jwalitptl/referral-api/pkg/security"
)

// DemoServices is the catalog the seed command installs.
var DemoServices = []struct {
	Name           string
	Category       string
	Classification model.Classification
}{
	{"MRI Scan", "Radiology", model.ClassificationMedical},
	{"Blood Test", "Laboratory", model.ClassificationMedical},
	{"Physical Therapy", "Rehabilitation", model.ClassificationMedical},
	{"Dermatology Consultation", "Dermatology Clinic", model.ClassificationMedical},
	{"Therapeutic Massage", "Spa", model.ClassificationWellness},
	{"Yoga", "Studio", model.ClassificationWellness},
	{"Facial", "Spa", model.ClassificationWellness},
	{"Acupuncture", "Holistic", model.ClassificationWellness},
}

type Options struct {
	AdminEmail    string
	AdminPassword string
	ClinicName    string
	ReviewURL     string
	RewardCopy    string
}

// Report counts what Run created. Existing rows are left as they are.
type Report struct {
	AdminCreated    bool
	SettingsCreated bool
	ServicesCreated int
}

type Seeder struct {
	store  *repository.Store
	hasher security.PasswordHasher
	logger *logger.Logger
}

func NewSeeder(store *repository.Store, hasher security.PasswordHasher, log *logger.Logger) *Seeder {
	return &Seeder{store: store, hasher: hasher, logger: log}
}

// Run installs the admin user, clinic settings and demo catalog. It is safe to run repeatedly.
func (s *Seeder) Run(ctx context.Context, opts Options) (*Report, error) {
	report := &Report{}

	email := strings.ToLower(strings.TrimSpace(opts.AdminEmail))
	_, err := s.store.Users.GetByEmail(ctx, email)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		hash, err := s.hasher.Hash(opts.AdminPassword)
		if err != nil {
			return nil, fmt.Errorf("failed to hash admin password: %w", err)
		}
		admin := &model.User{Email: email, Name: "Administrator", PasswordHash: hash, Role: model.RoleAdmin}
		if err := s.store.Users.Create(ctx, admin); err != nil {
			return nil, fmt.Errorf("failed to create admin user: %w", err)
		}
		report.AdminCreated = true
		s.logger.Info("admin user created", "email", email)
	case err != nil:
		return nil, fmt.Errorf("failed to look up admin user: %w", err)
	}

	_, err = s.store.Settings.Get(ctx)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		if err := s.store.Settings.Save(ctx, &model.Settings{
			ClinicName:         opts.ClinicName,
			ReviewURL:          opts.ReviewURL,
			ReferralRewardCopy: opts.RewardCopy,
		}); err != nil {
			return nil, fmt.Errorf("failed to save settings: %w", err)
		}
		report.SettingsCreated = true
	case err != nil:
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	for _, demo := range DemoServices {
		category := demo.Category
		suggestion := pipeline.Classify(demo.Name, demo.Category)
		_, created, err := s.store.Services.EnsureByName(ctx, &model.Service{
			Name:                    demo.Name,
			Classification:          demo.Classification,
			Category:                &category,
			SuggestedClassification: &suggestion.Type,
			SuggestionConfidence:    suggestion.Confidence,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to seed service %s: %w", demo.Name, err)
		}
		if created {
			report.ServicesCreated++
		}
	}
	s.logger.Info("seed complete", "services_created", report.ServicesCreated)
	return report, nil
}

var csvHeader = []string{
	"Appointment ID", "First Name", "Last Name", "Email", "Service", "Start Time", "Status", "Referral Code",
}

// WriteCSV writes rows fake appointments in the vendor export layout. A fixed seed gives a fixed file.
// Roughly one row in eight uses a service outside the demo catalog so the unknown-service path is exercised.
func WriteCSV(w io.Writer, rows int, seed uint64) error {
	faker := gofakeit.New(seed)
	statuses := []string{"Completed", "Completed", "Completed", "No-Show", "Cancelled"}
	extras := []string{"Sound Bath", "Cryotherapy", "Vitamin Drip"}
	end := time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)
	start := end.AddDate(0, -6, 0)

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for i := 0; i < rows; i++ {
		service := DemoServices[faker.Number(0, len(DemoServices)-1)].Name
		if faker.Number(1, 8) == 1 {
			service = extras[faker.Number(0, len(extras)-1)]
		}
		first, last := faker.FirstName(), faker.LastName()
		record := []string{
			fmt.Sprintf("A-%05d", i+1),
			first,
			last,
			fmt.Sprintf("%s.%s@%s", localPart(first), localPart(last), faker.DomainName()),
			service,
			faker.DateRange(start, end).UTC().Format(time.RFC3339),
			statuses[faker.Number(0, len(statuses)-1)],
			"",
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func localPart(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "patient"
	}
	return b.String()
}
