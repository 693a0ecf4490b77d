package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("PIPELINE_MODE", "inline")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "s3cret", cfg.JWT.Secret)
	assert.Equal(t, "inline", cfg.Pipeline.Mode)
	assert.Equal(t, 5, cfg.Pipeline.CodeAttempts)
	assert.Equal(t, 24*time.Hour, cfg.JWTExpiry())
	assert.Equal(t, int64(10<<20), cfg.MaxUploadBytes())
	assert.Equal(t, "Thanks for your visit, quick review?", cfg.Email.Medical.Subject)
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		JWT:      JWTConfig{Secret: "x"},
		Email:    EmailConfig{Driver: "smtp"},
		Pipeline: PipelineConfig{Mode: "queue"},
	}
	assert.Error(t, cfg.Validate())

	cfg.Email = EmailConfig{
		Driver: "smtp", SMTPHost: "mail", From: "clinic@example.com",
		Medical:  EmailTemplate{ID: "medical-review"},
		Wellness: EmailTemplate{ID: "wellness-referral"},
	}
	assert.NoError(t, cfg.Validate())

	cfg.Pipeline.Mode = "later"
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsSharedTemplateID(t *testing.T) {
	cfg := &Config{
		JWT: JWTConfig{Secret: "x"},
		Email: EmailConfig{
			Driver:   "log",
			Medical:  EmailTemplate{ID: "clinic-followup"},
			Wellness: EmailTemplate{ID: "clinic-followup"},
		},
		Pipeline: PipelineConfig{Mode: "queue"},
	}
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must differ")

	cfg.Email.Wellness.ID = ""
	assert.Error(t, cfg.Validate())

	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("EMAIL_WELLNESS_ID", "medical-review")
	_, err = LoadConfig()
	assert.Error(t, err)
}
