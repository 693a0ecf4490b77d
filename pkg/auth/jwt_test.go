package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/referral-api/internal/model"
)

func testUser() *model.User {
	return &model.User{
		Base:  model.Base{ID: uuid.New()},
		Email: "admin@clinic.test",
		Role:  model.RoleAdmin,
	}
}

func TestGenerateAndValidateToken(t *testing.T) {
	svc := NewJWTService(Config{Secret: "secret", Issuer: "referral-api", Expiry: time.Hour})
	user := testUser()

	token, expiresAt, err := svc.GenerateAccessToken(user)
	require.NoError(t, err)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, model.RoleAdmin, claims.Role)
	assert.Equal(t, user.Email, claims.Email)
}

func TestValidateTokenWrongSecret(t *testing.T) {
	token, _, err := NewJWTService(Config{Secret: "a", Issuer: "x"}).GenerateAccessToken(testUser())
	require.NoError(t, err)

	_, err = NewJWTService(Config{Secret: "b", Issuer: "x"}).ValidateToken(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenExpired(t *testing.T) {
	svc := NewJWTService(Config{Secret: "secret", Issuer: "x", Expiry: time.Minute}).(*jwtService)
	issued := time.Now().Add(-time.Hour)
	svc.now = func() time.Time { return issued }
	token, _, err := svc.GenerateAccessToken(testUser())
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.ValidateToken(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}
