package settings

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/referral-api/internal/model"
	"github.com/jwalitptl/referral-api/internal/repository/memory"
	"github.com/jwalitptl/referral-api/internal/service/audit"
	apperrors "github.com/jwalitptl/referral-api/pkg/errors"
	"github.com/jwalitptl/referral-api/pkg/logger"
)

func TestSettingsGetAndUpdate(t *testing.T) {
	store := memory.NewStore()
	svc := NewService(store.Settings, audit.NewService(store.Audit, logger.Nop()), time.Hour)
	ctx := context.Background()
	actor := &model.Actor{ID: uuid.New(), Role: model.RoleAdmin}

	_, err := svc.Get(ctx)
	assert.Equal(t, http.StatusNotFound, apperrors.HTTPStatus(err))
	assert.Empty(t, svc.AllowedEmailDomain(ctx))

	_, err = svc.Update(ctx, actor, &model.UpdateSettingsRequest{
		ClinicName:         "Zenith",
		ReviewURL:          "https://g.page/zenith",
		ReferralRewardCopy: "Give $20",
		AllowedEmailDomain: "@Zenith.test",
	})
	require.NoError(t, err)

	got, err := svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://g.page/zenith", got.ReviewURL)
	assert.Equal(t, "zenith.test", svc.AllowedEmailDomain(ctx))

	// Updates invalidate the cached row.
	_, err = svc.Update(ctx, actor, &model.UpdateSettingsRequest{
		ClinicName: "Zenith", ReviewURL: "https://g.page/other", ReferralRewardCopy: "Give $30",
	})
	require.NoError(t, err)
	got, err = svc.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://g.page/other", got.ReviewURL)

	stats, err := store.Audit.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.ByAction[model.AuditSettingsUpdated])
}

func TestSettingsGetReturnsCopy(t *testing.T) {
	store := memory.NewStore()
	require.NoError(t, store.Settings.Save(context.Background(), &model.Settings{ReviewURL: "https://a"}))
	svc := NewService(store.Settings, audit.NewService(store.Audit, logger.Nop()), time.Hour)

	first, err := svc.Get(context.Background())
	require.NoError(t, err)
	first.ReviewURL = "mutated"

	second, err := svc.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://a", second.ReviewURL)
}
