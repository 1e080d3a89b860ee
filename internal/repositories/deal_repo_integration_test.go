//go:build integration

package repositories

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ads-marketplace/dealflow/internal/db"
	"github.com/ads-marketplace/dealflow/internal/models"
	"github.com/ads-marketplace/dealflow/migrations"
)

func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()

	dbURL := os.Getenv("POSTGRES_URL")
	if dbURL == "" {
		t.Skip("POSTGRES_URL not set, skipping integration test")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dbURL)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, db.RunMigrations(ctx, pool, migrations.FS, zap.NewNop()))
	return pool
}

// seedParties inserts an owner, an advertiser and a channel owned by the former.
func seedParties(t *testing.T, pool *pgxpool.Pool) (ownerID, advertiserID, channelID uuid.UUID) {
	t.Helper()
	ctx := context.Background()
	base := time.Now().UnixNano()

	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO users (telegram_user_id) VALUES ($1) RETURNING id`, base).Scan(&ownerID))
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO users (telegram_user_id) VALUES ($1) RETURNING id`, base+1).Scan(&advertiserID))
	require.NoError(t, pool.QueryRow(ctx,
		`INSERT INTO channels (username, title) VALUES ($1, 'test') RETURNING id`,
		"ch_"+uuid.NewString()[:8]).Scan(&channelID))
	_, err := pool.Exec(ctx,
		`INSERT INTO channel_members (channel_id, user_id, role) VALUES ($1, $2, 'owner')`, channelID, ownerID)
	require.NoError(t, err)

	t.Cleanup(func() {
		pool.Exec(ctx, `DELETE FROM deals WHERE channel_id = $1`, channelID)
		pool.Exec(ctx, `DELETE FROM channels WHERE id = $1`, channelID)
		pool.Exec(ctx, `DELETE FROM users WHERE id IN ($1, $2)`, ownerID, advertiserID)
	})
	return ownerID, advertiserID, channelID
}

func TestPostgresDeal_CreateAndUpdate(t *testing.T) {
	pool := setupTestDB(t)
	ownerID, advertiserID, channelID := seedParties(t, pool)
	ctx := context.Background()
	repo := NewDealRepo(pool)

	ch, err := NewChannelRepo(pool).GetByID(ctx, channelID)
	require.NoError(t, err)
	assert.Equal(t, ownerID, ch.OwnerUserID)

	d := &models.Deal{
		ChannelID:         channelID,
		ChannelOwnerID:    ownerID,
		AdvertiserID:      advertiserID,
		SourceType:        models.DealSourceListing,
		SourceID:          uuid.New(),
		Amount:            decimal.RequireFromString("12.5"),
		Format:            "post",
		PostDurationHours: 24,
		PlatformFeeBPS:    500,
		Status:            models.DealStatusPendingAcceptance,
		LastActivityAt:    time.Now(),
	}
	require.NoError(t, repo.Create(ctx, d))
	require.NotEqual(t, uuid.Nil, d.ID)

	stale, err := repo.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.True(t, stale.Amount.Equal(d.Amount))

	d.Status = models.DealStatusPendingPayment
	require.NoError(t, repo.Update(ctx, d, models.DealStatusPendingAcceptance))

	stale.Status = models.DealStatusCancelled
	assert.ErrorIs(t, repo.Update(ctx, stale, models.DealStatusPendingAcceptance), ErrStatusConflict)

	got, err := repo.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DealStatusPendingPayment, got.Status)

	_, err = repo.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPostgresDeal_VerificationChecksAndTimeouts(t *testing.T) {
	pool := setupTestDB(t)
	ownerID, advertiserID, channelID := seedParties(t, pool)
	ctx := context.Background()
	repo := NewDealRepo(pool)

	past := time.Now().Add(-time.Minute)
	d := &models.Deal{
		ChannelID:          channelID,
		ChannelOwnerID:     ownerID,
		AdvertiserID:       advertiserID,
		SourceType:         models.DealSourceListing,
		SourceID:           uuid.New(),
		Amount:             decimal.NewFromInt(3),
		Format:             "post",
		PostDurationHours:  1,
		PlatformFeeBPS:     500,
		Status:             models.DealStatusCreativePending,
		LastActivityAt:     past,
		AutoCancelDeadline: &past,
	}
	require.NoError(t, repo.Create(ctx, d))

	timedOut, err := repo.ListTimedOut(ctx, models.AwaitingStatuses, time.Now(), 1000)
	require.NoError(t, err)
	found := false
	for _, td := range timedOut {
		found = found || td.ID == d.ID
	}
	assert.True(t, found, "deal past its deadline should be listed")

	check := models.VerificationCheck{CheckedAt: time.Now(), PostExists: true, PostUnmodified: true}
	assert.ErrorIs(t, repo.AppendVerificationCheck(ctx, d.ID, models.DealStatusPosted, check), ErrStatusConflict)
	require.NoError(t, repo.AppendVerificationCheck(ctx, d.ID, models.DealStatusCreativePending, check))

	got, err := repo.GetByID(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, got.VerificationChecks, 1)
}
