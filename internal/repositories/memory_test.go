package repositories

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ads-marketplace/dealflow/internal/models"
)

func TestMemoryDealStoreCAS(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryDealStore()

	d := &models.Deal{Status: models.DealStatusPendingAcceptance}
	require.NoError(t, s.Create(ctx, d))

	stale, err := s.GetByID(ctx, d.ID)
	require.NoError(t, err)

	d.Status = models.DealStatusPendingPayment
	require.NoError(t, s.Update(ctx, d, models.DealStatusPendingAcceptance))

	stale.Status = models.DealStatusCancelled
	err = s.Update(ctx, stale, models.DealStatusPendingAcceptance)
	assert.ErrorIs(t, err, ErrStatusConflict)

	got, _ := s.GetByID(ctx, d.ID)
	assert.Equal(t, models.DealStatusPendingPayment, got.Status)

	_, err = s.GetByID(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryDealStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryDealStore()
	d := &models.Deal{Status: models.DealStatusPosted}
	require.NoError(t, s.Create(ctx, d))

	got, _ := s.GetByID(ctx, d.ID)
	got.Status = models.DealStatusCompleted

	again, _ := s.GetByID(ctx, d.ID)
	assert.Equal(t, models.DealStatusPosted, again.Status)
}

func TestMemoryDealStoreAppendCheck(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryDealStore()
	activity := time.Now().Add(-time.Hour)
	d := &models.Deal{Status: models.DealStatusPosted, LastActivityAt: activity}
	require.NoError(t, s.Create(ctx, d))

	check := models.VerificationCheck{CheckedAt: time.Now(), PostExists: true, PostUnmodified: true}
	require.NoError(t, s.AppendVerificationCheck(ctx, d.ID, models.DealStatusPosted, check))
	assert.ErrorIs(t, s.AppendVerificationCheck(ctx, d.ID, models.DealStatusScheduled, check), ErrStatusConflict)

	got, _ := s.GetByID(ctx, d.ID)
	assert.Len(t, got.VerificationChecks, 1)
	assert.True(t, got.LastActivityAt.Equal(activity))
}

func TestMemoryDealStoreQueries(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryDealStore()
	now := time.Now()
	past, future := now.Add(-time.Minute), now.Add(time.Hour)

	due := &models.Deal{Status: models.DealStatusScheduled, ScheduledTime: &past}
	notDue := &models.Deal{Status: models.DealStatusScheduled, ScheduledTime: &future}
	expired := &models.Deal{Status: models.DealStatusCreativePending, AutoCancelDeadline: &past}
	expiredPosted := &models.Deal{Status: models.DealStatusPosted, AutoCancelDeadline: &past}
	for _, d := range []*models.Deal{due, notDue, expired, expiredPosted} {
		require.NoError(t, s.Create(ctx, d))
	}

	got, err := s.ListDueForPublish(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, due.ID, got[0].ID)

	got, err = s.ListTimedOut(ctx, models.AwaitingStatuses, now, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, expired.ID, got[0].ID)

	got, err = s.ListByStatus(ctx, models.DealStatusScheduled, 10)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestMemoryEscrowStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryEscrowStore()
	dealID := uuid.New()

	a := &models.EscrowAccount{DealID: &dealID, Address: "addr", Status: models.EscrowStatusActive}
	require.NoError(t, s.Create(ctx, a))
	assert.ErrorIs(t, s.Create(ctx, &models.EscrowAccount{DealID: &dealID}), ErrAlreadyExists)

	require.NoError(t, s.MarkPayoutSent(ctx, a.ID, "tx1"))
	assert.ErrorIs(t, s.MarkPayoutSent(ctx, a.ID, "tx2"), ErrStatusConflict)

	require.NoError(t, s.MarkSpent(ctx, a.ID, nil))
	assert.ErrorIs(t, s.MarkSpent(ctx, a.ID, nil), ErrStatusConflict)

	got, err := s.GetByDealID(ctx, dealID)
	require.NoError(t, err)
	assert.True(t, got.IsSpent())
	assert.Equal(t, "tx1", *got.PayoutTxRef)
}

func TestMemoryEscrowStorePayoutPending(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryEscrowStore()
	dealID := uuid.New()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	a := &models.EscrowAccount{DealID: &dealID, Address: "addr", Status: models.EscrowStatusActive}
	require.NoError(t, s.Create(ctx, a))

	memo := models.PayoutMemo(dealID)
	require.NoError(t, s.MarkPayoutPending(ctx, a.ID, memo, at))
	// a resend refreshes the start time
	require.NoError(t, s.MarkPayoutPending(ctx, a.ID, memo, at.Add(time.Minute)))

	got, err := s.GetByDealID(ctx, dealID)
	require.NoError(t, err)
	assert.Equal(t, models.EscrowStatusPayoutPending, got.Status)
	assert.Equal(t, memo, *got.PayoutMemo)
	assert.Equal(t, at.Add(time.Minute), *got.PayoutStarted)

	require.NoError(t, s.MarkPayoutSent(ctx, a.ID, "tx1"))
	assert.ErrorIs(t, s.MarkPayoutPending(ctx, a.ID, memo, at), ErrStatusConflict)
}
