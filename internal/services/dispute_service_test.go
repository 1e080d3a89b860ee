package services

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ads-marketplace/dealflow/internal/apperr"
	"github.com/ads-marketplace/dealflow/internal/models"
)

func TestResolveInputValidation(t *testing.T) {
	h := newHarness(t)
	d := h.disputedDeal(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		actor models.Actor
		in    ResolveInput
		kind  apperr.Kind
	}{
		{"party", h.advertiser, ResolveInput{Decision: models.ResolutionRefund, Reason: "x"}, apperr.KindForbidden},
		{"bad decision", h.arbiter, ResolveInput{Decision: "split", Reason: "x"}, apperr.KindValidation},
		{"no reason", h.arbiter, ResolveInput{Decision: models.ResolutionRefund, Reason: " "}, apperr.KindValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.disputes.Resolve(ctx, tt.actor, d.ID, tt.in)
			assert.True(t, apperr.IsKind(err, tt.kind), "got %v", err)
		})
	}

	got, _ := h.deals.GetByID(ctx, d.ID)
	assert.Equal(t, models.DealStatusDisputed, got.Status)
	assert.Nil(t, got.Resolution)
}

func TestResolveRefund(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.disputedDeal(t)

	out, err := h.disputes.Resolve(ctx, h.arbiter, d.ID, ResolveInput{Decision: models.ResolutionRefund, Reason: "post missing"})
	require.NoError(t, err)
	assert.Equal(t, models.DealStatusRefunded, out.Status)
	require.NotNil(t, out.Resolution)
	assert.Equal(t, models.ResolutionRefund, out.Resolution.Resolution)
	assert.Equal(t, h.arbiter.UserID, out.Resolution.ResolvedBy)

	transfers := h.ledger.Transfers()
	require.Len(t, transfers, 1)
	assert.Equal(t, payerWallet, transfers[0].To)
	assert.True(t, transfers[0].Sent.Equal(decimal.NewFromInt(10)))
	assert.Contains(t, h.audit.Actions(d.ID), models.AuditDisputeResolved)

	_, err = h.disputes.Resolve(ctx, h.arbiter, d.ID, ResolveInput{Decision: models.ResolutionRelease, Reason: "changed my mind"})
	assert.True(t, apperr.IsKind(err, apperr.KindInvalidState))

	got, _ := h.deals.GetByID(ctx, d.ID)
	assert.Equal(t, models.ResolutionRefund, got.Resolution.Resolution)
	assert.Len(t, h.ledger.Transfers(), 1)
}

func TestResolveRefundToOverride(t *testing.T) {
	h := newHarness(t)
	d := h.disputedDeal(t)

	_, err := h.disputes.Resolve(context.Background(), h.arbiter, d.ID, ResolveInput{
		Decision:      models.ResolutionRefund,
		Reason:        "post missing",
		RefundAddress: strPtr("EQadvertiserCold"),
	})
	require.NoError(t, err)
	assert.True(t, h.ledger.BalanceOf("EQadvertiserCold").Equal(decimal.NewFromInt(10)))
}

func TestResolveReleasePrefersWithdrawWallet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.disputedDeal(t)
	h.withdraws.ByChannel[h.channel.ID] = &models.WithdrawWallet{
		ID: uuid.New(), ChannelID: h.channel.ID, OwnerUserID: h.owner.UserID, WalletAddress: "EQwithdraw",
	}

	out, err := h.disputes.Resolve(ctx, h.arbiter, d.ID, ResolveInput{Decision: models.ResolutionRelease, Reason: "post was fine"})
	require.NoError(t, err)
	assert.Equal(t, models.DealStatusCompleted, out.Status)
	assert.Equal(t, models.ResolutionRelease, out.Resolution.Resolution)

	transfers := h.ledger.Transfers()
	require.Len(t, transfers, 2)
	assert.Equal(t, "EQwithdraw", transfers[0].To)
	assert.True(t, transfers[0].Sent.Equal(decimal.NewFromInt(9)))
	assert.Equal(t, platformWallet, transfers[1].To)
}

func TestResolveReleaseWithoutPayoutWallet(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.disputedDeal(t)
	delete(h.wallets.ByUser, h.owner.UserID)

	_, err := h.disputes.Resolve(ctx, h.arbiter, d.ID, ResolveInput{Decision: models.ResolutionRelease, Reason: "post was fine"})
	assert.True(t, apperr.IsKind(err, apperr.KindMissingRecipientAddress))

	got, _ := h.deals.GetByID(ctx, d.ID)
	assert.Equal(t, models.DealStatusDisputed, got.Status)
	assert.Nil(t, got.Resolution)
	assert.Empty(t, h.ledger.Transfers())
}

func TestResolveReleasePayoutFailureStaysVerified(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	d := h.disputedDeal(t)
	h.ledger.FailTransfersTo[ownerWallet] = errors.New("invalid address")

	out, err := h.disputes.Resolve(ctx, h.arbiter, d.ID, ResolveInput{Decision: models.ResolutionRelease, Reason: "post was fine"})
	assert.True(t, apperr.IsKind(err, apperr.KindLedgerTransferFailed))
	require.NotNil(t, out)
	assert.Equal(t, models.DealStatusVerified, out.Status)

	got, _ := h.deals.GetByID(ctx, d.ID)
	assert.Equal(t, models.DealStatusVerified, got.Status)
	require.NotNil(t, got.Resolution)

	delete(h.ledger.FailTransfersTo, ownerWallet)
	err = h.svc.TryWithDeal(ctx, d.ID, func(cur *models.Deal) error {
		_, err := h.svc.Complete(ctx, cur)
		return err
	})
	require.NoError(t, err)
	got, _ = h.deals.GetByID(ctx, d.ID)
	assert.Equal(t, models.DealStatusCompleted, got.Status)
}
