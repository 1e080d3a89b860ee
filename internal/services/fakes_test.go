package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ads-marketplace/dealflow/internal/config"
	"github.com/ads-marketplace/dealflow/internal/events"
	"github.com/ads-marketplace/dealflow/internal/lock"
	"github.com/ads-marketplace/dealflow/internal/models"
	"github.com/ads-marketplace/dealflow/internal/repositories"
	"github.com/ads-marketplace/dealflow/internal/sealed"
	"github.com/ads-marketplace/dealflow/internal/testutil"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []PublishContent
	publishFn func(content PublishContent) (*models.PostRef, error)
	verify    *VerifyResult
	verifyErr error
	isAdmin   bool
	adminErr  error
}

func (p *fakePublisher) Publish(_ context.Context, _ *models.Channel, content PublishContent) (*models.PostRef, error) {
	p.mu.Lock()
	p.published = append(p.published, content)
	p.mu.Unlock()
	if p.publishFn != nil {
		return p.publishFn(content)
	}
	return &models.PostRef{ChatID: -100, MessageID: 1}, nil
}

func (p *fakePublisher) Verify(context.Context, *models.Channel, models.PostRef, models.Creative) (*VerifyResult, error) {
	if p.verifyErr != nil {
		return nil, p.verifyErr
	}
	if p.verify == nil {
		return &VerifyResult{Exists: true, Unmodified: true, Strategy: StrategyDefault}, nil
	}
	return p.verify, nil
}

func (p *fakePublisher) IsStillAdmin(context.Context, *models.Channel, int64) (bool, error) {
	return p.isAdmin, p.adminErr
}

type sentNotification struct {
	to   uuid.UUID
	text string
}

type fakeNotifier struct {
	mu       sync.Mutex
	sent     []sentNotification
	arbiters []string
}

func (n *fakeNotifier) Notify(_ context.Context, userID uuid.UUID, msg Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{to: userID, text: msg.Text})
}

func (n *fakeNotifier) NotifyArbiters(_ context.Context, msg Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.arbiters = append(n.arbiters, msg.Text)
}

func (n *fakeNotifier) to(userID uuid.UUID) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, s := range n.sent {
		if s.to == userID {
			out = append(out, s.text)
		}
	}
	return out
}

func (n *fakeNotifier) reset() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent, n.arbiters = nil, nil
}

type harness struct {
	cfg         *config.Config
	ledger      *testutil.Ledger
	deals       *repositories.MemoryDealStore
	escrowStore *repositories.MemoryEscrowStore
	audit       *repositories.MemoryAuditStore
	bus         *events.MemoryBus
	channels    *testutil.Channels
	campaigns   *testutil.Campaigns
	users       *testutil.Users
	wallets     *testutil.Wallets
	withdraws   *testutil.Withdraws
	publisher   *fakePublisher
	notifier    *fakeNotifier

	escrow   *EscrowService
	svc      *DealService
	disputes *DisputeService

	channel    *models.Channel
	owner      models.Actor
	advertiser models.Actor
	arbiter    models.Actor
}

const (
	ownerWallet    = "EQowner"
	platformWallet = "EQplatform"
	payerWallet    = "EQpayer"
)

func newHarness(t *testing.T) *harness {
	t.Helper()

	sealer, err := sealed.Generate()
	require.NoError(t, err)

	h := &harness{
		cfg: &config.Config{
			PlatformFeeBPS:           1000,
			FundingToleranceBPS:      9900,
			MinDealAmount:            decimal.RequireFromString("0.1"),
			DefaultPostDurationHours: 24,
			TONGasReserve:            decimal.Zero,
			PlatformFeeAddress:       platformWallet,
			DealLockTTL:              time.Minute,
			DealTimeouts: map[string]time.Duration{
				models.DealStatusPendingAcceptance: time.Hour,
				models.DealStatusPendingPayment:    time.Hour,
				models.DealStatusCreativePending:   time.Hour,
				models.DealStatusCreativeSubmitted: time.Hour,
				models.DealStatusCreativeRevision:  time.Hour,
				models.DealStatusCreativeApproved:  time.Hour,
			},
		},
		ledger:      testutil.NewLedger(),
		deals:       repositories.NewMemoryDealStore(),
		escrowStore: repositories.NewMemoryEscrowStore(),
		audit:       repositories.NewMemoryAuditStore(),
		bus:         events.NewMemoryBus(),
		channels:    testutil.NewChannels(),
		campaigns:   testutil.NewCampaigns(),
		users:       testutil.NewUsers(),
		wallets:     testutil.NewWallets(),
		withdraws:   testutil.NewWithdraws(),
		publisher:   &fakePublisher{isAdmin: true},
		notifier:    &fakeNotifier{},
	}

	locker := lock.NewMemoryLocker()
	log := zap.NewNop()
	h.escrow = NewEscrowService(h.escrowStore, h.ledger, sealer, locker, h.audit, h.cfg, log)
	h.escrow.sleep = func(context.Context, time.Duration) error { return nil }
	h.svc = NewDealService(h.deals, h.escrow, h.channels, h.campaigns, h.users, h.wallets, h.withdraws,
		h.publisher, h.notifier, h.audit, h.bus, locker, h.cfg, log)
	h.disputes = NewDisputeService(h.svc, log)

	ownerID := h.users.Add(100)
	advertiserID := h.users.Add(200)
	arbiterID := h.users.Add(300)
	h.owner = models.Actor{UserID: ownerID, TelegramID: 100}
	h.advertiser = models.Actor{UserID: advertiserID, TelegramID: 200}
	h.arbiter = models.Actor{UserID: arbiterID, TelegramID: 300, IsArbiter: true}

	chatID := int64(-100123)
	h.channel = &models.Channel{
		ID:             uuid.New(),
		TelegramChatID: &chatID,
		Username:       "adchan",
		OwnerUserID:    ownerID,
		BotStatus:      "active",
		UserbotStatus:  "none",
	}
	h.channels.ByID[h.channel.ID] = h.channel
	price := decimal.NewFromInt(10)
	h.channels.Listings[h.channel.ID] = &models.ChannelListing{
		ID:             uuid.New(),
		ChannelID:      h.channel.ID,
		Status:         "active",
		PricePost:      &price,
		FormatsEnabled: []string{models.AdFormatPost},
		HoldHoursPost:  12,
	}
	h.wallets.Set(ownerID, ownerWallet)
	return h
}

func (h *harness) createDeal(t *testing.T) *models.Deal {
	t.Helper()
	d, err := h.svc.CreateDeal(context.Background(), h.advertiser, CreateDealInput{
		ChannelID:  h.channel.ID,
		SourceType: models.DealSourceListing,
		Format:     models.AdFormatPost,
	})
	require.NoError(t, err)
	return d
}

func (h *harness) escrowAddress(t *testing.T, d *models.Deal) string {
	t.Helper()
	acc, err := h.escrowStore.GetByDealID(context.Background(), d.ID)
	require.NoError(t, err)
	return acc.Address
}

// fundedDeal returns a deal in creative_pending with the full amount in escrow.
func (h *harness) fundedDeal(t *testing.T) *models.Deal {
	t.Helper()
	ctx := context.Background()
	d := h.createDeal(t)
	d, err := h.svc.AcceptDeal(ctx, h.owner, d.ID)
	require.NoError(t, err)

	h.ledger.Deposit(h.escrowAddress(t, d), payerWallet, d.Amount)
	d, funding, err := h.svc.CheckPaymentNow(ctx, h.advertiser, d.ID)
	require.NoError(t, err)
	require.True(t, funding.Funded)
	require.Equal(t, models.DealStatusCreativePending, d.Status)
	return d
}

// scheduledDeal drives a funded deal through the creative flow to scheduled.
func (h *harness) scheduledDeal(t *testing.T) *models.Deal {
	t.Helper()
	ctx := context.Background()
	d := h.fundedDeal(t)
	d, err := h.svc.SubmitCreative(ctx, h.owner, d.ID, models.Creative{Text: "Buy our product"})
	require.NoError(t, err)
	d, err = h.svc.ApproveCreative(ctx, h.advertiser, d.ID)
	require.NoError(t, err)
	d, err = h.svc.ScheduleDeal(ctx, h.owner, d.ID, time.Now().Add(time.Hour))
	require.NoError(t, err)
	return d
}

func (h *harness) disputedDeal(t *testing.T) *models.Deal {
	t.Helper()
	d := h.scheduledDeal(t)
	d, err := h.svc.OpenDispute(context.Background(), h.advertiser, d.ID, "post never appeared")
	require.NoError(t, err)
	return d
}

func strPtr(s string) *string { return &s }
