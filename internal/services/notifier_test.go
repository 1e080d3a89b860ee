package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ads-marketplace/dealflow/internal/events"
	"github.com/ads-marketplace/dealflow/internal/models"
	"github.com/ads-marketplace/dealflow/internal/testutil"
)

func TestBotNotifierPublishesToBotStream(t *testing.T) {
	bus := events.NewMemoryBus()
	users := testutil.NewUsers()
	userID := users.Add(555)
	n := NewBotNotifier(bus, users, []int64{900, 901}, zap.NewNop())
	ctx := context.Background()
	dealID := uuid.New()

	n.Notify(ctx, userID, Notification{DealID: dealID, Text: "hello", Actions: openDealAction(dealID)})
	n.Notify(ctx, uuid.New(), Notification{DealID: dealID, Text: "lost"})
	n.NotifyArbiters(ctx, Notification{DealID: dealID, Text: "review"})

	sent := bus.Sent(events.StreamBot)
	require.Len(t, sent, 3)
	assert.Equal(t, events.EventBotNotification, sent[0].Type)
	assert.Equal(t, int64(555), sent[0].Payload["telegram_user_id"])
	assert.Equal(t, "hello", sent[0].Payload["text"])
	assert.Equal(t, dealID.String(), sent[0].Payload["deal_id"])
	actions, ok := sent[0].Payload["actions"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, actions, 1)
	assert.Equal(t, "deal:"+dealID.String(), actions[0]["data"])

	assert.Equal(t, int64(900), sent[1].Payload["telegram_user_id"])
	assert.Equal(t, int64(901), sent[2].Payload["telegram_user_id"])
}

func TestStatusNotification(t *testing.T) {
	owner, advertiser := uuid.New(), uuid.New()
	feedback := "shorter"
	reason := "DELETED"

	tests := []struct {
		name      string
		deal      models.Deal
		recipient uuid.UUID
		reason    *string
		refunded  bool
		contains  string
		excludes  string
	}{
		{
			name:      "awaiting payment",
			deal:      models.Deal{Status: models.DealStatusPendingPayment, Amount: decimal.RequireFromString("12.5")},
			recipient: advertiser,
			contains:  "Awaiting payment of 12.5 TON",
		},
		{
			name: "revision feedback",
			deal: models.Deal{Status: models.DealStatusCreativeRevision, CreativeHistory: []models.CreativeSubmission{
				{Version: 1, Status: models.CreativeStatusRejected, Feedback: &feedback},
			}},
			recipient: owner,
			contains:  "Feedback: shorter",
		},
		{
			name:      "refund for advertiser",
			deal:      models.Deal{Status: models.DealStatusRefunded},
			recipient: advertiser,
			contains:  "refunded to your wallet",
		},
		{
			name:      "refund for owner",
			deal:      models.Deal{Status: models.DealStatusRefunded},
			recipient: owner,
			contains:  "was cancelled",
			excludes:  "refunded",
		},
		{
			name:      "payout for owner",
			deal:      models.Deal{Status: models.DealStatusCompleted},
			recipient: owner,
			contains:  "Payout sent",
		},
		{
			name:      "dispute reason not repeated",
			deal:      models.Deal{Status: models.DealStatusDisputed, DisputeReason: &reason},
			recipient: owner,
			reason:    &reason,
			contains:  "disputed: DELETED. An arbiter",
			excludes:  "Reason:",
		},
		{
			name:      "refunded cancellation for advertiser",
			deal:      models.Deal{Status: models.DealStatusCancelled},
			recipient: advertiser,
			refunded:  true,
			contains:  "refunded to your wallet",
		},
		{
			name:      "plain cancellation",
			deal:      models.Deal{Status: models.DealStatusCancelled},
			recipient: advertiser,
			contains:  "was cancelled.",
			excludes:  "refunded",
		},
		{
			name:      "cancel reason appended",
			deal:      models.Deal{Status: models.DealStatusCancelled},
			recipient: advertiser,
			reason:    strPtr("no slots"),
			contains:  "Reason: no slots",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := tt.deal
			d.ID = uuid.New()
			d.ChannelOwnerID, d.AdvertiserID = owner, advertiser
			n := statusNotification(&d, tt.recipient, tt.reason, tt.refunded)
			assert.Contains(t, n.Text, tt.contains)
			if tt.excludes != "" {
				assert.NotContains(t, n.Text, tt.excludes)
			}
			assert.Equal(t, d.ID, n.DealID)
		})
	}
}
