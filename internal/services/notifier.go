package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ads-marketplace/dealflow/internal/events"
	"github.com/ads-marketplace/dealflow/internal/models"
)

// NotificationAction is an inline button under a notification.
type NotificationAction struct {
	Text string `json:"text"`
	URL  string `json:"url,omitempty"`
	Data string `json:"data,omitempty"`
}

type Notification struct {
	DealID  uuid.UUID            `json:"deal_id"`
	Text    string               `json:"text"`
	Actions []NotificationAction `json:"actions,omitempty"`
}

// BotNotifier pushes notifications onto the events:bot stream; the
// bot-notify-bridge forwards them to the bot service.
type BotNotifier struct {
	publisher events.Publisher
	users     UserReader
	arbiters  []int64
	log       *zap.Logger
}

func NewBotNotifier(publisher events.Publisher, users UserReader, arbiterTelegramIDs []int64, log *zap.Logger) *BotNotifier {
	return &BotNotifier{publisher: publisher, users: users, arbiters: arbiterTelegramIDs, log: log}
}

func (n *BotNotifier) Notify(ctx context.Context, userID uuid.UUID, msg Notification) {
	u, err := n.users.GetByID(ctx, userID)
	if err != nil {
		n.log.Warn("notify: user lookup failed", zap.String("user_id", userID.String()), zap.Error(err))
		return
	}
	n.send(ctx, u.TelegramUserID, msg)
}

func (n *BotNotifier) NotifyArbiters(ctx context.Context, msg Notification) {
	for _, tgID := range n.arbiters {
		n.send(ctx, tgID, msg)
	}
}

func (n *BotNotifier) send(ctx context.Context, telegramUserID int64, msg Notification) {
	actions := make([]map[string]any, 0, len(msg.Actions))
	for _, a := range msg.Actions {
		actions = append(actions, map[string]any{"text": a.Text, "url": a.URL, "data": a.Data})
	}
	err := n.publisher.Publish(ctx, events.StreamBot, events.Event{
		Type: events.EventBotNotification,
		Payload: map[string]any{
			"telegram_user_id": telegramUserID,
			"deal_id":          msg.DealID.String(),
			"text":             msg.Text,
			"actions":          actions,
		},
	})
	if err != nil {
		n.log.Warn("notify: publish failed", zap.Int64("telegram_user_id", telegramUserID), zap.Error(err))
	}
}

func openDealAction(dealID uuid.UUID) []NotificationAction {
	return []NotificationAction{{Text: "Open deal", Data: "deal:" + dealID.String()}}
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}

// statusNotification describes the deal's new status for one recipient.
// refunded marks a cancellation that sent the escrow back to the advertiser.
func statusNotification(d *models.Deal, recipient uuid.UUID, reason *string, refunded bool) Notification {
	id := shortID(d.ID)
	var text string
	switch d.Status {
	case models.DealStatusPendingPayment:
		text = fmt.Sprintf("Deal %s accepted. Awaiting payment of %s TON.", id, d.Amount.String())
	case models.DealStatusCreativePending:
		text = fmt.Sprintf("Payment for deal %s received. The channel owner can now submit the creative.", id)
	case models.DealStatusCreativeSubmitted:
		text = fmt.Sprintf("A creative for deal %s is waiting for your review.", id)
	case models.DealStatusCreativeApproved:
		text = fmt.Sprintf("Creative for deal %s approved. Pick a publication time.", id)
	case models.DealStatusCreativeRevision:
		text = fmt.Sprintf("Changes requested for deal %s.", id)
		if s := d.LatestSubmission(); s != nil && s.Feedback != nil {
			text += " Feedback: " + *s.Feedback
		}
	case models.DealStatusScheduled:
		text = fmt.Sprintf("Deal %s scheduled", id)
		if d.ScheduledTime != nil {
			text += " for " + d.ScheduledTime.UTC().Format("2006-01-02 15:04 UTC")
		}
		text += "."
	case models.DealStatusPosted:
		text = fmt.Sprintf("Ad for deal %s is live.", id)
		if d.PostRef != nil && d.PostRef.URL != "" {
			text += " " + d.PostRef.URL
		}
	case models.DealStatusVerified:
		text = fmt.Sprintf("Delivery for deal %s verified. Funds are being released.", id)
	case models.DealStatusCompleted:
		text = fmt.Sprintf("Deal %s completed.", id)
		if recipient == d.ChannelOwnerID {
			text += " Payout sent to your wallet."
		}
	case models.DealStatusDisputed:
		text = fmt.Sprintf("Deal %s is disputed", id)
		if d.DisputeReason != nil {
			text += ": " + *d.DisputeReason
		}
		text += ". An arbiter will review it."
	case models.DealStatusCancelled, models.DealStatusRefunded:
		text = fmt.Sprintf("Deal %s was cancelled.", id)
		if (refunded || d.Status == models.DealStatusRefunded) && recipient == d.AdvertiserID {
			text = fmt.Sprintf("Deal %s was cancelled and the escrowed funds were refunded to your wallet.", id)
		}
	default:
		text = fmt.Sprintf("Deal %s is now %s.", id, d.Status)
	}
	if reason != nil && *reason != "" && d.Status != models.DealStatusDisputed {
		text += " Reason: " + *reason
	}
	return Notification{DealID: d.ID, Text: text, Actions: openDealAction(d.ID)}
}
