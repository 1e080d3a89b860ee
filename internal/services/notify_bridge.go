package services

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/ads-marketplace/dealflow/internal/events"
)

// BotNotification is the events:bot payload written by BotNotifier.
type BotNotification struct {
	TelegramUserID int64                `json:"telegram_user_id"`
	DealID         string               `json:"deal_id"`
	Text           string               `json:"text"`
	Actions        []NotificationAction `json:"actions"`
}

// ParseBotNotification decodes an events:bot payload. Payloads that crossed
// redis carry JSON numbers as float64, so the map is re-encoded first.
func ParseBotNotification(ev events.Event) (*BotNotification, error) {
	raw, err := json.Marshal(ev.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	var n BotNotification
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if n.TelegramUserID == 0 || n.Text == "" {
		return nil, fmt.Errorf("notification without recipient or text")
	}
	return &n, nil
}

type notificationSender interface {
	SendNotification(ctx context.Context, telegramUserID int64, text string, buttons []NotificationAction) error
}

// NotifyBridge forwards queued notifications to the bot service.
type NotifyBridge struct {
	bot notificationSender
	log *zap.Logger
}

func NewNotifyBridge(bot *BotClient, log *zap.Logger) *NotifyBridge {
	return &NotifyBridge{bot: bot, log: log}
}

// Start subscribes to events:bot. Delivery failures are logged and dropped.
func (b *NotifyBridge) Start(ctx context.Context, sub events.Subscriber) error {
	return sub.Subscribe(ctx, events.StreamBot, func(ev events.Event) {
		b.Forward(ctx, ev)
	})
}

func (b *NotifyBridge) Forward(ctx context.Context, ev events.Event) {
	if ev.Type != events.EventBotNotification {
		return
	}
	n, err := ParseBotNotification(ev)
	if err != nil {
		b.log.Warn("dropping bot notification", zap.Error(err))
		return
	}
	if err := b.bot.SendNotification(ctx, n.TelegramUserID, n.Text, n.Actions); err != nil {
		return // logged by the client
	}
	b.log.Debug("notification forwarded", zap.Int64("telegram_user_id", n.TelegramUserID), zap.String("deal_id", n.DealID))
}
