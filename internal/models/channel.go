package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Channel struct {
	ID             uuid.UUID `json:"id"`
	TelegramChatID *int64    `json:"telegram_chat_id,omitempty"`
	Username       string    `json:"username"`
	Title          *string   `json:"title,omitempty"`
	OwnerUserID    uuid.UUID `json:"owner_user_id"`
	BotStatus      string    `json:"bot_status"`
	UserbotStatus  string    `json:"userbot_status"` // none/pending/active/failed/removed
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// HasUserbot reports whether the userbot can read this channel directly.
func (c *Channel) HasUserbot() bool {
	return c.UserbotStatus == "active"
}

// Ad format types
const (
	AdFormatPost   = "post"
	AdFormatRepost = "repost"
	AdFormatStory  = "story"
)

var AllAdFormats = []string{AdFormatPost, AdFormatRepost, AdFormatStory}

func IsValidAdFormat(f string) bool {
	for _, af := range AllAdFormats {
		if af == f {
			return true
		}
	}
	return false
}

type ChannelListing struct {
	ID             uuid.UUID        `json:"id"`
	ChannelID      uuid.UUID        `json:"channel_id"`
	Status         string           `json:"status"` // draft/active/paused
	PricePost      *decimal.Decimal `json:"price_post_ton,omitempty"`
	PriceRepost    *decimal.Decimal `json:"price_repost_ton,omitempty"`
	PriceStory     *decimal.Decimal `json:"price_story_ton,omitempty"`
	FormatsEnabled []string         `json:"formats_enabled"`
	// Hold period по формату (часы)
	HoldHoursPost   int       `json:"hold_hours_post"`
	HoldHoursRepost int       `json:"hold_hours_repost"`
	HoldHoursStory  int       `json:"hold_hours_story"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// PriceForFormat возвращает цену для указанного формата.
func (l *ChannelListing) PriceForFormat(format string) *decimal.Decimal {
	switch format {
	case AdFormatPost:
		return l.PricePost
	case AdFormatRepost:
		return l.PriceRepost
	case AdFormatStory:
		return l.PriceStory
	default:
		return nil
	}
}

// HoldHoursForFormat returns the contracted post duration for a format, 0 if unset.
func (l *ChannelListing) HoldHoursForFormat(format string) int {
	switch format {
	case AdFormatPost:
		return l.HoldHoursPost
	case AdFormatRepost:
		return l.HoldHoursRepost
	case AdFormatStory:
		return l.HoldHoursStory
	default:
		return 0
	}
}

func (l *ChannelListing) IsFormatEnabled(format string) bool {
	for _, f := range l.FormatsEnabled {
		if f == format {
			return true
		}
	}
	return false
}
