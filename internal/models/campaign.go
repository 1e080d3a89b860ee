package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Campaign is an advertiser's ad request that channels apply to.
type Campaign struct {
	ID               uuid.UUID       `json:"id"`
	AdvertiserUserID uuid.UUID       `json:"advertiser_user_id"`
	Title            string          `json:"title"`
	Brief            *Brief          `json:"brief,omitempty"`
	Budget           decimal.Decimal `json:"budget_ton"`
	Status           string          `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

type CampaignApplication struct {
	ID            uuid.UUID        `json:"id"`
	CampaignID    uuid.UUID        `json:"campaign_id"`
	ChannelID     uuid.UUID        `json:"channel_id"`
	ProposedPrice *decimal.Decimal `json:"proposed_price_ton,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}
