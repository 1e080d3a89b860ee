package repositories

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ads-marketplace/dealflow/internal/models"
)

type CampaignRepo struct {
	pool *pgxpool.Pool
}

func NewCampaignRepo(pool *pgxpool.Pool) *CampaignRepo {
	return &CampaignRepo{pool: pool}
}

func (r *CampaignRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error) {
	var (
		c      models.Campaign
		budget string
		brief  []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, advertiser_user_id, title, brief, budget_ton::text, status, created_at, updated_at
		FROM campaigns WHERE id = $1
	`, id).Scan(&c.ID, &c.AdvertiserUserID, &c.Title, &brief, &budget, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	if c.Budget, err = decimal.NewFromString(budget); err != nil {
		return nil, fmt.Errorf("parse budget: %w", err)
	}
	if len(brief) > 0 {
		c.Brief = &models.Brief{}
		if err := json.Unmarshal(brief, c.Brief); err != nil {
			return nil, fmt.Errorf("unmarshal brief: %w", err)
		}
	}
	return &c, nil
}

// GetApplication returns the channel's application to the campaign, ErrNotFound if it never applied.
func (r *CampaignRepo) GetApplication(ctx context.Context, campaignID, channelID uuid.UUID) (*models.CampaignApplication, error) {
	var (
		a     models.CampaignApplication
		price *string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, campaign_id, channel_id, proposed_price_ton::text, created_at
		FROM campaign_applications WHERE campaign_id = $1 AND channel_id = $2
	`, campaignID, channelID).Scan(&a.ID, &a.CampaignID, &a.ChannelID, &price, &a.CreatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	if price != nil {
		v, err := decimal.NewFromString(*price)
		if err != nil {
			return nil, fmt.Errorf("parse proposed price: %w", err)
		}
		a.ProposedPrice = &v
	}
	return &a, nil
}
