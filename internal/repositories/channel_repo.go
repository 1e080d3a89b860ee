package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ads-marketplace/dealflow/internal/models"
)

// ChannelRepo reads channels and listings. Channel registration and listing
// edits live in the catalog service.
type ChannelRepo struct {
	pool *pgxpool.Pool
}

func NewChannelRepo(pool *pgxpool.Pool) *ChannelRepo {
	return &ChannelRepo{pool: pool}
}

func (r *ChannelRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Channel, error) {
	var ch models.Channel
	err := r.pool.QueryRow(ctx, `
		SELECT c.id, c.telegram_chat_id, c.username, c.title, cm.user_id, c.bot_status, c.userbot_status,
		       c.created_at, c.updated_at
		FROM channels c
		JOIN channel_members cm ON cm.channel_id = c.id AND cm.role = 'owner'
		WHERE c.id = $1
	`, id).Scan(&ch.ID, &ch.TelegramChatID, &ch.Username, &ch.Title, &ch.OwnerUserID,
		&ch.BotStatus, &ch.UserbotStatus, &ch.CreatedAt, &ch.UpdatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &ch, nil
}

func (r *ChannelRepo) GetListing(ctx context.Context, channelID uuid.UUID) (*models.ChannelListing, error) {
	var (
		l                   models.ChannelListing
		post, repost, story *string
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, channel_id, status,
		       price_post_ton::text, price_repost_ton::text, price_story_ton::text, formats_enabled,
		       hold_hours_post, hold_hours_repost, hold_hours_story,
		       created_at, updated_at
		FROM channel_listings WHERE channel_id = $1
	`, channelID).Scan(
		&l.ID, &l.ChannelID, &l.Status,
		&post, &repost, &story, &l.FormatsEnabled,
		&l.HoldHoursPost, &l.HoldHoursRepost, &l.HoldHoursStory,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, mapNoRows(err)
	}
	for _, p := range []struct {
		src *string
		dst **decimal.Decimal
	}{{post, &l.PricePost}, {repost, &l.PriceRepost}, {story, &l.PriceStory}} {
		if p.src == nil {
			continue
		}
		v, err := decimal.NewFromString(*p.src)
		if err != nil {
			return nil, fmt.Errorf("parse listing price: %w", err)
		}
		*p.dst = &v
	}
	return &l, nil
}
