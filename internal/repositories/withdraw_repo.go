package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ads-marketplace/dealflow/internal/models"
)

type WithdrawRepo struct {
	pool *pgxpool.Pool
}

func NewWithdrawRepo(pool *pgxpool.Pool) *WithdrawRepo {
	return &WithdrawRepo{pool: pool}
}

func (r *WithdrawRepo) GetByChannel(ctx context.Context, channelID uuid.UUID) (*models.WithdrawWallet, error) {
	var w models.WithdrawWallet
	err := r.pool.QueryRow(ctx, `
		SELECT id, channel_id, owner_user_id, wallet_address, updated_at
		FROM withdraw_wallets WHERE channel_id = $1
	`, channelID).Scan(&w.ID, &w.ChannelID, &w.OwnerUserID, &w.WalletAddress, &w.UpdatedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &w, nil
}
