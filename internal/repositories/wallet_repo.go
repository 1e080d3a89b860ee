package repositories

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ads-marketplace/dealflow/internal/models"
)

type WalletRepo struct {
	pool *pgxpool.Pool
}

func NewWalletRepo(pool *pgxpool.Pool) *WalletRepo {
	return &WalletRepo{pool: pool}
}

// GetActiveWallet returns the user's most recently connected verified wallet.
func (r *WalletRepo) GetActiveWallet(ctx context.Context, userID uuid.UUID) (*models.UserWallet, error) {
	var w models.UserWallet
	err := r.pool.QueryRow(ctx, `
		SELECT id, user_id, address, address_friendly, verified, is_active, connected_at
		FROM user_wallets
		WHERE user_id = $1 AND is_active = true AND verified = true
		ORDER BY connected_at DESC LIMIT 1
	`, userID).Scan(&w.ID, &w.UserID, &w.Address, &w.AddressFriendly, &w.Verified, &w.IsActive, &w.ConnectedAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	return &w, nil
}
