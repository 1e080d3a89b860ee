package models

import (
	"time"

	"github.com/google/uuid"
)

// WithdrawWallet is the per-channel address that receives deal payouts.
// It takes precedence over the owner's profile wallet.
type WithdrawWallet struct {
	ID            uuid.UUID `json:"id"`
	ChannelID     uuid.UUID `json:"channel_id"`
	OwnerUserID   uuid.UUID `json:"owner_user_id"`
	WalletAddress string    `json:"wallet_address"`
	UpdatedAt     time.Time `json:"updated_at"`
}
