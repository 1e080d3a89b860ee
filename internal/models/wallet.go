package models

import (
	"time"

	"github.com/google/uuid"
)

// UserWallet is a verified payout address on a user's profile.
type UserWallet struct {
	ID              uuid.UUID `json:"id"`
	UserID          uuid.UUID `json:"user_id"`
	Address         string    `json:"address"`          // raw: 0:<hex>
	AddressFriendly string    `json:"address_friendly"` // EQ.../UQ...
	Verified        bool      `json:"verified"`
	IsActive        bool      `json:"is_active"`
	ConnectedAt     time.Time `json:"connected_at"`
}

// PayoutAddress prefers the user-friendly form.
func (w *UserWallet) PayoutAddress() string {
	if w.AddressFriendly != "" {
		return w.AddressFriendly
	}
	return w.Address
}
