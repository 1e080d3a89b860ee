package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ads-marketplace/dealflow/internal/models"
	"github.com/ads-marketplace/dealflow/internal/repositories"
)

// DealStore is implemented by repositories.DealRepo and MemoryDealStore.
// Update and AppendVerificationCheck are compare-and-set on status.
type DealStore interface {
	Create(ctx context.Context, d *models.Deal) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Deal, error)
	Update(ctx context.Context, d *models.Deal, expectedStatus string) error
	AppendVerificationCheck(ctx context.Context, id uuid.UUID, expectedStatus string, check models.VerificationCheck) error
	ListByStatus(ctx context.Context, status string, limit int) ([]*models.Deal, error)
	ListDueForPublish(ctx context.Context, now time.Time, limit int) ([]*models.Deal, error)
	ListTimedOut(ctx context.Context, statuses []string, now time.Time, limit int) ([]*models.Deal, error)
	ListForUser(ctx context.Context, f repositories.DealFilter) ([]*models.Deal, error)
}

type EscrowStore interface {
	Create(ctx context.Context, a *models.EscrowAccount) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.EscrowAccount, error)
	GetByDealID(ctx context.Context, dealID uuid.UUID) (*models.EscrowAccount, error)
	MarkPayoutPending(ctx context.Context, id uuid.UUID, memo string, at time.Time) error
	MarkPayoutSent(ctx context.Context, id uuid.UUID, txRef string) error
	MarkSpent(ctx context.Context, id uuid.UUID, drainTxRef *string) error
	UpdateBalanceCached(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error
}

// Ledger is the value-transfer network holding escrow funds (ton.Ledger in production).
type Ledger interface {
	CreateAccount(ctx context.Context) (*models.LedgerAccount, error)
	Balance(ctx context.Context, addr string) (decimal.Decimal, error)
	IncomingSince(ctx context.Context, addr string, since time.Time) ([]models.IncomingTransfer, error)
	OutgoingSince(ctx context.Context, addr string, since time.Time) ([]models.OutgoingTransfer, error)
	Transfer(ctx context.Context, secret []byte, to string, amount models.TransferAmount, memo string) (*models.TransferReceipt, error)
}

// Publisher posts to channels and checks posts afterwards.
type Publisher interface {
	Publish(ctx context.Context, ch *models.Channel, content PublishContent) (*models.PostRef, error)
	Verify(ctx context.Context, ch *models.Channel, ref models.PostRef, original models.Creative) (*VerifyResult, error)
	IsStillAdmin(ctx context.Context, ch *models.Channel, telegramUserID int64) (bool, error)
}

// Notifier delivers messages to users. Delivery is fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, n Notification)
	NotifyArbiters(ctx context.Context, n Notification)
}

type AuditTrail interface {
	Log(ctx context.Context, entry models.AuditLog) error
	GetByEntity(ctx context.Context, entityType string, entityID uuid.UUID, limit, offset int) ([]models.AuditLog, error)
}

type ChannelReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Channel, error)
	GetListing(ctx context.Context, channelID uuid.UUID) (*models.ChannelListing, error)
}

type CampaignReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Campaign, error)
	GetApplication(ctx context.Context, campaignID, channelID uuid.UUID) (*models.CampaignApplication, error)
}

type UserReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
}

type WalletReader interface {
	GetActiveWallet(ctx context.Context, userID uuid.UUID) (*models.UserWallet, error)
}

type WithdrawReader interface {
	GetByChannel(ctx context.Context, channelID uuid.UUID) (*models.WithdrawWallet, error)
}
