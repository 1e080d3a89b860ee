package models

import (
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	EscrowStatusActive        = "active"
	EscrowStatusPayoutPending = "payout_pending"
	EscrowStatusPayoutSent    = "payout_sent"
	EscrowStatusSpent         = "spent"
)

// PayoutMemo is the comment attached to a deal's payout transfer. It is how a
// payout in doubt is found again on the ledger.
func PayoutMemo(dealID uuid.UUID) string {
	return "deal " + dealID.String() + " payout"
}

// EscrowAccount is a platform-controlled ledger wallet bound to one deal
// (or one user). SealedSecret never leaves the escrow service.
type EscrowAccount struct {
	ID            uuid.UUID        `json:"id"`
	DealID        *uuid.UUID       `json:"deal_id,omitempty"`
	OwnerUserID   *uuid.UUID       `json:"owner_user_id,omitempty"`
	Address       string           `json:"address"`
	SealedSecret  []byte           `json:"-"`
	Status        string           `json:"status"`
	BalanceCached *decimal.Decimal `json:"balance_cached,omitempty"`
	PayoutMemo    *string          `json:"payout_memo,omitempty"`
	PayoutStarted *time.Time       `json:"payout_started_at,omitempty"`
	PayoutTxRef   *string          `json:"payout_tx_ref,omitempty"`
	DrainTxRef    *string          `json:"drain_tx_ref,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	SpentAt       *time.Time       `json:"spent_at,omitempty"`
}

func (a *EscrowAccount) IsSpent() bool {
	return a.Status == EscrowStatusSpent
}

func (a *EscrowAccount) Clone() *EscrowAccount {
	if a == nil {
		return nil
	}
	c := *a
	c.SealedSecret = append([]byte(nil), a.SealedSecret...)
	if a.DealID != nil {
		id := *a.DealID
		c.DealID = &id
	}
	if a.OwnerUserID != nil {
		id := *a.OwnerUserID
		c.OwnerUserID = &id
	}
	if a.BalanceCached != nil {
		b := *a.BalanceCached
		c.BalanceCached = &b
	}
	c.PayoutMemo = cloneString(a.PayoutMemo)
	c.PayoutStarted = cloneTime(a.PayoutStarted)
	c.PayoutTxRef = cloneString(a.PayoutTxRef)
	c.DrainTxRef = cloneString(a.DrainTxRef)
	c.SpentAt = cloneTime(a.SpentAt)
	return &c
}

// TransferAmount is either an exact amount or the whole account balance.
type TransferAmount struct {
	All   bool
	Exact decimal.Decimal
}

func TransferAll() TransferAmount { return TransferAmount{All: true} }

func TransferExact(amount decimal.Decimal) TransferAmount {
	return TransferAmount{Exact: amount}
}

// IncomingTransfer is an inbound ledger transaction observed on an escrow address.
type IncomingTransfer struct {
	TxRef       string          `json:"tx_ref"`
	FromAddress string          `json:"from_address"`
	Amount      decimal.Decimal `json:"amount"`
	Comment     string          `json:"comment,omitempty"`
	At          time.Time       `json:"at"`
}

// OutgoingTransfer is a value-carrying message sent from an escrow address.
type OutgoingTransfer struct {
	TxRef     string          `json:"tx_ref"`
	ToAddress string          `json:"to_address"`
	Amount    decimal.Decimal `json:"amount"`
	Comment   string          `json:"comment,omitempty"`
	At        time.Time       `json:"at"`
}

type TransferReceipt struct {
	TxRef string `json:"tx_ref"`
}

// NanoPerTON is the number of nanotons in one TON.
var NanoPerTON = decimal.New(1, 9)

// ToNano converts a TON amount into nanotons, truncating sub-nano digits.
func ToNano(amount decimal.Decimal) *big.Int {
	return amount.Mul(NanoPerTON).Truncate(0).BigInt()
}

// FromNano converts nanotons into a TON amount.
func FromNano(nano *big.Int) decimal.Decimal {
	if nano == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(nano, -9)
}

// LedgerAccount is a freshly generated ledger wallet. Secret is plaintext
// signing material and must be sealed before it is stored.
type LedgerAccount struct {
	Address string
	Secret  []byte
}
