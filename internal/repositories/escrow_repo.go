package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ads-marketplace/dealflow/internal/models"
)

const escrowColumns = `id, deal_id, owner_user_id, address, sealed_secret, status,
	balance_cached::text, payout_memo, payout_started_at, payout_tx_ref, drain_tx_ref, created_at, spent_at`

type EscrowRepo struct {
	pool *pgxpool.Pool
}

func NewEscrowRepo(pool *pgxpool.Pool) *EscrowRepo {
	return &EscrowRepo{pool: pool}
}

// Create inserts an account. deal_id is unique, so a second account for the
// same deal fails with ErrAlreadyExists.
func (r *EscrowRepo) Create(ctx context.Context, a *models.EscrowAccount) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO escrow_accounts (deal_id, owner_user_id, address, sealed_secret, status)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, a.DealID, a.OwnerUserID, a.Address, a.SealedSecret, a.Status).Scan(&a.ID, &a.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrAlreadyExists
	}
	return err
}

func (r *EscrowRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.EscrowAccount, error) {
	return r.getOne(ctx, `SELECT `+escrowColumns+` FROM escrow_accounts WHERE id = $1`, id)
}

func (r *EscrowRepo) GetByDealID(ctx context.Context, dealID uuid.UUID) (*models.EscrowAccount, error) {
	return r.getOne(ctx, `SELECT `+escrowColumns+` FROM escrow_accounts WHERE deal_id = $1`, dealID)
}

// MarkPayoutPending records that a payout is about to be sent. A repeated
// call restarts the attempt with a new timestamp.
func (r *EscrowRepo) MarkPayoutPending(ctx context.Context, id uuid.UUID, memo string, at time.Time) error {
	return r.exec(ctx, `
		UPDATE escrow_accounts SET status = 'payout_pending', payout_memo = $2, payout_started_at = $3
		WHERE id = $1 AND status IN ('active', 'payout_pending')
	`, id, memo, at)
}

func (r *EscrowRepo) MarkPayoutSent(ctx context.Context, id uuid.UUID, txRef string) error {
	return r.exec(ctx, `
		UPDATE escrow_accounts SET status = 'payout_sent', payout_tx_ref = $2
		WHERE id = $1 AND status IN ('active', 'payout_pending')
	`, id, txRef)
}

func (r *EscrowRepo) MarkSpent(ctx context.Context, id uuid.UUID, drainTxRef *string) error {
	return r.exec(ctx, `
		UPDATE escrow_accounts SET status = 'spent', drain_tx_ref = $2, spent_at = now(), balance_cached = 0
		WHERE id = $1 AND status <> 'spent'
	`, id, drainTxRef)
}

func (r *EscrowRepo) UpdateBalanceCached(ctx context.Context, id uuid.UUID, balance decimal.Decimal) error {
	_, err := r.pool.Exec(ctx, `UPDATE escrow_accounts SET balance_cached = $2::numeric WHERE id = $1`, id, balance.String())
	return err
}

func (r *EscrowRepo) exec(ctx context.Context, sql string, args ...any) error {
	tag, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrStatusConflict
	}
	return nil
}

func (r *EscrowRepo) getOne(ctx context.Context, sql string, arg any) (*models.EscrowAccount, error) {
	var (
		a       models.EscrowAccount
		balance *string
	)
	err := r.pool.QueryRow(ctx, sql, arg).Scan(&a.ID, &a.DealID, &a.OwnerUserID, &a.Address, &a.SealedSecret, &a.Status,
		&balance, &a.PayoutMemo, &a.PayoutStarted, &a.PayoutTxRef, &a.DrainTxRef, &a.CreatedAt, &a.SpentAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	if balance != nil {
		v, err := decimal.NewFromString(*balance)
		if err != nil {
			return nil, fmt.Errorf("parse cached balance: %w", err)
		}
		a.BalanceCached = &v
	}
	return &a, nil
}
