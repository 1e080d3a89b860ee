package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ads-marketplace/dealflow/internal/apperr"
	"github.com/ads-marketplace/dealflow/internal/config"
	"github.com/ads-marketplace/dealflow/internal/lock"
	"github.com/ads-marketplace/dealflow/internal/metrics"
	"github.com/ads-marketplace/dealflow/internal/models"
	"github.com/ads-marketplace/dealflow/internal/repositories"
	"github.com/ads-marketplace/dealflow/internal/sealed"
)

var bpsDenominator = decimal.NewFromInt(10000)

const (
	// escrowLockWait bounds how long a disbursement waits for a concurrent one on the same account.
	escrowLockWait = 10 * time.Second
	// ledgerClockSkew widens ledger lookups that start from a local timestamp.
	ledgerClockSkew = time.Minute
)

// FundingResult is the outcome of a payment check.
type FundingResult struct {
	Funded         bool            `json:"funded"`
	ObservedAmount decimal.Decimal `json:"observed_amount"`
	PayerAddress   string          `json:"payer_address,omitempty"`
}

// DisbursementResult describes a release or refund. Skipped is set when the
// call was a no-op because the deal or account was already settled.
type DisbursementResult struct {
	Skipped     bool            `json:"skipped"`
	Payout      decimal.Decimal `json:"payout"`
	Fee         decimal.Decimal `json:"fee"`
	PayoutTxRef string          `json:"payout_tx_ref,omitempty"`
	DrainTxRef  string          `json:"drain_tx_ref,omitempty"`
}

// EscrowService owns escrow accounts and their sealed signing material.
// It is the only component that unseals secrets or moves funds.
type EscrowService struct {
	store  EscrowStore
	ledger Ledger
	sealer *sealed.Sealer
	locker lock.Locker
	audit  AuditTrail
	cfg    *config.Config
	log    *zap.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

func NewEscrowService(
	store EscrowStore,
	ledger Ledger,
	sealer *sealed.Sealer,
	locker lock.Locker,
	audit AuditTrail,
	cfg *config.Config,
	log *zap.Logger,
) *EscrowService {
	return &EscrowService{
		store:  store,
		ledger: ledger,
		sealer: sealer,
		locker: locker,
		audit:  audit,
		cfg:    cfg,
		log:    log,
		sleep:  sleepCtx,
		now:    time.Now,
	}
}

// Open returns the deal's escrow account, creating it on first use.
func (s *EscrowService) Open(ctx context.Context, d *models.Deal) (*models.EscrowAccount, error) {
	if acc, err := s.Account(ctx, d); err == nil {
		return acc, nil
	} else if !apperr.IsKind(err, apperr.KindNotFound) {
		return nil, err
	}

	dealID := d.ID
	acc, err := s.create(ctx, &models.EscrowAccount{DealID: &dealID})
	if errors.Is(err, repositories.ErrAlreadyExists) {
		return s.Account(ctx, d)
	}
	if err != nil {
		return nil, err
	}

	s.writeAudit(ctx, models.SystemActor, models.AuditEscrowOpened, acc, map[string]any{
		"deal_id": d.ID.String(),
		"address": acc.Address,
	})
	s.log.Info("escrow account opened", zap.String("deal_id", d.ID.String()), zap.String("address", acc.Address))
	return acc, nil
}

// OpenForUser creates a user-scoped account used for future payouts.
func (s *EscrowService) OpenForUser(ctx context.Context, userID uuid.UUID) (*models.EscrowAccount, error) {
	owner := userID
	acc, err := s.create(ctx, &models.EscrowAccount{OwnerUserID: &owner})
	if err != nil {
		return nil, err
	}
	s.writeAudit(ctx, models.SystemActor, models.AuditEscrowOpened, acc, map[string]any{
		"owner_user_id": userID.String(),
		"address":       acc.Address,
	})
	return acc, nil
}

func (s *EscrowService) create(ctx context.Context, acc *models.EscrowAccount) (*models.EscrowAccount, error) {
	if s.sealer == nil {
		return nil, apperr.New(apperr.KindUnavailable, "escrow sealing key is not configured")
	}
	la, err := s.ledger.CreateAccount(ctx)
	if err != nil {
		return nil, asLedgerError(err, "create escrow account")
	}
	sealedSecret, err := s.sealer.Seal(la.Secret)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "seal escrow secret")
	}

	acc.Address = la.Address
	acc.SealedSecret = sealedSecret
	acc.Status = models.EscrowStatusActive
	if err := s.store.Create(ctx, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

// ConfirmFunding checks whether the deal amount arrived. Both the incoming
// transfer log and the raw balance are consulted, and either one reaching
// the tolerance threshold counts as funded.
func (s *EscrowService) ConfirmFunding(ctx context.Context, d *models.Deal) (*FundingResult, error) {
	acc, err := s.Account(ctx, d)
	if err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return nil, apperr.InvalidState("deal %s has no escrow account", d.ID)
		}
		return nil, err
	}

	incoming, inErr := s.ledger.IncomingSince(ctx, acc.Address, d.CreatedAt)
	balance, balErr := s.ledger.Balance(ctx, acc.Address)
	if inErr != nil && balErr != nil {
		return nil, asLedgerError(balErr, "check escrow funding")
	}
	if inErr != nil {
		s.log.Warn("incoming transfer scan failed, using balance only",
			zap.String("deal_id", d.ID.String()), zap.Error(inErr))
	}

	received := decimal.Zero
	bySender := make(map[string]decimal.Decimal)
	for _, in := range incoming {
		received = received.Add(in.Amount)
		bySender[in.FromAddress] = bySender[in.FromAddress].Add(in.Amount)
	}

	res := &FundingResult{ObservedAmount: received}
	if balErr == nil {
		if balance.GreaterThan(received) {
			res.ObservedAmount = balance
		}
		if err := s.store.UpdateBalanceCached(ctx, acc.ID, balance); err != nil {
			s.log.Warn("failed to cache escrow balance", zap.String("account_id", acc.ID.String()), zap.Error(err))
		}
	}
	res.Funded = s.IsFunded(d.Amount, res.ObservedAmount)
	res.PayerAddress = largestSender(bySender)
	return res, nil
}

// PayerAddress returns the address that sent the most to the deal's escrow,
// or "" when nothing arrived yet.
func (s *EscrowService) PayerAddress(ctx context.Context, d *models.Deal) (string, error) {
	acc, err := s.Account(ctx, d)
	if err != nil {
		return "", err
	}
	incoming, err := s.ledger.IncomingSince(ctx, acc.Address, acc.CreatedAt.Add(-ledgerClockSkew))
	if err != nil {
		return "", asLedgerError(err, "list escrow deposits")
	}
	bySender := make(map[string]decimal.Decimal)
	for _, in := range incoming {
		bySender[in.FromAddress] = bySender[in.FromAddress].Add(in.Amount)
	}
	return largestSender(bySender), nil
}

// IsFunded applies the funding tolerance: observed >= amount * tolerance / 10000.
func (s *EscrowService) IsFunded(amount, observed decimal.Decimal) bool {
	threshold := amount.Mul(decimal.NewFromInt(int64(s.cfg.FundingToleranceBPS))).Div(bpsDenominator)
	return observed.GreaterThanOrEqual(threshold)
}

// Balance returns the fresh ledger balance of the deal's account, zero when
// the deal has no account or it was already drained.
func (s *EscrowService) Balance(ctx context.Context, d *models.Deal) (decimal.Decimal, error) {
	acc, err := s.Account(ctx, d)
	if apperr.IsKind(err, apperr.KindNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, err
	}
	if acc.IsSpent() {
		return decimal.Zero, nil
	}
	bal, err := s.ledger.Balance(ctx, acc.Address)
	if err != nil {
		return decimal.Zero, asLedgerError(err, "read escrow balance")
	}
	if err := s.store.UpdateBalanceCached(ctx, acc.ID, bal); err != nil {
		s.log.Warn("failed to cache escrow balance", zap.String("account_id", acc.ID.String()), zap.Error(err))
	}
	return bal, nil
}

// Split returns the platform fee and the channel owner's payout for a deal.
func (s *EscrowService) Split(d *models.Deal) (fee, payout decimal.Decimal) {
	fee = d.Amount.Mul(decimal.NewFromInt(int64(d.PlatformFeeBPS))).Div(bpsDenominator)
	payout = d.Amount.Sub(fee).Sub(s.cfg.TONGasReserve)
	return fee, payout
}

// Release pays the channel owner and drains the remainder to the platform.
// The payout is a fixed amount; the fee drain sends the whole remaining
// balance and destroys the account. The account is marked payout_pending
// before the payout leaves, so a retry looks the payout up on the ledger
// instead of sending it twice. A retry after a recorded payout only repeats
// the drain.
func (s *EscrowService) Release(ctx context.Context, d *models.Deal, payoutAddress string) (*DisbursementResult, error) {
	if models.IsTerminalStatus(d.Status) {
		return &DisbursementResult{Skipped: true}, nil
	}
	if payoutAddress == "" {
		return nil, apperr.MissingRecipientAddress("channel owner has no payout wallet")
	}

	fee, payout := s.Split(d)
	if !payout.IsPositive() {
		return nil, apperr.InvalidState("deal amount %s does not cover fee %s and gas reserve", d.Amount, fee)
	}

	var res *DisbursementResult
	err := s.withAccount(ctx, d, func(acc *models.EscrowAccount) error {
		if acc.IsSpent() {
			res = &DisbursementResult{Skipped: true}
			return nil
		}
		secret, err := s.unseal(acc)
		if err != nil {
			return err
		}
		res = &DisbursementResult{Payout: payout, Fee: fee}
		p := payoutRequest{deal: d, acc: acc, secret: secret, to: payoutAddress, payout: payout, fee: fee}

		switch acc.Status {
		case models.EscrowStatusActive:
			res.PayoutTxRef, err = s.sendPayout(ctx, p)
		case models.EscrowStatusPayoutPending:
			res.PayoutTxRef, err = s.resumePayout(ctx, p)
		default:
			if acc.PayoutTxRef != nil {
				res.PayoutTxRef = *acc.PayoutTxRef
			}
			res.DrainTxRef = s.drainFee(ctx, d, acc, secret)
			return nil
		}
		if err != nil {
			return err
		}

		if err := s.sleep(ctx, s.cfg.EscrowSettlementDelay); err != nil {
			return apperr.Wrap(apperr.KindUnavailable, err, "settlement wait interrupted, fee drain left for retry")
		}
		res.DrainTxRef = s.drainFee(ctx, d, acc, secret)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

type payoutRequest struct {
	deal   *models.Deal
	acc    *models.EscrowAccount
	secret []byte
	to     string
	payout decimal.Decimal
	fee    decimal.Decimal
}

// sendPayout checks the balance covers the payout, marks the account
// payout_pending and sends. Any transfer error leaves the account pending:
// the message may have reached the network.
func (s *EscrowService) sendPayout(ctx context.Context, p payoutRequest) (string, error) {
	bal, err := s.ledger.Balance(ctx, p.acc.Address)
	if err != nil {
		return "", asLedgerError(err, "read escrow balance")
	}
	if bal.LessThan(p.payout) {
		metrics.DisbursementsTotal.WithLabelValues("payout", "error").Inc()
		return "", apperr.New(apperr.KindLedgerTransferFailed, "escrow balance %s does not cover payout %s", bal, p.payout)
	}

	memo := models.PayoutMemo(p.deal.ID)
	if err := s.store.MarkPayoutPending(ctx, p.acc.ID, memo, s.now()); err != nil {
		return "", storeError(err, "escrow account for deal %s", p.deal.ID)
	}
	receipt, err := s.ledger.Transfer(ctx, p.secret, p.to, models.TransferExact(p.payout), memo)
	if err != nil {
		metrics.DisbursementsTotal.WithLabelValues("payout", "error").Inc()
		return "", asTransferError(err, "payout to channel owner")
	}
	return s.recordPayout(ctx, p, receipt.TxRef)
}

// resumePayout settles a payout whose outcome was never recorded. A transfer
// carrying the payout memo means it went through. Otherwise the payout is
// sent again, but only once PayoutConfirmWindow has passed since the last
// attempt, when that message can no longer land.
func (s *EscrowService) resumePayout(ctx context.Context, p payoutRequest) (string, error) {
	since := p.acc.CreatedAt
	if p.acc.PayoutStarted != nil {
		since = *p.acc.PayoutStarted
	}
	memo := models.PayoutMemo(p.deal.ID)
	if p.acc.PayoutMemo != nil {
		memo = *p.acc.PayoutMemo
	}

	sent, err := s.ledger.OutgoingSince(ctx, p.acc.Address, since.Add(-ledgerClockSkew))
	if err != nil {
		return "", asLedgerError(err, "look up pending payout")
	}
	for _, t := range sent {
		if t.Comment == memo {
			s.log.Info("pending payout found on ledger",
				zap.String("deal_id", p.deal.ID.String()), zap.String("tx", t.TxRef))
			return s.recordPayout(ctx, p, t.TxRef)
		}
	}

	if s.now().Sub(since) < s.cfg.PayoutConfirmWindow {
		return "", apperr.New(apperr.KindUnavailable, "payout for deal %s is not confirmed yet", p.deal.ID)
	}
	s.log.Warn("pending payout not found on ledger, sending again",
		zap.String("deal_id", p.deal.ID.String()), zap.Time("attempted_at", since))
	return s.sendPayout(ctx, p)
}

func (s *EscrowService) recordPayout(ctx context.Context, p payoutRequest, txRef string) (string, error) {
	metrics.DisbursementsTotal.WithLabelValues("payout", "ok").Inc()
	if err := s.store.MarkPayoutSent(ctx, p.acc.ID, txRef); err != nil {
		s.log.Error("payout sent but not recorded",
			zap.String("deal_id", p.deal.ID.String()), zap.String("tx", txRef), zap.Error(err))
		return "", apperr.Wrap(apperr.KindInternal, err, "record payout")
	}
	s.writeAudit(ctx, models.SystemActor, models.AuditEscrowReleased, p.acc, map[string]any{
		"deal_id": p.deal.ID.String(),
		"to":      p.to,
		"payout":  p.payout.String(),
		"fee":     p.fee.String(),
		"tx":      txRef,
	})
	return txRef, nil
}

// drainFee sends everything left on the account to the platform. Failures
// are logged and leave the account in payout_sent for Recover.
func (s *EscrowService) drainFee(ctx context.Context, d *models.Deal, acc *models.EscrowAccount, secret []byte) string {
	log := s.log.With(zap.String("deal_id", d.ID.String()), zap.String("account_id", acc.ID.String()))
	if s.cfg.PlatformFeeAddress == "" {
		log.Error("fee drain skipped: PLATFORM_FEE_ADDRESS is not set")
		return ""
	}
	receipt, err := s.ledger.Transfer(ctx, secret, s.cfg.PlatformFeeAddress, models.TransferAll(), "deal "+d.ID.String()+" fee")
	if err != nil {
		metrics.DisbursementsTotal.WithLabelValues("fee", "error").Inc()
		log.Error("fee drain failed", zap.Error(err))
		return ""
	}
	metrics.DisbursementsTotal.WithLabelValues("fee", "ok").Inc()
	if err := s.store.MarkSpent(ctx, acc.ID, &receipt.TxRef); err != nil {
		log.Error("fee drained but account not marked spent", zap.String("tx", receipt.TxRef), zap.Error(err))
	}
	return receipt.TxRef
}

// Refund sends the whole escrow balance back to the advertiser.
func (s *EscrowService) Refund(ctx context.Context, d *models.Deal, refundAddress string) (*DisbursementResult, error) {
	if models.IsTerminalStatus(d.Status) {
		return &DisbursementResult{Skipped: true}, nil
	}
	if refundAddress == "" {
		return nil, apperr.MissingRecipientAddress("advertiser has no refund address")
	}

	var res *DisbursementResult
	err := s.withAccount(ctx, d, func(acc *models.EscrowAccount) error {
		if acc.IsSpent() {
			res = &DisbursementResult{Skipped: true}
			return nil
		}
		if acc.Status == models.EscrowStatusPayoutSent || acc.Status == models.EscrowStatusPayoutPending {
			return apperr.InvalidState("escrow for deal %s already paid out", d.ID)
		}
		secret, err := s.unseal(acc)
		if err != nil {
			return err
		}
		receipt, err := s.ledger.Transfer(ctx, secret, refundAddress, models.TransferAll(), "deal "+d.ID.String()+" refund")
		if err != nil {
			metrics.DisbursementsTotal.WithLabelValues("refund", "error").Inc()
			return asTransferError(err, "refund to advertiser")
		}
		metrics.DisbursementsTotal.WithLabelValues("refund", "ok").Inc()
		if err := s.store.MarkSpent(ctx, acc.ID, &receipt.TxRef); err != nil {
			s.log.Error("refund sent but account not marked spent",
				zap.String("deal_id", d.ID.String()), zap.String("tx", receipt.TxRef), zap.Error(err))
		}
		s.writeAudit(ctx, models.SystemActor, models.AuditEscrowRefunded, acc, map[string]any{
			"deal_id": d.ID.String(),
			"to":      refundAddress,
			"tx":      receipt.TxRef,
		})
		res = &DisbursementResult{DrainTxRef: receipt.TxRef}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Recover drains any account to an arbitrary address. Arbiter only; used for
// accounts stranded by a failed fee drain or a lost deal.
func (s *EscrowService) Recover(ctx context.Context, actor models.Actor, accountID uuid.UUID, toAddress string) (*DisbursementResult, error) {
	if !actor.IsArbiter {
		return nil, apperr.Forbidden("only arbiters can recover escrow accounts")
	}
	if toAddress == "" {
		return nil, apperr.MissingRecipientAddress("recovery address is required")
	}

	unlock, err := lock.Acquire(ctx, s.locker, lock.EscrowKey(accountID), s.cfg.DealLockTTL, escrowLockWait)
	if err != nil {
		return nil, lockError(err)
	}
	defer unlock()

	acc, err := s.store.GetByID(ctx, accountID)
	if err != nil {
		return nil, storeError(err, "escrow account %s", accountID)
	}
	if acc.IsSpent() {
		return nil, apperr.InvalidState("escrow account %s is already spent", accountID)
	}
	secret, err := s.unseal(acc)
	if err != nil {
		return nil, err
	}
	receipt, err := s.ledger.Transfer(ctx, secret, toAddress, models.TransferAll(), "escrow "+accountID.String()+" recovery")
	if err != nil {
		metrics.DisbursementsTotal.WithLabelValues("recover", "error").Inc()
		return nil, asTransferError(err, "recover escrow account")
	}
	metrics.DisbursementsTotal.WithLabelValues("recover", "ok").Inc()
	if err := s.store.MarkSpent(ctx, acc.ID, &receipt.TxRef); err != nil {
		s.log.Error("recovery sent but account not marked spent", zap.String("tx", receipt.TxRef), zap.Error(err))
	}
	s.writeAudit(ctx, actor, models.AuditEscrowRecovered, acc, map[string]any{
		"to": toAddress,
		"tx": receipt.TxRef,
	})
	return &DisbursementResult{DrainTxRef: receipt.TxRef}, nil
}

// withAccount runs fn under the escrow account lock with a freshly loaded account.
func (s *EscrowService) withAccount(ctx context.Context, d *models.Deal, fn func(acc *models.EscrowAccount) error) error {
	acc, err := s.Account(ctx, d)
	if err != nil {
		return err
	}
	unlock, err := lock.Acquire(ctx, s.locker, lock.EscrowKey(acc.ID), s.cfg.DealLockTTL, escrowLockWait)
	if err != nil {
		return lockError(err)
	}
	defer unlock()

	acc, err = s.store.GetByID(ctx, acc.ID)
	if err != nil {
		return storeError(err, "escrow account for deal %s", d.ID)
	}
	return fn(acc)
}

// Account loads the escrow account bound to the deal.
func (s *EscrowService) Account(ctx context.Context, d *models.Deal) (*models.EscrowAccount, error) {
	var (
		acc *models.EscrowAccount
		err error
	)
	if d.EscrowAccountRef != nil {
		acc, err = s.store.GetByID(ctx, *d.EscrowAccountRef)
	} else {
		acc, err = s.store.GetByDealID(ctx, d.ID)
	}
	if err != nil {
		return nil, storeError(err, "escrow account for deal %s", d.ID)
	}
	return acc, nil
}

func (s *EscrowService) unseal(acc *models.EscrowAccount) ([]byte, error) {
	if s.sealer == nil {
		return nil, apperr.New(apperr.KindUnavailable, "escrow sealing key is not configured")
	}
	secret, err := s.sealer.Unseal(acc.SealedSecret)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "unseal escrow account %s", acc.ID)
	}
	return secret, nil
}

func (s *EscrowService) writeAudit(ctx context.Context, actor models.Actor, action string, acc *models.EscrowAccount, meta map[string]any) {
	if err := s.audit.Log(ctx, models.AuditLog{
		ActorUserID: actor.AuditActorID(),
		ActorType:   actor.ActorType(),
		Action:      action,
		EntityType:  "escrow_account",
		EntityID:    &acc.ID,
		Meta:        meta,
	}); err != nil {
		s.log.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}

func largestSender(bySender map[string]decimal.Decimal) string {
	var (
		best    string
		bestAmt decimal.Decimal
	)
	for addr, amt := range bySender {
		if addr == "" {
			continue
		}
		if best == "" || amt.GreaterThan(bestAmt) || (amt.Equal(bestAmt) && addr < best) {
			best, bestAmt = addr, amt
		}
	}
	return best
}

// asLedgerError keeps typed ledger errors and marks anything else as unavailable.
func asLedgerError(err error, op string) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Wrap(apperr.KindLedgerUnavailable, err, "%s", op)
}

func asTransferError(err error, op string) error {
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperr.Wrap(apperr.KindLedgerTransferFailed, err, "%s", op)
}

func storeError(err error, format string, args ...any) error {
	switch {
	case errors.Is(err, repositories.ErrNotFound):
		return apperr.NotFound(format+" not found", args...)
	case errors.Is(err, repositories.ErrStatusConflict):
		return apperr.Wrap(apperr.KindConflict, err, "record changed concurrently")
	default:
		return apperr.Wrap(apperr.KindInternal, err, "store: %s", fmt.Sprintf(format, args...))
	}
}

func lockError(err error) error {
	if errors.Is(err, lock.ErrHeld) {
		return apperr.Wrap(apperr.KindConflict, err, "operation already in progress")
	}
	return apperr.Wrap(apperr.KindUnavailable, err, "acquire lock")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
