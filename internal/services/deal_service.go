package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ads-marketplace/dealflow/internal/apperr"
	"github.com/ads-marketplace/dealflow/internal/config"
	"github.com/ads-marketplace/dealflow/internal/events"
	"github.com/ads-marketplace/dealflow/internal/lock"
	"github.com/ads-marketplace/dealflow/internal/metrics"
	"github.com/ads-marketplace/dealflow/internal/models"
	"github.com/ads-marketplace/dealflow/internal/rbac"
	"github.com/ads-marketplace/dealflow/internal/repositories"
)

// ErrDealLocked is returned by TryWithDeal when another process holds the deal.
var ErrDealLocked = errors.New("deal is locked by another process")

// userLockWait bounds how long a user request waits behind a job holding the deal.
const userLockWait = 5 * time.Second

// TransitionPayload carries the data a transition needs. Users fill the
// first group; the rest is set by the jobs and the dispute resolver.
type TransitionPayload struct {
	Reason        *string
	Creative      *models.Creative
	Feedback      *string
	ScheduledTime *time.Time
	RefundAddress *string

	Funding    *FundingResult
	PostRef    *models.PostRef
	Resolution *models.Resolution

	silent   bool
	refunded bool // set when the transition sent the escrow back to the advertiser
}

type DealService struct {
	deals     DealStore
	escrow    *EscrowService
	channels  ChannelReader
	campaigns CampaignReader
	users     UserReader
	wallets   WalletReader
	withdraws WithdrawReader
	publisher Publisher
	notifier  Notifier
	audit     AuditTrail
	bus       events.Publisher
	locker    lock.Locker
	cfg       *config.Config
	log       *zap.Logger

	now func() time.Time
}

func NewDealService(
	deals DealStore,
	escrow *EscrowService,
	channels ChannelReader,
	campaigns CampaignReader,
	users UserReader,
	wallets WalletReader,
	withdraws WithdrawReader,
	publisher Publisher,
	notifier Notifier,
	audit AuditTrail,
	bus events.Publisher,
	locker lock.Locker,
	cfg *config.Config,
	log *zap.Logger,
) *DealService {
	return &DealService{
		deals:     deals,
		escrow:    escrow,
		channels:  channels,
		campaigns: campaigns,
		users:     users,
		wallets:   wallets,
		withdraws: withdraws,
		publisher: publisher,
		notifier:  notifier,
		audit:     audit,
		bus:       bus,
		locker:    locker,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// RequestTransition moves a deal to target on behalf of one of its parties.
func (s *DealService) RequestTransition(ctx context.Context, dealID uuid.UUID, actor models.Actor, target string, p TransitionPayload) (*models.Deal, error) {
	var out *models.Deal
	err := s.withDeal(ctx, dealID, userLockWait, func(d *models.Deal) error {
		role := rbac.RoleInDeal(d, actor)
		if role == "" {
			return apperr.Forbidden("you are not a party to this deal")
		}
		next, err := s.transition(ctx, d, actor, role, target, p)
		out = next
		return err
	})
	return out, err
}

// SystemTransition applies a job-driven transition. The caller must hold the
// deal lock (see TryWithDeal) and pass the snapshot it loaded under it.
func (s *DealService) SystemTransition(ctx context.Context, d *models.Deal, target string, p TransitionPayload) (*models.Deal, error) {
	return s.transition(ctx, d, models.SystemActor, rbac.RoleSystem, target, p)
}

// TryWithDeal runs fn with a fresh snapshot while holding the deal lock. It
// does not wait: a held lock returns ErrDealLocked.
func (s *DealService) TryWithDeal(ctx context.Context, dealID uuid.UUID, fn func(d *models.Deal) error) error {
	return s.withDeal(ctx, dealID, 0, fn)
}

func (s *DealService) withDeal(ctx context.Context, dealID uuid.UUID, wait time.Duration, fn func(d *models.Deal) error) error {
	key := lock.DealKey(dealID)
	var unlock func()
	if wait <= 0 {
		u, ok, err := s.locker.TryLock(ctx, key, s.cfg.DealLockTTL)
		if err != nil {
			return apperr.Wrap(apperr.KindUnavailable, err, "acquire deal lock")
		}
		if !ok {
			return ErrDealLocked
		}
		unlock = u
	} else {
		u, err := lock.Acquire(ctx, s.locker, key, s.cfg.DealLockTTL, wait)
		if err != nil {
			return lockError(err)
		}
		unlock = u
	}
	defer unlock()

	d, err := s.deals.GetByID(ctx, dealID)
	if err != nil {
		return storeError(err, "deal %s", dealID)
	}
	return fn(d)
}

func (s *DealService) transition(ctx context.Context, d *models.Deal, actor models.Actor, role, target string, p TransitionPayload) (*models.Deal, error) {
	from := d.Status
	if models.IsTerminalStatus(from) || !models.IsValidTransition(from, target) {
		return nil, apperr.InvalidTransition(from, target)
	}
	if !rbac.CanTransition(role, from, target) {
		return nil, apperr.Forbidden("%s cannot move a deal from %s to %s", role, from, target)
	}

	now := s.now()
	next := d.Clone()
	final, err := s.applySideEffects(ctx, next, target, &p, now)
	if err != nil {
		return nil, err
	}
	next.Status = final
	next.LastActivityAt = now
	next.AutoCancelDeadline = s.cfg.DeadlineFor(final, now)

	if err := s.deals.Update(ctx, next, from); err != nil {
		return nil, storeError(err, "deal %s", d.ID)
	}
	metrics.TransitionsTotal.WithLabelValues(from, final).Inc()
	s.log.Info("deal transition",
		zap.String("deal_id", d.ID.String()),
		zap.String("from", from),
		zap.String("to", final),
		zap.String("actor", actor.ActorType()),
	)

	s.afterTransition(ctx, next, actor, from, p)
	return next, nil
}

// applySideEffects mutates d for the target status and returns the status
// actually entered. A cancellation with funds in escrow becomes a refund.
func (s *DealService) applySideEffects(ctx context.Context, d *models.Deal, target string, p *TransitionPayload, now time.Time) (string, error) {
	if p.Resolution != nil {
		d.Resolution = p.Resolution
	}

	switch target {
	case models.DealStatusPendingPayment:
		acc, err := s.escrow.Open(ctx, d)
		if err != nil {
			return "", err
		}
		d.EscrowAccountRef = &acc.ID

	case models.DealStatusPaymentReceived:
		if p.Funding != nil {
			observed := p.Funding.ObservedAmount
			d.EscrowBalanceLastObserved = &observed
			if p.Funding.PayerAddress != "" && d.AdvertiserRefundAddress == nil {
				payer := p.Funding.PayerAddress
				d.AdvertiserRefundAddress = &payer
			}
		}

	case models.DealStatusCreativeSubmitted:
		if p.Creative == nil {
			return "", apperr.Validation("creative is required")
		}
		if err := p.Creative.Validate(d.Format); err != nil {
			return "", apperr.Validation("%s", err.Error())
		}
		if err := s.ensureOwnerStillAdmin(ctx, d); err != nil {
			return "", err
		}
		cr := *p.Creative
		d.CurrentCreative = &cr
		d.CreativeHistory = append(d.CreativeHistory, models.CreativeSubmission{
			Version:     len(d.CreativeHistory) + 1,
			Creative:    cr,
			Status:      models.CreativeStatusPending,
			SubmittedAt: now,
		})

	case models.DealStatusCreativeApproved:
		last := d.LatestSubmission()
		if last == nil {
			return "", apperr.InvalidState("deal has no submitted creative")
		}
		last.Status = models.CreativeStatusApproved
		last.ReviewedAt = &now

	case models.DealStatusCreativeRevision:
		if p.Feedback == nil || strings.TrimSpace(*p.Feedback) == "" {
			return "", apperr.Validation("feedback is required when requesting changes")
		}
		last := d.LatestSubmission()
		if last == nil {
			return "", apperr.InvalidState("deal has no submitted creative")
		}
		feedback := strings.TrimSpace(*p.Feedback)
		last.Status = models.CreativeStatusRejected
		last.Feedback = &feedback
		last.ReviewedAt = &now

	case models.DealStatusScheduled:
		if p.ScheduledTime == nil {
			return "", apperr.Validation("scheduled_time is required")
		}
		if !p.ScheduledTime.After(now) {
			return "", apperr.Validation("scheduled_time must be in the future")
		}
		t := p.ScheduledTime.UTC()
		d.ScheduledTime = &t

	case models.DealStatusPosted:
		if p.PostRef == nil {
			return "", apperr.Validation("post reference is required")
		}
		ref := *p.PostRef
		d.PostRef = &ref
		d.PostedAt = &now

	case models.DealStatusDisputed:
		if p.Reason != nil && strings.TrimSpace(*p.Reason) != "" {
			reason := strings.TrimSpace(*p.Reason)
			d.DisputeReason = &reason
		}

	case models.DealStatusCancelled:
		if p.Reason != nil && strings.TrimSpace(*p.Reason) != "" {
			reason := strings.TrimSpace(*p.Reason)
			d.CancelReason = &reason
		}
		refunded, err := s.refundIfFunded(ctx, d, p.RefundAddress)
		if err != nil {
			return "", err
		}
		p.refunded = refunded
		if refunded && models.IsValidTransition(d.Status, models.DealStatusRefunded) {
			return models.DealStatusRefunded, nil
		}

	case models.DealStatusRefunded:
		addr, err := s.refundAddress(ctx, d, p.RefundAddress)
		if err != nil {
			return "", err
		}
		if _, err := s.escrow.Refund(ctx, d, addr); err != nil {
			return "", err
		}
		p.refunded = true

	case models.DealStatusCompleted:
		addr, err := s.PayoutAddress(ctx, d)
		if err != nil {
			return "", err
		}
		if _, err := s.escrow.Release(ctx, d, addr); err != nil {
			return "", err
		}
	}
	return target, nil
}

// refundIfFunded refunds the escrow when it still holds funds. Deals that
// never opened an account are cancelled without touching the ledger.
func (s *DealService) refundIfFunded(ctx context.Context, d *models.Deal, override *string) (bool, error) {
	if d.EscrowAccountRef == nil {
		return false, nil
	}
	bal, err := s.escrow.Balance(ctx, d)
	if err != nil {
		return false, err
	}
	if !bal.IsPositive() {
		return false, nil
	}
	addr, err := s.refundAddress(ctx, d, override)
	if err != nil {
		return false, err
	}
	if _, err := s.escrow.Refund(ctx, d, addr); err != nil {
		return false, err
	}
	zero := decimal.Zero
	d.EscrowBalanceLastObserved = &zero
	return true, nil
}

// refundAddress resolves where the advertiser's money goes back to:
// explicit override, then the recorded funding sender, then the largest
// sender seen on the escrow (partial payments), then the profile wallet.
func (s *DealService) refundAddress(ctx context.Context, d *models.Deal, override *string) (string, error) {
	if override != nil && strings.TrimSpace(*override) != "" {
		return strings.TrimSpace(*override), nil
	}
	if d.AdvertiserRefundAddress != nil && *d.AdvertiserRefundAddress != "" {
		return *d.AdvertiserRefundAddress, nil
	}
	if d.EscrowAccountRef != nil {
		payer, err := s.escrow.PayerAddress(ctx, d)
		if err != nil {
			return "", err
		}
		if payer != "" {
			return payer, nil
		}
	}
	w, err := s.wallets.GetActiveWallet(ctx, d.AdvertiserID)
	if err == nil {
		return w.PayoutAddress(), nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return "", apperr.Wrap(apperr.KindInternal, err, "load advertiser wallet")
	}
	return "", apperr.MissingRecipientAddress("advertiser has no refund address")
}

// PayoutAddress resolves the channel owner's payout address: the channel's
// withdraw wallet first, then the owner's verified profile wallet.
func (s *DealService) PayoutAddress(ctx context.Context, d *models.Deal) (string, error) {
	ww, err := s.withdraws.GetByChannel(ctx, d.ChannelID)
	if err == nil && ww.WalletAddress != "" {
		return ww.WalletAddress, nil
	}
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return "", apperr.Wrap(apperr.KindInternal, err, "load withdraw wallet")
	}
	w, err := s.wallets.GetActiveWallet(ctx, d.ChannelOwnerID)
	if err == nil {
		return w.PayoutAddress(), nil
	}
	if !errors.Is(err, repositories.ErrNotFound) {
		return "", apperr.Wrap(apperr.KindInternal, err, "load owner wallet")
	}
	return "", apperr.MissingRecipientAddress("channel owner has no payout wallet")
}

func (s *DealService) ensureOwnerStillAdmin(ctx context.Context, d *models.Deal) error {
	ch, err := s.channels.GetByID(ctx, d.ChannelID)
	if err != nil {
		return storeError(err, "channel %s", d.ChannelID)
	}
	owner, err := s.users.GetByID(ctx, d.ChannelOwnerID)
	if err != nil {
		return storeError(err, "user %s", d.ChannelOwnerID)
	}
	ok, err := s.publisher.IsStillAdmin(ctx, ch, owner.TelegramUserID)
	if err != nil {
		return apperr.Wrap(apperr.KindUnavailable, err, "could not confirm channel admin rights")
	}
	if !ok {
		return apperr.Forbidden("you are no longer an admin of @%s with posting rights", ch.Username)
	}
	return nil
}

func (s *DealService) afterTransition(ctx context.Context, d *models.Deal, actor models.Actor, from string, p TransitionPayload) {
	meta := map[string]any{"from": from, "to": d.Status}
	if p.Reason != nil {
		meta["reason"] = *p.Reason
	}
	if d.Resolution != nil && (d.Status == models.DealStatusRefunded || d.Status == models.DealStatusVerified) {
		meta["resolution"] = d.Resolution.Resolution
	}
	s.writeAudit(ctx, actor, models.AuditDealTransition, d.ID, meta)

	if err := s.bus.Publish(ctx, events.StreamDeal, events.DealStatusChanged(d.ID, d.AdvertiserID, d.ChannelOwnerID, from, d.Status, d.UpdatedAt)); err != nil {
		s.log.Warn("failed to publish deal event", zap.String("deal_id", d.ID.String()), zap.Error(err))
	}

	if !p.silent {
		s.notifyTransition(ctx, d, actor, p.Reason, p.refunded)
	}
}

// notifyTransition tells the counterparty (or both parties for system and
// arbiter actions) about the new status. Disputes also go to arbiters.
func (s *DealService) notifyTransition(ctx context.Context, d *models.Deal, actor models.Actor, reason *string, refunded bool) {
	hasReason := reason != nil && strings.TrimSpace(*reason) != ""
	if d.Status == models.DealStatusCancelled && !hasReason && d.IsParty(actor.UserID) {
		return
	}

	recipients := []uuid.UUID{d.AdvertiserID, d.ChannelOwnerID}
	if d.IsParty(actor.UserID) {
		recipients = []uuid.UUID{d.Counterparty(actor.UserID)}
	}
	for _, r := range recipients {
		s.notifier.Notify(ctx, r, statusNotification(d, r, reason, refunded))
	}

	if d.Status == models.DealStatusDisputed {
		n := statusNotification(d, uuid.Nil, nil, false)
		n.Text = "Arbitration needed. " + n.Text
		s.notifier.NotifyArbiters(ctx, n)
	}
}

func (s *DealService) writeAudit(ctx context.Context, actor models.Actor, action string, dealID uuid.UUID, meta map[string]any) {
	id := dealID
	if err := s.audit.Log(ctx, models.AuditLog{
		ActorUserID: actor.AuditActorID(),
		ActorType:   actor.ActorType(),
		Action:      action,
		EntityType:  "deal",
		EntityID:    &id,
		Meta:        meta,
	}); err != nil {
		s.log.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}
