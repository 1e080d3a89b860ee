package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ads-marketplace/dealflow/internal/apperr"
	"github.com/ads-marketplace/dealflow/internal/models"
	"github.com/ads-marketplace/dealflow/internal/repositories"
)

type CreateDealInput struct {
	ChannelID  uuid.UUID
	SourceType string
	// SourceID is the campaign id for request applications. Listing deals
	// resolve it from the channel's listing.
	SourceID          uuid.UUID
	Format            string
	Amount            *decimal.Decimal
	PostDurationHours *int
	Brief             *models.Brief
}

// CreateDeal opens a deal in pending_acceptance on behalf of the advertiser.
func (s *DealService) CreateDeal(ctx context.Context, actor models.Actor, in CreateDealInput) (*models.Deal, error) {
	if actor.IsSystem() {
		return nil, apperr.Forbidden("deals are created by advertisers")
	}
	if !models.IsValidAdFormat(in.Format) {
		return nil, apperr.Validation("invalid ad format %q, must be one of: post, repost, story", in.Format)
	}

	ch, err := s.channels.GetByID(ctx, in.ChannelID)
	if err != nil {
		return nil, storeError(err, "channel %s", in.ChannelID)
	}

	d := &models.Deal{
		ChannelID:      ch.ID,
		ChannelOwnerID: ch.OwnerUserID,
		AdvertiserID:   actor.UserID,
		SourceType:     in.SourceType,
		Format:         in.Format,
		PlatformFeeBPS: s.cfg.PlatformFeeBPS,
		Brief:          in.Brief,
		Status:         models.DealStatusPendingAcceptance,
	}

	var (
		price     *decimal.Decimal
		holdHours int
	)
	switch in.SourceType {
	case models.DealSourceListing:
		if ch.OwnerUserID == actor.UserID && !s.cfg.DemoMode {
			return nil, apperr.Forbidden("you cannot buy ads in your own channel")
		}
		listing, err := s.channels.GetListing(ctx, ch.ID)
		if err != nil {
			return nil, storeError(err, "listing for channel %s", ch.ID)
		}
		if !listing.IsFormatEnabled(in.Format) {
			return nil, apperr.Validation("ad format %q is not enabled for this channel (available: %v)", in.Format, listing.FormatsEnabled)
		}
		d.SourceID = listing.ID
		price = listing.PriceForFormat(in.Format)
		holdHours = listing.HoldHoursForFormat(in.Format)

	case models.DealSourceRequestApplication:
		campaign, err := s.campaigns.GetByID(ctx, in.SourceID)
		if err != nil {
			return nil, storeError(err, "ad request %s", in.SourceID)
		}
		if campaign.AdvertiserUserID != actor.UserID {
			return nil, apperr.Forbidden("only the ad request owner can start a deal from it")
		}
		app, err := s.campaigns.GetApplication(ctx, campaign.ID, ch.ID)
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, apperr.Forbidden("channel did not apply to this ad request")
		}
		if err != nil {
			return nil, storeError(err, "application")
		}
		d.SourceID = campaign.ID
		price = app.ProposedPrice
		if d.Brief == nil {
			d.Brief = campaign.Brief
		}
		if listing, err := s.channels.GetListing(ctx, ch.ID); err == nil {
			holdHours = listing.HoldHoursForFormat(in.Format)
		}

	default:
		return nil, apperr.Validation("invalid source_type %q", in.SourceType)
	}

	switch {
	case in.Amount != nil:
		d.Amount = *in.Amount
	case price != nil:
		d.Amount = *price
	default:
		return nil, apperr.Validation("amount is required: no price set for format %q", in.Format)
	}
	if d.Amount.LessThan(s.cfg.MinDealAmount) {
		return nil, apperr.Validation("amount must be at least %s TON", s.cfg.MinDealAmount)
	}

	switch {
	case in.PostDurationHours != nil && *in.PostDurationHours > 0:
		d.PostDurationHours = *in.PostDurationHours
	case holdHours > 0:
		d.PostDurationHours = holdHours
	default:
		d.PostDurationHours = s.cfg.DefaultPostDurationHours
	}

	now := s.now()
	d.LastActivityAt = now
	d.AutoCancelDeadline = s.cfg.DeadlineFor(d.Status, now)

	if err := s.deals.Create(ctx, d); err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "create deal")
	}

	s.writeAudit(ctx, actor, models.AuditDealCreated, d.ID, map[string]any{
		"source_type": d.SourceType,
		"format":      d.Format,
		"amount":      d.Amount.String(),
	})
	s.log.Info("deal created", zap.String("deal_id", d.ID.String()), zap.String("channel_id", ch.ID.String()))

	s.notifier.Notify(ctx, d.ChannelOwnerID, Notification{
		DealID: d.ID,
		Text:   "New ad deal for @" + ch.Username + ": " + d.Format + " for " + d.Amount.String() + " TON.",
		Actions: []NotificationAction{
			{Text: "Accept", Data: "deal_accept:" + d.ID.String()},
			{Text: "Reject", Data: "deal_reject:" + d.ID.String()},
		},
	})
	return d, nil
}

func (s *DealService) AcceptDeal(ctx context.Context, actor models.Actor, dealID uuid.UUID) (*models.Deal, error) {
	return s.RequestTransition(ctx, dealID, actor, models.DealStatusPendingPayment, TransitionPayload{})
}

func (s *DealService) RejectDeal(ctx context.Context, actor models.Actor, dealID uuid.UUID, reason *string) (*models.Deal, error) {
	return s.RequestTransition(ctx, dealID, actor, models.DealStatusCancelled, TransitionPayload{Reason: reason})
}

func (s *DealService) SubmitCreative(ctx context.Context, actor models.Actor, dealID uuid.UUID, creative models.Creative) (*models.Deal, error) {
	return s.RequestTransition(ctx, dealID, actor, models.DealStatusCreativeSubmitted, TransitionPayload{Creative: &creative})
}

func (s *DealService) ApproveCreative(ctx context.Context, actor models.Actor, dealID uuid.UUID) (*models.Deal, error) {
	return s.RequestTransition(ctx, dealID, actor, models.DealStatusCreativeApproved, TransitionPayload{})
}

func (s *DealService) RequestRevision(ctx context.Context, actor models.Actor, dealID uuid.UUID, feedback string) (*models.Deal, error) {
	return s.RequestTransition(ctx, dealID, actor, models.DealStatusCreativeRevision, TransitionPayload{Feedback: &feedback})
}

func (s *DealService) ScheduleDeal(ctx context.Context, actor models.Actor, dealID uuid.UUID, at time.Time) (*models.Deal, error) {
	return s.RequestTransition(ctx, dealID, actor, models.DealStatusScheduled, TransitionPayload{ScheduledTime: &at})
}

func (s *DealService) CancelDeal(ctx context.Context, actor models.Actor, dealID uuid.UUID, reason *string) (*models.Deal, error) {
	return s.RequestTransition(ctx, dealID, actor, models.DealStatusCancelled, TransitionPayload{Reason: reason})
}

func (s *DealService) OpenDispute(ctx context.Context, actor models.Actor, dealID uuid.UUID, reason string) (*models.Deal, error) {
	return s.RequestTransition(ctx, dealID, actor, models.DealStatusDisputed, TransitionPayload{Reason: &reason})
}

// CheckPaymentNow runs the payment check for one deal on demand, waiting
// briefly if the payment job holds it.
func (s *DealService) CheckPaymentNow(ctx context.Context, actor models.Actor, dealID uuid.UUID) (*models.Deal, *FundingResult, error) {
	var (
		out     *models.Deal
		funding *FundingResult
	)
	err := s.withDeal(ctx, dealID, userLockWait, func(d *models.Deal) error {
		if !d.IsParty(actor.UserID) {
			return apperr.Forbidden("you are not a party to this deal")
		}
		var err error
		out, funding, err = s.ConfirmPayment(ctx, d)
		return err
	})
	return out, funding, err
}

// ConfirmPayment checks the escrow of a pending_payment deal and, once funded,
// moves it through payment_received to creative_pending. Caller holds the lock.
func (s *DealService) ConfirmPayment(ctx context.Context, d *models.Deal) (*models.Deal, *FundingResult, error) {
	if d.Status != models.DealStatusPendingPayment {
		return d, nil, apperr.InvalidState("deal is %s, not awaiting payment", d.Status)
	}
	funding, err := s.escrow.ConfirmFunding(ctx, d)
	if err != nil {
		return d, nil, err
	}
	if !funding.Funded {
		return d, funding, nil
	}

	received, err := s.SystemTransition(ctx, d, models.DealStatusPaymentReceived, TransitionPayload{Funding: funding, silent: true})
	if err != nil {
		return d, funding, err
	}
	next, err := s.SystemTransition(ctx, received, models.DealStatusCreativePending, TransitionPayload{})
	if err != nil {
		return received, funding, err
	}
	return next, funding, nil
}

// RecordVerification appends one verification check to the deal and returns
// the snapshot including it. The deal's activity timestamp is left alone.
// Caller holds the lock.
func (s *DealService) RecordVerification(ctx context.Context, d *models.Deal, check models.VerificationCheck) (*models.Deal, error) {
	if err := s.deals.AppendVerificationCheck(ctx, d.ID, d.Status, check); err != nil {
		return nil, storeError(err, "deal %s", d.ID)
	}
	s.writeAudit(ctx, models.SystemActor, models.AuditVerificationCheck, d.ID, map[string]any{
		"exists":     check.PostExists,
		"unmodified": check.PostUnmodified,
		"strategy":   check.Strategy,
	})
	next := d.Clone()
	next.VerificationChecks = append(next.VerificationChecks, check)
	return next, nil
}

// Complete releases the escrow of a verified deal and closes it. Caller holds the lock.
func (s *DealService) Complete(ctx context.Context, d *models.Deal) (*models.Deal, error) {
	return s.SystemTransition(ctx, d, models.DealStatusCompleted, TransitionPayload{})
}

// GetDeal returns the deal to its parties and to arbiters.
func (s *DealService) GetDeal(ctx context.Context, actor models.Actor, dealID uuid.UUID) (*models.Deal, error) {
	d, err := s.deals.GetByID(ctx, dealID)
	if err != nil {
		return nil, storeError(err, "deal %s", dealID)
	}
	if !d.IsParty(actor.UserID) && !actor.IsArbiter {
		return nil, apperr.Forbidden("you are not a party to this deal")
	}
	return d, nil
}

func (s *DealService) ListDeals(ctx context.Context, actor models.Actor, status *string, limit, offset int) ([]*models.Deal, error) {
	deals, err := s.deals.ListForUser(ctx, repositories.DealFilter{
		UserID: actor.UserID,
		Status: status,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "list deals")
	}
	return deals, nil
}

// PaymentInfo returns the escrow account the advertiser pays into.
func (s *DealService) PaymentInfo(ctx context.Context, actor models.Actor, dealID uuid.UUID) (*models.Deal, *models.EscrowAccount, error) {
	d, err := s.GetDeal(ctx, actor, dealID)
	if err != nil {
		return nil, nil, err
	}
	if d.EscrowAccountRef == nil {
		return nil, nil, apperr.InvalidState("deal %s has no escrow account yet", d.ID)
	}
	acc, err := s.escrow.Account(ctx, d)
	if err != nil {
		return nil, nil, err
	}
	return d, acc, nil
}

// History returns the deal's audit trail, newest first.
func (s *DealService) History(ctx context.Context, actor models.Actor, dealID uuid.UUID, limit, offset int) ([]models.AuditLog, error) {
	if _, err := s.GetDeal(ctx, actor, dealID); err != nil {
		return nil, err
	}
	entries, err := s.audit.GetByEntity(ctx, "deal", dealID, limit, offset)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInternal, err, "load deal history")
	}
	return entries, nil
}

// Store exposes the deal store to the reconciliation jobs.
func (s *DealService) Store() DealStore {
	return s.deals
}
