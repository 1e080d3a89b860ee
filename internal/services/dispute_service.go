package services

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ads-marketplace/dealflow/internal/apperr"
	"github.com/ads-marketplace/dealflow/internal/models"
	"github.com/ads-marketplace/dealflow/internal/rbac"
)

// DisputeService lets an arbiter settle a disputed deal either way.
type DisputeService struct {
	deals *DealService
	log   *zap.Logger
}

func NewDisputeService(deals *DealService, log *zap.Logger) *DisputeService {
	return &DisputeService{deals: deals, log: log}
}

type ResolveInput struct {
	Decision      string
	Reason        string
	RefundAddress *string
}

// Resolve closes a dispute. A deal can be resolved once; later calls fail
// with InvalidState and leave the first resolution untouched.
func (s *DisputeService) Resolve(ctx context.Context, actor models.Actor, dealID uuid.UUID, in ResolveInput) (*models.Deal, error) {
	if !actor.IsArbiter {
		return nil, apperr.Forbidden("only arbiters can resolve disputes")
	}
	if in.Decision != models.ResolutionRefund && in.Decision != models.ResolutionRelease {
		return nil, apperr.Validation("decision must be %q or %q", models.ResolutionRefund, models.ResolutionRelease)
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return nil, apperr.Validation("reason is required")
	}

	var out *models.Deal
	err := s.deals.withDeal(ctx, dealID, userLockWait, func(d *models.Deal) error {
		if d.Status != models.DealStatusDisputed || d.Resolution != nil {
			return apperr.InvalidState("deal is %s, not an open dispute", d.Status)
		}
		record := &models.Resolution{
			Resolution: in.Decision,
			Reason:     reason,
			ResolvedBy: actor.UserID,
			ResolvedAt: s.deals.now(),
		}

		var err error
		if in.Decision == models.ResolutionRefund {
			out, err = s.refund(ctx, actor, d, record, in.RefundAddress)
		} else {
			out, err = s.release(ctx, actor, d, record)
		}
		return err
	})
	if err != nil {
		return out, err
	}

	s.deals.writeAudit(ctx, actor, models.AuditDisputeResolved, dealID, map[string]any{
		"decision": in.Decision,
		"reason":   reason,
	})
	s.log.Info("dispute resolved",
		zap.String("deal_id", dealID.String()),
		zap.String("decision", in.Decision),
		zap.String("arbiter", actor.UserID.String()),
	)
	return out, nil
}

func (s *DisputeService) refund(ctx context.Context, actor models.Actor, d *models.Deal, record *models.Resolution, override *string) (*models.Deal, error) {
	addr, err := s.deals.refundAddress(ctx, d, override)
	if err != nil {
		return nil, err
	}
	return s.deals.transition(ctx, d, actor, rbac.RoleSystem, models.DealStatusRefunded, TransitionPayload{
		Reason:        &record.Reason,
		RefundAddress: &addr,
		Resolution:    record,
	})
}

// release records the decision by moving to verified, then pays out. If the
// payout fails the deal stays verified and the verification job retries it.
func (s *DisputeService) release(ctx context.Context, actor models.Actor, d *models.Deal, record *models.Resolution) (*models.Deal, error) {
	if _, err := s.deals.PayoutAddress(ctx, d); err != nil {
		return nil, err
	}
	verified, err := s.deals.transition(ctx, d, actor, rbac.RoleSystem, models.DealStatusVerified, TransitionPayload{
		Reason:     &record.Reason,
		Resolution: record,
		silent:     true,
	})
	if err != nil {
		return nil, err
	}
	completed, err := s.deals.transition(ctx, verified, actor, rbac.RoleSystem, models.DealStatusCompleted, TransitionPayload{})
	if err != nil {
		s.log.Error("dispute released but payout failed, left in verified",
			zap.String("deal_id", d.ID.String()), zap.Error(err))
		return verified, err
	}
	return completed, nil
}
