package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ads-marketplace/dealflow/internal/apperr"
	"github.com/ads-marketplace/dealflow/internal/models"
	"github.com/ads-marketplace/dealflow/internal/repositories"
	"github.com/ads-marketplace/dealflow/internal/services"
)

// PaymentPass checks every deal awaiting payment and moves funded ones on.
func (w *Worker) PaymentPass(ctx context.Context) error {
	deals, err := w.deals.Store().ListByStatus(ctx, models.DealStatusPendingPayment, batchSize)
	if err != nil {
		return fmt.Errorf("list pending payments: %w", err)
	}
	w.forEach(ctx, JobPaymentPoll, deals, w.checkPayment)
	return nil
}

func (w *Worker) checkPayment(ctx context.Context, d *models.Deal) (string, error) {
	if d.Status != models.DealStatusPendingPayment {
		return outcomeSkipped, nil
	}
	callCtx, cancel := w.callCtx(ctx)
	defer cancel()

	_, funding, err := w.deals.ConfirmPayment(callCtx, d)
	if err != nil {
		return outcomeError, err
	}
	if !funding.Funded {
		return "waiting", nil
	}
	w.log.Info("deal funded",
		zap.String("deal_id", d.ID.String()),
		zap.String("observed", funding.ObservedAmount.String()),
		zap.String("payer", funding.PayerAddress),
	)
	return "funded", nil
}

// PublishPass posts every scheduled deal whose time has come.
func (w *Worker) PublishPass(ctx context.Context) error {
	deals, err := w.deals.Store().ListDueForPublish(ctx, w.now(), batchSize)
	if err != nil {
		return fmt.Errorf("list due deals: %w", err)
	}
	w.forEach(ctx, JobAutoPublish, deals, w.publish)
	return nil
}

func (w *Worker) publish(ctx context.Context, d *models.Deal) (string, error) {
	if d.Status != models.DealStatusScheduled || d.ScheduledTime == nil || d.ScheduledTime.After(w.now()) {
		return outcomeSkipped, nil
	}
	if d.CurrentCreative == nil {
		return w.dispute(ctx, d, models.DisputeReasonPublishFailed, errors.New("deal has no approved creative"))
	}

	ch, err := w.channels.GetByID(ctx, d.ChannelID)
	if errors.Is(err, repositories.ErrNotFound) {
		return w.dispute(ctx, d, models.DisputeReasonPublishFailed, err)
	}
	if err != nil {
		return outcomeError, fmt.Errorf("load channel: %w", err)
	}

	callCtx, cancel := w.callCtx(ctx)
	defer cancel()
	ref, err := w.publisher.Publish(callCtx, ch, ContentFor(d))
	if err != nil {
		return w.dispute(ctx, d, models.DisputeReasonPublishFailed, err)
	}

	if _, err := w.deals.SystemTransition(ctx, d, models.DealStatusPosted, services.TransitionPayload{PostRef: ref}); err != nil {
		// the post is live but not recorded; surface it loudly
		w.log.Error("post published but deal not updated",
			zap.String("deal_id", d.ID.String()), zap.Int64("message_id", ref.MessageID), zap.Error(err))
		return outcomeError, err
	}
	return "posted", nil
}

// ContentFor resolves what gets posted: the approved creative, with media
// taken from the creative first and the brief's suggested image second (only
// when the advertiser opted in).
func ContentFor(d *models.Deal) services.PublishContent {
	cr := d.CurrentCreative
	content := services.PublishContent{
		DealID:        d.ID.String(),
		Text:          cr.Text,
		Buttons:       cr.Buttons,
		RepostFromURL: cr.RepostFromURL,
	}
	switch {
	case len(cr.MediaRefs) > 0:
		content.MediaRefs = cr.MediaRefs
	case d.Brief != nil && d.Brief.UseSuggestedImage && d.Brief.SuggestedImageRef != nil:
		content.MediaRefs = []string{*d.Brief.SuggestedImageRef}
	}
	return content
}

// VerifyPass checks live posts and retries the release of verified deals.
func (w *Worker) VerifyPass(ctx context.Context) error {
	posted, err := w.deals.Store().ListByStatus(ctx, models.DealStatusPosted, batchSize)
	if err != nil {
		return fmt.Errorf("list posted deals: %w", err)
	}
	verified, err := w.deals.Store().ListByStatus(ctx, models.DealStatusVerified, batchSize)
	if err != nil {
		return fmt.Errorf("list verified deals: %w", err)
	}
	w.forEach(ctx, JobVerification, append(posted, verified...), w.verify)
	return nil
}

func (w *Worker) verify(ctx context.Context, d *models.Deal) (string, error) {
	switch d.Status {
	case models.DealStatusVerified:
		return w.complete(ctx, d)
	case models.DealStatusPosted:
	default:
		return outcomeSkipped, nil
	}
	if d.PostRef == nil {
		return outcomeError, apperr.InvalidState("posted deal %s has no post reference", d.ID)
	}

	ch, err := w.channels.GetByID(ctx, d.ChannelID)
	if err != nil {
		return outcomeError, fmt.Errorf("load channel: %w", err)
	}
	var original models.Creative
	if d.CurrentCreative != nil {
		original = *d.CurrentCreative
	}

	callCtx, cancel := w.callCtx(ctx)
	res, err := w.publisher.Verify(callCtx, ch, *d.PostRef, original)
	cancel()
	if err != nil {
		return outcomeError, apperr.Wrap(apperr.KindVerificationInconclusive, err, "verify post")
	}

	now := w.now()
	d, err = w.deals.RecordVerification(ctx, d, models.VerificationCheck{
		CheckedAt:      now,
		PostExists:     res.Exists,
		PostUnmodified: res.Unmodified,
		Strategy:       res.Strategy,
	})
	if err != nil {
		return outcomeError, err
	}

	switch {
	case !res.Exists:
		return w.dispute(ctx, d, models.DisputeReasonDeleted, nil)
	case !res.Unmodified:
		return w.dispute(ctx, d, models.DisputeReasonModified, nil)
	}
	if d.PostedAt == nil || now.Sub(*d.PostedAt) < d.PostDuration() {
		return "intact", nil
	}

	verified, err := w.deals.SystemTransition(ctx, d, models.DealStatusVerified, services.TransitionPayload{})
	if err != nil {
		return outcomeError, err
	}
	return w.complete(ctx, verified)
}

func (w *Worker) complete(ctx context.Context, d *models.Deal) (string, error) {
	releaseCtx, cancel := w.releaseCtx(ctx)
	defer cancel()
	if _, err := w.deals.Complete(releaseCtx, d); err != nil {
		return "release_failed", err
	}
	return "completed", nil
}

// dispute moves the deal to disputed with a machine reason. cause is logged only.
func (w *Worker) dispute(ctx context.Context, d *models.Deal, reason string, cause error) (string, error) {
	if cause != nil {
		w.log.Warn("disputing deal", zap.String("deal_id", d.ID.String()), zap.String("reason", reason), zap.Error(cause))
	}
	r := reason
	if _, err := w.deals.SystemTransition(ctx, d, models.DealStatusDisputed, services.TransitionPayload{Reason: &r}); err != nil {
		return outcomeError, err
	}
	return "disputed", nil
}

// TimeoutPass cancels deals that waited on a party past their deadline.
// Funded deals are refunded on the way out.
func (w *Worker) TimeoutPass(ctx context.Context) error {
	deals, err := w.deals.Store().ListTimedOut(ctx, models.AwaitingStatuses, w.now(), batchSize)
	if err != nil {
		return fmt.Errorf("list timed out deals: %w", err)
	}
	w.forEach(ctx, JobTimeoutSweep, deals, w.expire)
	return nil
}

func (w *Worker) expire(ctx context.Context, d *models.Deal) (string, error) {
	now := w.now()
	if !models.IsAwaitingStatus(d.Status) || d.AutoCancelDeadline == nil || d.AutoCancelDeadline.After(now) {
		return outcomeSkipped, nil
	}
	reason := fmt.Sprintf("No action was taken in time (%s).", d.Status)

	callCtx, cancel := w.callCtx(ctx)
	defer cancel()
	next, err := w.deals.SystemTransition(callCtx, d, models.DealStatusCancelled, services.TransitionPayload{Reason: &reason})
	if err != nil {
		return outcomeError, err
	}
	w.log.Info("deal auto-cancelled",
		zap.String("deal_id", d.ID.String()),
		zap.String("from", d.Status),
		zap.String("to", next.Status),
	)
	return next.Status, nil
}
