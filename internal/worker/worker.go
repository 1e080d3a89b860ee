// Package worker runs the reconciliation jobs that drive deals forward
// without user input: payment polling, auto-publishing, delivery
// verification and the auto-cancel sweep.
package worker

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ads-marketplace/dealflow/internal/config"
	"github.com/ads-marketplace/dealflow/internal/metrics"
	"github.com/ads-marketplace/dealflow/internal/models"
	"github.com/ads-marketplace/dealflow/internal/services"
)

// batchSize caps how many deals one pass picks up.
const batchSize = 100

// Job names, also used as metric labels.
const (
	JobPaymentPoll  = "payment_poll"
	JobAutoPublish  = "auto_publish"
	JobVerification = "verification"
	JobTimeoutSweep = "timeout_sweep"
)

// Per-deal outcomes
const (
	outcomeLocked  = "locked"
	outcomeSkipped = "skipped"
	outcomeError   = "error"
	outcomePanic   = "panic"
)

// Job is one periodic pass.
type Job struct {
	Name     string
	Interval time.Duration
	Pass     func(ctx context.Context) error
}

type Worker struct {
	deals     *services.DealService
	channels  services.ChannelReader
	publisher services.Publisher
	cfg       *config.Config
	log       *zap.Logger

	now func() time.Time
}

func New(deals *services.DealService, channels services.ChannelReader, publisher services.Publisher, cfg *config.Config, log *zap.Logger) *Worker {
	return &Worker{
		deals:     deals,
		channels:  channels,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
		now:       time.Now,
	}
}

// Jobs returns the four reconciliation jobs with their configured intervals.
func (w *Worker) Jobs() []Job {
	return []Job{
		{Name: JobPaymentPoll, Interval: w.cfg.PaymentPollInterval, Pass: w.PaymentPass},
		{Name: JobAutoPublish, Interval: w.cfg.AutoPublishInterval, Pass: w.PublishPass},
		{Name: JobVerification, Interval: w.cfg.VerifyInterval, Pass: w.VerifyPass},
		{Name: JobTimeoutSweep, Interval: w.cfg.TimeoutSweepInterval, Pass: w.TimeoutPass},
	}
}

// Run ticks every job independently until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	var g errgroup.Group
	for _, job := range w.Jobs() {
		g.Go(func() error {
			w.loop(ctx, job)
			return nil
		})
	}
	return g.Wait()
}

func (w *Worker) loop(ctx context.Context, job Job) {
	if job.Interval <= 0 {
		w.log.Warn("job disabled", zap.String("job", job.Name))
		return
	}
	t := time.NewTicker(job.Interval)
	defer t.Stop()

	w.log.Info("job started", zap.String("job", job.Name), zap.Duration("interval", job.Interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			w.RunOnce(ctx, job)
		}
	}
}

// RunOnce executes a single pass, recording its duration and result. A panic
// ends the pass but not the worker.
func (w *Worker) RunOnce(ctx context.Context, job Job) {
	started := time.Now()
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			w.log.Error("job pass panicked", zap.String("job", job.Name), zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
		}
		metrics.ObservePass(job.Name, started, err)
	}()

	err = job.Pass(ctx)
	if err != nil {
		w.log.Error("job pass failed", zap.String("job", job.Name), zap.Error(err))
	}
}

// forEach runs fn for every deal with bounded concurrency. Each call holds
// the deal lock and receives a fresh snapshot; deals locked elsewhere are
// skipped until the next pass. Per-deal failures never abort the pass.
func (w *Worker) forEach(ctx context.Context, job string, deals []*models.Deal, fn func(ctx context.Context, d *models.Deal) (string, error)) {
	limit := w.cfg.WorkerConcurrency
	if limit <= 0 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)

	for _, d := range deals {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			outcome := w.handle(ctx, job, d, fn)
			metrics.JobDealsTotal.WithLabelValues(job, outcome).Inc()
			return nil
		})
	}
	_ = g.Wait()
}

func (w *Worker) handle(ctx context.Context, job string, d *models.Deal, fn func(ctx context.Context, d *models.Deal) (string, error)) (outcome string) {
	log := w.log.With(zap.String("job", job), zap.String("deal_id", d.ID.String()))
	defer func() {
		if r := recover(); r != nil {
			log.Error("deal handler panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			outcome = outcomePanic
		}
	}()

	err := w.deals.TryWithDeal(ctx, d.ID, func(cur *models.Deal) error {
		var err error
		outcome, err = fn(ctx, cur)
		return err
	})
	switch {
	case errors.Is(err, services.ErrDealLocked):
		log.Debug("deal locked, skipping")
		return outcomeLocked
	case err != nil:
		log.Error("deal reconciliation failed", zap.Error(err))
		return outcomeError
	}
	return outcome
}

// callCtx bounds a single collaborator call.
func (w *Worker) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.cfg.ExternalCallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, w.cfg.ExternalCallTimeout)
}

// releaseCtx bounds a release: payout, settlement wait and fee drain together.
func (w *Worker) releaseCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if w.cfg.EscrowReleaseTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, w.cfg.EscrowReleaseTimeout)
}
