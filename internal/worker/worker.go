// Package worker holds the periodic background jobs.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"biblio/internal/models"
	"biblio/internal/notify"
)

// AvailabilityRepairer rewrites drifted availability flags
type AvailabilityRepairer interface {
	ReconcileAvailability(ctx context.Context) ([]int64, error)
}

// OverdueSource lists overdue loans
type OverdueSource interface {
	Overdue(ctx context.Context, limit, offset int) ([]models.LoanView, int, error)
}

// run calls job every interval until ctx is done
func run(ctx context.Context, name string, interval time.Duration, logger *zap.Logger, job func(ctx context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	logger.Info("Worker started", zap.String("worker", name), zap.Duration("interval", interval))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Worker stopped", zap.String("worker", name))
			return
		case <-ticker.C:
			job(ctx)
		}
	}
}

// Reconciler periodically repairs book availability flags
type Reconciler struct {
	repairer AvailabilityRepairer
	interval time.Duration
	logger   *zap.Logger
}

// NewReconciler creates a reconciler running every interval
func NewReconciler(repairer AvailabilityRepairer, interval time.Duration, logger *zap.Logger) *Reconciler {
	return &Reconciler{repairer: repairer, interval: interval, logger: logger}
}

// Start runs a pass immediately, then on every tick. Blocking call.
func (r *Reconciler) Start(ctx context.Context) {
	r.RunOnce(ctx)
	run(ctx, "reconciler", r.interval, r.logger, func(ctx context.Context) { r.RunOnce(ctx) })
}

// RunOnce performs a single reconciliation pass
func (r *Reconciler) RunOnce(ctx context.Context) []int64 {
	repaired, err := r.repairer.ReconcileAvailability(ctx)
	if err != nil {
		r.logger.Error("Availability reconciliation failed", zap.Error(err))
		return repaired
	}
	if len(repaired) > 0 {
		r.logger.Warn("Availability reconciliation repaired books", zap.Int64s("book_ids", repaired))
	} else {
		r.logger.Debug("Availability reconciliation found nothing to repair")
	}
	return repaired
}

// OverdueReminder periodically sends a digest of overdue loans
type OverdueReminder struct {
	source   OverdueSource
	notifier notify.Notifier
	interval time.Duration
	maxItems int
	now      func() time.Time
	logger   *zap.Logger
}

const defaultDigestItems = 20

// NewOverdueReminder creates a reminder running every interval
func NewOverdueReminder(source OverdueSource, notifier notify.Notifier, interval time.Duration, logger *zap.Logger) *OverdueReminder {
	return &OverdueReminder{
		source:   source,
		notifier: notifier,
		interval: interval,
		maxItems: defaultDigestItems,
		now:      time.Now,
		logger:   logger,
	}
}

// Start sends a digest on every tick. Blocking call.
func (o *OverdueReminder) Start(ctx context.Context) {
	run(ctx, "overdue-reminder", o.interval, o.logger, func(ctx context.Context) {
		if err := o.RunOnce(ctx); err != nil {
			o.logger.Error("Overdue reminder failed", zap.Error(err))
		}
	})
}

// RunOnce sends one digest. Nothing is sent when no loan is overdue.
func (o *OverdueReminder) RunOnce(ctx context.Context) error {
	loans, total, err := o.source.Overdue(ctx, o.maxItems, 0)
	if err != nil {
		return err
	}
	if total == 0 {
		return nil
	}
	if err := o.notifier.Notify(ctx, notify.FormatOverdueDigest(loans, total, o.now())); err != nil {
		return err
	}
	o.logger.Info("Overdue reminder sent", zap.Int("overdue", total))
	return nil
}
