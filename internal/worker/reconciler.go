// Package worker runs the background jobs of the reservation worker.
package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/table-reservation/internal/booking"
	"github.com/iliyamo/table-reservation/internal/calendar"
)

// Reconciler periodically compares the ledger with the confirmed
// reservations for today and the following days.  Repairs go through the
// service's two-observation compare-and-set, so bookings in flight while
// it runs are left alone.
type Reconciler struct {
	svc      *booking.Service
	interval time.Duration
	days     int
	now      func() time.Time
	log      *zap.Logger
}

// NewReconciler checks today plus days following dates every interval.
func NewReconciler(svc *booking.Service, interval time.Duration, days int, log *zap.Logger) *Reconciler {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	if days < 0 {
		days = 0
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{svc: svc, interval: interval, days: days, now: time.Now, log: log}
}

// Run reconciles once immediately and then on every tick until ctx is done.
func (r *Reconciler) Run(ctx context.Context) error {
	r.RunOnce(ctx)
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce reconciles every date in the window and returns the reports that
// found drift.  A failing date is logged and skipped.
func (r *Reconciler) RunOnce(ctx context.Context) []booking.Report {
	cal := r.svc.Calendar()
	start, _ := cal.ParseDate(cal.Today(r.now()))

	var drifted []booking.Report
	for i := 0; i <= r.days; i++ {
		if ctx.Err() != nil {
			break
		}
		date := start.AddDate(0, 0, i).Format(calendar.DateLayout)
		report, err := r.svc.Reconcile(ctx, date, true)
		if err != nil {
			r.log.Error("reconcile failed", zap.String("date", date), zap.Error(err))
			continue
		}
		if len(report.Discrepancies) == 0 {
			continue
		}
		for _, d := range report.Repaired {
			r.log.Warn("ledger drift repaired",
				zap.String("date", date),
				zap.String("slot", d.Slot),
				zap.Int("ledger", d.Ledger),
				zap.Int("records", d.Records))
		}
		for _, d := range report.Skipped {
			r.log.Info("ledger drift still moving; retrying next run",
				zap.String("date", date),
				zap.String("slot", d.Slot),
				zap.Int("ledger", d.Ledger),
				zap.Int("records", d.Records))
		}
		drifted = append(drifted, report)
	}
	return drifted
}
