package worker

import (
	"context"
	"log/slog"
	"time"
)

const (
	TaskExpireLapsed            = "expire_lapsed"
	TaskAbandonExpiredCheckouts = "abandon_expired_checkouts"
)

// LapsedExpirer moves ended subscriptions into their grace period.
type LapsedExpirer interface {
	ExpireLapsed(ctx context.Context) (int64, error)
}

// CheckoutSweeper releases payment sessions that were never completed.
type CheckoutSweeper interface {
	AbandonExpiredCheckouts(ctx context.Context, now time.Time) (int64, error)
}

// RegisterSweepTasks registers the subscription expiry and checkout cleanup
// tasks. Either dependency may be nil to skip its task.
func RegisterSweepTasks(w *Worker, subs LapsedExpirer, checkouts CheckoutSweeper, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if subs != nil {
		w.Register(TaskExpireLapsed, func(ctx context.Context) error {
			_, err := subs.ExpireLapsed(ctx)
			return err
		})
	}
	if checkouts != nil {
		w.Register(TaskAbandonExpiredCheckouts, func(ctx context.Context) error {
			n, err := checkouts.AbandonExpiredCheckouts(ctx, time.Now())
			if err != nil {
				return err
			}
			if n > 0 {
				logger.Info("expired checkouts abandoned", "count", n)
			}
			return nil
		})
	}
}

// SweepInstrumentation logs every finished sweep run together with the
// worker's running totals.
func SweepInstrumentation(w *Worker, logger *slog.Logger) *Instrumentation {
	if logger == nil {
		logger = slog.Default()
	}
	totals := func() []any {
		stats := w.GetStats()
		return []any{
			"runs_started", stats.RunsStarted,
			"runs_succeeded", stats.RunsSucceeded,
			"runs_failed", stats.RunsFailed,
		}
	}
	return &Instrumentation{
		OnComplete: func(task string, d time.Duration) {
			logger.Info("sweep task completed", append([]any{"task", task, "duration", d}, totals()...)...)
		},
		OnFail: func(task string, err error, d time.Duration) {
			logger.Warn("sweep task failed", append([]any{"task", task, "duration", d, "error", err}, totals()...)...)
		},
	}
}
