package scheduler

import (
	"context"
	"errors"

	paymentdomain "github.com/smallbiznis/storefront/internal/payment/domain"
	storedb "github.com/smallbiznis/storefront/pkg/db"
	"go.uber.org/zap"
)

// WebhookRecoveryJob re-runs failed deliveries whose signature verified, such
// as a capture that arrived before its order existed. Each pass bumps the
// event's attempts and updated_at, so a batch never returns the same event.
func (s *Scheduler) WebhookRecoveryJob(ctx context.Context) error {
	run := s.runFrom(ctx)
	cutoff := s.clock.Now().Add(-s.cfg.RetryAfter)
	var jobErr error

	for {
		if err := ctx.Err(); err != nil {
			return errors.Join(jobErr, err)
		}

		events, err := s.events.ListRecoverable(ctx, s.db, paymentdomain.RecoveryFilter{
			UpdatedBefore: cutoff,
			MaxAttempts:   s.cfg.MaxAttempts,
			Limit:         s.cfg.BatchSize,
		})
		if err != nil {
			return errors.Join(jobErr, storedb.StorageFailure("list recoverable webhook events", err))
		}
		if len(events) == 0 {
			return jobErr
		}

		progressed := false
		for _, event := range events {
			res, err := s.webhooks.Retry(ctx, event.ID.String())
			switch {
			case errors.Is(err, paymentdomain.ErrRetryInProgress):
				s.metrics.AddProcessed(JobWebhookRecovery, "skipped", 1)
				continue
			case err != nil:
				jobErr = errors.Join(jobErr, err)
				s.metrics.AddProcessed(JobWebhookRecovery, "error", 1)
				run.fail("scheduler.webhook.retry.failed", err, zap.String("event_id", event.ID.String()))
				// The event was not touched, so stop rather than refetch it.
				return jobErr
			}

			progressed = true
			run.done(1)
			s.metrics.AddProcessed(JobWebhookRecovery, string(res.Status), 1)
			run.log.Info("scheduler.webhook.retried",
				zap.String("event_id", event.ID.String()),
				zap.String("provider", event.Provider),
				zap.Int("previous_attempts", event.Attempts),
				zap.String("status", string(res.Status)),
			)
		}

		if !progressed || len(events) < s.cfg.BatchSize {
			return jobErr
		}
	}
}
