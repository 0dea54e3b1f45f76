package uploader

import (
	"context"
	"fmt"
	"time"

	"github.com/shorts-relay/internal/config"
	"github.com/shorts-relay/internal/models"
)

// RetryPolicy bounds automatic re-queueing of failed items
type RetryPolicy struct {
	MaxAttempts int           // 0 disables automatic retry
	BaseBackoff time.Duration // doubled per previous attempt
	Limit       int
}

// PolicyFromConfig builds a retry policy from configuration
func PolicyFromConfig(c config.RetryConfig) RetryPolicy {
	return RetryPolicy{MaxAttempts: c.MaxAttempts, BaseBackoff: c.BaseBackoff, Limit: c.Batch}
}

// Enabled reports whether automatic retry is switched on
func (p RetryPolicy) Enabled() bool {
	return p.MaxAttempts > 0
}

// Backoff returns how long an item that already retried n times waits before the next attempt
func (p RetryPolicy) Backoff(n int) time.Duration {
	if n > 16 {
		n = 16
	}
	return p.BaseBackoff << uint(n)
}

// Cutoffs returns, per previous attempt count, the newest failure time whose backoff has elapsed at now
func (p RetryPolicy) Cutoffs(now time.Time) []time.Time {
	cutoffs := make([]time.Time, p.MaxAttempts)
	for n := range cutoffs {
		cutoffs[n] = now.Add(-p.Backoff(n))
	}
	return cutoffs
}

// RetryFailed moves eligible transiently failed items back to Pending.
// Configuration and validation failures are never retried automatically.
func (a *Agent) RetryFailed(ctx context.Context, policy RetryPolicy) (int, error) {
	if !policy.Enabled() {
		return 0, nil
	}
	limit := policy.Limit
	if limit <= 0 {
		limit = 20
	}

	candidates, err := a.repository.ListRetryCandidates(ctx, policy.Cutoffs(a.now()), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list retry candidates: %w", err)
	}

	requeued := 0
	for _, item := range candidates {
		if err := a.requeue(ctx, item, fmt.Sprintf("automatic retry %d/%d", item.RetryCount+1, policy.MaxAttempts)); err != nil {
			a.log.WithItemID(item.ID).Error().Err(err).Msg("Failed to re-queue item")
			continue
		}
		requeued++
	}

	if requeued > 0 {
		a.log.Info().Int("count", requeued).Msg("Re-queued failed items")
	}
	return requeued, nil
}

// RetryItem re-queues one failed item on operator request, whatever its error kind
func (a *Agent) RetryItem(ctx context.Context, id uint) error {
	item, err := a.repository.GetItemByID(ctx, id)
	if err != nil {
		return fmt.Errorf("item not found: %w", err)
	}
	return a.requeue(ctx, item, "manual retry")
}

func (a *Agent) requeue(ctx context.Context, item *models.ContentItem, reason string) error {
	previous := item.ErrorMessage
	if err := item.Transition(models.ContentStatusPending); err != nil {
		return err
	}
	item.RetryCount++
	item.ErrorMessage = ""
	item.ErrorKind = models.ErrorKindNone
	if err := a.repository.UpdateItem(ctx, item); err != nil {
		return fmt.Errorf("failed to persist retry: %w", err)
	}
	a.record(ctx, item, models.ActionRetry, "ok", fmt.Sprintf("%s after: %s", reason, previous))
	return nil
}
