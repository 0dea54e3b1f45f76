package slots

import (
	"context"
	"fmt"
	"time"

	"github.com/shorts-relay/internal/models"
)

// QuotaStore is the storage needed for quota arithmetic
type QuotaStore interface {
	GetRunState(ctx context.Context) (*models.SchedulerRunState, error)
	CountUploadedSince(ctx context.Context, mappingID uint, since time.Time) (int64, error)
}

// Quota computes remaining daily uploads per scope
type Quota struct {
	store QuotaStore
}

// NewQuota creates a quota calculator
func NewQuota(store QuotaStore) *Quota {
	return &Quota{store: store}
}

// GlobalRemaining returns uploads left today for the global scope.
// The counter resets at local midnight in the scheduler timezone.
func (q *Quota) GlobalRemaining(ctx context.Context, cfg *models.GlobalConfig, now time.Time) (int, error) {
	local, err := ResolveTimeInZone(now, cfg.SchedulerTimezone)
	if err != nil {
		return 0, err
	}
	state, err := q.store.GetRunState(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read run state: %w", err)
	}
	return remaining(cfg.DefaultUploadsPerDay, state.UploadsOn(local.Date)), nil
}

// MappingRemaining returns uploads left today for a mapping, counted from its
// uploads since local midnight. A mapping without a positive cap inherits the global one.
func (q *Quota) MappingRemaining(ctx context.Context, m *models.Mapping, cfg *models.GlobalConfig, now time.Time) (int, error) {
	local, err := ResolveTimeInZone(now, cfg.SchedulerTimezone)
	if err != nil {
		return 0, err
	}
	used, err := q.store.CountUploadedSince(ctx, m.ID, local.StartOfDay())
	if err != nil {
		return 0, fmt.Errorf("failed to count mapping uploads: %w", err)
	}
	limit := m.UploadsPerDay
	if limit <= 0 {
		limit = cfg.DefaultUploadsPerDay
	}
	return remaining(limit, int(used)), nil
}

func remaining(limit, used int) int {
	if left := limit - used; left > 0 {
		return left
	}
	return 0
}
