package slots

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shorts-relay/internal/models"
)

type fakeQuotaStore struct {
	state    models.SchedulerRunState
	uploaded int64
	since    time.Time
}

func (f *fakeQuotaStore) GetRunState(_ context.Context) (*models.SchedulerRunState, error) {
	s := f.state
	return &s, nil
}

func (f *fakeQuotaStore) CountUploadedSince(_ context.Context, _ uint, since time.Time) (int64, error) {
	f.since = since
	return f.uploaded, nil
}

func TestGlobalRemaining(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	cfg := &models.GlobalConfig{SchedulerTimezone: "UTC", DefaultUploadsPerDay: 3}

	tests := []struct {
		name  string
		state models.SchedulerRunState
		want  int
	}{
		{"fresh day", models.SchedulerRunState{UploadsToday: 0, CounterDate: "2024-02-01"}, 3},
		{"partially used", models.SchedulerRunState{UploadsToday: 2, CounterDate: "2024-02-01"}, 1},
		{"exhausted", models.SchedulerRunState{UploadsToday: 3, CounterDate: "2024-02-01"}, 0},
		{"over cap floors at zero", models.SchedulerRunState{UploadsToday: 9, CounterDate: "2024-02-01"}, 0},
		{"stale counter date rolls over", models.SchedulerRunState{UploadsToday: 3, CounterDate: "2024-01-31"}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewQuota(&fakeQuotaStore{state: tt.state})
			got, err := q.GlobalRemaining(ctx, cfg, now)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGlobalRemainingUsesSchedulerTimezone(t *testing.T) {
	// 20:00 UTC on Feb 1 is already Feb 2 in Kolkata
	now := time.Date(2024, 2, 1, 20, 0, 0, 0, time.UTC)
	cfg := &models.GlobalConfig{SchedulerTimezone: "Asia/Kolkata", DefaultUploadsPerDay: 2}
	q := NewQuota(&fakeQuotaStore{state: models.SchedulerRunState{UploadsToday: 2, CounterDate: "2024-02-01"}})

	got, err := q.GlobalRemaining(context.Background(), cfg, now)
	require.NoError(t, err)
	assert.Equal(t, 2, got)
}

func TestMappingRemaining(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)
	cfg := &models.GlobalConfig{SchedulerTimezone: "UTC", DefaultUploadsPerDay: 5}

	store := &fakeQuotaStore{uploaded: 1}
	q := NewQuota(store)

	got, err := q.MappingRemaining(ctx, &models.Mapping{ID: 1, UploadsPerDay: 2}, cfg, now)
	require.NoError(t, err)
	assert.Equal(t, 1, got)
	assert.True(t, store.since.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)))

	got, err = q.MappingRemaining(ctx, &models.Mapping{ID: 1, UploadsPerDay: 0}, cfg, now)
	require.NoError(t, err)
	assert.Equal(t, 4, got)
}

func TestQuotaRejectsUnknownTimezone(t *testing.T) {
	q := NewQuota(&fakeQuotaStore{})
	_, err := q.GlobalRemaining(context.Background(), &models.GlobalConfig{SchedulerTimezone: "Nowhere/Land"}, time.Now())
	assert.Error(t, err)
}
