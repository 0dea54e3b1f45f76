package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shorts-relay/internal/models"
	"github.com/shorts-relay/internal/storage"
)

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := New(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	require.NoError(t, repo.Migrate())
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func pendingItem(videoID, source string, mappingID *uint) *models.ContentItem {
	return &models.ContentItem{
		VideoID:       videoID,
		VideoURL:      "https://www.youtube.com/shorts/" + videoID,
		Title:         "clip " + videoID,
		Status:        models.ContentStatusPending,
		MappingID:     mappingID,
		SourceChannel: source,
	}
}

func TestMigrateCreatesRunState(t *testing.T) {
	repo := newTestRepo(t)
	state, err := repo.GetRunState(context.Background())
	require.NoError(t, err)
	assert.False(t, state.IsRunning)
	assert.Zero(t, state.UploadsToday)

	// Migrate is idempotent
	require.NoError(t, repo.Migrate())
}

func TestGetItemNotFound(t *testing.T) {
	repo := newTestRepo(t)
	_, err := repo.GetItemByID(context.Background(), 42)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestOldestPendingForMappingOrdersByCreatedAt(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	mapping := &models.Mapping{SourceChannelID: "UC1", TargetChannelID: "UCdest", IsActive: true}
	require.NoError(t, repo.CreateMapping(ctx, mapping))

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := pendingItem("b", "UC1", &mapping.ID)
	newer.CreatedAt = base.Add(time.Hour)
	older := pendingItem("a", "UC1", &mapping.ID)
	older.CreatedAt = base
	require.NoError(t, repo.CreateItem(ctx, newer))
	require.NoError(t, repo.CreateItem(ctx, older))

	got, err := repo.OldestPendingForMapping(ctx, mapping.ID)
	require.NoError(t, err)
	assert.Equal(t, "a", got.VideoID)
}

func TestClaimItemFirstWriterWins(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	m1 := &models.Mapping{SourceChannelID: "UC1", TargetChannelID: "UCa", IsActive: true}
	m2 := &models.Mapping{SourceChannelID: "UC1", TargetChannelID: "UCb", IsActive: true}
	require.NoError(t, repo.CreateMapping(ctx, m1))
	require.NoError(t, repo.CreateMapping(ctx, m2))
	item := pendingItem("x", "UC1", nil)
	require.NoError(t, repo.CreateItem(ctx, item))

	var wg sync.WaitGroup
	results := make([]bool, 2)
	for i, m := range []*models.Mapping{m1, m2} {
		wg.Add(1)
		go func(i int, m *models.Mapping) {
			defer wg.Done()
			ok, err := repo.ClaimItem(ctx, item.ID, m.ID, m.TargetChannelID)
			assert.NoError(t, err)
			results[i] = ok
		}(i, m)
	}
	wg.Wait()

	assert.True(t, results[0] != results[1], "exactly one claim must win: %v", results)

	stored, err := repo.GetItemByID(ctx, item.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.MappingID)
	winner := m1
	if results[1] {
		winner = m2
	}
	assert.Equal(t, winner.ID, *stored.MappingID)
	assert.Equal(t, winner.TargetChannelID, stored.TargetChannel)
}

func TestClaimItemRejectsNonPending(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	item := pendingItem("x", "UC1", nil)
	item.Status = models.ContentStatusFailed
	require.NoError(t, repo.CreateItem(ctx, item))

	ok, err := repo.ClaimItem(ctx, item.ID, 7, "UCdest")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRunLockCompareAndSet(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	ok, err := repo.AcquireRunLock(ctx, "owner-a", now, 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.AcquireRunLock(ctx, "owner-b", now.Add(time.Minute), 10*time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "lock is held")

	// Releasing with the wrong owner is a no-op
	require.NoError(t, repo.ReleaseRunLock(ctx, "owner-b", now))
	state, err := repo.GetRunState(ctx)
	require.NoError(t, err)
	assert.True(t, state.IsRunning)
	assert.Equal(t, "owner-a", state.LockOwner)

	require.NoError(t, repo.ReleaseRunLock(ctx, "owner-a", now.Add(2*time.Minute)))
	state, err = repo.GetRunState(ctx)
	require.NoError(t, err)
	assert.False(t, state.IsRunning)
	require.NotNil(t, state.LastRunAt)

	ok, err = repo.AcquireRunLock(ctx, "owner-b", now.Add(3*time.Minute), 10*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRunLockExpiredLeaseCanBeTakenOver(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	ok, err := repo.AcquireRunLock(ctx, "crashed", now, 5*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = repo.AcquireRunLock(ctx, "fresh", now.Add(6*time.Minute), 5*time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIncrementUploadsRollsOverDate(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	require.NoError(t, repo.IncrementUploads(ctx, "2026-03-01"))
	require.NoError(t, repo.IncrementUploads(ctx, "2026-03-01"))
	state, err := repo.GetRunState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, state.UploadsOn("2026-03-01"))
	assert.Equal(t, 0, state.UploadsOn("2026-03-02"))

	require.NoError(t, repo.IncrementUploads(ctx, "2026-03-02"))
	state, err = repo.GetRunState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, state.UploadsToday)
	assert.Equal(t, "2026-03-02", state.CounterDate)

	require.NoError(t, repo.ResetDailyUploads(ctx, "2026-03-03"))
	state, err = repo.GetRunState(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, state.UploadsToday)
}

func TestListDuePublishes(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mk := func(videoID string, status models.ContentStatus, at *time.Time, target string) {
		item := pendingItem(videoID, "UC1", nil)
		item.Status = status
		item.ScheduledPublishAt = at
		item.TargetVideoID = target
		require.NoError(t, repo.CreateItem(ctx, item))
	}
	past := now.Add(-time.Hour)
	earlier := now.Add(-2 * time.Hour)
	future := now.Add(time.Hour)
	mk("due-late", models.ContentStatusUploaded, &past, "yt1")
	mk("due-early", models.ContentStatusUploaded, &earlier, "yt2")
	mk("future", models.ContentStatusUploaded, &future, "yt3")
	mk("no-target", models.ContentStatusUploaded, &past, "")
	mk("failed", models.ContentStatusFailed, &past, "yt4")
	mk("unscheduled", models.ContentStatusUploaded, nil, "yt5")

	due, err := repo.ListDuePublishes(ctx, now, 20)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "due-early", due[0].VideoID)
	assert.Equal(t, "due-late", due[1].VideoID)

	due, err = repo.ListDuePublishes(ctx, now, 1)
	require.NoError(t, err)
	assert.Len(t, due, 1)
}

func TestCountActiveMappingsForSourceMatchesIDOrURL(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	require.NoError(t, repo.CreateMapping(ctx, &models.Mapping{SourceChannelID: "UC1", TargetChannelID: "A", IsActive: true}))
	require.NoError(t, repo.CreateMapping(ctx, &models.Mapping{SourceChannelURL: "UC1", TargetChannelID: "B", IsActive: true}))
	require.NoError(t, repo.CreateMapping(ctx, &models.Mapping{SourceChannelID: "UC1", TargetChannelID: "C", IsActive: false}))

	count, err := repo.CountActiveMappingsForSource(ctx, "UC1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestDeleteMappingReleasesPendingItems(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	mapping := &models.Mapping{SourceChannelID: "UC1", TargetChannelID: "UCdest", IsActive: true}
	require.NoError(t, repo.CreateMapping(ctx, mapping))

	pending := pendingItem("p", "UC1", &mapping.ID)
	pending.TargetChannel = "UCdest"
	done := pendingItem("d", "UC1", &mapping.ID)
	done.Status = models.ContentStatusUploaded
	require.NoError(t, repo.CreateItem(ctx, pending))
	require.NoError(t, repo.CreateItem(ctx, done))

	require.NoError(t, repo.DeleteMapping(ctx, mapping.ID))

	got, err := repo.GetItemByID(ctx, pending.ID)
	require.NoError(t, err)
	assert.Nil(t, got.MappingID)
	assert.Empty(t, got.TargetChannel)

	got, err = repo.GetItemByID(ctx, done.ID)
	require.NoError(t, err)
	require.NotNil(t, got.MappingID)

	_, err = repo.GetMappingByID(ctx, mapping.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestDeleteItemRemovesActivity(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	item := pendingItem("x", "UC1", nil)
	require.NoError(t, repo.CreateItem(ctx, item))
	require.NoError(t, repo.AppendActivity(ctx, &models.ActivityLog{ContentItemID: &item.ID, Action: models.ActionDownload}))

	require.NoError(t, repo.DeleteItem(ctx, item.ID))

	logs, err := repo.ListActivity(ctx, &item.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, logs)
}

func TestEnsureGlobalConfigSeedsOnce(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	cfg, err := repo.EnsureGlobalConfig(ctx, &models.GlobalConfig{SchedulerTimezone: "Asia/Kolkata", DefaultUploadsPerDay: 3})
	require.NoError(t, err)
	assert.Equal(t, "Asia/Kolkata", cfg.SchedulerTimezone)

	cfg, err = repo.EnsureGlobalConfig(ctx, &models.GlobalConfig{SchedulerTimezone: "UTC"})
	require.NoError(t, err)
	assert.Equal(t, "Asia/Kolkata", cfg.SchedulerTimezone)
	assert.Equal(t, 3, cfg.DefaultUploadsPerDay)
}

func TestChannelTokenUpsert(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	require.NoError(t, repo.SaveChannelToken(ctx, &models.ChannelToken{ChannelID: "UCdest", AccessToken: "one"}))
	require.NoError(t, repo.SaveChannelToken(ctx, &models.ChannelToken{ChannelID: "UCdest", AccessToken: "two"}))

	token, err := repo.GetChannelToken(ctx, "UCdest")
	require.NoError(t, err)
	assert.Equal(t, "two", token.AccessToken)

	require.NoError(t, repo.DeleteChannelToken(ctx, "UCdest"))
	_, err = repo.GetChannelToken(ctx, "UCdest")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListRetryCandidatesAppliesBackoffInQuery(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	failedAt := func(videoID string, kind models.ErrorKind, retries int, updated time.Time) *models.ContentItem {
		item := pendingItem(videoID, "UC1", nil)
		item.Status = models.ContentStatusFailed
		item.ErrorKind = kind
		item.RetryCount = retries
		item.UpdatedAt = updated
		require.NoError(t, repo.CreateItem(ctx, item))
		return item
	}

	// older failures still backing off fill the first rows by updated_at
	failedAt("wait1", models.ErrorKindTransient, 1, now.Add(-50*time.Minute))
	failedAt("wait2", models.ErrorKindTransient, 1, now.Add(-45*time.Minute))
	failedAt("config", models.ErrorKindConfiguration, 0, now.Add(-48*time.Hour))
	failedAt("spent", models.ErrorKindTransient, 2, now.Add(-48*time.Hour))
	due := failedAt("due", models.ErrorKindTransient, 0, now.Add(-40*time.Minute))

	// 30m after the first failure, 60m after the second
	cutoffs := []time.Time{now.Add(-30 * time.Minute), now.Add(-60 * time.Minute)}
	items, err := repo.ListRetryCandidates(ctx, cutoffs, 2)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, due.ID, items[0].ID)

	items, err = repo.ListRetryCandidates(ctx, nil, 2)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestFailInFlightItems(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	statuses := []models.ContentStatus{
		models.ContentStatusPending,
		models.ContentStatusDownloaded,
		models.ContentStatusUploading,
		models.ContentStatusUploaded,
	}
	ids := make(map[models.ContentStatus]uint, len(statuses))
	for i, status := range statuses {
		item := pendingItem(string(rune('a'+i)), "UC1", nil)
		item.Status = status
		require.NoError(t, repo.CreateItem(ctx, item))
		ids[status] = item.ID
	}

	n, err := repo.FailInFlightItems(ctx, "interrupted")
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	for status, id := range ids {
		got, err := repo.GetItemByID(ctx, id)
		require.NoError(t, err)
		switch status {
		case models.ContentStatusDownloaded, models.ContentStatusUploading:
			assert.Equal(t, models.ContentStatusFailed, got.Status)
			assert.Equal(t, models.ErrorKindTransient, got.ErrorKind)
			assert.Equal(t, "interrupted", got.ErrorMessage)
		default:
			assert.Equal(t, status, got.Status)
		}
	}
}
