package cleanup

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shorts-relay/internal/models"
	"github.com/shorts-relay/internal/storage"
	"github.com/shorts-relay/internal/storage/sqlite"
	"github.com/shorts-relay/pkg/logger"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newRepo(t *testing.T) *sqlite.Repository {
	t.Helper()
	repo, err := sqlite.New(filepath.Join(t.TempDir(), "relay.db"))
	require.NoError(t, err)
	require.NoError(t, repo.Migrate())
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func uploaded(t *testing.T, repo *sqlite.Repository, videoID, source string, age time.Duration) *models.ContentItem {
	t.Helper()
	at := now.Add(-age)
	item := &models.ContentItem{
		VideoID:       videoID,
		VideoURL:      "https://www.youtube.com/shorts/" + videoID,
		Status:        models.ContentStatusUploaded,
		SourceChannel: source,
		TargetVideoID: "yt-" + videoID,
		UploadedAt:    &at,
	}
	require.NoError(t, repo.CreateItem(context.Background(), item))
	return item
}

func mapping(t *testing.T, repo *sqlite.Repository, id, url, target string, active bool) {
	t.Helper()
	m := &models.Mapping{SourceChannelID: id, SourceChannelURL: url, TargetChannelID: target, IsActive: active}
	require.NoError(t, repo.CreateMapping(context.Background(), m))
}

func TestCleanupDeletesOldSingleDestinationItems(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	mapping(t, repo, "UC1", "", "UCa", true)

	old := uploaded(t, repo, "old", "UC1", 96*time.Hour)
	fresh := uploaded(t, repo, "fresh", "UC1", time.Hour)
	require.NoError(t, repo.AppendActivity(ctx, &models.ActivityLog{ContentItemID: &old.ID, Action: models.ActionUpload}))

	res, err := NewEngine(repo, logger.Nop()).WithClock(func() time.Time { return now }).Run(ctx, 72*time.Hour, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Candidates)
	assert.Equal(t, 1, res.Deleted)

	_, err = repo.GetItemByID(ctx, old.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	logs, err := repo.ListActivity(ctx, &old.ID, 0)
	require.NoError(t, err)
	assert.Empty(t, logs)

	_, err = repo.GetItemByID(ctx, fresh.ID)
	assert.NoError(t, err)
}

func TestCleanupKeepsFannedOutSources(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	mapping(t, repo, "UCshared", "", "UCa", true)
	mapping(t, repo, "", "UCshared", "UCb", true)
	mapping(t, repo, "UCpaused", "", "UCa", true)
	mapping(t, repo, "UCpaused", "", "UCb", false)

	shared := uploaded(t, repo, "shared", "UCshared", 100*time.Hour)
	paused := uploaded(t, repo, "paused", "UCpaused", 100*time.Hour)
	orphan := uploaded(t, repo, "orphan", "UCgone", 100*time.Hour)

	res, err := NewEngine(repo, logger.Nop()).WithClock(func() time.Time { return now }).Run(ctx, 72*time.Hour, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Candidates)
	assert.Equal(t, 1, res.Kept)
	assert.Equal(t, 2, res.Deleted)

	_, err = repo.GetItemByID(ctx, shared.ID)
	assert.NoError(t, err)
	_, err = repo.GetItemByID(ctx, paused.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = repo.GetItemByID(ctx, orphan.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCleanupIgnoresNonUploadedAndRespectsLimit(t *testing.T) {
	ctx := context.Background()
	repo := newRepo(t)
	failed := &models.ContentItem{VideoID: "f", VideoURL: "u", Status: models.ContentStatusFailed, SourceChannel: "UC1"}
	require.NoError(t, repo.CreateItem(ctx, failed))
	oldest := uploaded(t, repo, "a", "UC1", 300*time.Hour)
	uploaded(t, repo, "b", "UC1", 200*time.Hour)

	res, err := NewEngine(repo, logger.Nop()).WithClock(func() time.Time { return now }).Run(ctx, 72*time.Hour, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)

	_, err = repo.GetItemByID(ctx, oldest.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = repo.GetItemByID(ctx, failed.ID)
	assert.NoError(t, err)
}
