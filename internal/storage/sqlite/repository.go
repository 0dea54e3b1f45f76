package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/shorts-relay/internal/models"
	"github.com/shorts-relay/internal/storage"
)

const defaultPragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

// Repository implements storage.Repository using SQLite
type Repository struct {
	db *gorm.DB
}

// New creates a new SQLite repository
func New(dsn string) (*Repository, error) {
	// Ensure directory exists
	path := dsn
	if i := strings.Index(path, "?"); i >= 0 {
		path = path[:i]
	}
	dir := filepath.Dir(strings.TrimPrefix(path, "file:"))
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	if !strings.Contains(dsn, "?") {
		dsn += "?" + defaultPragmas
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite has a single writer; one connection keeps conditional updates serialized
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database handle: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)

	return &Repository{db: db}, nil
}

// Migrate runs database migrations and creates the singleton rows
func (r *Repository) Migrate() error {
	if err := r.db.AutoMigrate(
		&models.ContentItem{},
		&models.Mapping{},
		&models.SchedulerRunState{},
		&models.GlobalConfig{},
		&models.ActivityLog{},
		&models.ChannelToken{},
	); err != nil {
		return err
	}

	var state models.SchedulerRunState
	return r.db.Where(models.SchedulerRunState{ID: models.RunStateID}).FirstOrCreate(&state).Error
}

// Close closes the database connection
func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return storage.ErrNotFound
	}
	return err
}

// Content item operations

func (r *Repository) CreateItem(ctx context.Context, item *models.ContentItem) error {
	return r.db.WithContext(ctx).Create(item).Error
}

func (r *Repository) GetItemByID(ctx context.Context, id uint) (*models.ContentItem, error) {
	var item models.ContentItem
	if err := r.db.WithContext(ctx).First(&item, id).Error; err != nil {
		return nil, translate(err)
	}
	return &item, nil
}

func (r *Repository) FindItemByVideo(ctx context.Context, videoID string, mappingID *uint) (*models.ContentItem, error) {
	var item models.ContentItem
	query := r.db.WithContext(ctx).Where("video_id = ?", videoID)
	if mappingID == nil {
		query = query.Where("mapping_id IS NULL")
	} else {
		query = query.Where("mapping_id = ?", *mappingID)
	}
	if err := query.First(&item).Error; err != nil {
		return nil, translate(err)
	}
	return &item, nil
}

func (r *Repository) ListItems(ctx context.Context, filter storage.ItemFilter) ([]*models.ContentItem, error) {
	var items []*models.ContentItem
	query := r.db.WithContext(ctx).Model(&models.ContentItem{})

	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}
	if filter.MappingID != nil {
		query = query.Where("mapping_id = ?", *filter.MappingID)
	}

	// Ordering
	orderCol := "created_at"
	if filter.OrderBy != "" {
		orderCol = filter.OrderBy
	}
	if filter.OrderDesc {
		query = query.Order(orderCol + " DESC")
	} else {
		query = query.Order(orderCol + " ASC")
	}

	// Pagination
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	if err := query.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *Repository) UpdateItem(ctx context.Context, item *models.ContentItem) error {
	return r.db.WithContext(ctx).Save(item).Error
}

func (r *Repository) DeleteItem(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("content_item_id = ?", id).Delete(&models.ActivityLog{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.ContentItem{}, id).Error
	})
}

func (r *Repository) OldestPendingForMapping(ctx context.Context, mappingID uint) (*models.ContentItem, error) {
	var item models.ContentItem
	err := r.db.WithContext(ctx).
		Where("status = ? AND mapping_id = ?", models.ContentStatusPending, mappingID).
		Order("created_at ASC, id ASC").
		First(&item).Error
	if err != nil {
		return nil, translate(err)
	}
	return &item, nil
}

func (r *Repository) ListUnmappedPending(ctx context.Context, sources []string, limit int) ([]*models.ContentItem, error) {
	var items []*models.ContentItem
	query := r.db.WithContext(ctx).
		Where("status = ? AND mapping_id IS NULL", models.ContentStatusPending)
	if len(sources) > 0 {
		query = query.Where("source_channel IN ?", sources)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Order("created_at ASC, id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// notQueuedFor excludes items whose video the mapping already has
const notQueuedFor = "NOT EXISTS (SELECT 1 FROM content_items AS dup WHERE dup.video_id = content_items.video_id AND dup.mapping_id = ?)"

func (r *Repository) ListClaimCandidates(ctx context.Context, mappingID uint, sources []string, limit int) ([]*models.ContentItem, error) {
	var items []*models.ContentItem
	query := r.db.WithContext(ctx).
		Where("status = ? AND mapping_id IS NULL", models.ContentStatusPending).
		Where("source_channel IN ?", sources).
		Where(notQueuedFor, mappingID)
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Order("created_at ASC, id ASC").Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *Repository) ClaimItem(ctx context.Context, itemID, mappingID uint, targetChannel string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.ContentItem{}).
		Where("id = ? AND status = ? AND mapping_id IS NULL", itemID, models.ContentStatusPending).
		Where(notQueuedFor, mappingID).
		Updates(map[string]interface{}{
			"mapping_id":     mappingID,
			"target_channel": targetChannel,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *Repository) ListDuePublishes(ctx context.Context, now time.Time, limit int) ([]*models.ContentItem, error) {
	var items []*models.ContentItem
	err := r.db.WithContext(ctx).
		Where("status = ? AND scheduled_date IS NOT NULL AND scheduled_date <= ?", models.ContentStatusUploaded, now.UTC()).
		Where("target_video_id IS NOT NULL AND target_video_id <> ''").
		Order("scheduled_date ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *Repository) ListUploadedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.ContentItem, error) {
	var items []*models.ContentItem
	err := r.db.WithContext(ctx).
		Where("status = ? AND uploaded_date IS NOT NULL AND uploaded_date <= ?", models.ContentStatusUploaded, cutoff.UTC()).
		Order("uploaded_date ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *Repository) CountUploadedSince(ctx context.Context, mappingID uint, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ContentItem{}).
		Where("mapping_id = ? AND status = ? AND uploaded_date >= ?", mappingID, models.ContentStatusUploaded, since.UTC()).
		Count(&count).Error
	return count, err
}

func (r *Repository) ListRetryCandidates(ctx context.Context, cutoffs []time.Time, limit int) ([]*models.ContentItem, error) {
	if len(cutoffs) == 0 {
		return nil, nil
	}
	due := r.db.Where("retry_count = ? AND updated_at <= ?", 0, cutoffs[0].UTC())
	for n := 1; n < len(cutoffs); n++ {
		due = due.Or("retry_count = ? AND updated_at <= ?", n, cutoffs[n].UTC())
	}

	var items []*models.ContentItem
	err := r.db.WithContext(ctx).
		Where("status = ? AND error_kind = ?", models.ContentStatusFailed, models.ErrorKindTransient).
		Where(due).
		Order("updated_at ASC").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *Repository) FailInFlightItems(ctx context.Context, msg string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&models.ContentItem{}).
		Where("status IN ?", []models.ContentStatus{models.ContentStatusDownloaded, models.ContentStatusUploading}).
		Updates(map[string]interface{}{
			"status":        models.ContentStatusFailed,
			"error_kind":    models.ErrorKindTransient,
			"error_message": msg,
		})
	return res.RowsAffected, res.Error
}

// Mapping operations

func (r *Repository) CreateMapping(ctx context.Context, mapping *models.Mapping) error {
	return r.db.WithContext(ctx).Create(mapping).Error
}

func (r *Repository) GetMappingByID(ctx context.Context, id uint) (*models.Mapping, error) {
	var mapping models.Mapping
	if err := r.db.WithContext(ctx).First(&mapping, id).Error; err != nil {
		return nil, translate(err)
	}
	return &mapping, nil
}

func (r *Repository) ListMappings(ctx context.Context, activeOnly bool) ([]*models.Mapping, error) {
	var mappings []*models.Mapping
	query := r.db.WithContext(ctx).Order("id ASC")
	if activeOnly {
		query = query.Where("is_active = ?", true)
	}
	if err := query.Find(&mappings).Error; err != nil {
		return nil, err
	}
	return mappings, nil
}

func (r *Repository) UpdateMapping(ctx context.Context, mapping *models.Mapping) error {
	return r.db.WithContext(ctx).Save(mapping).Error
}

func (r *Repository) DeleteMapping(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Model(&models.ContentItem{}).
			Where("mapping_id = ? AND status = ?", id, models.ContentStatusPending).
			Updates(map[string]interface{}{"mapping_id": nil, "target_channel": ""}).Error
		if err != nil {
			return err
		}
		return tx.Delete(&models.Mapping{}, id).Error
	})
}

func (r *Repository) ActiveSourceIdentities(ctx context.Context) (map[string]struct{}, error) {
	mappings, err := r.ListMappings(ctx, true)
	if err != nil {
		return nil, err
	}
	owned := make(map[string]struct{}, len(mappings)*2)
	for _, m := range mappings {
		for _, id := range m.SourceIdentities() {
			owned[id] = struct{}{}
		}
	}
	return owned, nil
}

func (r *Repository) CountActiveMappingsForSource(ctx context.Context, identity string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Mapping{}).
		Where("is_active = ? AND (source_channel_id = ? OR source_channel_url = ?)", true, identity, identity).
		Count(&count).Error
	return count, err
}

// Run state operations

func (r *Repository) GetRunState(ctx context.Context) (*models.SchedulerRunState, error) {
	var state models.SchedulerRunState
	if err := r.db.WithContext(ctx).First(&state, models.RunStateID).Error; err != nil {
		return nil, translate(err)
	}
	return &state, nil
}

func (r *Repository) AcquireRunLock(ctx context.Context, owner string, now time.Time, lease time.Duration) (bool, error) {
	now = now.UTC()
	res := r.db.WithContext(ctx).Model(&models.SchedulerRunState{}).
		Where("id = ?", models.RunStateID).
		Where("(is_running = ? OR lease_expires_at IS NULL OR lease_expires_at < ?)", false, now).
		Updates(map[string]interface{}{
			"is_running":       true,
			"lock_owner":       owner,
			"locked_at":        now,
			"lease_expires_at": now.Add(lease),
			"version":          gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *Repository) ReleaseRunLock(ctx context.Context, owner string, now time.Time) error {
	return r.db.WithContext(ctx).Model(&models.SchedulerRunState{}).
		Where("id = ? AND lock_owner = ?", models.RunStateID, owner).
		Updates(map[string]interface{}{
			"is_running":       false,
			"lock_owner":       "",
			"lease_expires_at": nil,
			"last_run_at":      now.UTC(),
			"version":          gorm.Expr("version + 1"),
		}).Error
}

func (r *Repository) SetRunStatus(ctx context.Context, status string) error {
	return r.db.WithContext(ctx).Model(&models.SchedulerRunState{}).
		Where("id = ?", models.RunStateID).
		Update("current_status", status).Error
}

func (r *Repository) IncrementUploads(ctx context.Context, date string) error {
	res := r.db.WithContext(ctx).Model(&models.SchedulerRunState{}).
		Where("id = ? AND counter_date = ?", models.RunStateID, date).
		Updates(map[string]interface{}{
			"uploads_today": gorm.Expr("uploads_today + 1"),
			"version":       gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	// Counter still stamped with a previous day
	return r.db.WithContext(ctx).Model(&models.SchedulerRunState{}).
		Where("id = ? AND counter_date <> ?", models.RunStateID, date).
		Updates(map[string]interface{}{
			"uploads_today": 1,
			"counter_date":  date,
			"version":       gorm.Expr("version + 1"),
		}).Error
}

func (r *Repository) ResetDailyUploads(ctx context.Context, date string) error {
	return r.db.WithContext(ctx).Model(&models.SchedulerRunState{}).
		Where("id = ?", models.RunStateID).
		Updates(map[string]interface{}{
			"uploads_today": 0,
			"counter_date":  date,
			"version":       gorm.Expr("version + 1"),
		}).Error
}

// Activity operations

func (r *Repository) AppendActivity(ctx context.Context, entry *models.ActivityLog) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *Repository) ListActivity(ctx context.Context, itemID *uint, limit int) ([]*models.ActivityLog, error) {
	var entries []*models.ActivityLog
	query := r.db.WithContext(ctx).Order("id DESC")
	if itemID != nil {
		query = query.Where("content_item_id = ?", *itemID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// Global config operations

func (r *Repository) GetGlobalConfig(ctx context.Context) (*models.GlobalConfig, error) {
	var cfg models.GlobalConfig
	if err := r.db.WithContext(ctx).First(&cfg, models.GlobalConfigID).Error; err != nil {
		return nil, translate(err)
	}
	return &cfg, nil
}

func (r *Repository) SaveGlobalConfig(ctx context.Context, cfg *models.GlobalConfig) error {
	cfg.ID = models.GlobalConfigID
	return r.db.WithContext(ctx).Save(cfg).Error
}

func (r *Repository) EnsureGlobalConfig(ctx context.Context, seed *models.GlobalConfig) (*models.GlobalConfig, error) {
	cfg, err := r.GetGlobalConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	seed.ID = models.GlobalConfigID
	if err := r.db.WithContext(ctx).Create(seed).Error; err != nil {
		return nil, err
	}
	return seed, nil
}

// Channel token operations

func (r *Repository) SaveChannelToken(ctx context.Context, token *models.ChannelToken) error {
	// Upsert - update if exists, create if not
	var existing models.ChannelToken
	if err := r.db.WithContext(ctx).Where("channel_id = ?", token.ChannelID).First(&existing).Error; err == nil {
		token.ID = existing.ID
	}
	return r.db.WithContext(ctx).Save(token).Error
}

func (r *Repository) GetChannelToken(ctx context.Context, channelID string) (*models.ChannelToken, error) {
	var token models.ChannelToken
	if err := r.db.WithContext(ctx).Where("channel_id = ?", channelID).First(&token).Error; err != nil {
		return nil, translate(err)
	}
	return &token, nil
}

func (r *Repository) DeleteChannelToken(ctx context.Context, channelID string) error {
	return r.db.WithContext(ctx).Where("channel_id = ?", channelID).Delete(&models.ChannelToken{}).Error
}

var _ storage.Repository = (*Repository)(nil)
