package storage

import (
	"context"
	"errors"
	"time"

	"github.com/shorts-relay/internal/models"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("record not found")

// Repository defines the interface for data persistence
type Repository interface {
	ItemStore
	MappingStore
	RunStateStore
	ActivityStore

	// Global config operations
	GetGlobalConfig(ctx context.Context) (*models.GlobalConfig, error)
	SaveGlobalConfig(ctx context.Context, cfg *models.GlobalConfig) error
	EnsureGlobalConfig(ctx context.Context, seed *models.GlobalConfig) (*models.GlobalConfig, error)

	// Channel token operations
	SaveChannelToken(ctx context.Context, token *models.ChannelToken) error
	GetChannelToken(ctx context.Context, channelID string) (*models.ChannelToken, error)
	DeleteChannelToken(ctx context.Context, channelID string) error

	// Maintenance
	Close() error
	Migrate() error
}

// ItemStore holds content item operations
type ItemStore interface {
	CreateItem(ctx context.Context, item *models.ContentItem) error
	GetItemByID(ctx context.Context, id uint) (*models.ContentItem, error)
	FindItemByVideo(ctx context.Context, videoID string, mappingID *uint) (*models.ContentItem, error)
	ListItems(ctx context.Context, filter ItemFilter) ([]*models.ContentItem, error)
	UpdateItem(ctx context.Context, item *models.ContentItem) error
	// DeleteItem removes the item together with its activity logs
	DeleteItem(ctx context.Context, id uint) error

	// OldestPendingForMapping returns ErrNotFound when the mapping has no pending item
	OldestPendingForMapping(ctx context.Context, mappingID uint) (*models.ContentItem, error)
	// ListUnmappedPending returns unmapped pending items oldest first.
	// A non-empty sources slice restricts the result to those source identities.
	ListUnmappedPending(ctx context.Context, sources []string, limit int) ([]*models.ContentItem, error)
	// ListClaimCandidates returns unmapped pending items of the given sources, oldest first,
	// leaving out videos the mapping already holds
	ListClaimCandidates(ctx context.Context, mappingID uint, sources []string, limit int) ([]*models.ContentItem, error)
	// ClaimItem assigns an unmapped pending item to a mapping.
	// It returns false when another writer claimed or advanced the item first,
	// or when the mapping already holds the same video.
	ClaimItem(ctx context.Context, itemID, mappingID uint, targetChannel string) (bool, error)

	ListDuePublishes(ctx context.Context, now time.Time, limit int) ([]*models.ContentItem, error)
	ListUploadedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*models.ContentItem, error)
	CountUploadedSince(ctx context.Context, mappingID uint, since time.Time) (int64, error)
	// ListRetryCandidates returns transiently failed items whose backoff elapsed.
	// cutoffs[n] is the newest updated_at still eligible for an item that retried n times;
	// items that retried len(cutoffs) times or more are never returned.
	ListRetryCandidates(ctx context.Context, cutoffs []time.Time, limit int) ([]*models.ContentItem, error)
	// FailInFlightItems marks every Downloaded or Uploading item as transiently failed.
	// Only a run lock holder may call it: no other pass can be in flight then.
	FailInFlightItems(ctx context.Context, msg string) (int64, error)
}

// MappingStore holds mapping operations
type MappingStore interface {
	CreateMapping(ctx context.Context, mapping *models.Mapping) error
	GetMappingByID(ctx context.Context, id uint) (*models.Mapping, error)
	ListMappings(ctx context.Context, activeOnly bool) ([]*models.Mapping, error)
	UpdateMapping(ctx context.Context, mapping *models.Mapping) error
	// DeleteMapping releases the mapping's pending items back to the global pool
	DeleteMapping(ctx context.Context, id uint) error
	ActiveSourceIdentities(ctx context.Context) (map[string]struct{}, error)
	CountActiveMappingsForSource(ctx context.Context, identity string) (int64, error)
}

// RunStateStore holds the durable scheduler run state operations
type RunStateStore interface {
	GetRunState(ctx context.Context) (*models.SchedulerRunState, error)
	// AcquireRunLock is a compare-and-set: it succeeds only if the lock is free or its lease expired
	AcquireRunLock(ctx context.Context, owner string, now time.Time, lease time.Duration) (bool, error)
	ReleaseRunLock(ctx context.Context, owner string, now time.Time) error
	SetRunStatus(ctx context.Context, status string) error
	// IncrementUploads bumps the counter for the given local date, rolling it over if the date changed
	IncrementUploads(ctx context.Context, date string) error
	ResetDailyUploads(ctx context.Context, date string) error
}

// ActivityStore holds activity log operations
type ActivityStore interface {
	AppendActivity(ctx context.Context, entry *models.ActivityLog) error
	ListActivity(ctx context.Context, itemID *uint, limit int) ([]*models.ActivityLog, error)
}

// ItemFilter defines filtering options for content items
type ItemFilter struct {
	Status    *models.ContentStatus
	MappingID *uint
	Limit     int
	Offset    int
	OrderBy   string
	OrderDesc bool
}

// DefaultItemFilter returns a filter with sensible defaults
func DefaultItemFilter() ItemFilter {
	return ItemFilter{
		Limit:     50,
		OrderBy:   "created_at",
		OrderDesc: true,
	}
}
