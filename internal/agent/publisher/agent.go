package publisher

import (
	"context"
	"fmt"
	"time"

	"github.com/shorts-relay/internal/config"
	"github.com/shorts-relay/internal/metrics"
	"github.com/shorts-relay/internal/models"
	"github.com/shorts-relay/internal/platform"
	"github.com/shorts-relay/internal/storage"
	"github.com/shorts-relay/pkg/logger"
)

// DefaultLimit bounds one publish pass
const DefaultLimit = 20

// DefaultBackoff is how long a failed visibility flip waits before the next attempt
const DefaultBackoff = 15 * time.Minute

// Agent flips uploaded-but-unlisted items to public once their scheduled time arrives
type Agent struct {
	repository  storage.Repository
	visibility  platform.VisibilityUpdater
	credentials platform.CredentialResolver
	tracker     platform.UploadTracker
	backoff     time.Duration
	limit       int
	now         func() time.Time
	log         *logger.Logger
}

// Option configures an Agent
type Option func(*Agent)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// WithTracker mirrors published items to an upload tracker
func WithTracker(tracker platform.UploadTracker) Option {
	return func(a *Agent) { a.tracker = tracker }
}

// NewAgent creates a new publisher agent
func NewAgent(
	repository storage.Repository,
	visibility platform.VisibilityUpdater,
	credentials platform.CredentialResolver,
	pipelineConfig config.PipelineConfig,
	log *logger.Logger,
	opts ...Option,
) *Agent {
	a := &Agent{
		repository:  repository,
		visibility:  visibility,
		credentials: credentials,
		backoff:     pipelineConfig.PublishBackoff,
		limit:       pipelineConfig.PublishBatch,
		now:         time.Now,
		log:         log.WithComponent("publisher"),
	}
	if a.backoff <= 0 {
		a.backoff = DefaultBackoff
	}
	if a.limit <= 0 {
		a.limit = DefaultLimit
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// PublishResult contains the result of a publish pass
type PublishResult struct {
	Due       int
	Published int
	Deferred  int
	Errors    []error
}

// PublishDue promotes due items to public. A failed flip never fails the item:
// the upload already succeeded, so the flip is rescheduled after the backoff.
func (a *Agent) PublishDue(ctx context.Context, limit int) (*PublishResult, error) {
	if limit <= 0 {
		limit = a.limit
	}
	items, err := a.repository.ListDuePublishes(ctx, a.now(), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list due publishes: %w", err)
	}

	result := &PublishResult{Due: len(items)}
	for _, item := range items {
		if err := a.publish(ctx, item); err != nil {
			result.Deferred++
			result.Errors = append(result.Errors, fmt.Errorf("item %d: %w", item.ID, err))
			continue
		}
		result.Published++
	}

	if result.Due > 0 {
		a.log.Info().
			Int("due", result.Due).
			Int("published", result.Published).
			Int("deferred", result.Deferred).
			Msg("Publish pass finished")
	}
	return result, nil
}

// Publish promotes one uploaded item to public immediately
func (a *Agent) Publish(ctx context.Context, itemID uint) error {
	item, err := a.repository.GetItemByID(ctx, itemID)
	if err != nil {
		return fmt.Errorf("item not found: %w", err)
	}
	if item.Status != models.ContentStatusUploaded || item.TargetVideoID == "" {
		return fmt.Errorf("item %d is not uploaded", itemID)
	}
	if item.Visibility == models.VisibilityPublic && item.ScheduledPublishAt == nil {
		return nil
	}
	return a.publish(ctx, item)
}

func (a *Agent) publish(ctx context.Context, item *models.ContentItem) error {
	log := a.log.WithItemID(item.ID)

	cred, err := a.credentials.Resolve(ctx, item.TargetChannel)
	if err != nil {
		a.reschedule(ctx, item, fmt.Sprintf("publish deferred, credential unavailable for %s: %v", item.TargetChannel, err))
		return err
	}

	if err := a.visibility.UpdateVisibility(ctx, item.TargetVideoID, models.VisibilityPublic, cred); err != nil {
		a.reschedule(ctx, item, fmt.Sprintf("publish deferred, visibility update failed: %v", err))
		return err
	}

	item.Visibility = models.VisibilityPublic
	item.ScheduledPublishAt = nil
	item.ErrorMessage = ""
	item.ErrorKind = models.ErrorKindNone
	if err := a.repository.UpdateItem(ctx, item); err != nil {
		log.Error().Err(err).Msg("Failed to persist published item")
		return err
	}
	a.record(ctx, item, "ok", "visibility set to public")
	metrics.PublishTotal.WithLabelValues("published").Inc()

	if a.tracker != nil {
		if err := a.tracker.TrackUpload(ctx, item); err != nil {
			log.Warn().Err(err).Msg("Failed to track publish")
		}
	}

	log.Info().Str("external_id", item.TargetVideoID).Msg("Item published")
	return nil
}

// reschedule moves the flip after the backoff, keeping the item Uploaded
func (a *Agent) reschedule(ctx context.Context, item *models.ContentItem, msg string) {
	next := a.now().UTC().Add(a.backoff)
	item.ScheduledPublishAt = &next
	item.ErrorMessage = msg
	if err := a.repository.UpdateItem(ctx, item); err != nil {
		a.log.WithItemID(item.ID).Error().Err(err).Msg("Failed to reschedule publish")
	}
	a.record(ctx, item, "deferred", msg)
	metrics.PublishTotal.WithLabelValues("deferred").Inc()
	a.log.WithItemID(item.ID).Warn().Time("next_attempt", next).Msg(msg)
}

func (a *Agent) record(ctx context.Context, item *models.ContentItem, status, msg string) {
	entry := &models.ActivityLog{
		ContentItemID: &item.ID,
		MappingID:     item.MappingID,
		Action:        models.ActionPublish,
		Status:        status,
		Message:       msg,
	}
	if err := a.repository.AppendActivity(ctx, entry); err != nil {
		a.log.Warn().Err(err).Msg("Failed to append activity")
	}
}
