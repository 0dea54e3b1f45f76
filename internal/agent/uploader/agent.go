package uploader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/shorts-relay/internal/config"
	"github.com/shorts-relay/internal/metrics"
	"github.com/shorts-relay/internal/models"
	"github.com/shorts-relay/internal/platform"
	"github.com/shorts-relay/internal/slots"
	"github.com/shorts-relay/internal/storage"
	"github.com/shorts-relay/pkg/logger"
)

// Reason explains why ProcessNext stopped
type Reason string

const (
	ReasonQuota    Reason = "quota"
	ReasonEmpty    Reason = "empty"
	ReasonBusy     Reason = "busy"
	ReasonFailed   Reason = "failed"
	ReasonUploaded Reason = "uploaded"
)

// Outcome is the structured result of one pipeline pass
type Outcome struct {
	OK         bool   `json:"success"`
	Reason     Reason `json:"reason"`
	ItemID     uint   `json:"item_id,omitempty"`
	ExternalID string `json:"external_id,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Resolver picks the next item for a scope
type Resolver interface {
	ResolveNext(ctx context.Context, mappingID *uint) (*models.ContentItem, error)
}

// Collaborators are the external services a pipeline pass calls
type Collaborators struct {
	Downloader  platform.Downloader
	Validator   platform.Validator
	Enhancer    platform.Enhancer // optional
	Uploader    platform.Uploader
	Credentials platform.CredentialResolver
	Tracker     platform.UploadTracker // optional
}

// Agent drives one queued item through download, validation, enhancement and upload
type Agent struct {
	repository storage.Repository
	resolver   Resolver
	quota      *slots.Quota
	collab     Collaborators
	config     config.PipelineConfig
	lockLease  time.Duration
	now        func() time.Time
	log        *logger.Logger
}

// Option configures an Agent
type Option func(*Agent)

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(a *Agent) { a.now = now }
}

// WithLockLease sets how long an acquired run lock stays valid
func WithLockLease(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.lockLease = d
		}
	}
}

// NewAgent creates a new uploader agent
func NewAgent(
	repository storage.Repository,
	resolver Resolver,
	collab Collaborators,
	pipelineConfig config.PipelineConfig,
	log *logger.Logger,
	opts ...Option,
) *Agent {
	a := &Agent{
		repository: repository,
		resolver:   resolver,
		quota:      slots.NewQuota(repository),
		collab:     collab,
		config:     pipelineConfig,
		lockLease:  30 * time.Minute,
		now:        time.Now,
		log:        log.WithComponent("uploader"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ProcessNext runs one pipeline pass for a mapping, or for the global pool when
// mappingID is nil. It never returns an error or panics: every result is an Outcome.
func (a *Agent) ProcessNext(ctx context.Context, mappingID *uint) (out Outcome) {
	scope := "global"
	if mappingID != nil {
		scope = "mapping"
	}
	defer func() {
		if r := recover(); r != nil {
			a.log.Error().Interface("panic", r).Msg("Pipeline pass panicked")
			metrics.RecordError("pipeline_panic")
			out = Outcome{Reason: ReasonFailed, ItemID: out.ItemID, Message: fmt.Sprintf("internal error: %v", r)}
		}
		metrics.RecordOutcome(scope, string(out.Reason))
	}()

	now := a.now()
	cfg, err := a.globalConfig(ctx)
	if err != nil {
		return failed(0, fmt.Sprintf("failed to load global config: %v", err))
	}

	var mapping *models.Mapping
	if mappingID == nil {
		remaining, err := a.quota.GlobalRemaining(ctx, cfg, now)
		if err != nil {
			return failed(0, fmt.Sprintf("failed to check quota: %v", err))
		}
		if remaining <= 0 {
			a.log.Debug().Msg("Global daily quota exhausted")
			return Outcome{Reason: ReasonQuota, Message: "daily quota reached"}
		}
	} else {
		mapping, err = a.repository.GetMappingByID(ctx, *mappingID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return Outcome{Reason: ReasonEmpty, Message: "mapping not found"}
			}
			return failed(0, fmt.Sprintf("failed to load mapping: %v", err))
		}
		if !mapping.IsActive {
			return Outcome{Reason: ReasonEmpty, Message: "mapping is inactive"}
		}
		remaining, err := a.quota.MappingRemaining(ctx, mapping, cfg, now)
		if err != nil {
			return failed(0, fmt.Sprintf("failed to check quota: %v", err))
		}
		if remaining <= 0 {
			a.log.Debug().Uint("mapping_id", mapping.ID).Msg("Mapping daily quota exhausted")
			return Outcome{Reason: ReasonQuota, Message: "daily quota reached"}
		}
	}

	// Lock before resolve: a busy call must not claim an item
	owner := uuid.NewString()
	acquired, err := a.repository.AcquireRunLock(ctx, owner, now, a.lockLease)
	if err != nil {
		return failed(0, fmt.Sprintf("failed to acquire run lock: %v", err))
	}
	if !acquired {
		a.log.Info().Str("scope", scope).Msg("Pipeline already running, rejecting trigger")
		return Outcome{Reason: ReasonBusy, Message: "already running"}
	}
	metrics.SetRunLockHeld(true)
	defer a.release(ctx, owner)
	a.recoverInFlight(ctx)

	item, _ := a.resolver.ResolveNext(ctx, mappingID)
	if item == nil {
		return Outcome{Reason: ReasonEmpty, Message: "no eligible item"}
	}

	if mapping == nil && item.MappingID != nil {
		mapping, _ = a.repository.GetMappingByID(ctx, *item.MappingID)
	}

	started := time.Now()
	out = a.run(ctx, item, mapping, cfg)
	metrics.RecordPipelineDuration(string(out.Reason), time.Since(started).Seconds())
	return out
}

func (a *Agent) release(ctx context.Context, owner string) {
	ctx = context.WithoutCancel(ctx)
	a.setStatus(ctx, "idle")
	if err := a.repository.ReleaseRunLock(ctx, owner, a.now()); err != nil {
		a.log.Error().Err(err).Msg("Failed to release run lock")
		metrics.RecordError("release_lock")
	}
	metrics.SetRunLockHeld(false)
}

// recoverInFlight fails items an interrupted pass left in Downloaded or Uploading.
// The caller holds the run lock, so no live pass owns them.
func (a *Agent) recoverInFlight(ctx context.Context) {
	n, err := a.repository.FailInFlightItems(context.WithoutCancel(ctx), interruptedMessage)
	if err != nil {
		a.log.Error().Err(err).Msg("Failed to recover interrupted items")
		metrics.RecordError("recover_in_flight")
		return
	}
	if n > 0 {
		a.log.Warn().Int64("count", n).Msg("Failed items left in flight by an interrupted pass")
	}
}

const interruptedMessage = "pass interrupted before completion, the destination may already hold the upload"

// run drives the item from Pending to a terminal status
func (a *Agent) run(ctx context.Context, item *models.ContentItem, mapping *models.Mapping, cfg *models.GlobalConfig) Outcome {
	log := a.log.WithItemID(item.ID)
	log.Info().Str("video_id", item.VideoID).Str("source", item.SourceChannel).Msg("Processing item")

	a.setStatus(ctx, fmt.Sprintf("downloading item %d", item.ID))
	path, err := a.collab.Downloader.Download(ctx, item.VideoURL, item.VideoID)
	if err != nil {
		return a.fail(ctx, item, models.ErrorKindTransient, models.ActionDownload, fmt.Sprintf("download failed: %v", err))
	}
	defer a.removeArtifact(path)
	a.record(ctx, item, models.ActionDownload, "ok", path)

	info, err := a.collab.Validator.Validate(ctx, path)
	if err != nil {
		kind := models.ErrorKindTransient
		var verr *platform.ValidationError
		if errors.As(err, &verr) {
			kind = models.ErrorKindValidation
		}
		return a.fail(ctx, item, kind, models.ActionValidate, fmt.Sprintf("validation failed: %v", err))
	}
	a.record(ctx, item, models.ActionValidate, "ok",
		fmt.Sprintf("%dx%d %.1fs", info.Width, info.Height, info.Duration))

	if err := a.advance(ctx, item, models.ContentStatusDownloaded); err != nil {
		return a.fail(ctx, item, models.ErrorKindTransient, models.ActionValidate, err.Error())
	}

	behavior := models.ResolveBehavior(mapping, cfg)
	req := platform.UploadRequest{
		FilePath:    path,
		Title:       item.Title,
		Description: item.Description,
		Tags:        []string(item.Tags),
		Visibility:  behavior.Visibility,
	}
	if behavior.AIEnabled {
		a.enhance(ctx, item, &req)
	}

	target := a.targetChannel(item, mapping)
	cred, err := a.collab.Credentials.Resolve(ctx, target)
	if err != nil {
		kind := models.ErrorKindTransient
		msg := fmt.Sprintf("failed to resolve credential for %s: %v", target, err)
		if errors.Is(err, platform.ErrNotConnected) {
			kind = models.ErrorKindConfiguration
			msg = fmt.Sprintf("channel not connected: %s", target)
		}
		return a.fail(ctx, item, kind, models.ActionUpload, msg)
	}
	item.TargetChannel = target

	a.setStatus(ctx, fmt.Sprintf("uploading item %d", item.ID))
	if err := a.advance(ctx, item, models.ContentStatusUploading); err != nil {
		return a.fail(ctx, item, models.ErrorKindTransient, models.ActionUpload, err.Error())
	}

	externalID, err := a.collab.Uploader.Upload(ctx, req, cred)
	if err != nil {
		return a.fail(ctx, item, models.ErrorKindTransient, models.ActionUpload, fmt.Sprintf("upload failed: %v", err))
	}

	return a.complete(ctx, item, externalID, behavior, cfg)
}

// complete records a finished upload. The upload already happened, so nothing here honours cancellation.
func (a *Agent) complete(ctx context.Context, item *models.ContentItem, externalID string, behavior models.UploadBehavior, cfg *models.GlobalConfig) Outcome {
	ctx = context.WithoutCancel(ctx)
	log := a.log.WithItemID(item.ID)
	now := a.now().UTC()

	if err := item.Transition(models.ContentStatusUploaded); err != nil {
		return a.fail(ctx, item, models.ErrorKindTransient, models.ActionUpload, err.Error())
	}
	item.UploadedAt = &now
	item.TargetVideoID = externalID
	item.Visibility = behavior.Visibility
	item.ErrorMessage = ""
	item.ErrorKind = models.ErrorKindNone
	item.ScheduledPublishAt = nil
	if behavior.Visibility != models.VisibilityPublic && behavior.PublishDelayHours > 0 {
		at := now.Add(time.Duration(behavior.PublishDelayHours) * time.Hour)
		item.ScheduledPublishAt = &at
	}
	persistErr := a.repository.UpdateItem(ctx, item)

	// The destination holds the video either way, so the quota counts it
	tz, _ := slots.SanitizeZone(cfg.SchedulerTimezone)
	if local, err := slots.ResolveTimeInZone(now, tz); err == nil {
		if err := a.repository.IncrementUploads(ctx, local.Date); err != nil {
			log.Error().Err(err).Msg("Failed to increment daily upload counter")
			metrics.RecordError("increment_uploads")
		}
	}

	if persistErr != nil {
		log.Error().Err(persistErr).Str("external_id", externalID).Msg("Failed to persist uploaded item")
		metrics.RecordError("persist_upload")
		msg := fmt.Sprintf("uploaded as %s but failed to persist: %v", externalID, persistErr)
		a.record(ctx, item, models.ActionUpload, "failed", msg)
		return Outcome{Reason: ReasonFailed, ItemID: item.ID, ExternalID: externalID, Message: msg}
	}

	msg := fmt.Sprintf("uploaded as %s (%s)", externalID, behavior.Visibility)
	if item.ScheduledPublishAt != nil {
		msg += fmt.Sprintf(", public at %s", item.ScheduledPublishAt.Format(time.RFC3339))
	}
	a.record(ctx, item, models.ActionUpload, "ok", msg)

	if a.collab.Tracker != nil {
		if err := a.collab.Tracker.TrackUpload(ctx, item); err != nil {
			log.Warn().Err(err).Msg("Failed to track upload")
		}
	}

	log.Info().
		Str("external_id", externalID).
		Str("visibility", string(behavior.Visibility)).
		Msg("Item uploaded")

	return Outcome{OK: true, Reason: ReasonUploaded, ItemID: item.ID, ExternalID: externalID, Message: msg}
}

// enhance rewrites the upload metadata. Failures leave the original metadata in place.
func (a *Agent) enhance(ctx context.Context, item *models.ContentItem, req *platform.UploadRequest) {
	if a.collab.Enhancer == nil {
		return
	}
	enh, err := a.collab.Enhancer.Enhance(ctx, item.Title, item.Description, item.Tags)
	if err != nil {
		a.log.WithItemID(item.ID).Warn().Err(err).Msg("Enhancement failed, using original metadata")
		a.record(ctx, item, models.ActionEnhance, "failed", err.Error())
		return
	}
	if enh.Title != "" {
		req.Title = enh.Title
	}
	if enh.Description != "" {
		req.Description = enh.Description
	}
	if len(enh.Hashtags) > 0 {
		req.Tags = enh.Hashtags
	}
	a.record(ctx, item, models.ActionEnhance, "ok", req.Title)
}

func (a *Agent) targetChannel(item *models.ContentItem, mapping *models.Mapping) string {
	if mapping != nil && mapping.TargetChannelID != "" {
		return mapping.TargetChannelID
	}
	if item.TargetChannel != "" {
		return item.TargetChannel
	}
	return a.config.DefaultTargetChannel
}

func (a *Agent) advance(ctx context.Context, item *models.ContentItem, to models.ContentStatus) error {
	ctx = context.WithoutCancel(ctx)
	if err := item.Transition(to); err != nil {
		return err
	}
	if err := a.repository.UpdateItem(ctx, item); err != nil {
		return fmt.Errorf("failed to persist status %s: %w", to, err)
	}
	return nil
}

// fail persists the failure even when ctx is already canceled
func (a *Agent) fail(ctx context.Context, item *models.ContentItem, kind models.ErrorKind, action, msg string) Outcome {
	ctx = context.WithoutCancel(ctx)
	log := a.log.WithItemID(item.ID)
	if err := item.Fail(kind, msg); err != nil {
		log.Error().Err(err).Msg("Failed to mark item failed")
	} else if err := a.repository.UpdateItem(ctx, item); err != nil {
		log.Error().Err(err).Msg("Failed to persist failed item")
		metrics.RecordError("persist_failure")
	}
	a.record(ctx, item, action, "failed", msg)
	log.Warn().Str("error_kind", string(kind)).Msg(msg)
	return failed(item.ID, msg)
}

func failed(itemID uint, msg string) Outcome {
	return Outcome{Reason: ReasonFailed, ItemID: itemID, Message: msg}
}

// record appends to the activity log. It is a side channel: errors are only logged.
func (a *Agent) record(ctx context.Context, item *models.ContentItem, action, status, msg string) {
	entry := &models.ActivityLog{
		ContentItemID: &item.ID,
		MappingID:     item.MappingID,
		Action:        action,
		Status:        status,
		Message:       msg,
	}
	if err := a.repository.AppendActivity(context.WithoutCancel(ctx), entry); err != nil {
		a.log.Warn().Err(err).Str("action", action).Msg("Failed to append activity")
	}
}

func (a *Agent) setStatus(ctx context.Context, status string) {
	if err := a.repository.SetRunStatus(context.WithoutCancel(ctx), status); err != nil {
		a.log.Warn().Err(err).Msg("Failed to update run status")
	}
}

func (a *Agent) removeArtifact(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		a.log.Warn().Err(err).Str("path", path).Msg("Failed to remove local artifact")
	}
}

func (a *Agent) globalConfig(ctx context.Context) (*models.GlobalConfig, error) {
	cfg, err := a.repository.GetGlobalConfig(ctx)
	if err != nil {
		return nil, err
	}
	tz, err := slots.SanitizeZone(cfg.SchedulerTimezone)
	if err != nil {
		a.log.Warn().Err(err).Msg("Invalid scheduler timezone, falling back to UTC")
	}
	cfg.SchedulerTimezone = tz
	return cfg, nil
}
