package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shorts-relay/internal/config"
	"github.com/shorts-relay/internal/metrics"
	"github.com/shorts-relay/internal/models"
	"github.com/shorts-relay/internal/source"
	"github.com/shorts-relay/internal/storage"
	"github.com/shorts-relay/pkg/logger"
)

// Agent turns source channel listings into Pending content items
type Agent struct {
	sources    *source.Manager
	repository storage.Repository
	config     config.SourcesConfig
	log        *logger.Logger
}

// NewAgent creates a new ingest agent
func NewAgent(
	sources *source.Manager,
	repository storage.Repository,
	sourcesConfig config.SourcesConfig,
	log *logger.Logger,
) *Agent {
	return &Agent{
		sources:    sources,
		repository: repository,
		config:     sourcesConfig,
		log:        log.WithComponent("ingest"),
	}
}

// Result contains the results of an ingest run
type Result struct {
	Fetched  int
	Created  int
	Skipped  int
	Errors   []error
	Duration time.Duration
}

// Run fetches every active mapping's source and the configured global channels.
// Items of active mappings are created already mapped; global channel items go to the shared pool.
// Existing items are never modified.
func (a *Agent) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	result := &Result{}

	mappings, err := a.repository.ListMappings(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}

	channels := make([]string, 0, len(mappings))
	owners := make(map[string][]uint)
	for _, m := range mappings {
		channels = append(channels, sourceChannel(m))
		for _, id := range m.SourceIdentities() {
			owners[id] = append(owners[id], m.ID)
		}
	}

	for i, fetched := range a.sources.FetchAll(ctx, channels) {
		m := mappings[i]
		if fetched.Err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("mapping %d: %w", m.ID, fetched.Err))
			continue
		}
		a.store(ctx, fetched.Drafts, m, nil, result)

		now := time.Now()
		m.LastFetchedAt = &now
		if err := a.repository.UpdateMapping(ctx, m); err != nil {
			a.log.Warn().Err(err).Uint("mapping_id", m.ID).Msg("Failed to update last fetch time")
		}
	}

	for _, fetched := range a.sources.FetchAll(ctx, a.config.GlobalChannels) {
		if fetched.Err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("channel %s: %w", fetched.Channel, fetched.Err))
			continue
		}
		a.store(ctx, fetched.Drafts, nil, owners, result)
	}

	result.Duration = time.Since(start)
	a.log.Info().
		Int("fetched", result.Fetched).
		Int("created", result.Created).
		Int("skipped", result.Skipped).
		Int("errors", len(result.Errors)).
		Dur("duration", result.Duration).
		Msg("Ingest completed")

	return result, nil
}

// store inserts new drafts. Unmapped drafts already queued for a mapping owning their source are skipped.
func (a *Agent) store(ctx context.Context, drafts []*models.ContentDraft, m *models.Mapping, owners map[string][]uint, result *Result) {
	var mappingID *uint
	scope := "global"
	if m != nil {
		mappingID = &m.ID
		scope = "mapping"
	}

	for _, d := range drafts {
		result.Fetched++

		_, err := a.repository.FindItemByVideo(ctx, d.VideoID, mappingID)
		if err == nil {
			result.Skipped++
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			result.Errors = append(result.Errors, fmt.Errorf("video %s: %w", d.VideoID, err))
			continue
		}
		if m == nil {
			owned, err := a.queuedForOwner(ctx, d, owners[d.SourceChannel])
			if err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("video %s: %w", d.VideoID, err))
				continue
			}
			if owned {
				result.Skipped++
				continue
			}
		}

		item := NewItem(d, m)
		if err := a.repository.CreateItem(ctx, item); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("video %s: %w", d.VideoID, err))
			continue
		}
		result.Created++
		metrics.IngestedTotal.WithLabelValues(scope).Inc()
	}
}

func (a *Agent) queuedForOwner(ctx context.Context, d *models.ContentDraft, mappingIDs []uint) (bool, error) {
	for _, id := range mappingIDs {
		_, err := a.repository.FindItemByVideo(ctx, d.VideoID, &id)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return false, err
		}
	}
	return false, nil
}

// NewItem builds a Pending item from a draft. A nil mapping leaves it in the global pool.
func NewItem(d *models.ContentDraft, m *models.Mapping) *models.ContentItem {
	item := &models.ContentItem{
		VideoID:       d.VideoID,
		VideoURL:      d.VideoURL,
		Title:         d.Title,
		Description:   d.Description,
		Tags:          models.StringSlice(d.Tags),
		ThumbnailURL:  d.ThumbnailURL,
		Duration:      d.Duration,
		Status:        models.ContentStatusPending,
		SourceChannel: d.SourceChannel,
	}
	if m != nil {
		item.MappingID = &m.ID
		item.TargetChannel = m.TargetChannelID
	}
	return item
}

func sourceChannel(m *models.Mapping) string {
	if m.SourceChannelID != "" {
		return m.SourceChannelID
	}
	return m.SourceChannelURL
}
