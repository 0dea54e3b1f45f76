// Package cleanup removes uploaded history once it is past retention.
package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/shorts-relay/internal/metrics"
	"github.com/shorts-relay/internal/storage"
	"github.com/shorts-relay/pkg/logger"
)

// DefaultLimit bounds one cleanup pass
const DefaultLimit = 200

// Result contains the result of a cleanup pass
type Result struct {
	Candidates int
	Deleted    int
	Kept       int
	Errors     []error
}

// Engine deletes retained Uploaded items
type Engine struct {
	repository storage.Repository
	now        func() time.Time
	log        *logger.Logger
}

// NewEngine creates a cleanup engine
func NewEngine(repository storage.Repository, log *logger.Logger) *Engine {
	return &Engine{
		repository: repository,
		now:        time.Now,
		log:        log.WithComponent("cleanup"),
	}
}

// WithClock overrides the time source
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Run deletes Uploaded items older than olderThan, oldest first. An item whose source
// fans out to two or more active mappings is kept so each destination keeps its history.
func (e *Engine) Run(ctx context.Context, olderThan time.Duration, limit int) (*Result, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	cutoff := e.now().Add(-olderThan)

	items, err := e.repository.ListUploadedBefore(ctx, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list cleanup candidates: %w", err)
	}

	result := &Result{Candidates: len(items)}
	fanout := make(map[string]int64)
	for _, item := range items {
		refs, ok := fanout[item.SourceChannel]
		if !ok {
			refs, err = e.repository.CountActiveMappingsForSource(ctx, item.SourceChannel)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("item %d: %w", item.ID, err))
				continue
			}
			fanout[item.SourceChannel] = refs
		}

		if refs > 1 {
			result.Kept++
			metrics.CleanupTotal.WithLabelValues("kept").Inc()
			continue
		}

		if err := e.repository.DeleteItem(ctx, item.ID); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("item %d: %w", item.ID, err))
			continue
		}
		result.Deleted++
		metrics.CleanupTotal.WithLabelValues("deleted").Inc()
	}

	if result.Candidates > 0 {
		e.log.Info().
			Int("candidates", result.Candidates).
			Int("deleted", result.Deleted).
			Int("kept", result.Kept).
			Int("errors", len(result.Errors)).
			Msg("Cleanup pass finished")
	}
	return result, nil
}
