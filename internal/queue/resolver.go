// Package queue picks the next item the pipeline should process.
package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/shorts-relay/internal/metrics"
	"github.com/shorts-relay/internal/models"
	"github.com/shorts-relay/internal/storage"
	"github.com/shorts-relay/pkg/logger"
)

// Default scan windows
const (
	DefaultClaimWindow  = 20
	DefaultGlobalWindow = 200
)

// Store is the storage the resolver reads and claims through
type Store interface {
	GetMappingByID(ctx context.Context, id uint) (*models.Mapping, error)
	OldestPendingForMapping(ctx context.Context, mappingID uint) (*models.ContentItem, error)
	ListUnmappedPending(ctx context.Context, sources []string, limit int) ([]*models.ContentItem, error)
	ListClaimCandidates(ctx context.Context, mappingID uint, sources []string, limit int) ([]*models.ContentItem, error)
	ClaimItem(ctx context.Context, itemID, mappingID uint, targetChannel string) (bool, error)
	GetItemByID(ctx context.Context, id uint) (*models.ContentItem, error)
	ActiveSourceIdentities(ctx context.Context) (map[string]struct{}, error)
}

// Resolver selects queued items for a mapping or for the global pool
type Resolver struct {
	store        Store
	claimWindow  int
	globalWindow int
	log          *logger.Logger
}

// Option configures a Resolver
type Option func(*Resolver)

// WithClaimWindow sets how many unmapped candidates a mapping scans when claiming
func WithClaimWindow(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.claimWindow = n
		}
	}
}

// WithGlobalWindow sets how many unmapped items the global pool scans
func WithGlobalWindow(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			r.globalWindow = n
		}
	}
}

// NewResolver creates a queue resolver
func NewResolver(store Store, log *logger.Logger, opts ...Option) *Resolver {
	r := &Resolver{
		store:        store,
		claimWindow:  DefaultClaimWindow,
		globalWindow: DefaultGlobalWindow,
		log:          log.WithComponent("queue"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveNext returns the next item for the mapping, or for the global pool when
// mappingID is nil. It returns a nil item when nothing is eligible. Store failures
// are logged and also reported as a nil item, with the error for the caller.
func (r *Resolver) ResolveNext(ctx context.Context, mappingID *uint) (*models.ContentItem, error) {
	var (
		item *models.ContentItem
		err  error
	)
	if mappingID == nil {
		item, err = r.nextGlobal(ctx)
	} else {
		item, err = r.nextForMapping(ctx, *mappingID)
	}
	if err != nil {
		r.log.Error().Err(err).Msg("Failed to resolve next item")
		metrics.RecordError("resolve")
		return nil, err
	}
	return item, nil
}

func (r *Resolver) nextForMapping(ctx context.Context, mappingID uint) (*models.ContentItem, error) {
	item, err := r.store.OldestPendingForMapping(ctx, mappingID)
	if err == nil {
		return item, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to read mapping queue: %w", err)
	}

	mapping, err := r.store.GetMappingByID(ctx, mappingID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load mapping: %w", err)
	}
	return r.ClaimUnmapped(ctx, mapping)
}

// ClaimUnmapped atomically assigns the oldest matching unmapped item to the mapping.
// Candidates lost to a concurrent claimer, or whose video the mapping already holds, are skipped.
func (r *Resolver) ClaimUnmapped(ctx context.Context, mapping *models.Mapping) (*models.ContentItem, error) {
	sources := mapping.SourceIdentities()
	if len(sources) == 0 {
		return nil, nil
	}

	candidates, err := r.store.ListClaimCandidates(ctx, mapping.ID, sources, r.claimWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to list unmapped items: %w", err)
	}

	for _, c := range candidates {
		won, err := r.store.ClaimItem(ctx, c.ID, mapping.ID, mapping.TargetChannelID)
		if err != nil {
			return nil, fmt.Errorf("failed to claim item %d: %w", c.ID, err)
		}
		metrics.RecordClaim(won)
		if !won {
			r.log.Debug().Uint("item_id", c.ID).Uint("mapping_id", mapping.ID).Msg("Claim lost, trying next candidate")
			continue
		}

		claimed, err := r.store.GetItemByID(ctx, c.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to reload claimed item: %w", err)
		}
		r.log.Info().
			Uint("item_id", claimed.ID).
			Uint("mapping_id", mapping.ID).
			Str("source", claimed.SourceChannel).
			Msg("Claimed unmapped item")
		return claimed, nil
	}
	return nil, nil
}

// nextGlobal returns the oldest unmapped item whose source no active mapping owns
func (r *Resolver) nextGlobal(ctx context.Context) (*models.ContentItem, error) {
	owned, err := r.store.ActiveSourceIdentities(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load owned sources: %w", err)
	}

	candidates, err := r.store.ListUnmappedPending(ctx, nil, r.globalWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to list unmapped items: %w", err)
	}

	for _, c := range candidates {
		if _, ok := owned[c.SourceChannel]; ok {
			continue
		}
		return c, nil
	}
	return nil, nil
}
