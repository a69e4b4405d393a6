package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"kbpulse/internal/model"
	"kbpulse/internal/store"
)

var (
	ErrUnknownSource  = errors.New("unknown source")
	ErrAlreadySyncing = errors.New("source is already syncing")
	ErrInvalidTicket  = errors.New("sync ticket does not match an in-flight run")
)

// Ticket proves ownership of one in-flight sync run. Only the holder may
// call CompleteSync for its source.
type Ticket struct {
	ID       uuid.UUID
	SourceID string
}

// Outcome is what a finished sync run reports back.
type Outcome struct {
	Status        model.SyncStatus
	ArticlesCount int64
}

// Registry holds per-source configuration and live sync status. All status
// transitions go through BeginSync/CompleteSync under one lock, which is the
// invariant that prevents two concurrent syncs of the same source.
type Registry struct {
	mu      sync.Mutex
	sources map[string]*model.DataSource
	tickets map[string]uuid.UUID // sourceID -> in-flight ticket
	store   store.SourceStore
	logger  *zap.Logger
}

// New creates an empty registry. store may be nil for tests that don't
// care about durability.
func New(st store.SourceStore, logger *zap.Logger) *Registry {
	return &Registry{
		sources: make(map[string]*model.DataSource),
		tickets: make(map[string]uuid.UUID),
		store:   st,
		logger:  logger,
	}
}

// Load seeds the registry from configured sources, merging counters persisted
// by earlier runs. A source found in `syncing` state was orphaned by a dead
// process and is demoted to error.
func (r *Registry) Load(ctx context.Context, configured []model.DataSource) error {
	persisted := map[string]model.DataSource{}
	if r.store != nil {
		saved, err := r.store.LoadSources(ctx)
		if err != nil {
			return fmt.Errorf("load persisted sources: %w", err)
		}
		for _, s := range saved {
			persisted[s.ID] = s
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, src := range configured {
		entry := src
		if entry.Status == "" {
			entry.Status = model.SourceIdle
		}

		if prev, ok := persisted[src.ID]; ok {
			entry.Status = prev.Status
			entry.LastSyncAt = prev.LastSyncAt
			entry.SyncCount = prev.SyncCount
			entry.ErrorCount = prev.ErrorCount
			entry.ArticlesCount = prev.ArticlesCount
		}

		if entry.Status == model.SourceSyncing {
			r.logger.Warn("source was left syncing by a previous run, marking as error",
				zap.String("source_id", entry.ID))
			entry.Status = model.SourceError
			entry.ErrorCount++
		}

		r.sources[entry.ID] = &entry
	}

	return r.persistAllLocked(ctx)
}

// Get returns a copy of one source.
func (r *Registry) Get(sourceID string) (model.DataSource, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	src, ok := r.sources[sourceID]
	if !ok {
		return model.DataSource{}, ErrUnknownSource
	}
	return *src, nil
}

// List returns copies of all sources, ordered by id for stable output.
func (r *Registry) List() []model.DataSource {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]model.DataSource, 0, len(r.sources))
	for _, src := range r.sources {
		out = append(out, *src)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// EnabledIDs returns the ids eligible for a sync-all sweep. Disabled sources
// are excluded here but can still be synced by explicit id.
func (r *Registry) EnabledIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []string
	for id, src := range r.sources {
		if src.Enabled {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// SetEnabled flips sync eligibility for future sweeps. It never touches an
// in-flight run.
func (r *Registry) SetEnabled(ctx context.Context, sourceID string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	src, ok := r.sources[sourceID]
	if !ok {
		return ErrUnknownSource
	}
	src.Enabled = enabled
	return r.persistLocked(ctx, src)
}

// BeginSync atomically claims a source for one sync run. A second claim while
// the first is in flight fails with ErrAlreadySyncing; callers retry later,
// they are never queued.
func (r *Registry) BeginSync(ctx context.Context, sourceID string) (Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	src, ok := r.sources[sourceID]
	if !ok {
		return Ticket{}, ErrUnknownSource
	}
	if src.Status == model.SourceSyncing {
		return Ticket{}, ErrAlreadySyncing
	}

	src.Status = model.SourceSyncing
	ticket := Ticket{ID: uuid.New(), SourceID: sourceID}
	r.tickets[sourceID] = ticket.ID

	if err := r.persistLocked(ctx, src); err != nil {
		// Roll the claim back so the source isn't stuck syncing forever.
		src.Status = model.SourceError
		delete(r.tickets, sourceID)
		return Ticket{}, err
	}
	return ticket, nil
}

// CompleteSync releases the claim and applies the run's outcome. A failed run
// keeps the previous lastSyncAt and articlesCount: failures never erase
// last-known-good state. Cancellation is its own terminal status, not an error.
func (r *Registry) CompleteSync(ctx context.Context, ticket Ticket, outcome Outcome) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	src, ok := r.sources[ticket.SourceID]
	if !ok {
		return ErrUnknownSource
	}
	if inFlight, ok := r.tickets[ticket.SourceID]; !ok || inFlight != ticket.ID {
		return ErrInvalidTicket
	}
	delete(r.tickets, ticket.SourceID)

	switch outcome.Status {
	case model.SyncSuccess:
		now := time.Now()
		src.Status = model.SourceSuccess
		src.LastSyncAt = &now
		src.SyncCount++
		src.ArticlesCount = outcome.ArticlesCount
	case model.SyncCancelled:
		src.Status = model.SourceCancelled
	default:
		src.Status = model.SourceError
		src.ErrorCount++
	}

	return r.persistLocked(ctx, src)
}

func (r *Registry) persistLocked(ctx context.Context, src *model.DataSource) error {
	if r.store == nil {
		return nil
	}
	if err := r.store.SaveSource(ctx, src); err != nil {
		return fmt.Errorf("persist source %s: %w", src.ID, err)
	}
	return nil
}

func (r *Registry) persistAllLocked(ctx context.Context) error {
	for _, src := range r.sources {
		if err := r.persistLocked(ctx, src); err != nil {
			return err
		}
	}
	return nil
}
