package syncer

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"kbpulse/internal/fetch"
	"kbpulse/internal/model"
	"kbpulse/internal/registry"
	"kbpulse/internal/store"
)

const (
	defaultRunBudget  = 10 * time.Minute
	defaultSweepWidth = 4
)

// Fetcher is the pipeline capability the orchestrator drives. The concrete
// implementation is fetch.Pipeline; tests substitute their own.
type Fetcher interface {
	Run(ctx context.Context, source model.DataSource, opts fetch.Options) (<-chan fetch.Outcome, error)
}

// Orchestrator coordinates fetch runs per source: it claims the source in
// the registry, drives the pipeline, persists articles, and reports the
// outcome back.
type Orchestrator struct {
	registry   *registry.Registry
	store      store.ArticleStore
	fetcher    Fetcher
	runBudget  time.Duration
	sweepWidth int
	logger     *zap.Logger
}

func New(reg *registry.Registry, st store.ArticleStore, fetcher Fetcher, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		registry:   reg,
		store:      st,
		fetcher:    fetcher,
		runBudget:  defaultRunBudget,
		sweepWidth: defaultSweepWidth,
		logger:     logger,
	}
}

// SetRunBudget caps how long a single sync run may take.
func (o *Orchestrator) SetRunBudget(d time.Duration) {
	if d > 0 {
		o.runBudget = d
	}
}

// SetSweepWidth bounds how many sources SyncAll works on at once.
func (o *Orchestrator) SetSweepWidth(n int) {
	if n > 0 {
		o.sweepWidth = n
	}
}

// SyncOne runs one sync against one source. It fails hard only on identity
// errors (unknown source) and the concurrency guard (already syncing);
// everything else comes back as a structured SyncResult. There is no blocking
// wait on a busy source: callers retry later.
func (o *Orchestrator) SyncOne(ctx context.Context, sourceID string, opts fetch.Options) (*model.SyncResult, error) {
	source, err := o.registry.Get(sourceID)
	if err != nil {
		return nil, err
	}

	ticket, err := o.registry.BeginSync(ctx, sourceID)
	if err != nil {
		return nil, err
	}

	logger := o.logger.With(zap.String("source_id", sourceID))
	logger.Info("sync started",
		zap.Bool("force_refresh", opts.ForceRefresh))

	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, o.runBudget)
	defer cancel()

	result := &model.SyncResult{SourceID: sourceID}

	outcomes, err := o.fetcher.Run(runCtx, source, opts)
	if err != nil {
		// The source index itself was unreachable: the run never started.
		result.Status = model.SyncError
		result.Message = err.Error()
		result.DurationMs = time.Since(start).Milliseconds()
		o.complete(ctx, ticket, result)
		return result, nil
	}

	for outcome := range outcomes {
		if outcome.Err != nil {
			logger.Warn("fetch item failed",
				zap.String("url", outcome.URL),
				zap.Error(outcome.Err))
			result.Errors++
			continue
		}

		if err := o.store.Upsert(ctx, outcome.Article); err != nil {
			logger.Error("failed to persist article",
				zap.String("url", outcome.Article.URL),
				zap.Error(err))
			result.Errors++
			continue
		}
		result.ArticlesFound++
	}

	switch {
	case runCtx.Err() != nil:
		// Budget exhausted or caller cancelled. Articles already upserted
		// stay; the run itself is recorded as cancelled, not failed.
		result.Status = model.SyncCancelled
		result.Message = runCtx.Err().Error()
	default:
		// Item-level errors are tolerated; the sweep itself succeeded.
		result.Status = model.SyncSuccess
	}

	result.DurationMs = time.Since(start).Milliseconds()
	o.complete(ctx, ticket, result)

	logger.Info("sync finished",
		zap.String("status", string(result.Status)),
		zap.Int("articles_found", result.ArticlesFound),
		zap.Int("errors", result.Errors),
		zap.Int64("duration_ms", result.DurationMs))

	return result, nil
}

// SyncAll sweeps every enabled source with bounded concurrency. One source's
// failure never aborts the others; a busy source reports already_syncing.
func (o *Orchestrator) SyncAll(ctx context.Context, opts fetch.Options) map[string]*model.SyncResult {
	ids := o.registry.EnabledIDs()

	var mu sync.Mutex
	results := make(map[string]*model.SyncResult, len(ids))

	var g errgroup.Group
	g.SetLimit(o.sweepWidth)

	for _, id := range ids {
		id := id
		g.Go(func() error {
			result, err := o.SyncOne(ctx, id, opts)
			if err != nil {
				result = &model.SyncResult{
					SourceID: id,
					Message:  err.Error(),
				}
				if errors.Is(err, registry.ErrAlreadySyncing) {
					result.Status = model.SyncAlreadyRunning
				} else {
					result.Status = model.SyncError
				}
			}

			mu.Lock()
			results[id] = result
			mu.Unlock()
			return nil
		})
	}
	g.Wait()

	return results
}

// complete reports the run's outcome to the registry. completeSync uses the
// parent context deliberately: a cancelled run must still release its claim.
func (o *Orchestrator) complete(ctx context.Context, ticket registry.Ticket, result *model.SyncResult) {
	count, err := o.store.CountBySource(context.WithoutCancel(ctx), ticket.SourceID)
	if err != nil {
		o.logger.Warn("could not refresh article count",
			zap.String("source_id", ticket.SourceID),
			zap.Error(err))
	}

	if err := o.registry.CompleteSync(context.WithoutCancel(ctx), ticket, registry.Outcome{
		Status:        result.Status,
		ArticlesCount: count,
	}); err != nil {
		o.logger.Error("failed to complete sync",
			zap.String("source_id", ticket.SourceID),
			zap.Error(err))
	}
}
