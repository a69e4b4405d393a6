package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"kbpulse/internal/fetch"
	"kbpulse/internal/model"
	"kbpulse/internal/syncer"
)

// Scheduler runs periodic sync-all sweeps on a cron expression.
type Scheduler struct {
	cron    *cron.Cron
	syncer  *syncer.Orchestrator
	opts    fetch.Options
	entryID cron.EntryID
	logger  *zap.Logger
}

func New(orch *syncer.Orchestrator, opts fetch.Options, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		syncer: orch,
		opts:   opts,
		logger: logger,
	}
}

// Start schedules the sweep. A sweep that overlaps a still-running one is
// harmless: busy sources report already_syncing and are skipped.
func (s *Scheduler) Start(ctx context.Context, expression string) error {
	id, err := s.cron.AddFunc(expression, func() {
		s.logger.Info("scheduled sync sweep starting")
		results := s.syncer.SyncAll(ctx, s.opts)
		for sourceID, result := range results {
			if result.Status == model.SyncSuccess {
				continue
			}
			s.logger.Warn("scheduled sync did not succeed",
				zap.String("source_id", sourceID),
				zap.String("status", string(result.Status)),
				zap.String("message", result.Message))
		}
		s.logger.Info("scheduled sync sweep finished",
			zap.Int("sources", len(results)))
	})
	if err != nil {
		return err
	}
	s.entryID = id

	s.cron.Start()
	s.logger.Info("scheduler started", zap.String("cron", expression))
	return nil
}

// Stop halts future runs; an in-flight sweep finishes on its own.
func (s *Scheduler) Stop() {
	s.cron.Stop()
}
