package worker

import (
	"context"
	"errors"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/aura-events/backend/internal/reconcile"
)

// Scheduler triggers reconciliation batches on a cron spec.
type Scheduler struct {
	cron   *cron.Cron
	batch  Batch
	spec   string
	logger *zap.Logger
}

// NewScheduler creates a scheduler. Overlapping runs on this instance are skipped; the batch lock covers
// other instances.
func NewScheduler(spec string, batch Batch, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger.Named("cron")))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))
	return &Scheduler{cron: c, batch: batch, spec: spec, logger: logger}
}

// Start registers the batch and starts the cron loop. An empty spec disables scheduling.
func (s *Scheduler) Start() error {
	if s.spec == "" {
		s.logger.Info("reconcile schedule disabled")
		return nil
	}
	if _, err := s.cron.AddFunc(s.spec, s.runBatch); err != nil {
		return err
	}
	s.logger.Info("scheduled reconcile batch", zap.String("schedule", s.spec))
	s.cron.Start()
	return nil
}

// Stop stops the scheduler; the returned context is done when a running batch finishes.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) runBatch() {
	report, err := s.batch.ReconcileAll(context.Background())
	if errors.Is(err, reconcile.ErrBatchRunning) {
		s.logger.Info("scheduled reconcile skipped, batch already running")
		return
	}
	if err != nil {
		s.logger.Error("scheduled reconcile failed", zap.Error(err))
		return
	}
	s.logger.Info("scheduled reconcile done", zap.String("run_id", report.RunID), zap.Int("errors", len(report.Errors)))
}
