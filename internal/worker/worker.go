package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-events/backend/internal/reconcile"
	"github.com/aura-events/backend/pkg/queue"
)

// JobQueue is the part of the Redis queue the processor consumes.
type JobQueue interface {
	Dequeue(ctx context.Context) (*queue.Job, error)
	Retry(ctx context.Context, job *queue.Job) error
}

// Reconciler reconciles a single transaction.
type Reconciler interface {
	ReconcileOne(ctx context.Context, transactionID uuid.UUID) (*reconcile.Outcome, error)
}

// Batch runs a full reconciliation pass.
type Batch interface {
	ReconcileAll(ctx context.Context) (*reconcile.Report, error)
}

// ReconcileProcessor processes reconciliation jobs: one transaction from a webhook, or a whole batch.
type ReconcileProcessor struct {
	reconciler Reconciler
	batch      Batch
	queue      JobQueue
	logger     *zap.Logger
	backoff    time.Duration
}

// NewReconcileProcessor creates a reconciliation job processor.
func NewReconcileProcessor(reconciler Reconciler, batch Batch, q JobQueue, logger *zap.Logger) *ReconcileProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconcileProcessor{reconciler: reconciler, batch: batch, queue: q, logger: logger, backoff: queue.RetryBackoff}
}

// Process executes one job.
func (p *ReconcileProcessor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeReconcileTransaction:
		var payload queue.ReconcileTransactionPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		out, err := p.reconciler.ReconcileOne(ctx, payload.TransactionID)
		if err != nil {
			return fmt.Errorf("reconcile %s: %w", payload.TransactionID, err)
		}
		p.logger.Info("reconcile job done",
			zap.String("job_id", job.ID),
			zap.String("transaction_id", payload.TransactionID.String()),
			zap.String("source", payload.Source),
			zap.Bool("matched", out.Matched),
			zap.String("strategy", string(out.Strategy)))
		return nil

	case queue.JobTypeReconcileAll:
		var payload queue.ReconcileAllPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		report, err := p.batch.ReconcileAll(ctx)
		if errors.Is(err, reconcile.ErrBatchRunning) {
			p.logger.Info("reconcile batch already running, job dropped", zap.String("job_id", job.ID))
			return nil
		}
		if err != nil {
			return fmt.Errorf("reconcile batch: %w", err)
		}
		p.logger.Info("reconcile batch job done",
			zap.String("job_id", job.ID),
			zap.String("requested_by", payload.RequestedBy),
			zap.String("run_id", report.RunID))
		return nil
	}
	return fmt.Errorf("unknown job type: %s", job.Type)
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *ReconcileProcessor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("reconcile worker stopping")
			return
		default:
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			p.sleep(ctx)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Int("attempt", job.Attempt), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			p.sleep(ctx)
		}
	}
}

func (p *ReconcileProcessor) sleep(ctx context.Context) {
	t := time.NewTimer(p.backoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
