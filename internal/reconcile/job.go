package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-events/backend/pkg/apperrors"
	"github.com/aura-events/backend/pkg/metrics"
	"github.com/aura-events/backend/pkg/database"
	appredis "github.com/aura-events/backend/pkg/redis"
	"github.com/aura-events/backend/pkg/storage"
)

const (
	// BatchLockKey guards reconcileAll so only one batch runs across instances.
	BatchLockKey = "reconcile:batch"
	// DefaultBatchLimit is the page size used while walking transactions and registrations.
	DefaultBatchLimit = 1000
)

// ErrBatchRunning is returned when another reconcileAll holds the batch lock.
var ErrBatchRunning = apperrors.Conflict("RECONCILE_RUNNING", "a reconciliation batch is already running")

// Locker takes a named lock with a ttl.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// Archiver stores a finished report.
type Archiver interface {
	PutJSON(ctx context.Context, key string, v interface{}) (string, error)
}

// ItemError is one failed item of a batch.
type ItemError struct {
	Kind  string    `json:"kind"` // "transaction" or "registration"
	ID    uuid.UUID `json:"id"`
	Error string    `json:"error"`
}

// Report summarizes a reconcileAll run.
type Report struct {
	RunID               string      `json:"run_id"`
	StartedAt           time.Time   `json:"started_at"`
	FinishedAt          time.Time   `json:"finished_at"`
	TotalProcessed      int         `json:"total_processed"`
	LinkedCount         int         `json:"linked_count"`
	ProtocolsBackfilled int         `json:"protocols_backfilled"`
	Items               []Outcome   `json:"items"`
	Errors              []ItemError `json:"errors"`
	ArchiveKey          string      `json:"archive_key,omitempty"`
}

// JobConfig configures the batch job. Locker and Archiver are optional.
type JobConfig struct {
	Locker   Locker
	LockTTL  time.Duration
	Archiver Archiver
	Limit    int
}

// Job runs the matcher over every unlinked approved transaction and backfills missing protocols.
type Job struct {
	matcher *Matcher
	cfg     JobConfig
	logger  *zap.Logger
	now     func() time.Time
}

// NewJob creates the batch job.
func NewJob(matcher *Matcher, cfg JobConfig, logger *zap.Logger) *Job {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultBatchLimit
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	return &Job{matcher: matcher, cfg: cfg, logger: logger, now: time.Now}
}

// ReconcileAll runs one batch. Item failures land in Report.Errors and never stop the run; the items
// themselves carry no state between runs, so the batch can be repeated or restarted at any point.
func (j *Job) ReconcileAll(ctx context.Context) (*Report, error) {
	if j.cfg.Locker != nil {
		release, err := j.cfg.Locker.Acquire(ctx, BatchLockKey, j.cfg.LockTTL)
		if errors.Is(err, appredis.ErrLockHeld) {
			return nil, ErrBatchRunning
		}
		if err != nil {
			return nil, apperrors.External(err, "acquire reconcile lock")
		}
		defer release()
	}

	report := &Report{RunID: uuid.NewString(), StartedAt: j.now().UTC(), Items: []Outcome{}, Errors: []ItemError{}}
	timer := time.Now()

	if err := j.reconcileTransactions(ctx, report); err != nil {
		return nil, err
	}
	if err := j.backfillProtocols(ctx, report); err != nil {
		return nil, err
	}

	report.FinishedAt = j.now().UTC()
	metrics.ReconcileBatchDuration.Observe(time.Since(timer).Seconds())
	j.archive(ctx, report)
	j.logger.Info("reconciliation batch finished",
		zap.String("run_id", report.RunID),
		zap.Int("total_processed", report.TotalProcessed),
		zap.Int("linked", report.LinkedCount),
		zap.Int("protocols_backfilled", report.ProtocolsBackfilled),
		zap.Int("errors", len(report.Errors)))
	return report, nil
}

// reconcileTransactions walks every unlinked APPROVED transaction page by page. The cursor moves past rows
// that stay unlinked, so unmatchable transactions never hide newer ones.
func (j *Job) reconcileTransactions(ctx context.Context, report *Report) error {
	var cursor database.Cursor
	for {
		txs, err := j.matcher.store.ListUnlinkedApproved(ctx, cursor, j.cfg.Limit)
		if err != nil {
			return err
		}
		for _, t := range txs {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			cursor = database.After(t.CreatedAt, t.ID)
			report.TotalProcessed++
			out, err := j.matcher.ReconcileOne(ctx, t.ID)
			if err != nil {
				j.fail(report, "transaction", t.ID, err)
				continue
			}
			if out.Matched {
				report.LinkedCount++
			}
			report.Items = append(report.Items, *out)
		}
		if len(txs) < j.cfg.Limit {
			return nil
		}
	}
}

// backfillProtocols gives every registration without a protocol one, preferring the protocol of a linked
// transaction.
func (j *Job) backfillProtocols(ctx context.Context, report *Report) error {
	store := j.matcher.store
	var cursor database.Cursor
	for {
		regs, err := store.ListMissingProtocol(ctx, cursor, j.cfg.Limit)
		if err != nil {
			j.fail(report, "registration", uuid.Nil, err)
			return nil
		}
		for _, r := range regs {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			cursor = database.After(r.CreatedAt, r.ID)
			preferred, err := store.ProtocolForRegistration(ctx, r.ID)
			if err != nil {
				j.fail(report, "registration", r.ID, err)
				continue
			}
			if _, assigned, err := j.matcher.confirmer.AssignProtocol(ctx, r.ID, preferred); err != nil {
				j.fail(report, "registration", r.ID, err)
			} else if assigned {
				report.ProtocolsBackfilled++
			}
		}
		if len(regs) < j.cfg.Limit {
			return nil
		}
	}
}

func (j *Job) fail(report *Report, kind string, id uuid.UUID, err error) {
	metrics.ReconcileErrors.Inc()
	report.Errors = append(report.Errors, ItemError{Kind: kind, ID: id, Error: err.Error()})
	j.logger.Warn("reconciliation item failed", zap.String("kind", kind), zap.String("id", id.String()), zap.Error(err))
}

func (j *Job) archive(ctx context.Context, report *Report) {
	if j.cfg.Archiver == nil {
		return
	}
	key := storage.ReconcileReportKey(report.StartedAt, report.RunID)
	if _, err := j.cfg.Archiver.PutJSON(ctx, key, report); err != nil {
		j.logger.Warn("archive reconciliation report failed", zap.String("run_id", report.RunID), zap.Error(err))
		return
	}
	report.ArchiveKey = key
}
