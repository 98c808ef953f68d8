// Package trading runs batch jobs over the trading models: one transaction
// per batch, one failure boundary per model.
package trading

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"trading_scheduler/metrics"
	"trading_scheduler/services/decision"
)

// ErrCommit marks a batch whose changes were rolled back because the final
// commit failed
var ErrCommit = errors.New("batch commit failed")

// Outcome is the result of processing one entity
type Outcome struct {
	EntityID  uint                `json:"entity_id"`
	Success   bool                `json:"success"`
	Decision  *decision.Decision  `json:"decision,omitempty"`
	Execution *decision.Execution `json:"execution,omitempty"`
	Valuation *Valuation          `json:"valuation,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// Result is the record of one batch run. Outcomes are kept even when the
// batch itself failed.
type Result struct {
	RunID        string    `json:"run_id"`
	JobID        string    `json:"job_id"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Outcomes     []Outcome `json:"outcomes"`
	SuccessCount int       `json:"success_count"`
	ErrorCount   int       `json:"error_count"`
	BatchErr     error     `json:"-"`
	BatchError   string    `json:"batch_error,omitempty"`
}

// Failed reports whether the batch as a whole failed
func (r Result) Failed() bool { return r.BatchErr != nil }

func (r *Result) record(o Outcome) {
	r.Outcomes = append(r.Outcomes, o)
	if o.Success {
		r.SuccessCount++
	} else {
		r.ErrorCount++
	}
}

func (r *Result) fail(err error) {
	r.BatchErr = err
	r.BatchError = err.Error()
}

// EntityFunc processes one entity inside the batch transaction. The returned
// outcome's EntityID, Success and Error are filled in by the runner.
type EntityFunc func(ctx context.Context, tx Tx, entityID uint) (Outcome, error)

type runIDKey struct{}

// RunID returns the batch run id carried by ctx inside an EntityFunc
func RunID(ctx context.Context) string {
	id, _ := ctx.Value(runIDKey{}).(string)
	return id
}

// Publisher receives every finished batch
type Publisher interface {
	Publish(ctx context.Context, r Result) error
}

// Runner executes batches against a PersistenceStore
type Runner struct {
	store     PersistenceStore
	locks     *EntityLocks
	publisher Publisher
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

// RunnerOption configures a Runner
type RunnerOption func(*Runner)

func WithPublisher(p Publisher) RunnerOption { return func(r *Runner) { r.publisher = p } }

func WithMetrics(m *metrics.Metrics) RunnerOption { return func(r *Runner) { r.metrics = m } }

func WithLocks(l *EntityLocks) RunnerOption { return func(r *Runner) { r.locks = l } }

func WithClock(now func() time.Time) RunnerOption { return func(r *Runner) { r.now = now } }

func NewRunner(store PersistenceStore, logger *zap.Logger, opts ...RunnerOption) *Runner {
	r := &Runner{
		store:  store,
		locks:  NewEntityLocks(),
		logger: logger.With(zap.String("component", "batch")),
		now:    time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run processes entityIDs (every active model when nil) in ascending order
// within one transaction and commits once at the end. Each entity's write
// lock is held until the transaction is finished, so a batch touching the
// same models as a running one waits for all of its decision calls.
func (r *Runner) Run(ctx context.Context, jobID string, entityIDs []uint, fn EntityFunc) (res Result) {
	res = Result{
		RunID:     uuid.NewString(),
		JobID:     jobID,
		StartedAt: r.now(),
	}
	log := r.logger.With(zap.String("job", jobID), zap.String("run_id", res.RunID))
	ctx = context.WithValue(ctx, runIDKey{}, res.RunID)
	defer func() {
		res.FinishedAt = r.now()
		r.finish(ctx, log, &res)
	}()

	tx, err := r.store.Begin(ctx)
	if err != nil {
		res.fail(err)
		for _, id := range entityIDs {
			res.record(Outcome{EntityID: id, Error: "batch not started"})
		}
		return res
	}

	ids := slices.Clone(entityIDs)
	if ids == nil {
		entities, err := tx.ListEntities()
		if err != nil {
			r.rollback(log, tx)
			res.fail(err)
			return res
		}
		for _, e := range entities {
			ids = append(ids, e.ID)
		}
	}
	slices.Sort(ids)
	ids = slices.Compact(ids)

	locks := &held{locks: r.locks}
	defer locks.releaseAll()

	for _, id := range ids {
		locks.acquire(id)
		res.record(r.runEntity(ctx, log, tx, id, fn))
	}

	if err := tx.Commit(); err != nil {
		r.rollback(log, tx)
		res.fail(fmt.Errorf("%w: %w", ErrCommit, err))
	}
	return res
}

func (r *Runner) runEntity(ctx context.Context, log *zap.Logger, tx Tx, id uint, fn EntityFunc) (out Outcome) {
	savepoint := fmt.Sprintf("entity_%d", id)
	if err := tx.SavePoint(savepoint); err != nil {
		return Outcome{EntityID: id, Error: fmt.Sprintf("savepoint: %v", err)}
	}

	defer func() {
		if p := recover(); p != nil {
			out = Outcome{EntityID: id, Error: fmt.Sprintf("panic: %v", p)}
		}
		out.EntityID = id
		if out.Success {
			return
		}
		log.Warn("entity failed", zap.Uint("entity_id", id), zap.String("error", out.Error))
		if err := tx.RollbackTo(savepoint); err != nil {
			log.Error("failed to discard entity changes", zap.Uint("entity_id", id), zap.Error(err))
		}
	}()

	out, err := fn(ctx, tx, id)
	if err != nil {
		out.Success = false
		out.Error = err.Error()
		return out
	}
	out.Success = true
	out.Error = ""
	return out
}

func (r *Runner) rollback(log *zap.Logger, tx Tx) {
	if err := tx.Rollback(); err != nil {
		log.Debug("rollback", zap.Error(err))
	}
}

func (r *Runner) finish(ctx context.Context, log *zap.Logger, res *Result) {
	r.metrics.ObserveBatch(res.JobID, res.SuccessCount, res.ErrorCount, errors.Is(res.BatchErr, ErrCommit))

	fields := []zap.Field{
		zap.Int("success", res.SuccessCount),
		zap.Int("errors", res.ErrorCount),
		zap.Duration("duration", res.FinishedAt.Sub(res.StartedAt)),
	}
	if res.BatchErr != nil {
		log.Error("batch failed", append(fields, zap.Error(res.BatchErr))...)
	} else {
		log.Info("batch completed", fields...)
	}

	if r.publisher != nil {
		if err := r.publisher.Publish(ctx, *res); err != nil {
			log.Warn("failed to publish batch result", zap.Error(err))
		}
	}
}
