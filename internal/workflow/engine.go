package workflow

import (
	"context"
	"time"

	"go.uber.org/zap"

	"milestone-tracker/pkg/logger"
	"milestone-tracker/pkg/metrics"
)

// Engine applies the milestone sequencing and dependency gating rules for a
// single project at a time. It holds no mutable state of its own; every call
// reads fresh history from the store.
type Engine struct {
	store  Store
	policy Policy
	now    func() time.Time
	logger *zap.Logger
}

func NewEngine(store Store, policy Policy, logger *zap.Logger) *Engine {
	return &Engine{
		store:  store,
		policy: policy,
		now:    time.Now,
		logger: logger,
	}
}

// WithClock replaces the time source, used by tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) Policy() Policy {
	return e.policy
}

// inProject runs fn under the project's lock, failing with NotFound when the
// project does not exist.
func (e *Engine) inProject(ctx context.Context, op string, projectID int, fn func(ctx context.Context, tx Tx) error) error {
	start := time.Now()
	defer func() {
		metrics.RecordTxDuration(op, time.Since(start))
	}()

	return e.store.InProjectTx(ctx, func(ctx context.Context, tx Tx) error {
		ok, err := tx.LockProject(ctx, projectID)
		if err != nil {
			return err
		}
		if !ok {
			return notFound("Project not found")
		}
		return fn(ctx, tx)
	})
}

func (e *Engine) log(ctx context.Context) *zap.Logger {
	return logger.WithTrace(ctx, e.logger)
}

func validateID(name string, id int) error {
	if id <= 0 {
		return validation("%s must be a positive integer", name)
	}
	return nil
}
