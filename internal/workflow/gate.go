package workflow

import (
	"context"

	"go.uber.org/zap"

	mqcontracts "milestone-tracker/contracts/mq"
	"milestone-tracker/pkg/metrics"
	"milestone-tracker/pkg/trace"
)

// GateResult is the outcome of a gate check for one target milestone.
type GateResult struct {
	MilestoneID int  `json:"milestoneId"`
	Gated       bool `json:"gated"`
	Cleared     bool `json:"cleared"`
	// Pending is empty whenever Cleared is true.
	Pending []int `json:"pending"`
}

// EvaluateGate applies the gating rule to an already loaded pending list.
// Non-gated milestones always pass; a gated milestone with no attached
// dependencies passes too.
func EvaluateGate(policy Policy, milestoneID int, pending []int) GateResult {
	res := GateResult{MilestoneID: milestoneID, Pending: []int{}}
	if !policy.IsGated(milestoneID) {
		res.Cleared = true
		return res
	}
	res.Gated = true
	if len(pending) == 0 {
		res.Cleared = true
		return res
	}
	res.Pending = append(res.Pending, pending...)
	return res
}

// CheckCleared reports whether the project may enter milestoneID as far as
// dependencies are concerned. A blocked gate returns the result together with
// a DependenciesPending error.
func (e *Engine) CheckCleared(ctx context.Context, projectID, milestoneID int) (*GateResult, error) {
	if err := validateID("projectId", projectID); err != nil {
		return nil, err
	}
	if err := validateID("milestoneId", milestoneID); err != nil {
		return nil, err
	}

	var res GateResult
	err := e.inProject(ctx, "check_cleared", projectID, func(ctx context.Context, tx Tx) error {
		m, err := tx.Milestone(ctx, milestoneID)
		if err != nil {
			return err
		}
		if m == nil {
			return notFound("Milestone not found")
		}

		var pending []int
		if e.policy.IsGated(milestoneID) {
			pending, err = tx.PendingDependencies(ctx, projectID)
			if err != nil {
				return err
			}
		}
		res = EvaluateGate(e.policy, milestoneID, pending)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !res.Cleared {
		return &res, dependenciesPending(milestoneID, res.Pending)
	}
	return &res, nil
}

// Attach links a catalog dependency to the project. New links start pending.
func (e *Engine) Attach(ctx context.Context, projectID, dependencyID int) error {
	if err := validateID("projectId", projectID); err != nil {
		return err
	}
	if err := validateID("dependencyId", dependencyID); err != nil {
		return err
	}

	log := e.log(ctx).With(zap.Int("project_id", projectID), zap.Int("dependency_id", dependencyID))

	err := e.inProject(ctx, "attach", projectID, func(ctx context.Context, tx Tx) error {
		ok, err := tx.DependencyExists(ctx, dependencyID)
		if err != nil {
			return err
		}
		if !ok {
			return notFound("Dependency not found")
		}

		existing, err := tx.ProjectDependency(ctx, projectID, dependencyID)
		if err != nil {
			return err
		}
		if existing != nil {
			return alreadyAttached(dependencyID)
		}

		if err := tx.InsertProjectDependency(ctx, projectID, dependencyID); err != nil {
			return err
		}
		return tx.RecordEvent(ctx, mqcontracts.RoutingDependencyAttached, projectID, mqcontracts.DependencyAttachedPayload{
			ProjectID:    projectID,
			DependencyID: dependencyID,
			OccurredAt:   e.now().UTC(),
			TraceID:      trace.FromContext(ctx),
		})
	})
	metrics.RecordDependencyOperation("attach", resultLabel(err))
	if err != nil {
		logRejection(log, "Attach", err)
		return err
	}

	log.Info("Dependency attached")
	return nil
}

// Clear marks the link cleared. Clearing an already cleared link succeeds and
// changes nothing.
func (e *Engine) Clear(ctx context.Context, projectID, dependencyID int) error {
	if err := validateID("projectId", projectID); err != nil {
		return err
	}
	if err := validateID("dependencyId", dependencyID); err != nil {
		return err
	}

	log := e.log(ctx).With(zap.Int("project_id", projectID), zap.Int("dependency_id", dependencyID))

	changed := false
	err := e.inProject(ctx, "clear", projectID, func(ctx context.Context, tx Tx) error {
		link, err := tx.ProjectDependency(ctx, projectID, dependencyID)
		if err != nil {
			return err
		}
		if link == nil {
			return notFound("Dependency not found for this project")
		}
		if link.IsCleared() {
			return nil
		}

		if err := tx.MarkDependencyCleared(ctx, projectID, dependencyID); err != nil {
			return err
		}
		changed = true
		return tx.RecordEvent(ctx, mqcontracts.RoutingDependencyCleared, projectID, mqcontracts.DependencyClearedPayload{
			ProjectID:    projectID,
			DependencyID: dependencyID,
			OccurredAt:   e.now().UTC(),
			TraceID:      trace.FromContext(ctx),
		})
	})
	metrics.RecordDependencyOperation("clear", resultLabel(err))
	if err != nil {
		logRejection(log, "Clear", err)
		return err
	}

	if changed {
		log.Info("Dependency cleared")
	} else {
		log.Debug("Dependency already cleared")
	}
	return nil
}

func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	return outcome(err)
}

func logRejection(log *zap.Logger, op string, err error) {
	if kind, ok := KindOf(err); ok {
		log.Info(op+" rejected", zap.String("kind", kind.String()), zap.String("reason", err.Error()))
		return
	}
	log.Error(op+" failed", zap.Error(err))
}
