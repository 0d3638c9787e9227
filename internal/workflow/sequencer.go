package workflow

import (
	"context"
	"time"

	"go.uber.org/zap"

	mqcontracts "milestone-tracker/contracts/mq"
	"milestone-tracker/internal/model"
	"milestone-tracker/pkg/metrics"
	"milestone-tracker/pkg/trace"
)

type TransitionResult struct {
	MilestoneID        int       `json:"milestoneId"`
	SequencePosition   int       `json:"sequencePosition"`
	ProjectMilestoneID int       `json:"projectMilestoneId"`
	StartedAt          time.Time `json:"startedAt"`
	// Terminal milestones are recorded already closed.
	Terminal bool `json:"terminal"`
	// PreviousMilestoneID is the milestone that was closed, 0 if none was open.
	PreviousMilestoneID int `json:"previousMilestoneId"`
}

// Advance moves a project into the requested milestone. Checks run in order:
// project exists, milestone exists, requested is last+1, gate passes. On
// success the open record is closed and the new one inserted in the same
// transaction, so a failure leaves history untouched.
func (e *Engine) Advance(ctx context.Context, projectID, milestoneID int) (*TransitionResult, error) {
	if err := validateID("projectId", projectID); err != nil {
		return nil, err
	}
	if err := validateID("milestoneId", milestoneID); err != nil {
		return nil, err
	}

	log := e.log(ctx).With(
		zap.Int("project_id", projectID),
		zap.Int("milestone_id", milestoneID),
	)
	log.Debug("Advance requested")

	var result *TransitionResult
	err := e.inProject(ctx, "advance", projectID, func(ctx context.Context, tx Tx) error {
		milestone, err := tx.Milestone(ctx, milestoneID)
		if err != nil {
			return err
		}
		if milestone == nil {
			return notFound("Milestone not found")
		}

		history, err := tx.History(ctx, projectID)
		if err != nil {
			return err
		}
		stage := DeriveStage(history, e.policy)

		if milestoneID != stage.NextMilestoneID {
			return invalidSequence(stage.NextMilestoneID)
		}

		if e.policy.IsGated(milestoneID) {
			pending, err := tx.PendingDependencies(ctx, projectID)
			if err != nil {
				return err
			}
			if len(pending) > 0 {
				return dependenciesPending(milestoneID, pending)
			}
		}

		now := e.now().UTC()
		previous := 0
		if stage.Open != nil {
			previous = stage.Open.MilestoneID
			if _, err := tx.CloseOpenMilestones(ctx, projectID, now); err != nil {
				return err
			}
		}

		terminal := e.policy.IsTerminal(milestoneID)
		pm := &model.ProjectMilestone{
			ProjectID:   projectID,
			MilestoneID: milestoneID,
			StartTime:   now,
		}
		if terminal {
			end := now
			pm.EndTime = &end
			pm.Completed = 1
		}
		if err := tx.InsertProjectMilestone(ctx, pm); err != nil {
			return err
		}

		payload := mqcontracts.MilestoneAdvancedPayload{
			ProjectID:          projectID,
			ProjectMilestoneID: pm.ID,
			MilestoneID:        milestoneID,
			Sequence:           milestone.Sequence,
			MilestoneName:      milestone.Name,
			PreviousID:         previous,
			Terminal:           terminal,
			OccurredAt:         now,
			TraceID:            trace.FromContext(ctx),
		}
		if err := tx.RecordEvent(ctx, mqcontracts.RoutingMilestoneAdvanced, projectID, payload); err != nil {
			return err
		}

		result = &TransitionResult{
			MilestoneID:         milestoneID,
			SequencePosition:    milestone.Sequence,
			ProjectMilestoneID:  pm.ID,
			StartedAt:           now,
			Terminal:            terminal,
			PreviousMilestoneID: previous,
		}
		return nil
	})
	if err != nil {
		metrics.RecordTransition(milestoneID, outcome(err))
		logRejection(log, "Advance", err)
		return nil, err
	}

	metrics.RecordTransition(milestoneID, "success")
	log.Info("Milestone advanced",
		zap.Int("sequence", result.SequencePosition),
		zap.Int("previous_milestone_id", result.PreviousMilestoneID),
		zap.Bool("terminal", result.Terminal),
	)
	return result, nil
}

// CurrentStage derives the project's stage from its recorded history.
func (e *Engine) CurrentStage(ctx context.Context, projectID int) (*Stage, error) {
	if err := validateID("projectId", projectID); err != nil {
		return nil, err
	}
	ok, err := e.store.ProjectExists(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, notFound("Project not found")
	}

	history, err := e.store.History(ctx, projectID)
	if err != nil {
		return nil, err
	}
	st := DeriveStage(history, e.policy)
	return &st, nil
}

func outcome(err error) string {
	if kind, ok := KindOf(err); ok {
		return kind.String()
	}
	return "error"
}
