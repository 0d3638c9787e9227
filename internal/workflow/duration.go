package workflow

import (
	"context"
	"sort"
	"time"

	"milestone-tracker/internal/model"
)

// MilestoneDuration is the time a project spent in one closed milestone.
type MilestoneDuration struct {
	MilestoneID int       `json:"milestoneId"`
	Name        string    `json:"name"`
	Sequence    int       `json:"sequence"`
	Minutes     float64   `json:"minutes"`
	StartTime   time.Time `json:"startTime"`
	EndTime     time.Time `json:"endTime"`
}

// Durations projects closed records into elapsed minutes, ordered by catalog
// sequence descending. Open records are skipped; the terminal milestone is
// closed on insert and reports zero.
func Durations(history []model.ProjectMilestone) []MilestoneDuration {
	out := make([]MilestoneDuration, 0, len(history))
	for _, pm := range history {
		if pm.EndTime == nil {
			continue
		}
		out = append(out, MilestoneDuration{
			MilestoneID: pm.MilestoneID,
			Name:        pm.MilestoneName,
			Sequence:    pm.Sequence,
			Minutes:     pm.EndTime.Sub(pm.StartTime).Minutes(),
			StartTime:   pm.StartTime,
			EndTime:     *pm.EndTime,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Sequence == out[j].Sequence {
			return out[i].MilestoneID > out[j].MilestoneID
		}
		return out[i].Sequence > out[j].Sequence
	})
	return out
}

// ComputeDurations is read-only and takes no project lock.
func (e *Engine) ComputeDurations(ctx context.Context, projectID int) ([]MilestoneDuration, error) {
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
	return Durations(history), nil
}

// History returns the project's milestone records ordered by catalog sequence
// descending, the order reports and project details use.
func (e *Engine) History(ctx context.Context, projectID int) ([]model.ProjectMilestone, error) {
	history, err := e.store.History(ctx, projectID)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].Sequence > history[j].Sequence
	})
	return history, nil
}
