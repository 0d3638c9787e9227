package workflow

import "milestone-tracker/internal/model"

// Stage is a project's position in the workflow, derived from its milestone
// history. There is no stored "current stage" column.
type Stage struct {
	// LastMilestoneID is the most recently started milestone, 0 when the
	// project has no history.
	LastMilestoneID int `json:"last_milestone_id"`
	// NextMilestoneID is the only milestone advance will accept.
	NextMilestoneID int `json:"next_milestone_id"`
	// Open is the in-progress record, nil when none is open.
	Open *model.ProjectMilestone `json:"open,omitempty"`
	// Finished is true once the terminal milestone has been recorded.
	Finished bool `json:"finished"`
}

// DeriveStage computes the stage from history alone. "Most recent" is the
// latest StartTime; equal start times fall back to the higher record id so the
// result does not depend on slice order.
func DeriveStage(history []model.ProjectMilestone, policy Policy) Stage {
	var latest *model.ProjectMilestone
	var open *model.ProjectMilestone

	for i := range history {
		pm := &history[i]
		if latest == nil || newer(pm, latest) {
			latest = pm
		}
		if pm.IsOpen() && (open == nil || newer(pm, open)) {
			open = pm
		}
	}

	st := Stage{NextMilestoneID: 1}
	if latest != nil {
		st.LastMilestoneID = latest.MilestoneID
		st.NextMilestoneID = latest.MilestoneID + 1
		st.Finished = policy.IsTerminal(latest.MilestoneID)
	}
	if open != nil {
		cp := *open
		st.Open = &cp
	}
	return st
}

func newer(a, b *model.ProjectMilestone) bool {
	if a.StartTime.Equal(b.StartTime) {
		return a.ID > b.ID
	}
	return a.StartTime.After(b.StartTime)
}
