package model

import "time"

// Milestone is a catalog entry; the engine never writes it.
type Milestone struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	Sequence int    `json:"sequence"`
}

type Dependency struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// ProjectMilestone is one transition record. EndTime is nil while the
// milestone is open.
type ProjectMilestone struct {
	ID          int        `json:"id"`
	ProjectID   int        `json:"project_id"`
	MilestoneID int        `json:"milestone_id"`
	StartTime   time.Time  `json:"start_time"`
	EndTime     *time.Time `json:"end_time"`
	Completed   int        `json:"completed"` // 0 / 1

	// 关联查询字段
	MilestoneName string `json:"name,omitempty"`
	Sequence      int    `json:"sequence,omitempty"`
}

func (pm ProjectMilestone) IsOpen() bool {
	return pm.EndTime == nil
}

func (pm ProjectMilestone) IsClosed() bool {
	return pm.Completed == 1 && pm.EndTime != nil
}

type ProjectDependency struct {
	ProjectID    int `json:"project_id"`
	DependencyID int `json:"dependency_id"`
	Cleared      int `json:"cleared"` // 0 = pending, 1 = cleared

	DependencyName string `json:"name,omitempty"`
}

func (pd ProjectDependency) IsCleared() bool {
	return pd.Cleared == 1
}
