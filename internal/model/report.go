package model

// DashboardProject is one row of the cross-project dashboard: the project and
// the milestone it most recently entered.
type DashboardProject struct {
	ProjectID      int     `json:"project_id"`
	Title          string  `json:"title"`
	ProjectCode    string  `json:"project_code"`
	Distance       float64 `json:"distance"`
	AssignedUserID *int    `json:"assigned_user_id"`
	Username       string  `json:"username"`
	MilestoneID    int     `json:"milestone_id"`
	Completed      int     `json:"completed"`
}

type Dashboard struct {
	Projects      []DashboardProject `json:"projects"`
	MilestoneName []Milestone        `json:"milestoneName"`
}
