package mq

import "time"

// Routing keys published on the events exchange.
const (
	RoutingMilestoneAdvanced  = "milestone.advanced"
	RoutingDependencyAttached = "dependency.attached"
	RoutingDependencyCleared  = "dependency.cleared"
)

type MilestoneAdvancedPayload struct {
	ProjectID          int       `json:"project_id"`
	ProjectMilestoneID int       `json:"project_milestone_id"`
	MilestoneID        int       `json:"milestone_id"`
	Sequence           int       `json:"sequence"`
	MilestoneName      string    `json:"milestone_name"`
	PreviousID         int       `json:"previous_milestone_id"` // 0 表示首个里程碑
	Terminal           bool      `json:"terminal"`
	OccurredAt         time.Time `json:"occurred_at"`
	TraceID            string    `json:"trace_id,omitempty"`
}

type DependencyAttachedPayload struct {
	ProjectID    int       `json:"project_id"`
	DependencyID int       `json:"dependency_id"`
	OccurredAt   time.Time `json:"occurred_at"`
	TraceID      string    `json:"trace_id,omitempty"`
}

type DependencyClearedPayload struct {
	ProjectID    int       `json:"project_id"`
	DependencyID int       `json:"dependency_id"`
	OccurredAt   time.Time `json:"occurred_at"`
	TraceID      string    `json:"trace_id,omitempty"`
}
