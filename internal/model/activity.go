package model

import "time"

// ProjectActivity 由 worker 根据工作流事件写入的审计记录
type ProjectActivity struct {
	ID           int64     `json:"id"`
	ProjectID    int       `json:"project_id"`
	EventType    string    `json:"event_type"`
	MilestoneID  *int      `json:"milestone_id,omitempty"`
	DependencyID *int      `json:"dependency_id,omitempty"`
	Message      string    `json:"message"`
	DedupKey     string    `json:"-"`
	OccurredAt   time.Time `json:"occurred_at"`
	CreatedAt    time.Time `json:"created_at"`
}
