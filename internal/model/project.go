package model

import "time"

type Project struct {
	ID             int       `json:"id"`
	Title          string    `json:"title"`
	Description    string    `json:"description"`
	ProjectCode    string    `json:"project_id"` // 外部项目编号
	Distance       float64   `json:"distance"`
	AssignedUserID *int      `json:"assigned_user_id"`
	Status         string    `json:"status"` // active / on_hold / closed
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`

	// 仅查询时填充
	AssignedUsername string `json:"assigned_username,omitempty"`
}

const ProjectStatusActive = "active"
