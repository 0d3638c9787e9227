package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"milestone-tracker/internal/workflow"
)

type workflowEngine interface {
	Advance(ctx context.Context, projectID, milestoneID int) (*workflow.TransitionResult, error)
	Attach(ctx context.Context, projectID, dependencyID int) error
	Clear(ctx context.Context, projectID, dependencyID int) error
	CheckCleared(ctx context.Context, projectID, milestoneID int) (*workflow.GateResult, error)
	ComputeDurations(ctx context.Context, projectID int) ([]workflow.MilestoneDuration, error)
}

// WorkflowHandler exposes the engine. Authorization happens in middleware
// before any of these run.
type WorkflowHandler struct {
	engine workflowEngine
	logger *zap.Logger
}

func NewWorkflowHandler(engine workflowEngine, logger *zap.Logger) *WorkflowHandler {
	return &WorkflowHandler{engine: engine, logger: logger}
}

// Advance handles POST /api/projects/:id/milestones
func (h *WorkflowHandler) Advance(c *gin.Context) {
	projectID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		MilestoneID *int `json:"milestoneId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.MilestoneID == nil {
		badRequest(c, "milestoneId is required")
		return
	}

	res, err := h.engine.Advance(c.Request.Context(), projectID, *req.MilestoneID)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

// Attach handles POST /api/projects/:id/dependencies
func (h *WorkflowHandler) Attach(c *gin.Context) {
	projectID, ok := pathID(c, "id")
	if !ok {
		return
	}
	var req struct {
		DependencyID *int `json:"dependencyId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.DependencyID == nil {
		badRequest(c, "dependencyId is required")
		return
	}

	if err := h.engine.Attach(c.Request.Context(), projectID, *req.DependencyID); err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"projectId":    projectID,
		"dependencyId": *req.DependencyID,
		"cleared":      false,
	})
}

// Clear handles PATCH /api/projects/:id/dependencies/:dependencyId
func (h *WorkflowHandler) Clear(c *gin.Context) {
	projectID, ok := pathID(c, "id")
	if !ok {
		return
	}
	dependencyID, ok := pathID(c, "dependencyId")
	if !ok {
		return
	}

	if err := h.engine.Clear(c.Request.Context(), projectID, dependencyID); err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"projectId":    projectID,
		"dependencyId": dependencyID,
		"cleared":      true,
	})
}

// Gate handles GET /api/projects/:id/gate/:milestoneId
func (h *WorkflowHandler) Gate(c *gin.Context) {
	projectID, ok := pathID(c, "id")
	if !ok {
		return
	}
	milestoneID, ok := pathID(c, "milestoneId")
	if !ok {
		return
	}

	res, err := h.engine.CheckCleared(c.Request.Context(), projectID, milestoneID)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Durations handles GET /api/projects/:id/reports
func (h *WorkflowHandler) Durations(c *gin.Context) {
	projectID, ok := pathID(c, "id")
	if !ok {
		return
	}

	out, err := h.engine.ComputeDurations(c.Request.Context(), projectID)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
