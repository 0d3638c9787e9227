package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"milestone-tracker/internal/model"
	"milestone-tracker/internal/service"
	"milestone-tracker/pkg/rbac"
)

type projectService interface {
	List(ctx context.Context, c rbac.Capability) ([]model.Project, error)
	Create(ctx context.Context, c rbac.Capability, in service.CreateProjectInput) (*model.Project, error)
	Update(ctx context.Context, c rbac.Capability, projectID int, fields map[string]any) error
	Delete(ctx context.Context, c rbac.Capability, projectID int) error
	Details(ctx context.Context, c rbac.Capability, projectID int) (*service.ProjectDetails, error)
	Assign(ctx context.Context, c rbac.Capability, projectID, userID int) error
	ListUsers(ctx context.Context, c rbac.Capability) ([]model.User, error)
	Milestones(ctx context.Context) ([]model.Milestone, error)
	Dependencies(ctx context.Context) ([]model.Dependency, error)
	Dashboard(ctx context.Context, c rbac.Capability) (*model.Dashboard, error)
	Activity(ctx context.Context, c rbac.Capability, projectID, limit int) ([]model.ProjectActivity, error)
}

type ProjectHandler struct {
	projects projectService
	logger   *zap.Logger
}

func NewProjectHandler(projects projectService, logger *zap.Logger) *ProjectHandler {
	return &ProjectHandler{projects: projects, logger: logger}
}

// List handles GET /api/projects
func (h *ProjectHandler) List(c *gin.Context) {
	cp, ok := capability(c)
	if !ok {
		return
	}
	projects, err := h.projects.List(c.Request.Context(), cp)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, projects)
}

// Create handles POST /api/projects
func (h *ProjectHandler) Create(c *gin.Context) {
	cp, ok := capability(c)
	if !ok {
		return
	}
	var req service.CreateProjectInput
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	p, err := h.projects.Create(c.Request.Context(), cp, req)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": p.ID})
}

// Update handles PUT /api/projects/:id
func (h *ProjectHandler) Update(c *gin.Context) {
	cp, ok := capability(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	var fields map[string]any
	if err := c.ShouldBindJSON(&fields); err != nil {
		badRequest(c, "invalid request")
		return
	}

	if err := h.projects.Update(c.Request.Context(), cp, id, fields); err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "status": "updated"})
}

// Delete handles DELETE /api/projects/:id
func (h *ProjectHandler) Delete(c *gin.Context) {
	cp, ok := capability(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.projects.Delete(c.Request.Context(), cp, id); err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Get handles GET /api/projects/:id
func (h *ProjectHandler) Get(c *gin.Context) {
	cp, ok := capability(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}

	details, err := h.projects.Details(c.Request.Context(), cp, id)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, details)
}

// Assign handles PUT /api/admin/assign/:projectId
func (h *ProjectHandler) Assign(c *gin.Context) {
	cp, ok := capability(c)
	if !ok {
		return
	}
	projectID, ok := pathID(c, "projectId")
	if !ok {
		return
	}
	var req struct {
		UserID int `json:"userId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	if err := h.projects.Assign(c.Request.Context(), cp, projectID, req.UserID); err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projectId": projectID, "userId": req.UserID})
}

// ListUsers handles GET /api/users
func (h *ProjectHandler) ListUsers(c *gin.Context) {
	cp, ok := capability(c)
	if !ok {
		return
	}
	users, err := h.projects.ListUsers(c.Request.Context(), cp)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, users)
}

// Milestones handles GET /api/milestones
func (h *ProjectHandler) Milestones(c *gin.Context) {
	out, err := h.projects.Milestones(c.Request.Context())
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// Dependencies handles GET /api/dependencies
func (h *ProjectHandler) Dependencies(c *gin.Context) {
	out, err := h.projects.Dependencies(c.Request.Context())
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// Dashboard handles GET /api/reports
func (h *ProjectHandler) Dashboard(c *gin.Context) {
	cp, ok := capability(c)
	if !ok {
		return
	}
	d, err := h.projects.Dashboard(c.Request.Context(), cp)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// Activity handles GET /api/projects/:id/activity?limit=50
func (h *ProjectHandler) Activity(c *gin.Context) {
	cp, ok := capability(c)
	if !ok {
		return
	}
	id, ok := pathID(c, "id")
	if !ok {
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil {
		badRequest(c, "invalid limit parameter")
		return
	}

	out, err := h.projects.Activity(c.Request.Context(), cp, id, limit)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, out)
}
