package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"milestone-tracker/internal/api"
	"milestone-tracker/internal/service"
	"milestone-tracker/pkg/otel"
	"milestone-tracker/pkg/rbac"
)

type pinger interface {
	Ping(ctx context.Context) error
}

type connectionChecker interface {
	IsConnected() bool
}

type Deps struct {
	Auth     *api.AuthHandler
	Projects *api.ProjectHandler
	Workflow *api.WorkflowHandler
	Admin    *api.AdminHandler

	Identifier identifier
	Authorizer projectAuthorizer

	DB        pinger
	Publisher connectionChecker
	Logger    *zap.Logger
}

type Router struct {
	Engine *gin.Engine
}

func NewRouter(d Deps) *Router {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(TraceMiddleware())
	r.Use(otel.GinMiddleware())
	r.Use(MetricsMiddleware())
	r.Use(RequestLogger(d.Logger))

	// Health endpoints
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/readyz", readyHandler(d.DB, d.Publisher))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Public
	authGroup := r.Group("/api/auth")
	{
		authGroup.POST("/register", d.Auth.Register)
		authGroup.POST("/login", d.Auth.Login)
		authGroup.POST("/refresh", d.Auth.Refresh)
		authGroup.POST("/logout", d.Auth.Logout)
	}

	// Protected
	protected := r.Group("/api")
	protected.Use(AuthMiddleware(d.Identifier, d.Logger))
	{
		protected.GET("/projects", d.Projects.List)
		protected.POST("/projects", RequireCapability(rbac.Capability.CanCreateProject), d.Projects.Create)
		protected.GET("/projects/:id", d.Projects.Get)
		protected.PUT("/projects/:id", d.Projects.Update)
		protected.DELETE("/projects/:id", RequireCapability(rbac.Capability.CanDeleteProject), d.Projects.Delete)
		protected.GET("/projects/:id/activity", d.Projects.Activity)

		protected.GET("/users", RequireCapability(rbac.Capability.CanListUsers), d.Projects.ListUsers)
		protected.GET("/milestones", d.Projects.Milestones)
		protected.GET("/dependencies", d.Projects.Dependencies)
		protected.GET("/reports", d.Projects.Dashboard)

		view := RequireProjectAccess(d.Authorizer, service.ActionView, d.Logger)
		transition := RequireProjectAccess(d.Authorizer, service.ActionTransition, d.Logger)
		manageDeps := RequireProjectAccess(d.Authorizer, service.ActionManageDependencies, d.Logger)

		protected.POST("/projects/:id/milestones", transition, d.Workflow.Advance)
		protected.POST("/projects/:id/dependencies", manageDeps, d.Workflow.Attach)
		protected.PATCH("/projects/:id/dependencies/:dependencyId", manageDeps, d.Workflow.Clear)
		protected.GET("/projects/:id/gate/:milestoneId", view, d.Workflow.Gate)
		protected.GET("/projects/:id/reports", view, d.Workflow.Durations)
	}

	admin := protected.Group("/admin")
	{
		admin.PUT("/assign/:projectId", RequireCapability(rbac.Capability.CanAssign), d.Projects.Assign)

		replay := RequireCapability(rbac.Capability.CanReplayEvents)
		admin.GET("/outbox/failed", replay, d.Admin.ListFailedEvents)
		admin.POST("/outbox/replay", replay, d.Admin.ReplayEvents)
	}

	return &Router{Engine: r}
}

func readyHandler(db pinger, publisher connectionChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 1*time.Second)
		defer cancel()

		if err := db.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "db_not_ready", "error": err.Error()})
			return
		}
		if publisher != nil && !publisher.IsConnected() {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "mq_not_ready"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

func (r *Router) Run(port string) error {
	return r.Engine.Run(port)
}
