package httpserver

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"milestone-tracker/internal/api"
	"milestone-tracker/internal/model"
	"milestone-tracker/internal/service"
	"milestone-tracker/pkg/logger"
	"milestone-tracker/pkg/rbac"
	"milestone-tracker/pkg/util"
)

type identifier interface {
	Identify(accessToken string) (rbac.Identity, error)
}

type projectAuthorizer interface {
	Authorize(ctx context.Context, c rbac.Capability, projectID int, action service.Action) (*model.Project, error)
}

// AuthMiddleware 校验 access token，并把调用者的 Capability 放进 context
func AuthMiddleware(auth identifier, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := util.ExtractToken(c.Request)
		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			c.Abort()
			return
		}

		id, err := auth.Identify(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			c.Abort()
			return
		}

		capability, err := rbac.For(id)
		if err != nil {
			logger.WithTrace(c.Request.Context(), log).Warn("Token carries unknown role",
				zap.Int("user_id", id.UserID),
				zap.String("role", id.Role),
			)
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		api.SetCapability(c, capability)
		c.Set("user_id", id.UserID)
		c.Next()
	}
}

// RequireCapability 要求调用者的角色具备某项能力
func RequireCapability(allowed func(rbac.Capability) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		capability, ok := api.CapabilityFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
			c.Abort()
			return
		}
		if !allowed(capability) {
			c.JSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireProjectAccess 加载 :id 对应的项目并检查调用者对它的权限，
// 在进入工作流引擎之前完成
func RequireProjectAccess(projects projectAuthorizer, action service.Action, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		capability, ok := api.CapabilityFrom(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "user not authenticated"})
			c.Abort()
			return
		}
		projectID, ok := api.PathID(c, "id")
		if !ok {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id parameter"})
			c.Abort()
			return
		}

		if _, err := projects.Authorize(c.Request.Context(), capability, projectID, action); err != nil {
			api.RespondError(c, log, err)
			c.Abort()
			return
		}
		c.Next()
	}
}
