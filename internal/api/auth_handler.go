package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"milestone-tracker/internal/model"
	"milestone-tracker/internal/service"
)

type authService interface {
	Register(ctx context.Context, username, password, role string) (*model.User, error)
	Login(ctx context.Context, username, password string) (*service.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (string, time.Time, error)
	Logout(ctx context.Context, refreshToken string) error
}

type AuthHandler struct {
	auth   authService
	logger *zap.Logger
}

func NewAuthHandler(auth authService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{auth: auth, logger: logger}
}

// Register handles POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	u, err := h.auth.Register(c.Request.Context(), req.Username, req.Password, req.Role)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"id":       u.ID,
		"username": u.Username,
		"role":     u.Role,
	})
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	res, err := h.auth.Login(c.Request.Context(), req.Username, req.Password)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Refresh handles POST /api/auth/refresh
func (h *AuthHandler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	token, exp, err := h.auth.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accessToken": token, "expiresAt": exp})
}

// Logout handles POST /api/auth/logout
func (h *AuthHandler) Logout(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request")
		return
	}

	if err := h.auth.Logout(c.Request.Context(), req.RefreshToken); err != nil {
		RespondError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}
