package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"milestone-tracker/internal/repository"
	"milestone-tracker/internal/service"
	"milestone-tracker/internal/workflow"
	"milestone-tracker/pkg/logger"
	"milestone-tracker/pkg/outbox"
	"milestone-tracker/pkg/rbac"
)

// 引擎错误类型到 HTTP 状态码的映射，只按类型判断，不看错误文本
var statusByKind = map[workflow.Kind]int{
	workflow.KindNotFound:            http.StatusNotFound,
	workflow.KindInvalidSequence:     http.StatusConflict,
	workflow.KindDependenciesPending: http.StatusForbidden,
	workflow.KindAlreadyAttached:     http.StatusConflict,
	workflow.KindValidation:          http.StatusBadRequest,
}

var statusBySentinel = []struct {
	err    error
	status int
}{
	{service.ErrInvalidInput, http.StatusBadRequest},
	{service.ErrNoUpdatableFields, http.StatusBadRequest},
	{service.ErrAlreadyAssigned, http.StatusBadRequest},
	{service.ErrUsernameTaken, http.StatusConflict},
	{service.ErrInvalidCredentials, http.StatusUnauthorized},
	{service.ErrInvalidRefreshToken, http.StatusForbidden},
	{repository.ErrProjectNotFound, http.StatusNotFound},
	{repository.ErrUserNotFound, http.StatusNotFound},
	{outbox.ErrEventNotFound, http.StatusNotFound},
}

const internalErrorMessage = "internal server error"

// StatusFor returns the response status for err and whether err is a known
// failure whose message may be shown to the client.
func StatusFor(err error) (int, bool) {
	if kind, ok := workflow.KindOf(err); ok {
		if status, ok := statusByKind[kind]; ok {
			return status, true
		}
	}

	var denied *rbac.PermissionDeniedError
	if errors.As(err, &denied) {
		return http.StatusForbidden, true
	}

	for _, s := range statusBySentinel {
		if errors.Is(err, s.err) {
			return s.status, true
		}
	}
	return http.StatusInternalServerError, false
}

// RespondError writes the error body. Unknown errors are logged and hidden
// behind a generic message.
func RespondError(c *gin.Context, log *zap.Logger, err error) {
	status, known := StatusFor(err)
	if !known {
		logger.WithTrace(c.Request.Context(), log).Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		c.JSON(status, gin.H{"error": internalErrorMessage})
		return
	}

	body := gin.H{"error": err.Error()}
	var werr *workflow.Error
	if errors.As(err, &werr) {
		body["kind"] = werr.Kind.String()
		if werr.Kind == workflow.KindInvalidSequence {
			body["expected"] = werr.Expected
		}
		if werr.Kind == workflow.KindDependenciesPending {
			body["pending"] = werr.Pending
		}
	}
	c.JSON(status, body)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}
