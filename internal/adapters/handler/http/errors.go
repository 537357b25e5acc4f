package http

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/comitanigiacomo/kanso-analysis-engine/internal/core/domain"
	"github.com/comitanigiacomo/kanso-analysis-engine/internal/core/services"
)

func handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidActivity),
		errors.Is(err, domain.ErrInvalidUserID),
		errors.Is(err, domain.ErrActivityOutsideDay):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid activity", "details": err.Error()})

	case errors.Is(err, domain.ErrUserNotFound),
		errors.Is(err, domain.ErrDeviceNotFound),
		errors.Is(err, domain.ErrGoalNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "resource not found"})

	case errors.Is(err, services.ErrLockUnavailable):
		c.Header("Retry-After", "1")
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":   "user busy",
			"message": "another event of this user is being processed, please retry",
		})

	default:
		slog.Error("request failed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"error", err,
		)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
