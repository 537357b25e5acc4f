package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/comitanigiacomo/kanso-analysis-engine/internal/core/services"
)

type ActivityHandler struct {
	svc *services.ActivityReportService
}

func NewActivityHandler(svc *services.ActivityReportService) *ActivityHandler {
	return &ActivityHandler{
		svc: svc,
	}
}

func (h *ActivityHandler) RegisterRoutes(router *gin.RouterGroup) {
	goals := router.Group("/activity/users/:userID/goals/:goalID")
	{
		goals.GET("/days/:date", h.GetDay)
		goals.GET("/weeks/:date", h.GetWeek)
	}
}

func (h *ActivityHandler) GetDay(c *gin.Context) {
	date, err := time.Parse(time.DateOnly, c.Param("date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date format (use YYYY-MM-DD)"})
		return
	}

	overview, err := h.svc.GetDayActivityOverview(c.Request.Context(), c.Param("userID"), c.Param("goalID"), date)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, overview)
}

// GetWeek accepts any date inside the week.
func (h *ActivityHandler) GetWeek(c *gin.Context) {
	date, err := time.Parse(time.DateOnly, c.Param("date"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date format (use YYYY-MM-DD)"})
		return
	}

	overview, err := h.svc.GetWeekActivityOverview(c.Request.Context(), c.Param("userID"), c.Param("goalID"), date)
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, overview)
}
