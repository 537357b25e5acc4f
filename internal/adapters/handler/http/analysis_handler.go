package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/comitanigiacomo/kanso-analysis-engine/internal/core/services"
)

// AnalysisHandler is the ingestion endpoint for activity events.
type AnalysisHandler struct {
	svc *services.AnalysisEngineService
}

func NewAnalysisHandler(svc *services.AnalysisEngineService) *AnalysisHandler {
	return &AnalysisHandler{
		svc: svc,
	}
}

type networkActivityRequest struct {
	DeviceAnonymizedID string     `json:"device_anonymized_id"`
	Categories         []string   `json:"categories" binding:"required,min=1"`
	URL                string     `json:"url"`
	EventTime          *time.Time `json:"event_time"`
}

type appActivityItem struct {
	Application string    `json:"application" binding:"required"`
	StartTime   time.Time `json:"start_time" binding:"required"`
	EndTime     time.Time `json:"end_time" binding:"required"`
}

type appActivitiesRequest struct {
	DeviceDateTime time.Time         `json:"device_date_time" binding:"required"`
	Activities     []appActivityItem `json:"activities" binding:"required,min=1,dive"`
}

type analysisResponse struct {
	MatchedGoals  []string `json:"matched_goals"`
	NotifiedGoals []string `json:"notified_goals"`
}

func (h *AnalysisHandler) RegisterRoutes(router *gin.RouterGroup) {
	users := router.Group("/analysis/users/:userID")
	{
		users.POST("/network-activity", h.AnalyzeNetworkActivity)
		users.POST("/devices/:deviceID/app-activity", h.AnalyzeAppActivities)
	}
}

func (h *AnalysisHandler) AnalyzeNetworkActivity(c *gin.Context) {
	var req networkActivityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	summary, err := h.svc.AnalyzeNetworkActivity(c.Request.Context(), services.NetworkActivityInput{
		UserAnonymizedID:   c.Param("userID"),
		DeviceAnonymizedID: req.DeviceAnonymizedID,
		Categories:         req.Categories,
		URL:                req.URL,
		EventTime:          req.EventTime,
	})
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, newAnalysisResponse(summary))
}

func (h *AnalysisHandler) AnalyzeAppActivities(c *gin.Context) {
	var req appActivitiesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body", "details": err.Error()})
		return
	}

	activities := make([]services.AppActivity, 0, len(req.Activities))
	for _, a := range req.Activities {
		activities = append(activities, services.AppActivity{
			Application: a.Application,
			StartTime:   a.StartTime,
			EndTime:     a.EndTime,
		})
	}

	summary, err := h.svc.AnalyzeAppActivities(c.Request.Context(), services.AppActivitiesInput{
		UserAnonymizedID: c.Param("userID"),
		DeviceID:         c.Param("deviceID"),
		DeviceDateTime:   req.DeviceDateTime,
		Activities:       activities,
	})
	if err != nil {
		handleError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, newAnalysisResponse(summary))
}

func newAnalysisResponse(s *services.AnalysisSummary) analysisResponse {
	resp := analysisResponse{
		MatchedGoals:  s.MatchedGoalIDs,
		NotifiedGoals: s.NotifiedGoalIDs,
	}
	if resp.MatchedGoals == nil {
		resp.MatchedGoals = []string{}
	}
	if resp.NotifiedGoals == nil {
		resp.NotifiedGoals = []string{}
	}
	return resp
}
