package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edusync/attendance-api/internal/models"
	"github.com/edusync/attendance-api/internal/service"
	appErrors "github.com/edusync/attendance-api/pkg/errors"
	"github.com/edusync/attendance-api/pkg/response"
)

type ingestService interface {
	AdmitEvent(ctx context.Context, school *models.School, req service.AdmitEventRequest) (*models.AttendanceEvent, error)
	ListEvents(ctx context.Context, schoolID string, req service.EventListRequest) ([]models.AttendanceEvent, *models.Pagination, error)
	Stats(ctx context.Context, school *models.School, now time.Time) (*models.EventStats, error)
}

type eventSchoolDirectory interface {
	FindByID(ctx context.Context, id string) (*models.School, error)
}

// EventHandler exposes camera-event ingestion and query endpoints.
type EventHandler struct {
	service ingestService
	schools eventSchoolDirectory
}

// NewEventHandler constructs the handler.
func NewEventHandler(service ingestService, schools eventSchoolDirectory) *EventHandler {
	return &EventHandler{service: service, schools: schools}
}

// Ingest godoc
// @Summary Admit one camera-capture event
// @Tags Events
// @Accept json
// @Produce json
// @Param X-School-Id header string true "School identifier"
// @Param X-Api-Key header string true "Device API key"
// @Param payload body service.AdmitEventRequest true "Event"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope "Duplicate event id"
// @Failure 404 {object} response.Envelope "Unknown student"
// @Router /ingest/events [post]
func (h *EventHandler) Ingest(c *gin.Context) {
	school := schoolFromContext(c)
	if school == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.AdmitEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid event payload"))
		return
	}

	event, err := h.service.AdmitEvent(c.Request.Context(), school, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, event)
}

// List godoc
// @Summary List stored events
// @Tags Events
// @Produce json
// @Param studentId query string false "Student ID"
// @Param status query string false "Event status (admitted/duplicate/superseded)"
// @Param date query string false "Captured date key (YYYY-MM-DD)"
// @Param dateFrom query string false "From instant (YYYY-MM-DD)"
// @Param dateTo query string false "To instant (YYYY-MM-DD)"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /events [get]
func (h *EventHandler) List(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	req := service.EventListRequest{
		StudentID: c.Query("studentId"),
		DateKey:   c.Query("date"),
		SortOrder: c.Query("sortOrder"),
		Page:      parseQueryInt(c, "page", 1),
		PageSize:  parseQueryInt(c, "limit", 50),
	}
	if status := c.Query("status"); status != "" {
		req.Status = &status
	}
	from, err := parseDateParam(c.Query("dateFrom"))
	if err != nil {
		response.Error(c, err)
		return
	}
	to, err := parseDateParam(c.Query("dateTo"))
	if err != nil {
		response.Error(c, err)
		return
	}
	req.DateFrom = from
	req.DateTo = to

	rows, pagination, err := h.service.ListEvents(c.Request.Context(), claims.SchoolID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, pagination)
}

// Stats godoc
// @Summary Event statistics
// @Tags Events
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /events/stats [get]
func (h *EventHandler) Stats(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	school, err := h.schools.FindByID(c.Request.Context(), claims.SchoolID)
	if err != nil {
		response.Error(c, appErrors.ErrUnknownSchool)
		return
	}

	stats, err := h.service.Stats(c.Request.Context(), school, time.Now())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}
