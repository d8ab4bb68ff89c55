package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/edusync/attendance-api/internal/models"
	appErrors "github.com/edusync/attendance-api/pkg/errors"
	"github.com/edusync/attendance-api/pkg/response"
)

type notifierService interface {
	DispatchAbsenceRun(ctx context.Context, schoolID string) (*models.DispatchResult, error)
	SendTest(ctx context.Context, phone, message string) (models.SMSLogStatus, string, error)
	ListLogs(ctx context.Context, filter models.SMSLogFilter) ([]models.AbsenceSMSLog, *models.Pagination, error)
	Overview(ctx context.Context, schoolID string) (*models.SMSOverview, error)
}

// SMSHandler exposes absence-notification endpoints.
type SMSHandler struct {
	service notifierService
}

// NewSMSHandler constructs the handler.
func NewSMSHandler(service notifierService) *SMSHandler {
	return &SMSHandler{service: service}
}

// Logs godoc
// @Summary List absence SMS logs
// @Tags SMS
// @Produce json
// @Param status query string false "Log status (pending/sent/failed)"
// @Param date query string false "Date key (YYYY-MM-DD)"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /sms/logs [get]
func (h *SMSHandler) Logs(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	filter := models.SMSLogFilter{
		SchoolID: claims.SchoolID,
		DateKey:  c.Query("date"),
		Page:     parseQueryInt(c, "page", 1),
		PageSize: parseQueryInt(c, "limit", 50),
	}
	if raw := c.Query("status"); raw != "" {
		status := models.SMSLogStatus(raw)
		if !status.Valid() {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid status filter"))
			return
		}
		filter.Status = &status
	}

	rows, pagination, err := h.service.ListLogs(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, pagination)
}

// Overview godoc
// @Summary Absence SMS delivery overview
// @Tags SMS
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /sms/overview [get]
func (h *SMSHandler) Overview(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	overview, err := h.service.Overview(c.Request.Context(), claims.SchoolID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, overview, nil)
}

// Dispatch godoc
// @Summary Trigger an absence notification run
// @Tags SMS
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /sms/dispatch [post]
func (h *SMSHandler) Dispatch(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	result, err := h.service.DispatchAbsenceRun(c.Request.Context(), claims.SchoolID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

type testSendRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

// Test godoc
// @Summary Send a test SMS
// @Tags SMS
// @Accept json
// @Produce json
// @Param payload body testSendRequest true "Test message"
// @Success 200 {object} response.Envelope
// @Router /sms/test [post]
func (h *SMSHandler) Test(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req testSendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid payload"))
		return
	}

	status, detail, err := h.service.SendTest(c.Request.Context(), req.Phone, req.Message)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"status": status, "detail": detail}, nil)
}
