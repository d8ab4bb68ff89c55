package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/edusync/attendance-api/internal/models"
	"github.com/edusync/attendance-api/internal/service"
	appErrors "github.com/edusync/attendance-api/pkg/errors"
	"github.com/edusync/attendance-api/pkg/response"
)

type markService interface {
	MarkByTeacher(ctx context.Context, school *models.School, teacherID string, req service.TeacherMarkRequest) (*models.StudentDayAttendance, error)
	DayView(ctx context.Context, schoolID, dateKey, grade, section string) ([]models.LedgerDayRow, error)
	History(ctx context.Context, schoolID, studentID, dateKey string) ([]models.HistoryEntry, error)
}

type reconcileService interface {
	Suggest(ctx context.Context, schoolID, dateKey, grade, section string) ([]models.Suggestion, error)
	Reconcile(ctx context.Context, schoolID, dateKey, grade, section string) (*models.ReconcileReport, error)
	Export(ctx context.Context, schoolID, dateKey, grade, section string, format service.ExportFormat) ([]byte, string, error)
}

type finalizerTrigger interface {
	FinalizeForDate(ctx context.Context, school *models.School, dateKey string, now time.Time) (*service.FinalizeSummary, error)
}

// AttendanceHandler exposes the teacher/admin-facing attendance surface:
// marks, day views, suggestions, reconciliation, and the manual finalize
// trigger.
type AttendanceHandler struct {
	marks     markService
	reconcile reconcileService
	finalizer finalizerTrigger
	schools   eventSchoolDirectory
}

// NewAttendanceHandler constructs the handler.
func NewAttendanceHandler(marks markService, reconcile reconcileService, finalizer finalizerTrigger, schools eventSchoolDirectory) *AttendanceHandler {
	return &AttendanceHandler{marks: marks, reconcile: reconcile, finalizer: finalizer, schools: schools}
}

func (h *AttendanceHandler) resolveSchool(c *gin.Context) (*models.School, *models.JWTClaims, bool) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return nil, nil, false
	}
	school, err := h.schools.FindByID(c.Request.Context(), claims.SchoolID)
	if err != nil {
		response.Error(c, appErrors.ErrUnknownSchool)
		return nil, nil, false
	}
	return school, claims, true
}

// Mark godoc
// @Summary Record a teacher attendance mark
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body service.TeacherMarkRequest true "Mark"
// @Success 200 {object} response.Envelope
// @Router /attendance/mark [post]
func (h *AttendanceHandler) Mark(c *gin.Context) {
	school, claims, ok := h.resolveSchool(c)
	if !ok {
		return
	}

	var req service.TeacherMarkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid mark payload"))
		return
	}

	row, err := h.marks.MarkByTeacher(c.Request.Context(), school, claims.UserID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, row, nil)
}

// Day godoc
// @Summary Ledger rows for one school day
// @Tags Attendance
// @Produce json
// @Param date query string true "Date (YYYY-MM-DD)"
// @Param grade query string false "Grade"
// @Param section query string false "Section"
// @Success 200 {object} response.Envelope
// @Router /attendance/day [get]
func (h *AttendanceHandler) Day(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	rows, err := h.marks.DayView(c.Request.Context(), claims.SchoolID, c.Query("date"), c.Query("grade"), c.Query("section"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, nil)
}

// History godoc
// @Summary Audit history for one student day
// @Tags Attendance
// @Produce json
// @Param studentId query string true "Student ID"
// @Param date query string true "Date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /attendance/history [get]
func (h *AttendanceHandler) History(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	studentID := c.Query("studentId")
	if studentID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "studentId is required"))
		return
	}
	entries, err := h.marks.History(c.Request.Context(), claims.SchoolID, studentID, c.Query("date"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, entries, nil)
}

// Suggestions godoc
// @Summary Camera-derived statuses awaiting teacher confirmation
// @Tags Attendance
// @Produce json
// @Param date query string true "Date (YYYY-MM-DD)"
// @Param grade query string false "Grade"
// @Param section query string false "Section"
// @Success 200 {object} response.Envelope
// @Router /attendance/suggestions [get]
func (h *AttendanceHandler) Suggestions(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	suggestions, err := h.reconcile.Suggest(c.Request.Context(), claims.SchoolID, c.Query("date"), c.Query("grade"), c.Query("section"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, suggestions, nil)
}

// Reconciliation godoc
// @Summary Camera vs teacher reconciliation report
// @Tags Attendance
// @Produce json
// @Param date query string true "Date (YYYY-MM-DD)"
// @Param grade query string false "Grade"
// @Param section query string false "Section"
// @Success 200 {object} response.Envelope
// @Router /attendance/reconciliation [get]
func (h *AttendanceHandler) Reconciliation(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	report, err := h.reconcile.Reconcile(c.Request.Context(), claims.SchoolID, c.Query("date"), c.Query("grade"), c.Query("section"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, report, nil)
}

// ReconciliationExport godoc
// @Summary Download the reconciliation report
// @Tags Attendance
// @Produce text/csv
// @Produce application/pdf
// @Param date query string true "Date (YYYY-MM-DD)"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Router /attendance/reconciliation/export [get]
func (h *AttendanceHandler) ReconciliationExport(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	format := service.ExportFormat(c.DefaultQuery("format", "csv"))
	payload, contentType, err := h.reconcile.Export(c.Request.Context(), claims.SchoolID, c.Query("date"), c.Query("grade"), c.Query("section"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	filename := fmt.Sprintf("reconciliation-%s.%s", c.Query("date"), format)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, contentType, payload)
}

type finalizeRequest struct {
	Date string `json:"date"`
}

// Finalize godoc
// @Summary Manually trigger finalization for a school day
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body finalizeRequest true "Date"
// @Success 200 {object} response.Envelope
// @Router /attendance/finalize [post]
func (h *AttendanceHandler) Finalize(c *gin.Context) {
	school, _, ok := h.resolveSchool(c)
	if !ok {
		return
	}

	var req finalizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid payload"))
		return
	}

	summary, err := h.finalizer.FinalizeForDate(c.Request.Context(), school, req.Date, time.Now().UTC())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}
