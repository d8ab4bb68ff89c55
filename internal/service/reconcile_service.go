package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/edusync/attendance-api/internal/models"
	appErrors "github.com/edusync/attendance-api/pkg/errors"
	"github.com/edusync/attendance-api/pkg/export"
)

type ledgerProjection interface {
	ListDay(ctx context.Context, filter models.LedgerFilter) ([]models.LedgerDayRow, error)
}

// ReconcileService produces the read-side suggestion and discrepancy views
// over the ledger. It never mutates attendance state.
type ReconcileService struct {
	ledger   ledgerProjection
	cache    projectionCache
	csv      *export.CSVExporter
	pdf      *export.PDFExporter
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewReconcileService constructs the service.
func NewReconcileService(ledger ledgerProjection, cache projectionCache, cacheTTL time.Duration, logger *zap.Logger) *ReconcileService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconcileService{
		ledger:   ledger,
		cache:    cache,
		csv:      export.NewCSVExporter(),
		pdf:      export.NewPDFExporter(),
		cacheTTL: cacheTTL,
		logger:   logger,
	}
}

// Suggest lists students with a camera-derived status the teacher has not
// confirmed yet. An empty day yields an empty list, never an error.
func (s *ReconcileService) Suggest(ctx context.Context, schoolID, dateKey, grade, section string) ([]models.Suggestion, error) {
	if _, err := time.Parse("2006-01-02", dateKey); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date format, expected YYYY-MM-DD")
	}
	rows, err := s.ledger.ListDay(ctx, models.LedgerFilter{SchoolID: schoolID, DateKey: dateKey, Grade: grade, Section: section})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list ledger day")
	}

	suggestions := make([]models.Suggestion, 0)
	for _, row := range rows {
		if row.AutoStatus == nil || row.TeacherOverride {
			continue
		}
		suggestion := models.Suggestion{
			StudentID:       row.StudentID,
			StudentName:     row.StudentName,
			SuggestedStatus: *row.AutoStatus,
			CapturedAt:      row.AutoMarkedAt,
		}
		if row.AutoEventID != nil {
			suggestion.BasedOnEventID = *row.AutoEventID
		}
		suggestions = append(suggestions, suggestion)
	}
	return suggestions, nil
}

// Reconcile compares auto vs teacher vs final state for a school day and
// reports every disagreement. Pure projection, cached briefly.
func (s *ReconcileService) Reconcile(ctx context.Context, schoolID, dateKey, grade, section string) (*models.ReconcileReport, error) {
	if _, err := time.Parse("2006-01-02", dateKey); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date format, expected YYYY-MM-DD")
	}

	cacheKey := fmt.Sprintf("attendance:%s:%s:reconcile:%s:%s", schoolID, dateKey, grade, section)
	if s.cache != nil {
		var cached models.ReconcileReport
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	rows, err := s.ledger.ListDay(ctx, models.LedgerFilter{SchoolID: schoolID, DateKey: dateKey, Grade: grade, Section: section})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list ledger day")
	}

	report := &models.ReconcileReport{Discrepancies: make([]models.Discrepancy, 0)}
	for _, row := range rows {
		report.Summary.TotalRows++
		if row.Finalized {
			report.Summary.Finalized++
		}
		switch {
		case row.AutoStatus != nil && row.TeacherStatus != nil:
			if *row.AutoStatus != *row.TeacherStatus {
				report.Summary.DiscrepancyCount++
				report.Discrepancies = append(report.Discrepancies, models.Discrepancy{
					StudentID:     row.StudentID,
					StudentName:   row.StudentName,
					AutoStatus:    *row.AutoStatus,
					TeacherStatus: *row.TeacherStatus,
					WinningSource: row.FinalSource,
				})
			} else {
				report.Summary.Agreements++
			}
		case row.AutoStatus != nil:
			report.Summary.AutoOnly++
		case row.TeacherStatus != nil:
			report.Summary.TeacherOnly++
		}
	}

	if s.cache != nil && s.cacheTTL > 0 {
		if err := s.cache.Set(ctx, cacheKey, report, s.cacheTTL); err != nil {
			s.logger.Sugar().Warnw("failed to cache reconciliation report", "school_id", schoolID, "error", err)
		}
	}
	return report, nil
}

// ExportFormat selects the reconciliation export encoding.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// Export renders the reconciliation report as a downloadable document.
func (s *ReconcileService) Export(ctx context.Context, schoolID, dateKey, grade, section string, format ExportFormat) ([]byte, string, error) {
	report, err := s.Reconcile(ctx, schoolID, dateKey, grade, section)
	if err != nil {
		return nil, "", err
	}

	dataset := export.Dataset{
		Headers: []string{"student_id", "student_name", "auto_status", "teacher_status", "winning_source"},
	}
	for _, d := range report.Discrepancies {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"student_id":     d.StudentID,
			"student_name":   d.StudentName,
			"auto_status":    string(d.AutoStatus),
			"teacher_status": string(d.TeacherStatus),
			"winning_source": string(d.WinningSource),
		})
	}

	switch format {
	case ExportFormatCSV:
		payload, err := s.csv.Render(dataset)
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return payload, "text/csv", nil
	case ExportFormatPDF:
		payload, err := s.pdf.Render(dataset, fmt.Sprintf("Attendance reconciliation %s", dateKey))
		if err != nil {
			return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return payload, "application/pdf", nil
	default:
		return nil, "", appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
}
