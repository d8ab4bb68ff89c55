package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/edusync/attendance-api/internal/models"
	"github.com/edusync/attendance-api/internal/repository"
	appErrors "github.com/edusync/attendance-api/pkg/errors"
)

type teacherLedgerWriter interface {
	UpsertTeacher(ctx context.Context, p repository.TeacherWriteParams) (*models.StudentDayAttendance, error)
	ListDay(ctx context.Context, filter models.LedgerFilter) ([]models.LedgerDayRow, error)
}

type historyReader interface {
	historyAppender
	ListForDay(ctx context.Context, schoolID, studentID, dateKey string) ([]models.HistoryEntry, error)
}

// MarkService records manual teacher attendance marks.
type MarkService struct {
	ledger    teacherLedgerWriter
	history   historyReader
	roster    rosterDirectory
	cache     projectionCache
	validator *validator.Validate
	logger    *zap.Logger
}

// NewMarkService constructs the service.
func NewMarkService(ledger teacherLedgerWriter, history historyReader, roster rosterDirectory, cache projectionCache, validate *validator.Validate, logger *zap.Logger) *MarkService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MarkService{ledger: ledger, history: history, roster: roster, cache: cache, validator: validate, logger: logger}
}

// TeacherMarkRequest is one manual status write. Teachers may use the full
// status range except pending, which can never survive finalization.
type TeacherMarkRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	Date      string `json:"date" validate:"required"`
	Status    string `json:"status" validate:"required,oneof=present absent late excused"`
}

// MarkByTeacher records a teacher mark. The teacher side is last-write-wins
// and always sets the override flag; a finalized day is reopened and
// re-finalized in the same write with the teacher's value.
func (s *MarkService) MarkByTeacher(ctx context.Context, school *models.School, teacherID string, req TeacherMarkRequest) (*models.StudentDayAttendance, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid mark payload")
	}
	if _, err := time.Parse("2006-01-02", req.Date); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date format, expected YYYY-MM-DD")
	}

	student, err := s.roster.FindActive(ctx, school.ID, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnknownStudent, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve student")
	}

	now := time.Now().UTC()
	status := models.AttendanceStatus(req.Status)
	row, err := s.ledger.UpsertTeacher(ctx, repository.TeacherWriteParams{
		SchoolID:  school.ID,
		StudentID: student.ID,
		DateKey:   req.Date,
		Status:    status,
		MarkedAt:  now,
		TeacherID: teacherID,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record teacher mark")
	}

	metadata, _ := json.Marshal(map[string]string{"teacher_id": teacherID})
	if err := s.history.Append(ctx, &models.HistoryEntry{
		SchoolID:  school.ID,
		StudentID: student.ID,
		DateKey:   req.Date,
		Status:    status,
		Source:    models.MarkSourceTeacher,
		MarkedAt:  now,
		Metadata:  metadata,
	}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to append history")
	}

	if s.cache != nil {
		s.cache.InvalidatePrefix(ctx, "attendance:"+school.ID+":"+req.Date)
	}
	return row, nil
}

// DayView returns ledger rows for a school day, optionally scoped to a
// grade and section.
func (s *MarkService) DayView(ctx context.Context, schoolID, dateKey, grade, section string) ([]models.LedgerDayRow, error) {
	if _, err := time.Parse("2006-01-02", dateKey); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date format, expected YYYY-MM-DD")
	}
	rows, err := s.ledger.ListDay(ctx, models.LedgerFilter{SchoolID: schoolID, DateKey: dateKey, Grade: grade, Section: section})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list attendance day")
	}
	return rows, nil
}

// History returns the audit trail for one student day.
func (s *MarkService) History(ctx context.Context, schoolID, studentID, dateKey string) ([]models.HistoryEntry, error) {
	if _, err := time.Parse("2006-01-02", dateKey); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date format, expected YYYY-MM-DD")
	}
	entries, err := s.history.ListForDay(ctx, schoolID, studentID, dateKey)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list history")
	}
	return entries, nil
}
