package service

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/edusync/attendance-api/internal/models"
	appErrors "github.com/edusync/attendance-api/pkg/errors"
)

type finalizerLedger interface {
	ListUnfinalized(ctx context.Context, schoolID, dateKey string) ([]models.StudentDayAttendance, error)
	ListDay(ctx context.Context, filter models.LedgerFilter) ([]models.LedgerDayRow, error)
	Finalize(ctx context.Context, id string, status models.AttendanceStatus, source models.MarkSource, at time.Time) (bool, error)
	InsertFinalizedAbsent(ctx context.Context, schoolID, studentID, dateKey string, at time.Time) (bool, error)
}

type rosterLister interface {
	ListRoster(ctx context.Context, filter models.RosterFilter) ([]models.Student, error)
}

type schoolDirectory interface {
	FindByID(ctx context.Context, id string) (*models.School, error)
	ListActive(ctx context.Context) ([]models.School, error)
}

type finalizeMetrics interface {
	CountFinalized(n int)
}

// FinalizerService resolves unfinalized ledger rows once a school's local
// cutoff has passed. Each invocation is a pure function of (ledger rows,
// school config, now); scheduling lives in the Scheduler.
type FinalizerService struct {
	ledger  finalizerLedger
	history historyAppender
	roster  rosterLister
	schools schoolDirectory
	cache   projectionCache
	metrics finalizeMetrics
	logger  *zap.Logger

	defaultCutoff string
	graceWindow   time.Duration
}

// NewFinalizerService constructs the service. graceWindow delays scheduled
// passes past the cutoff so slow camera uploads still land.
func NewFinalizerService(ledger finalizerLedger, history historyAppender, roster rosterLister, schools schoolDirectory, cache projectionCache, metrics finalizeMetrics, defaultCutoff string, graceWindow time.Duration, logger *zap.Logger) *FinalizerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultCutoff == "" {
		defaultCutoff = "09:00"
	}
	return &FinalizerService{
		ledger:        ledger,
		history:       history,
		roster:        roster,
		schools:       schools,
		cache:         cache,
		metrics:       metrics,
		logger:        logger,
		defaultCutoff: defaultCutoff,
		graceWindow:   graceWindow,
	}
}

// FinalizeSummary reports one finalize pass.
type FinalizeSummary struct {
	SchoolID    string `json:"school_id"`
	DateKey     string `json:"date_key"`
	Resolved    int    `json:"resolved"`
	Synthesized int    `json:"synthesized"`
}

// resolve applies the precedence rule: teacher override wins, then the auto
// side, then default-absent.
func resolve(row *models.StudentDayAttendance) (models.AttendanceStatus, models.MarkSource) {
	if row.TeacherOverride && row.TeacherStatus != nil {
		return *row.TeacherStatus, models.MarkSourceTeacher
	}
	if row.AutoStatus != nil {
		return *row.AutoStatus, models.MarkSourceAuto
	}
	return models.AttendanceStatusAbsent, models.MarkSourceFinalizer
}

// FinalizeForDate resolves every unfinalized ledger row for the school day
// and synthesizes default-absent rows for enrolled students with no ledger
// entry at all. Re-invocation on an already-finalized day is a no-op.
func (s *FinalizerService) FinalizeForDate(ctx context.Context, school *models.School, dateKey string, now time.Time) (*FinalizeSummary, error) {
	if _, err := time.Parse("2006-01-02", dateKey); err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "invalid date format, expected YYYY-MM-DD")
	}
	summary := &FinalizeSummary{SchoolID: school.ID, DateKey: dateKey}

	rows, err := s.ledger.ListUnfinalized(ctx, school.ID, dateKey)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list unfinalized rows")
	}
	for i := range rows {
		row := &rows[i]
		status, source := resolve(row)
		ok, err := s.ledger.Finalize(ctx, row.ID, status, source, now)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to finalize row")
		}
		if !ok {
			// Lost the race to a concurrent pass; that pass appended history.
			continue
		}
		if err := s.appendFinalizeHistory(ctx, school.ID, row.StudentID, dateKey, status, source, now); err != nil {
			return nil, err
		}
		summary.Resolved++
	}

	synthesized, err := s.synthesizeMissing(ctx, school.ID, dateKey, now)
	if err != nil {
		return nil, err
	}
	summary.Synthesized = synthesized

	if s.metrics != nil {
		s.metrics.CountFinalized(summary.Resolved + summary.Synthesized)
	}
	if s.cache != nil {
		s.cache.InvalidatePrefix(ctx, "attendance:"+school.ID+":"+dateKey)
	}
	return summary, nil
}

func (s *FinalizerService) appendFinalizeHistory(ctx context.Context, schoolID, studentID, dateKey string, status models.AttendanceStatus, source models.MarkSource, now time.Time) error {
	metadata, _ := json.Marshal(map[string]string{"pass": "finalize"})
	if err := s.history.Append(ctx, &models.HistoryEntry{
		SchoolID:  schoolID,
		StudentID: studentID,
		DateKey:   dateKey,
		Status:    status,
		Source:    source,
		MarkedAt:  now,
		Metadata:  metadata,
	}); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to append finalize history")
	}
	return nil
}

// synthesizeMissing creates finalized default-absent rows for enrolled
// students with no ledger entry, so every enrolled student ends the day
// with exactly one finalized row.
func (s *FinalizerService) synthesizeMissing(ctx context.Context, schoolID, dateKey string, now time.Time) (int, error) {
	active := true
	students, err := s.roster.ListRoster(ctx, models.RosterFilter{SchoolID: schoolID, Active: &active})
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list roster")
	}

	existing, err := s.ledger.ListDay(ctx, models.LedgerFilter{SchoolID: schoolID, DateKey: dateKey})
	if err != nil {
		return 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list ledger day")
	}
	seen := make(map[string]struct{}, len(existing))
	for _, row := range existing {
		seen[row.StudentID] = struct{}{}
	}

	count := 0
	for _, student := range students {
		if _, ok := seen[student.ID]; ok {
			continue
		}
		inserted, err := s.ledger.InsertFinalizedAbsent(ctx, schoolID, student.ID, dateKey, now)
		if err != nil {
			return count, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to synthesize absent row")
		}
		if !inserted {
			continue
		}
		if err := s.appendFinalizeHistory(ctx, schoolID, student.ID, dateKey, models.AttendanceStatusAbsent, models.MarkSourceFinalizer, now); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// RunDuePass finalizes the current school day for every active school whose
// cutoff has passed. Failures are isolated per school.
func (s *FinalizerService) RunDuePass(ctx context.Context, now time.Time) []FinalizeSummary {
	schools, err := s.schools.ListActive(ctx)
	if err != nil {
		s.logger.Sugar().Errorw("finalizer pass could not list schools", "error", err)
		return nil
	}

	var summaries []FinalizeSummary
	for i := range schools {
		school := &schools[i]
		dateKey, err := school.DateKey(now)
		if err != nil {
			s.logger.Sugar().Errorw("finalizer skipped school", "school_id", school.ID, "error", err)
			continue
		}
		passed, err := school.CutoffPassed(dateKey, now, s.defaultCutoff, s.graceWindow)
		if err != nil {
			s.logger.Sugar().Errorw("finalizer skipped school", "school_id", school.ID, "error", err)
			continue
		}
		if !passed {
			continue
		}
		summary, err := s.FinalizeForDate(ctx, school, dateKey, now)
		if err != nil {
			s.logger.Sugar().Errorw("finalize pass failed", "school_id", school.ID, "date_key", dateKey, "error", err)
			continue
		}
		if summary.Resolved > 0 || summary.Synthesized > 0 {
			s.logger.Sugar().Infow("finalize pass completed",
				"school_id", school.ID, "date_key", dateKey,
				"resolved", summary.Resolved, "synthesized", summary.Synthesized)
		}
		summaries = append(summaries, *summary)
	}
	return summaries
}
