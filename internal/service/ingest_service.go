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

type eventStore interface {
	InsertAdmitted(ctx context.Context, event *models.AttendanceEvent) (*models.AttendanceEvent, error)
	InsertDuplicate(ctx context.Context, event *models.AttendanceEvent) error
	MarkSuperseded(ctx context.Context, schoolID, eventID string) error
	List(ctx context.Context, filter models.EventFilter) ([]models.AttendanceEvent, int, error)
	Stats(ctx context.Context, schoolID, todayKey string) (*models.EventStats, error)
}

type autoLedgerWriter interface {
	Get(ctx context.Context, schoolID, studentID, dateKey string) (*models.StudentDayAttendance, error)
	UpsertAuto(ctx context.Context, p repository.AutoWriteParams) (*models.StudentDayAttendance, error)
}

type historyAppender interface {
	Append(ctx context.Context, entry *models.HistoryEntry) error
}

type rosterDirectory interface {
	FindActive(ctx context.Context, schoolID, studentID string) (*models.Student, error)
}

type projectionCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	InvalidatePrefix(ctx context.Context, prefix string)
}

type ingestMetrics interface {
	CountEventAdmitted()
	CountEventDuplicate()
}

// IngestService admits camera-capture events into the event store and the
// ledger's auto side.
type IngestService struct {
	events    eventStore
	ledger    autoLedgerWriter
	history   historyAppender
	roster    rosterDirectory
	cache     projectionCache
	metrics   ingestMetrics
	validator *validator.Validate
	logger    *zap.Logger

	acceptTest    bool
	maxClockSkew  time.Duration
	statsCacheTTL time.Duration
}

// IngestServiceConfig bundles ingestion tuning.
type IngestServiceConfig struct {
	AcceptTest    bool
	MaxClockSkew  time.Duration
	StatsCacheTTL time.Duration
}

// NewIngestService constructs the service.
func NewIngestService(events eventStore, ledger autoLedgerWriter, history historyAppender, roster rosterDirectory, cache projectionCache, metrics ingestMetrics, cfg IngestServiceConfig, validate *validator.Validate, logger *zap.Logger) *IngestService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestService{
		events:        events,
		ledger:        ledger,
		history:       history,
		roster:        roster,
		cache:         cache,
		metrics:       metrics,
		validator:     validate,
		logger:        logger,
		acceptTest:    cfg.AcceptTest,
		maxClockSkew:  cfg.MaxClockSkew,
		statsCacheTTL: cfg.StatsCacheTTL,
	}
}

// AdmitEventRequest is one camera submission.
type AdmitEventRequest struct {
	EventID     string    `json:"event_id" validate:"required"`
	StudentID   string    `json:"student_id" validate:"required"`
	CapturedAt  time.Time `json:"captured_at" validate:"required"`
	StudentName *string   `json:"student_name"`
	Grade       *string   `json:"grade"`
	Section     *string   `json:"section"`
	BloodGroup  *string   `json:"blood_group"`
	SourceApp   *string   `json:"source_app"`
	Test        bool      `json:"test"`
}

// AdmitEvent validates and admits one event. Duplicate event ids are
// rejected with no ledger change; the rejected submission is still recorded
// as a duplicate audit row. A successful capture always implies presence,
// so the ledger's auto side is set to present.
func (s *IngestService) AdmitEvent(ctx context.Context, school *models.School, req AdmitEventRequest) (*models.AttendanceEvent, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid event payload")
	}
	if req.Test && !s.acceptTest {
		return nil, appErrors.Clone(appErrors.ErrValidation, "test events are not accepted")
	}
	if s.maxClockSkew > 0 {
		if drift := time.Since(req.CapturedAt); drift > s.maxClockSkew || drift < -s.maxClockSkew {
			return nil, appErrors.Clone(appErrors.ErrValidation, "captured_at outside accepted clock window")
		}
	}

	student, err := s.roster.FindActive(ctx, school.ID, req.StudentID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrUnknownStudent, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve student")
	}

	capturedAt := req.CapturedAt.UTC()
	dateKey, err := school.DateKey(capturedAt)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute school-local date")
	}

	event := &models.AttendanceEvent{
		SchoolID:        school.ID,
		EventID:         req.EventID,
		StudentID:       student.ID,
		StudentName:     req.StudentName,
		Grade:           req.Grade,
		Section:         req.Section,
		BloodGroup:      req.BloodGroup,
		CapturedAt:      capturedAt,
		CapturedDateKey: dateKey,
		SourceApp:       req.SourceApp,
		Test:            req.Test,
	}

	// Previous auto event for the same day gets superseded once this one
	// lands; look it up before the upsert replaces it.
	var prevEventID string
	if prev, err := s.ledger.Get(ctx, school.ID, student.ID, dateKey); err == nil && prev.AutoEventID != nil {
		prevEventID = *prev.AutoEventID
	} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read ledger")
	}

	stored, err := s.events.InsertAdmitted(ctx, event)
	if err != nil {
		if errors.Is(err, repository.ErrEventExists) {
			audit := *event
			audit.ID = ""
			if auditErr := s.events.InsertDuplicate(ctx, &audit); auditErr != nil {
				s.logger.Sugar().Warnw("failed to record duplicate event", "school_id", school.ID, "event_id", req.EventID, "error", auditErr)
			}
			if s.metrics != nil {
				s.metrics.CountEventDuplicate()
			}
			return nil, appErrors.Clone(appErrors.ErrDuplicateEvent, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store event")
	}

	if _, err := s.ledger.UpsertAuto(ctx, repository.AutoWriteParams{
		SchoolID:  school.ID,
		StudentID: student.ID,
		DateKey:   dateKey,
		Status:    models.AttendanceStatusPresent,
		MarkedAt:  capturedAt,
		EventID:   stored.EventID,
	}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update ledger")
	}

	if prevEventID != "" && prevEventID != stored.EventID {
		if err := s.events.MarkSuperseded(ctx, school.ID, prevEventID); err != nil {
			s.logger.Sugar().Warnw("failed to supersede previous event", "school_id", school.ID, "event_id", prevEventID, "error", err)
		}
	}

	metadata, _ := json.Marshal(map[string]string{"event_id": stored.EventID})
	if err := s.history.Append(ctx, &models.HistoryEntry{
		SchoolID:  school.ID,
		StudentID: student.ID,
		DateKey:   dateKey,
		Status:    models.AttendanceStatusPresent,
		Source:    models.MarkSourceAuto,
		MarkedAt:  capturedAt,
		Metadata:  metadata,
	}); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to append history")
	}

	if s.metrics != nil {
		s.metrics.CountEventAdmitted()
	}
	if s.cache != nil {
		s.cache.InvalidatePrefix(ctx, "attendance:"+school.ID+":"+dateKey)
	}

	return stored, nil
}

// EventListRequest filters event listings.
type EventListRequest struct {
	StudentID string     `json:"student_id"`
	Status    *string    `json:"status" validate:"omitempty,oneof=admitted duplicate superseded"`
	DateKey   string     `json:"date_key"`
	DateFrom  *time.Time `json:"date_from"`
	DateTo    *time.Time `json:"date_to"`
	Page      int        `json:"page"`
	PageSize  int        `json:"page_size"`
	SortOrder string     `json:"sort_order"`
}

// ListEvents returns paginated events for a school.
func (s *IngestService) ListEvents(ctx context.Context, schoolID string, req EventListRequest) ([]models.AttendanceEvent, *models.Pagination, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid filter")
	}
	var status *models.EventStatus
	if req.Status != nil {
		st := models.EventStatus(*req.Status)
		status = &st
	}
	page := req.Page
	if page < 1 {
		page = 1
	}
	size := req.PageSize
	if size <= 0 {
		size = 50
	}
	rows, total, err := s.events.List(ctx, models.EventFilter{
		SchoolID:  schoolID,
		StudentID: req.StudentID,
		Status:    status,
		DateKey:   req.DateKey,
		DateFrom:  req.DateFrom,
		DateTo:    req.DateTo,
		Page:      page,
		PageSize:  size,
		SortOrder: req.SortOrder,
	})
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list events")
	}
	return rows, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// Stats returns event statistics for a school, cached briefly.
func (s *IngestService) Stats(ctx context.Context, school *models.School, now time.Time) (*models.EventStats, error) {
	todayKey, err := school.DateKey(now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute school-local date")
	}

	cacheKey := "events:stats:" + school.ID + ":" + todayKey
	if s.cache != nil {
		var cached models.EventStats
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		}
	}

	stats, err := s.events.Stats(ctx, school.ID, todayKey)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to compute event stats")
	}

	if s.cache != nil && s.statsCacheTTL > 0 {
		if err := s.cache.Set(ctx, cacheKey, stats, s.statsCacheTTL); err != nil {
			s.logger.Sugar().Warnw("failed to cache event stats", "school_id", school.ID, "error", err)
		}
	}
	return stats, nil
}
