package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edusync/attendance-api/internal/models"
	"github.com/edusync/attendance-api/internal/repository"
	appErrors "github.com/edusync/attendance-api/pkg/errors"
)

type eventStoreStub struct {
	admitted   []*models.AttendanceEvent
	duplicates []*models.AttendanceEvent
	superseded []string
	existing   map[string]bool
	stats      *models.EventStats
}

func (s *eventStoreStub) InsertAdmitted(ctx context.Context, event *models.AttendanceEvent) (*models.AttendanceEvent, error) {
	key := event.SchoolID + "/" + event.EventID
	if s.existing[key] {
		return nil, repository.ErrEventExists
	}
	if s.existing == nil {
		s.existing = map[string]bool{}
	}
	s.existing[key] = true
	stored := *event
	stored.ID = "evt-row-1"
	stored.Status = models.EventStatusAdmitted
	s.admitted = append(s.admitted, &stored)
	return &stored, nil
}

func (s *eventStoreStub) InsertDuplicate(ctx context.Context, event *models.AttendanceEvent) error {
	s.duplicates = append(s.duplicates, event)
	return nil
}

func (s *eventStoreStub) MarkSuperseded(ctx context.Context, schoolID, eventID string) error {
	s.superseded = append(s.superseded, eventID)
	return nil
}

func (s *eventStoreStub) List(ctx context.Context, filter models.EventFilter) ([]models.AttendanceEvent, int, error) {
	return nil, 0, nil
}

func (s *eventStoreStub) Stats(ctx context.Context, schoolID, todayKey string) (*models.EventStats, error) {
	return s.stats, nil
}

type autoLedgerStub struct {
	row    *models.StudentDayAttendance
	writes []repository.AutoWriteParams
}

func (s *autoLedgerStub) Get(ctx context.Context, schoolID, studentID, dateKey string) (*models.StudentDayAttendance, error) {
	if s.row == nil {
		return nil, sql.ErrNoRows
	}
	return s.row, nil
}

func (s *autoLedgerStub) UpsertAuto(ctx context.Context, p repository.AutoWriteParams) (*models.StudentDayAttendance, error) {
	s.writes = append(s.writes, p)
	autoStatus := p.Status
	return &models.StudentDayAttendance{
		SchoolID:    p.SchoolID,
		StudentID:   p.StudentID,
		DateKey:     p.DateKey,
		AutoStatus:  &autoStatus,
		AutoEventID: &p.EventID,
		FinalStatus: p.Status,
		FinalSource: models.MarkSourceAuto,
	}, nil
}

type historyStub struct {
	entries []*models.HistoryEntry
}

func (s *historyStub) Append(ctx context.Context, entry *models.HistoryEntry) error {
	s.entries = append(s.entries, entry)
	return nil
}

func (s *historyStub) ListForDay(ctx context.Context, schoolID, studentID, dateKey string) ([]models.HistoryEntry, error) {
	out := make([]models.HistoryEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if e.SchoolID == schoolID && e.StudentID == studentID && e.DateKey == dateKey {
			out = append(out, *e)
		}
	}
	return out, nil
}

type rosterStub struct {
	students map[string]*models.Student
}

func (s rosterStub) FindActive(ctx context.Context, schoolID, studentID string) (*models.Student, error) {
	student, ok := s.students[studentID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return student, nil
}

func (s rosterStub) ListRoster(ctx context.Context, filter models.RosterFilter) ([]models.Student, error) {
	var out []models.Student
	for _, student := range s.students {
		out = append(out, *student)
	}
	return out, nil
}

type metricsStub struct {
	admitted   int
	duplicate  int
	finalized  int
	dispatched map[string]int
}

func (s *metricsStub) CountEventAdmitted()  { s.admitted++ }
func (s *metricsStub) CountEventDuplicate() { s.duplicate++ }
func (s *metricsStub) CountFinalized(n int) { s.finalized += n }
func (s *metricsStub) CountSMSDispatched(status string) {
	if s.dispatched == nil {
		s.dispatched = map[string]int{}
	}
	s.dispatched[status]++
}

func testSchool() *models.School {
	return &models.School{ID: "school-1", Slug: "demo", Timezone: "Asia/Dhaka", CutoffTime: "09:30", Active: true}
}

func newIngestFixture() (*IngestService, *eventStoreStub, *autoLedgerStub, *historyStub, *metricsStub) {
	events := &eventStoreStub{existing: map[string]bool{}}
	ledger := &autoLedgerStub{}
	history := &historyStub{}
	metrics := &metricsStub{}
	roster := rosterStub{students: map[string]*models.Student{
		"stu-1": {ID: "stu-1", SchoolID: "school-1", FullName: "Alice", Grade: "5", Section: "A", Active: true},
	}}
	svc := NewIngestService(events, ledger, history, roster, nil, metrics, IngestServiceConfig{}, nil, nil)
	return svc, events, ledger, history, metrics
}

func TestAdmitEventWritesLedgerAndHistory(t *testing.T) {
	svc, events, ledger, history, metrics := newIngestFixture()
	capturedAt := time.Date(2026, 3, 9, 2, 15, 0, 0, time.UTC)

	stored, err := svc.AdmitEvent(context.Background(), testSchool(), AdmitEventRequest{
		EventID:    "cam-1",
		StudentID:  "stu-1",
		CapturedAt: capturedAt,
	})
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusAdmitted, stored.Status)
	// 2026-03-09 02:15 UTC is already 08:15 on the same day in Dhaka.
	assert.Equal(t, "2026-03-09", stored.CapturedDateKey)

	require.Len(t, events.admitted, 1)
	require.Len(t, ledger.writes, 1)
	assert.Equal(t, models.AttendanceStatusPresent, ledger.writes[0].Status)
	assert.Equal(t, "cam-1", ledger.writes[0].EventID)

	require.Len(t, history.entries, 1)
	assert.Equal(t, models.MarkSourceAuto, history.entries[0].Source)
	assert.Equal(t, 1, metrics.admitted)
}

func TestAdmitEventDateKeyFollowsSchoolTimezone(t *testing.T) {
	svc, _, ledger, _, _ := newIngestFixture()
	// 20:30 UTC on March 9 is already March 10 in Dhaka (UTC+6).
	capturedAt := time.Date(2026, 3, 9, 20, 30, 0, 0, time.UTC)

	stored, err := svc.AdmitEvent(context.Background(), testSchool(), AdmitEventRequest{
		EventID:    "cam-2",
		StudentID:  "stu-1",
		CapturedAt: capturedAt,
	})
	require.NoError(t, err)
	assert.Equal(t, "2026-03-10", stored.CapturedDateKey)
	assert.Equal(t, "2026-03-10", ledger.writes[0].DateKey)
}

func TestAdmitEventDuplicateRejectedWithAudit(t *testing.T) {
	svc, events, ledger, history, metrics := newIngestFixture()
	capturedAt := time.Date(2026, 3, 9, 2, 15, 0, 0, time.UTC)
	req := AdmitEventRequest{EventID: "cam-1", StudentID: "stu-1", CapturedAt: capturedAt}

	_, err := svc.AdmitEvent(context.Background(), testSchool(), req)
	require.NoError(t, err)

	_, err = svc.AdmitEvent(context.Background(), testSchool(), req)
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrDuplicateEvent))

	// The rejection leaves the ledger untouched but keeps an audit trail.
	assert.Len(t, ledger.writes, 1)
	assert.Len(t, history.entries, 1)
	require.Len(t, events.duplicates, 1)
	assert.Equal(t, "cam-1", events.duplicates[0].EventID)
	assert.Equal(t, 1, metrics.duplicate)
}

func TestAdmitEventUnknownStudent(t *testing.T) {
	svc, events, ledger, _, _ := newIngestFixture()

	_, err := svc.AdmitEvent(context.Background(), testSchool(), AdmitEventRequest{
		EventID:    "cam-9",
		StudentID:  "ghost",
		CapturedAt: time.Now().UTC(),
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnknownStudent))
	assert.Empty(t, events.admitted)
	assert.Empty(t, ledger.writes)
}

func TestAdmitEventRejectsTestFlag(t *testing.T) {
	svc, events, _, _, _ := newIngestFixture()

	_, err := svc.AdmitEvent(context.Background(), testSchool(), AdmitEventRequest{
		EventID:    "cam-3",
		StudentID:  "stu-1",
		CapturedAt: time.Now().UTC(),
		Test:       true,
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	assert.Empty(t, events.admitted)
}

func TestAdmitEventRejectsStaleCapture(t *testing.T) {
	events := &eventStoreStub{existing: map[string]bool{}}
	roster := rosterStub{students: map[string]*models.Student{"stu-1": {ID: "stu-1", Active: true}}}
	svc := NewIngestService(events, &autoLedgerStub{}, &historyStub{}, roster, nil, nil, IngestServiceConfig{MaxClockSkew: time.Hour}, nil, nil)

	_, err := svc.AdmitEvent(context.Background(), testSchool(), AdmitEventRequest{
		EventID:    "cam-4",
		StudentID:  "stu-1",
		CapturedAt: time.Now().UTC().Add(-3 * time.Hour),
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestAdmitEventSupersedesPreviousEvent(t *testing.T) {
	svc, events, _, _, _ := newIngestFixture()
	capturedAt := time.Date(2026, 3, 9, 2, 15, 0, 0, time.UTC)

	_, err := svc.AdmitEvent(context.Background(), testSchool(), AdmitEventRequest{
		EventID: "cam-early", StudentID: "stu-1", CapturedAt: capturedAt,
	})
	require.NoError(t, err)

	// A later event for the same student/day replaces the auto side; the
	// earlier event transitions to superseded.
	later := svc.ledger.(*autoLedgerStub)
	early := "cam-early"
	later.row = &models.StudentDayAttendance{AutoEventID: &early}

	_, err = svc.AdmitEvent(context.Background(), testSchool(), AdmitEventRequest{
		EventID: "cam-late", StudentID: "stu-1", CapturedAt: capturedAt.Add(2 * time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, events.superseded, 1)
	assert.Equal(t, "cam-early", events.superseded[0])
}

func TestAdmitEventSupersededKeyStaysClaimed(t *testing.T) {
	svc, events, ledger, _, _ := newIngestFixture()
	capturedAt := time.Date(2026, 3, 9, 2, 15, 0, 0, time.UTC)

	_, err := svc.AdmitEvent(context.Background(), testSchool(), AdmitEventRequest{
		EventID: "cam-early", StudentID: "stu-1", CapturedAt: capturedAt,
	})
	require.NoError(t, err)

	early := "cam-early"
	ledger.row = &models.StudentDayAttendance{AutoEventID: &early}
	_, err = svc.AdmitEvent(context.Background(), testSchool(), AdmitEventRequest{
		EventID: "cam-late", StudentID: "stu-1", CapturedAt: capturedAt.Add(2 * time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, events.superseded, 1)

	// Resubmitting the superseded id must not flip the ledger back; the id
	// is claimed for good and the submission is a duplicate.
	_, err = svc.AdmitEvent(context.Background(), testSchool(), AdmitEventRequest{
		EventID: "cam-early", StudentID: "stu-1", CapturedAt: capturedAt.Add(3 * time.Hour),
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrDuplicateEvent))
	assert.Len(t, ledger.writes, 2)
	assert.Len(t, events.superseded, 1)
	require.Len(t, events.duplicates, 1)
	assert.Equal(t, "cam-early", events.duplicates[0].EventID)
}

func TestAdmitEventValidation(t *testing.T) {
	svc, _, _, _, _ := newIngestFixture()

	_, err := svc.AdmitEvent(context.Background(), testSchool(), AdmitEventRequest{StudentID: "stu-1"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestStatsUsesSchoolLocalDay(t *testing.T) {
	events := &eventStoreStub{stats: &models.EventStats{Total: 5, Admitted: 4, Duplicate: 1, Today: 2}}
	svc := NewIngestService(events, &autoLedgerStub{}, &historyStub{}, rosterStub{}, nil, nil, IngestServiceConfig{}, nil, nil)

	stats, err := svc.Stats(context.Background(), testSchool(), time.Date(2026, 3, 9, 20, 30, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, 5, stats.Total)
	assert.Equal(t, 2, stats.Today)
}
