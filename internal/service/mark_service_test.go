package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edusync/attendance-api/internal/models"
	"github.com/edusync/attendance-api/internal/repository"
	appErrors "github.com/edusync/attendance-api/pkg/errors"
)

type teacherLedgerStub struct {
	writes []repository.TeacherWriteParams
	days   []models.LedgerDayRow
}

func (s *teacherLedgerStub) UpsertTeacher(ctx context.Context, p repository.TeacherWriteParams) (*models.StudentDayAttendance, error) {
	s.writes = append(s.writes, p)
	status := p.Status
	return &models.StudentDayAttendance{
		SchoolID:        p.SchoolID,
		StudentID:       p.StudentID,
		DateKey:         p.DateKey,
		TeacherStatus:   &status,
		TeacherOverride: true,
		FinalStatus:     p.Status,
		FinalSource:     models.MarkSourceTeacher,
	}, nil
}

func (s *teacherLedgerStub) ListDay(ctx context.Context, filter models.LedgerFilter) ([]models.LedgerDayRow, error) {
	return s.days, nil
}

func newMarkFixture() (*MarkService, *teacherLedgerStub, *historyStub) {
	ledger := &teacherLedgerStub{}
	history := &historyStub{}
	roster := rosterStub{students: map[string]*models.Student{
		"stu-1": {ID: "stu-1", SchoolID: "school-1", FullName: "Alice", Active: true},
	}}
	return NewMarkService(ledger, history, roster, nil, nil, nil), ledger, history
}

func TestMarkByTeacherOverridesAndAppendsHistory(t *testing.T) {
	svc, ledger, history := newMarkFixture()

	row, err := svc.MarkByTeacher(context.Background(), testSchool(), "teacher-1", TeacherMarkRequest{
		StudentID: "stu-1",
		Date:      "2026-03-09",
		Status:    "excused",
	})
	require.NoError(t, err)
	assert.True(t, row.TeacherOverride)
	assert.Equal(t, models.AttendanceStatusExcused, row.FinalStatus)
	assert.Equal(t, models.MarkSourceTeacher, row.FinalSource)

	require.Len(t, ledger.writes, 1)
	assert.Equal(t, "teacher-1", ledger.writes[0].TeacherID)

	require.Len(t, history.entries, 1)
	assert.Equal(t, models.MarkSourceTeacher, history.entries[0].Source)
	assert.Equal(t, models.AttendanceStatusExcused, history.entries[0].Status)
}

func TestMarkByTeacherRejectsPending(t *testing.T) {
	svc, ledger, _ := newMarkFixture()

	_, err := svc.MarkByTeacher(context.Background(), testSchool(), "teacher-1", TeacherMarkRequest{
		StudentID: "stu-1",
		Date:      "2026-03-09",
		Status:    "pending",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
	assert.Empty(t, ledger.writes)
}

func TestMarkByTeacherRejectsBadDate(t *testing.T) {
	svc, _, _ := newMarkFixture()

	_, err := svc.MarkByTeacher(context.Background(), testSchool(), "teacher-1", TeacherMarkRequest{
		StudentID: "stu-1",
		Date:      "09/03/2026",
		Status:    "present",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}

func TestMarkByTeacherUnknownStudent(t *testing.T) {
	svc, _, _ := newMarkFixture()

	_, err := svc.MarkByTeacher(context.Background(), testSchool(), "teacher-1", TeacherMarkRequest{
		StudentID: "ghost",
		Date:      "2026-03-09",
		Status:    "present",
	})
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrUnknownStudent))
}

func TestHistoryPreservesSubmissionOrder(t *testing.T) {
	svc, _, history := newMarkFixture()

	for _, status := range []string{"present", "absent", "late"} {
		_, err := svc.MarkByTeacher(context.Background(), testSchool(), "teacher-1", TeacherMarkRequest{
			StudentID: "stu-1",
			Date:      "2026-03-09",
			Status:    status,
		})
		require.NoError(t, err)
	}

	entries, err := svc.History(context.Background(), "school-1", "stu-1", "2026-03-09")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, models.AttendanceStatusPresent, entries[0].Status)
	assert.Equal(t, models.AttendanceStatusAbsent, entries[1].Status)
	assert.Equal(t, models.AttendanceStatusLate, entries[2].Status)
	require.Len(t, history.entries, 3)
}

func TestDayViewValidatesDate(t *testing.T) {
	svc, _, _ := newMarkFixture()

	_, err := svc.DayView(context.Background(), "school-1", "not-a-date", "", "")
	require.Error(t, err)
	assert.True(t, appErrors.Is(err, appErrors.ErrValidation))
}
