package repository

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edusync/attendance-api/internal/models"
)

func newMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	sqlxdb := sqlx.NewDb(db, "sqlmock")
	return sqlxdb, mock, func() {
		db.Close()
	}
}

var eventRowColumns = []string{
	"id", "school_id", "event_id", "student_id", "student_name", "grade", "section", "blood_group",
	"captured_at", "captured_date_key", "source_app", "test", "status", "created_at",
}

func TestInsertAdmitted(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEventRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows(eventRowColumns).
		AddRow("row-1", "school-1", "cam-1", "stu-1", nil, nil, nil, nil, now, "2026-03-09", nil, false, "admitted", now)
	mock.ExpectQuery("INSERT INTO attendance_events").WillReturnRows(rows)

	stored, err := repo.InsertAdmitted(context.Background(), &models.AttendanceEvent{
		SchoolID:        "school-1",
		EventID:         "cam-1",
		StudentID:       "stu-1",
		CapturedAt:      now,
		CapturedDateKey: "2026-03-09",
	})
	require.NoError(t, err)
	assert.Equal(t, models.EventStatusAdmitted, stored.Status)
	assert.Equal(t, "cam-1", stored.EventID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertAdmittedConflict(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEventRepository(db)

	// ON CONFLICT DO NOTHING suppresses the RETURNING row entirely. The
	// conflict predicate must cover superseded rows too: an event id that
	// was later superseded stays claimed and must not be re-admitted.
	mock.ExpectQuery(`ON CONFLICT \(school_id, event_id\) WHERE status IN \('admitted', 'superseded'\)`).
		WillReturnRows(sqlmock.NewRows(eventRowColumns))

	_, err := repo.InsertAdmitted(context.Background(), &models.AttendanceEvent{
		SchoolID:  "school-1",
		EventID:   "cam-1",
		StudentID: "stu-1",
	})
	require.ErrorIs(t, err, ErrEventExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSuperseded(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEventRepository(db)

	mock.ExpectExec("UPDATE attendance_events SET status = 'superseded'").
		WithArgs("school-1", "cam-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.MarkSuperseded(context.Background(), "school-1", "cam-1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventStats(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEventRepository(db)

	rows := sqlmock.NewRows([]string{"status", "cnt", "today"}).
		AddRow("admitted", 10, 3).
		AddRow("duplicate", 2, 1).
		AddRow("superseded", 1, 0)
	mock.ExpectQuery("SELECT status, COUNT").WithArgs("school-1", "2026-03-09").WillReturnRows(rows)

	stats, err := repo.Stats(context.Background(), "school-1", "2026-03-09")
	require.NoError(t, err)
	assert.Equal(t, 13, stats.Total)
	assert.Equal(t, 10, stats.Admitted)
	assert.Equal(t, 2, stats.Duplicate)
	assert.Equal(t, 1, stats.Superseded)
	assert.Equal(t, 4, stats.Today)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestEventListFilters(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewEventRepository(db)

	now := time.Now().UTC()
	status := models.EventStatusAdmitted
	listRows := sqlmock.NewRows(eventRowColumns).
		AddRow("row-1", "school-1", "cam-1", "stu-1", nil, nil, nil, nil, now, "2026-03-09", nil, false, "admitted", now)
	mock.ExpectQuery("FROM attendance_events WHERE school_id").
		WithArgs("school-1", "stu-1", status, "2026-03-09").
		WillReturnRows(listRows)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM attendance_events`).
		WithArgs("school-1", "stu-1", status, "2026-03-09").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	events, total, err := repo.List(context.Background(), models.EventFilter{
		SchoolID:  "school-1",
		StudentID: "stu-1",
		Status:    &status,
		DateKey:   "2026-03-09",
	})
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, 1, total)
	assert.NoError(t, mock.ExpectationsWereMet())
}
