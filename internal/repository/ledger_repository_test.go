package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edusync/attendance-api/internal/models"
)

var ledgerRowColumns = []string{
	"id", "school_id", "student_id", "date_key",
	"auto_status", "auto_marked_at", "auto_event_id",
	"teacher_status", "teacher_marked_at", "teacher_marked_by", "teacher_override",
	"final_status", "final_source", "finalized", "finalized_at", "created_at", "updated_at",
}

func TestUpsertAutoInsertsFirstWrite(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLedgerRepository(db)

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs("school-1", "stu-1", "2026-03-09").
		WillReturnError(sql.ErrNoRows)
	insertRows := sqlmock.NewRows(ledgerRowColumns).
		AddRow("row-1", "school-1", "stu-1", "2026-03-09",
			"present", now, "cam-1",
			nil, nil, nil, false,
			"present", "auto", false, nil, now, now)
	mock.ExpectQuery("INSERT INTO student_day_attendance").WillReturnRows(insertRows)
	mock.ExpectCommit()

	stored, err := repo.UpsertAuto(context.Background(), AutoWriteParams{
		SchoolID:  "school-1",
		StudentID: "stu-1",
		DateKey:   "2026-03-09",
		Status:    models.AttendanceStatusPresent,
		MarkedAt:  now,
		EventID:   "cam-1",
	})
	require.NoError(t, err)
	require.NotNil(t, stored.AutoStatus)
	assert.Equal(t, models.AttendanceStatusPresent, *stored.AutoStatus)
	assert.Equal(t, models.MarkSourceAuto, stored.FinalSource)
	assert.False(t, stored.Finalized)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertAutoFollowsLatestWhileDayOpen(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLedgerRepository(db)

	now := time.Now().UTC()
	mock.ExpectBegin()
	openRow := sqlmock.NewRows(ledgerRowColumns).
		AddRow("row-1", "school-1", "stu-1", "2026-03-09",
			"present", now, "cam-1",
			nil, nil, nil, false,
			"present", "auto", false, nil, now, now)
	mock.ExpectQuery("FOR UPDATE").
		WithArgs("school-1", "stu-1", "2026-03-09").
		WillReturnRows(openRow)
	updated := sqlmock.NewRows(ledgerRowColumns).
		AddRow("row-1", "school-1", "stu-1", "2026-03-09",
			"late", now, "cam-2",
			nil, nil, nil, false,
			"late", "auto", false, nil, now, now)
	mock.ExpectQuery("UPDATE student_day_attendance").
		WithArgs("row-1", models.AttendanceStatusLate, now, "cam-2",
			models.AttendanceStatusLate, models.MarkSourceAuto, sqlmock.AnyArg()).
		WillReturnRows(updated)
	mock.ExpectCommit()

	stored, err := repo.UpsertAuto(context.Background(), AutoWriteParams{
		SchoolID:  "school-1",
		StudentID: "stu-1",
		DateKey:   "2026-03-09",
		Status:    models.AttendanceStatusLate,
		MarkedAt:  now,
		EventID:   "cam-2",
	})
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceStatusLate, stored.FinalStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertAutoKeepsFinalizedFinalSide(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLedgerRepository(db)

	now := time.Now().UTC()
	mock.ExpectBegin()
	finalizedRow := sqlmock.NewRows(ledgerRowColumns).
		AddRow("row-1", "school-1", "stu-1", "2026-03-09",
			nil, nil, nil,
			nil, nil, nil, false,
			"absent", "finalizer", true, now, now, now)
	mock.ExpectQuery("FOR UPDATE").
		WithArgs("school-1", "stu-1", "2026-03-09").
		WillReturnRows(finalizedRow)
	// The late camera write lands in the auto sub-state only: the final
	// side arguments must carry the stored final, not the new status.
	updated := sqlmock.NewRows(ledgerRowColumns).
		AddRow("row-1", "school-1", "stu-1", "2026-03-09",
			"present", now, "cam-9",
			nil, nil, nil, false,
			"absent", "finalizer", true, now, now, now)
	mock.ExpectQuery("UPDATE student_day_attendance").
		WithArgs("row-1", models.AttendanceStatusPresent, now, "cam-9",
			models.AttendanceStatusAbsent, models.MarkSourceFinalizer, sqlmock.AnyArg()).
		WillReturnRows(updated)
	mock.ExpectCommit()

	stored, err := repo.UpsertAuto(context.Background(), AutoWriteParams{
		SchoolID:  "school-1",
		StudentID: "stu-1",
		DateKey:   "2026-03-09",
		Status:    models.AttendanceStatusPresent,
		MarkedAt:  now,
		EventID:   "cam-9",
	})
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceStatusAbsent, stored.FinalStatus)
	assert.True(t, stored.Finalized)
	require.NotNil(t, stored.AutoStatus)
	assert.Equal(t, models.AttendanceStatusPresent, *stored.AutoStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertAutoKeepsTeacherOverrideFinalSide(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLedgerRepository(db)

	now := time.Now().UTC()
	mock.ExpectBegin()
	overriddenRow := sqlmock.NewRows(ledgerRowColumns).
		AddRow("row-1", "school-1", "stu-1", "2026-03-09",
			nil, nil, nil,
			"excused", now, "teacher-1", true,
			"excused", "teacher", false, nil, now, now)
	mock.ExpectQuery("FOR UPDATE").
		WithArgs("school-1", "stu-1", "2026-03-09").
		WillReturnRows(overriddenRow)
	updated := sqlmock.NewRows(ledgerRowColumns).
		AddRow("row-1", "school-1", "stu-1", "2026-03-09",
			"present", now, "cam-3",
			"excused", now, "teacher-1", true,
			"excused", "teacher", false, nil, now, now)
	mock.ExpectQuery("UPDATE student_day_attendance").
		WithArgs("row-1", models.AttendanceStatusPresent, now, "cam-3",
			models.AttendanceStatusExcused, models.MarkSourceTeacher, sqlmock.AnyArg()).
		WillReturnRows(updated)
	mock.ExpectCommit()

	stored, err := repo.UpsertAuto(context.Background(), AutoWriteParams{
		SchoolID:  "school-1",
		StudentID: "stu-1",
		DateKey:   "2026-03-09",
		Status:    models.AttendanceStatusPresent,
		MarkedAt:  now,
		EventID:   "cam-3",
	})
	require.NoError(t, err)
	assert.Equal(t, models.AttendanceStatusExcused, stored.FinalStatus)
	assert.Equal(t, models.MarkSourceTeacher, stored.FinalSource)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertTeacherReopensFinalizedRow(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLedgerRepository(db)

	now := time.Now().UTC()
	mock.ExpectBegin()
	finalizedRow := sqlmock.NewRows(ledgerRowColumns).
		AddRow("row-1", "school-1", "stu-1", "2026-03-09",
			"present", now, "cam-1",
			nil, nil, nil, false,
			"present", "auto", true, now, now, now)
	mock.ExpectQuery("FOR UPDATE").
		WithArgs("school-1", "stu-1", "2026-03-09").
		WillReturnRows(finalizedRow)
	updated := sqlmock.NewRows(ledgerRowColumns).
		AddRow("row-1", "school-1", "stu-1", "2026-03-09",
			"present", now, "cam-1",
			"absent", now, "teacher-1", true,
			"absent", "teacher", true, now, now, now)
	mock.ExpectQuery("UPDATE student_day_attendance").
		WithArgs("row-1", models.AttendanceStatusAbsent, now, "teacher-1",
			sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(updated)
	mock.ExpectCommit()

	stored, err := repo.UpsertTeacher(context.Background(), TeacherWriteParams{
		SchoolID:  "school-1",
		StudentID: "stu-1",
		DateKey:   "2026-03-09",
		Status:    models.AttendanceStatusAbsent,
		MarkedAt:  now,
		TeacherID: "teacher-1",
	})
	require.NoError(t, err)
	assert.True(t, stored.TeacherOverride)
	assert.Equal(t, models.AttendanceStatusAbsent, stored.FinalStatus)
	assert.Equal(t, models.MarkSourceTeacher, stored.FinalSource)
	// The row stays finalized; the mark re-finalized it in place.
	assert.True(t, stored.Finalized)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertTeacherInsertsFirstMark(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLedgerRepository(db)

	now := time.Now().UTC()
	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WithArgs("school-1", "stu-1", "2026-03-09").
		WillReturnError(sql.ErrNoRows)
	insertRows := sqlmock.NewRows(ledgerRowColumns).
		AddRow("row-1", "school-1", "stu-1", "2026-03-09",
			nil, nil, nil,
			"late", now, "teacher-1", true,
			"late", "teacher", false, nil, now, now)
	mock.ExpectQuery("INSERT INTO student_day_attendance").WillReturnRows(insertRows)
	mock.ExpectCommit()

	stored, err := repo.UpsertTeacher(context.Background(), TeacherWriteParams{
		SchoolID:  "school-1",
		StudentID: "stu-1",
		DateKey:   "2026-03-09",
		Status:    models.AttendanceStatusLate,
		MarkedAt:  now,
		TeacherID: "teacher-1",
	})
	require.NoError(t, err)
	assert.True(t, stored.TeacherOverride)
	assert.Equal(t, models.MarkSourceTeacher, stored.FinalSource)
	assert.False(t, stored.Finalized)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFinalizeGuardsFinalizedRows(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLedgerRepository(db)

	now := time.Now().UTC()
	mock.ExpectExec("UPDATE student_day_attendance").
		WithArgs("row-1", models.AttendanceStatusPresent, models.MarkSourceAuto, now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := repo.Finalize(context.Background(), "row-1", models.AttendanceStatusPresent, models.MarkSourceAuto, now)
	require.NoError(t, err)
	assert.True(t, ok)

	// A second pass matches no rows.
	mock.ExpectExec("UPDATE student_day_attendance").
		WithArgs("row-1", models.AttendanceStatusPresent, models.MarkSourceAuto, now).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err = repo.Finalize(context.Background(), "row-1", models.AttendanceStatusPresent, models.MarkSourceAuto, now)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertFinalizedAbsentLosesToConcurrentWrite(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLedgerRepository(db)

	now := time.Now().UTC()
	mock.ExpectExec("INSERT INTO student_day_attendance").WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := repo.InsertFinalizedAbsent(context.Background(), "school-1", "stu-1", "2026-03-09", now)
	require.NoError(t, err)
	assert.False(t, inserted)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListFinalAbsentWithoutLog(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLedgerRepository(db)

	phone := "+8801711111111"
	rows := sqlmock.NewRows([]string{"student_id", "student_name", "guardian_phone", "date_key"}).
		AddRow("stu-1", "Alice", phone, "2026-03-09").
		AddRow("stu-2", "Bob", nil, "2026-03-09")
	mock.ExpectQuery("SELECT a.student_id, s.full_name AS student_name").
		WithArgs("school-1", "2026-03-09").
		WillReturnRows(rows)

	candidates, err := repo.ListFinalAbsentWithoutLog(context.Background(), "school-1", "2026-03-09")
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	require.NotNil(t, candidates[0].GuardianPhone)
	assert.Equal(t, phone, *candidates[0].GuardianPhone)
	assert.Nil(t, candidates[1].GuardianPhone)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListDayAppliesFilters(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewLedgerRepository(db)

	now := time.Now().UTC()
	cols := append(append([]string{}, ledgerRowColumns...), "student_name", "grade", "section")
	rows := sqlmock.NewRows(cols).
		AddRow("row-1", "school-1", "stu-1", "2026-03-09",
			"present", now, "cam-1",
			nil, nil, nil, false,
			"present", "auto", false, nil, now, now,
			"Alice", "5", "A")
	mock.ExpectQuery("FROM student_day_attendance a").
		WithArgs("school-1", "2026-03-09", "5", "A").
		WillReturnRows(rows)

	out, err := repo.ListDay(context.Background(), models.LedgerFilter{
		SchoolID: "school-1",
		DateKey:  "2026-03-09",
		Grade:    "5",
		Section:  "A",
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Alice", out[0].StudentName)
	assert.NoError(t, mock.ExpectationsWereMet())
}
