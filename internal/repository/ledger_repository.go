package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/edusync/attendance-api/internal/models"
)

// LedgerRepository persists the per-(school, student, day) attendance
// ledger. Upserts run as a locked read-modify-write inside a transaction so
// the final-side decision (does this write carry the final state, or is it
// held by a finalized day or teacher override) is explicit and race-safe.
type LedgerRepository struct {
	db *sqlx.DB
}

// NewLedgerRepository constructs the repository.
func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

const ledgerColumns = `id, school_id, student_id, date_key,
auto_status, auto_marked_at, auto_event_id,
teacher_status, teacher_marked_at, teacher_marked_by, teacher_override,
final_status, final_source, finalized, finalized_at, created_at, updated_at`

// Get returns one ledger row or sql.ErrNoRows.
func (r *LedgerRepository) Get(ctx context.Context, schoolID, studentID, dateKey string) (*models.StudentDayAttendance, error) {
	query := fmt.Sprintf(`SELECT %s FROM student_day_attendance
WHERE school_id = $1 AND student_id = $2 AND date_key = $3`, ledgerColumns)
	var row models.StudentDayAttendance
	if err := r.db.GetContext(ctx, &row, query, schoolID, studentID, dateKey); err != nil {
		return nil, err
	}
	return &row, nil
}

// AutoWriteParams carries one accepted camera write.
type AutoWriteParams struct {
	SchoolID  string
	StudentID string
	DateKey   string
	Status    models.AttendanceStatus
	MarkedAt  time.Time
	EventID   string
}

// lockRow loads one ledger row inside the transaction with a row lock, or
// sql.ErrNoRows.
func (r *LedgerRepository) lockRow(ctx context.Context, tx *sqlx.Tx, schoolID, studentID, dateKey string) (*models.StudentDayAttendance, error) {
	query := fmt.Sprintf(`SELECT %s FROM student_day_attendance
WHERE school_id = $1 AND student_id = $2 AND date_key = $3 FOR UPDATE`, ledgerColumns)
	var row models.StudentDayAttendance
	if err := tx.GetContext(ctx, &row, query, schoolID, studentID, dateKey); err != nil {
		return nil, err
	}
	return &row, nil
}

// UpsertAuto records the last-accepted camera status. The auto sub-state is
// always overwritten (last arrival wins); the final side only follows it
// while the day is open and no teacher override holds it.
func (r *LedgerRepository) UpsertAuto(ctx context.Context, p AutoWriteParams) (*models.StudentDayAttendance, error) {
	now := time.Now().UTC()
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("upsert auto attendance: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	existing, err := r.lockRow(ctx, tx, p.SchoolID, p.StudentID, p.DateKey)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("upsert auto attendance: %w", err)
		}
		insertQuery := fmt.Sprintf(`INSERT INTO student_day_attendance
(id, school_id, student_id, date_key, auto_status, auto_marked_at, auto_event_id,
 final_status, final_source, finalized, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $5, 'auto', FALSE, $8, $8)
ON CONFLICT (school_id, student_id, date_key) DO NOTHING
RETURNING %s`, ledgerColumns)
		var stored models.StudentDayAttendance
		err = tx.GetContext(ctx, &stored, insertQuery,
			uuid.NewString(), p.SchoolID, p.StudentID, p.DateKey, p.Status, p.MarkedAt, p.EventID, now)
		if err == nil {
			if err := tx.Commit(); err != nil {
				return nil, fmt.Errorf("upsert auto attendance: %w", err)
			}
			return &stored, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("upsert auto attendance: %w", err)
		}
		// Lost the insert race; lock the row the winner created.
		existing, err = r.lockRow(ctx, tx, p.SchoolID, p.StudentID, p.DateKey)
		if err != nil {
			return nil, fmt.Errorf("upsert auto attendance: %w", err)
		}
	}

	finalStatus, finalSource := existing.FinalStatus, existing.FinalSource
	if !existing.Finalized && !existing.TeacherOverride {
		finalStatus, finalSource = p.Status, models.MarkSourceAuto
	}

	updateQuery := fmt.Sprintf(`UPDATE student_day_attendance
SET auto_status = $2, auto_marked_at = $3, auto_event_id = $4,
    final_status = $5, final_source = $6, updated_at = $7
WHERE id = $1
RETURNING %s`, ledgerColumns)
	var stored models.StudentDayAttendance
	if err := tx.GetContext(ctx, &stored, updateQuery,
		existing.ID, p.Status, p.MarkedAt, p.EventID, finalStatus, finalSource, now); err != nil {
		return nil, fmt.Errorf("upsert auto attendance: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("upsert auto attendance: %w", err)
	}
	return &stored, nil
}

// TeacherWriteParams carries one teacher mark.
type TeacherWriteParams struct {
	SchoolID  string
	StudentID string
	DateKey   string
	Status    models.AttendanceStatus
	MarkedAt  time.Time
	TeacherID string
}

// UpsertTeacher records a teacher mark. The teacher side is authoritative:
// the final side always follows it, and a finalized row is re-finalized in
// place with the teacher's value.
func (r *LedgerRepository) UpsertTeacher(ctx context.Context, p TeacherWriteParams) (*models.StudentDayAttendance, error) {
	now := time.Now().UTC()
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("upsert teacher attendance: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	existing, err := r.lockRow(ctx, tx, p.SchoolID, p.StudentID, p.DateKey)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("upsert teacher attendance: %w", err)
		}
		insertQuery := fmt.Sprintf(`INSERT INTO student_day_attendance
(id, school_id, student_id, date_key, teacher_status, teacher_marked_at, teacher_marked_by, teacher_override,
 final_status, final_source, finalized, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, TRUE, $5, 'teacher', FALSE, $8, $8)
ON CONFLICT (school_id, student_id, date_key) DO NOTHING
RETURNING %s`, ledgerColumns)
		var stored models.StudentDayAttendance
		err = tx.GetContext(ctx, &stored, insertQuery,
			uuid.NewString(), p.SchoolID, p.StudentID, p.DateKey, p.Status, p.MarkedAt, p.TeacherID, now)
		if err == nil {
			if err := tx.Commit(); err != nil {
				return nil, fmt.Errorf("upsert teacher attendance: %w", err)
			}
			return &stored, nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("upsert teacher attendance: %w", err)
		}
		existing, err = r.lockRow(ctx, tx, p.SchoolID, p.StudentID, p.DateKey)
		if err != nil {
			return nil, fmt.Errorf("upsert teacher attendance: %w", err)
		}
	}

	// A mark on a finalized row re-finalizes it now; the finalized flag
	// itself never flips back.
	finalizedAt := existing.FinalizedAt
	if existing.Finalized {
		finalizedAt = &now
	}

	updateQuery := fmt.Sprintf(`UPDATE student_day_attendance
SET teacher_status = $2, teacher_marked_at = $3, teacher_marked_by = $4, teacher_override = TRUE,
    final_status = $2, final_source = 'teacher', finalized_at = $5, updated_at = $6
WHERE id = $1
RETURNING %s`, ledgerColumns)
	var stored models.StudentDayAttendance
	if err := tx.GetContext(ctx, &stored, updateQuery,
		existing.ID, p.Status, p.MarkedAt, p.TeacherID, finalizedAt, now); err != nil {
		return nil, fmt.Errorf("upsert teacher attendance: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("upsert teacher attendance: %w", err)
	}
	return &stored, nil
}

// ListUnfinalized returns the rows a finalize pass still has to resolve.
func (r *LedgerRepository) ListUnfinalized(ctx context.Context, schoolID, dateKey string) ([]models.StudentDayAttendance, error) {
	query := fmt.Sprintf(`SELECT %s FROM student_day_attendance
WHERE school_id = $1 AND date_key = $2 AND finalized = FALSE
ORDER BY student_id`, ledgerColumns)
	var rows []models.StudentDayAttendance
	if err := r.db.SelectContext(ctx, &rows, query, schoolID, dateKey); err != nil {
		return nil, fmt.Errorf("list unfinalized ledger rows: %w", err)
	}
	return rows, nil
}

// Finalize marks one unfinalized row with its resolved final state. The
// finalized guard in the predicate makes repeated passes no-ops.
func (r *LedgerRepository) Finalize(ctx context.Context, id string, status models.AttendanceStatus, source models.MarkSource, at time.Time) (bool, error) {
	query := `UPDATE student_day_attendance
SET final_status = $2, final_source = $3, finalized = TRUE, finalized_at = $4, updated_at = $4
WHERE id = $1 AND finalized = FALSE`
	res, err := r.db.ExecContext(ctx, query, id, status, source, at)
	if err != nil {
		return false, fmt.Errorf("finalize ledger row: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("finalize ledger row: %w", err)
	}
	return affected > 0, nil
}

// InsertFinalizedAbsent synthesizes a default-absent finalized row for an
// enrolled student with no signal. Returns false when a row appeared
// concurrently (a racing live write wins).
func (r *LedgerRepository) InsertFinalizedAbsent(ctx context.Context, schoolID, studentID, dateKey string, at time.Time) (bool, error) {
	query := `INSERT INTO student_day_attendance
(id, school_id, student_id, date_key, final_status, final_source, finalized, finalized_at, created_at, updated_at)
VALUES ($1, $2, $3, $4, 'absent', 'finalizer', TRUE, $5, $5, $5)
ON CONFLICT (school_id, student_id, date_key) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query, uuid.NewString(), schoolID, studentID, dateKey, at)
	if err != nil {
		return false, fmt.Errorf("insert finalized absent row: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert finalized absent row: %w", err)
	}
	return affected > 0, nil
}

// ListDay returns ledger rows joined with roster metadata for a school day.
func (r *LedgerRepository) ListDay(ctx context.Context, filter models.LedgerFilter) ([]models.LedgerDayRow, error) {
	where := []string{"a.school_id = $1", "a.date_key = $2"}
	args := []interface{}{filter.SchoolID, filter.DateKey}
	if filter.Grade != "" {
		where = append(where, fmt.Sprintf("s.grade = $%d", len(args)+1))
		args = append(args, filter.Grade)
	}
	if filter.Section != "" {
		where = append(where, fmt.Sprintf("s.section = $%d", len(args)+1))
		args = append(args, filter.Section)
	}
	if filter.Finalized != nil {
		where = append(where, fmt.Sprintf("a.finalized = $%d", len(args)+1))
		args = append(args, *filter.Finalized)
	}
	query := fmt.Sprintf(`SELECT a.id, a.school_id, a.student_id, a.date_key,
a.auto_status, a.auto_marked_at, a.auto_event_id,
a.teacher_status, a.teacher_marked_at, a.teacher_marked_by, a.teacher_override,
a.final_status, a.final_source, a.finalized, a.finalized_at, a.created_at, a.updated_at,
s.full_name AS student_name, s.grade, s.section
FROM student_day_attendance a
JOIN students s ON s.id = a.student_id
WHERE %s
ORDER BY s.grade, s.section, s.full_name`, strings.Join(where, " AND "))
	var rows []models.LedgerDayRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("list ledger day: %w", err)
	}
	return rows, nil
}

// AbsenceCandidate is a finalized-absent row awaiting notification.
type AbsenceCandidate struct {
	StudentID     string  `db:"student_id"`
	StudentName   string  `db:"student_name"`
	GuardianPhone *string `db:"guardian_phone"`
	DateKey       string  `db:"date_key"`
}

// ListFinalAbsentWithoutLog returns finalized-absent rows for a school day
// that have no SMS log entry yet.
func (r *LedgerRepository) ListFinalAbsentWithoutLog(ctx context.Context, schoolID, dateKey string) ([]AbsenceCandidate, error) {
	query := `SELECT a.student_id, s.full_name AS student_name, s.guardian_phone, a.date_key
FROM student_day_attendance a
JOIN students s ON s.id = a.student_id
LEFT JOIN absence_sms_logs l
  ON l.school_id = a.school_id AND l.student_id = a.student_id AND l.date_key = a.date_key
WHERE a.school_id = $1 AND a.date_key = $2
  AND a.finalized = TRUE AND a.final_status = 'absent'
  AND l.id IS NULL
ORDER BY s.full_name`
	var rows []AbsenceCandidate
	if err := r.db.SelectContext(ctx, &rows, query, schoolID, dateKey); err != nil {
		return nil, fmt.Errorf("list absence candidates: %w", err)
	}
	return rows, nil
}
