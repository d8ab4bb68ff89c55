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

// EventRepository handles persistence for the append-only event store.
//
// Uniqueness of (school_id, event_id) is enforced by a partial unique index
// over admitted and superseded rows, so an event id stays claimed for its
// whole lifecycle while rejected resubmissions can still be recorded as
// duplicate audit rows under the same natural key.
type EventRepository struct {
	db *sqlx.DB
}

// NewEventRepository constructs the repository.
func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{db: db}
}

// ErrEventExists signals that the natural key is already claimed by an
// admitted or superseded row.
var ErrEventExists = errors.New("event already admitted")

const eventColumns = `id, school_id, event_id, student_id, student_name, grade, section, blood_group,
captured_at, captured_date_key, source_app, test, status, created_at`

// InsertAdmitted stores a new admitted event. Returns ErrEventExists when an
// admitted or superseded row with the same (school_id, event_id) is already
// present; a superseded event id must not be re-admittable.
func (r *EventRepository) InsertAdmitted(ctx context.Context, event *models.AttendanceEvent) (*models.AttendanceEvent, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	event.Status = models.EventStatusAdmitted
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	query := fmt.Sprintf(`INSERT INTO attendance_events (%s)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
ON CONFLICT (school_id, event_id) WHERE status IN ('admitted', 'superseded') DO NOTHING
RETURNING %s`, eventColumns, eventColumns)
	var stored models.AttendanceEvent
	err := r.db.GetContext(ctx, &stored, query,
		event.ID, event.SchoolID, event.EventID, event.StudentID, event.StudentName, event.Grade, event.Section, event.BloodGroup,
		event.CapturedAt, event.CapturedDateKey, event.SourceApp, event.Test, event.Status, event.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrEventExists
		}
		return nil, fmt.Errorf("insert attendance event: %w", err)
	}
	return &stored, nil
}

// InsertDuplicate records a rejected resubmission for audit.
func (r *EventRepository) InsertDuplicate(ctx context.Context, event *models.AttendanceEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	event.Status = models.EventStatusDuplicate
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	query := fmt.Sprintf(`INSERT INTO attendance_events (%s)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`, eventColumns)
	if _, err := r.db.ExecContext(ctx, query,
		event.ID, event.SchoolID, event.EventID, event.StudentID, event.StudentName, event.Grade, event.Section, event.BloodGroup,
		event.CapturedAt, event.CapturedDateKey, event.SourceApp, event.Test, event.Status, event.CreatedAt); err != nil {
		return fmt.Errorf("insert duplicate event: %w", err)
	}
	return nil
}

// MarkSuperseded transitions an admitted event after a later event replaced
// the ledger's auto side for the same student and day.
func (r *EventRepository) MarkSuperseded(ctx context.Context, schoolID, eventID string) error {
	query := `UPDATE attendance_events SET status = 'superseded'
WHERE school_id = $1 AND event_id = $2 AND status = 'admitted'`
	if _, err := r.db.ExecContext(ctx, query, schoolID, eventID); err != nil {
		return fmt.Errorf("mark event superseded: %w", err)
	}
	return nil
}

// List returns events matching the filter with a total count.
func (r *EventRepository) List(ctx context.Context, filter models.EventFilter) ([]models.AttendanceEvent, int, error) {
	where := []string{"school_id = $1"}
	args := []interface{}{filter.SchoolID}
	if filter.StudentID != "" {
		where = append(where, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}
	if filter.Status != nil && filter.Status.Valid() {
		where = append(where, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.DateKey != "" {
		where = append(where, fmt.Sprintf("captured_date_key = $%d", len(args)+1))
		args = append(args, filter.DateKey)
	}
	if filter.DateFrom != nil {
		where = append(where, fmt.Sprintf("captured_at >= $%d", len(args)+1))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		where = append(where, fmt.Sprintf("captured_at <= $%d", len(args)+1))
		args = append(args, *filter.DateTo)
	}
	whereClause := strings.Join(where, " AND ")

	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM attendance_events WHERE %s
ORDER BY captured_at %s LIMIT %d OFFSET %d`, eventColumns, whereClause, order, size, offset)
	var rows []models.AttendanceEvent
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list attendance events: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM attendance_events WHERE %s", whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count attendance events: %w", err)
	}
	return rows, total, nil
}

// Stats aggregates event counts for a school. todayKey scopes the "today"
// bucket to the school-local day.
func (r *EventRepository) Stats(ctx context.Context, schoolID, todayKey string) (*models.EventStats, error) {
	query := `SELECT status, COUNT(*) AS cnt, COUNT(*) FILTER (WHERE captured_date_key = $2) AS today
FROM attendance_events WHERE school_id = $1 GROUP BY status`
	rows := []struct {
		Status string `db:"status"`
		Count  int    `db:"cnt"`
		Today  int    `db:"today"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query, schoolID, todayKey); err != nil {
		return nil, fmt.Errorf("event stats: %w", err)
	}
	stats := &models.EventStats{}
	for _, row := range rows {
		switch models.EventStatus(row.Status) {
		case models.EventStatusAdmitted:
			stats.Admitted += row.Count
		case models.EventStatusDuplicate:
			stats.Duplicate += row.Count
		case models.EventStatusSuperseded:
			stats.Superseded += row.Count
		}
		stats.Total += row.Count
		stats.Today += row.Today
	}
	return stats, nil
}
