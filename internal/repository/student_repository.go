package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/edusync/attendance-api/internal/models"
)

// StudentRepository resolves roster records.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs the repository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

const studentColumns = `id, school_id, external_id, full_name, grade, section, guardian_phone, blood_group, active, created_at, updated_at`

// FindActive returns an active student of the given school, or
// sql.ErrNoRows when the identifier does not resolve.
func (r *StudentRepository) FindActive(ctx context.Context, schoolID, studentID string) (*models.Student, error) {
	query := fmt.Sprintf(`SELECT %s FROM students
WHERE school_id = $1 AND (id = $2 OR external_id = $2) AND active = TRUE`, studentColumns)
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, schoolID, studentID); err != nil {
		return nil, err
	}
	return &student, nil
}

// ListRoster returns enrolled students matching the filter.
func (r *StudentRepository) ListRoster(ctx context.Context, filter models.RosterFilter) ([]models.Student, error) {
	where := []string{"school_id = $1"}
	args := []interface{}{filter.SchoolID}
	if filter.Grade != "" {
		where = append(where, fmt.Sprintf("grade = $%d", len(args)+1))
		args = append(args, filter.Grade)
	}
	if filter.Section != "" {
		where = append(where, fmt.Sprintf("section = $%d", len(args)+1))
		args = append(args, filter.Section)
	}
	if filter.Active != nil {
		where = append(where, fmt.Sprintf("active = $%d", len(args)+1))
		args = append(args, *filter.Active)
	}
	query := fmt.Sprintf(`SELECT %s FROM students WHERE %s ORDER BY grade, section, full_name`,
		studentColumns, strings.Join(where, " AND "))
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, fmt.Errorf("list roster: %w", err)
	}
	return students, nil
}
