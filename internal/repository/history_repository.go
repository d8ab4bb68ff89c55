package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/edusync/attendance-api/internal/models"
)

// HistoryRepository persists the append-only attendance history. Entries
// live in their own table keyed by the ledger composite so the ledger row
// stays bounded; ordering is by insertion, not marked_at, since field
// devices deliver out of order.
type HistoryRepository struct {
	db *sqlx.DB
}

// NewHistoryRepository constructs the repository.
func NewHistoryRepository(db *sqlx.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

// Append stores one accepted write.
func (r *HistoryRepository) Append(ctx context.Context, entry *models.HistoryEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	query := `INSERT INTO attendance_history
(id, school_id, student_id, date_key, status, source, marked_at, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	if _, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.SchoolID, entry.StudentID, entry.DateKey,
		entry.Status, entry.Source, entry.MarkedAt, entry.Metadata, entry.CreatedAt); err != nil {
		return fmt.Errorf("append attendance history: %w", err)
	}
	return nil
}

// ListForDay returns history entries for one ledger composite in
// submission order.
func (r *HistoryRepository) ListForDay(ctx context.Context, schoolID, studentID, dateKey string) ([]models.HistoryEntry, error) {
	query := `SELECT id, school_id, student_id, date_key, status, source, marked_at, metadata, created_at
FROM attendance_history
WHERE school_id = $1 AND student_id = $2 AND date_key = $3
ORDER BY created_at, id`
	var rows []models.HistoryEntry
	if err := r.db.SelectContext(ctx, &rows, query, schoolID, studentID, dateKey); err != nil {
		return nil, fmt.Errorf("list attendance history: %w", err)
	}
	return rows, nil
}
