package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/edusync/attendance-api/internal/models"
)

// SMSLogRepository persists absence notification logs. The unique
// (school_id, student_id, date_key) key prevents double-sending for the
// same finalized absence.
type SMSLogRepository struct {
	db *sqlx.DB
}

// NewSMSLogRepository constructs the repository.
func NewSMSLogRepository(db *sqlx.DB) *SMSLogRepository {
	return &SMSLogRepository{db: db}
}

const smsLogColumns = `id, school_id, student_id, date_key, phone, message, status, provider_id, detail, created_at, updated_at`

// InsertPending claims a dedup slot for one absence. Returns false when a
// log entry already exists for the composite key.
func (r *SMSLogRepository) InsertPending(ctx context.Context, log *models.AbsenceSMSLog) (bool, error) {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	log.Status = models.SMSLogStatusPending
	log.CreatedAt = now
	log.UpdatedAt = now
	query := `INSERT INTO absence_sms_logs
(id, school_id, student_id, date_key, phone, message, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
ON CONFLICT (school_id, student_id, date_key) DO NOTHING`
	res, err := r.db.ExecContext(ctx, query,
		log.ID, log.SchoolID, log.StudentID, log.DateKey, log.Phone, log.Message, log.Status, now)
	if err != nil {
		return false, fmt.Errorf("insert pending sms log: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert pending sms log: %w", err)
	}
	return affected > 0, nil
}

// UpdateStatus records the transport outcome for a log entry.
func (r *SMSLogRepository) UpdateStatus(ctx context.Context, id string, status models.SMSLogStatus, providerID, detail *string) error {
	query := `UPDATE absence_sms_logs
SET status = $2, provider_id = $3, detail = $4, updated_at = $5
WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, status, providerID, detail, time.Now().UTC()); err != nil {
		return fmt.Errorf("update sms log status: %w", err)
	}
	return nil
}

// List returns log entries matching the filter with a total count.
func (r *SMSLogRepository) List(ctx context.Context, filter models.SMSLogFilter) ([]models.AbsenceSMSLog, int, error) {
	where := []string{"school_id = $1"}
	args := []interface{}{filter.SchoolID}
	if filter.Status != nil && filter.Status.Valid() {
		where = append(where, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.DateKey != "" {
		where = append(where, fmt.Sprintf("date_key = $%d", len(args)+1))
		args = append(args, filter.DateKey)
	}
	whereClause := strings.Join(where, " AND ")

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 200 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s FROM absence_sms_logs WHERE %s
ORDER BY created_at DESC LIMIT %d OFFSET %d`, smsLogColumns, whereClause, size, offset)
	var rows []models.AbsenceSMSLog
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list sms logs: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM absence_sms_logs WHERE %s", whereClause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count sms logs: %w", err)
	}
	return rows, total, nil
}

// Overview aggregates log counts per status for a school.
func (r *SMSLogRepository) Overview(ctx context.Context, schoolID string) (*models.SMSOverview, error) {
	query := `SELECT status, COUNT(*) AS cnt FROM absence_sms_logs WHERE school_id = $1 GROUP BY status`
	rows := []struct {
		Status string `db:"status"`
		Count  int    `db:"cnt"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query, schoolID); err != nil {
		return nil, fmt.Errorf("sms log overview: %w", err)
	}
	overview := &models.SMSOverview{}
	for _, row := range rows {
		switch models.SMSLogStatus(row.Status) {
		case models.SMSLogStatusPending:
			overview.Pending += row.Count
		case models.SMSLogStatusSent:
			overview.Sent += row.Count
		case models.SMSLogStatusFailed:
			overview.Failed += row.Count
		}
		overview.Total += row.Count
	}
	return overview, nil
}
