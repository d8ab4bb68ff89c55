package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/edusync/attendance-api/internal/models"
)

// SchoolRepository resolves school directory records.
type SchoolRepository struct {
	db *sqlx.DB
}

// NewSchoolRepository constructs the repository.
func NewSchoolRepository(db *sqlx.DB) *SchoolRepository {
	return &SchoolRepository{db: db}
}

const schoolColumns = `id, slug, external_id, name, api_key, timezone, cutoff_time, sender_name, active, created_at, updated_at`

// FindByID returns one school or sql.ErrNoRows.
func (r *SchoolRepository) FindByID(ctx context.Context, id string) (*models.School, error) {
	query := fmt.Sprintf("SELECT %s FROM schools WHERE id = $1", schoolColumns)
	var school models.School
	if err := r.db.GetContext(ctx, &school, query, id); err != nil {
		return nil, err
	}
	return &school, nil
}

// ResolveDevice authenticates a capture device: the identifier may be the
// school's slug, external id, or id, and must pair with the API key.
func (r *SchoolRepository) ResolveDevice(ctx context.Context, identifier, apiKey string) (*models.School, error) {
	query := fmt.Sprintf(`SELECT %s FROM schools
WHERE (slug = $1 OR external_id = $1 OR id = $1) AND api_key = $2 AND active = TRUE`, schoolColumns)
	var school models.School
	if err := r.db.GetContext(ctx, &school, query, identifier, apiKey); err != nil {
		return nil, err
	}
	return &school, nil
}

// ListActive returns all active schools, used by the finalizer scan.
func (r *SchoolRepository) ListActive(ctx context.Context) ([]models.School, error) {
	query := fmt.Sprintf("SELECT %s FROM schools WHERE active = TRUE ORDER BY slug", schoolColumns)
	var schools []models.School
	if err := r.db.SelectContext(ctx, &schools, query); err != nil {
		return nil, fmt.Errorf("list active schools: %w", err)
	}
	return schools, nil
}
