package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var userRowColumns = []string{
	"id", "school_id", "email", "password_hash", "full_name", "role", "active", "created_at", "updated_at",
}

func TestFindByEmail(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows(userRowColumns).
		AddRow("user-1", "school-1", "admin@example.com", "hash", "Admin", "admin", true, now, now)
	mock.ExpectQuery("FROM users WHERE email").
		WithArgs("admin@example.com").
		WillReturnRows(rows)

	user, err := repo.FindByEmail(context.Background(), "admin@example.com")
	require.NoError(t, err)
	assert.Equal(t, "user-1", user.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFindByID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewUserRepository(db)

	now := time.Now().UTC()
	rows := sqlmock.NewRows(userRowColumns).
		AddRow("user-1", "school-1", "admin@example.com", "hash", "Admin", "admin", true, now, now)
	mock.ExpectQuery("FROM users WHERE id").
		WithArgs("user-1").
		WillReturnRows(rows)

	user, err := repo.FindByID(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "admin@example.com", user.Email)

	mock.ExpectQuery("FROM users WHERE id").
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)
	_, err = repo.FindByID(context.Background(), "ghost")
	require.ErrorIs(t, err, sql.ErrNoRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}
