package repository

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/campushq/portal-api/internal/models"
)

func newRoleRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func TestRoleDirectoryRepositoryRoleOf(t *testing.T) {
	db, mock, cleanup := newRoleRepoMock(t)
	defer cleanup()

	repo := NewRoleDirectoryRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT role FROM role_assignments")).
		WithArgs("usr-1").
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("TEACHER"))

	role, err := repo.RoleOf(context.Background(), "usr-1")
	require.NoError(t, err)
	require.Equal(t, models.RoleTeacher, role)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRoleDirectoryRepositoryMissingRowMeansUnassigned(t *testing.T) {
	db, mock, cleanup := newRoleRepoMock(t)
	defer cleanup()

	repo := NewRoleDirectoryRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT role FROM role_assignments")).
		WithArgs("usr-9").
		WillReturnError(sql.ErrNoRows)

	role, err := repo.RoleOf(context.Background(), "usr-9")
	require.NoError(t, err)
	require.Equal(t, models.RoleUnassigned, role)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRoleDirectoryRepositoryPropagatesStoreFailure(t *testing.T) {
	db, mock, cleanup := newRoleRepoMock(t)
	defer cleanup()

	repo := NewRoleDirectoryRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT role FROM role_assignments")).
		WithArgs("usr-1").
		WillReturnError(fmt.Errorf("connection reset"))

	_, err := repo.RoleOf(context.Background(), "usr-1")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
