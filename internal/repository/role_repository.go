package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/campushq/portal-api/internal/models"
)

// RoleDirectoryRepository resolves the single authoritative role per identity.
type RoleDirectoryRepository struct {
	db *sqlx.DB
}

// NewRoleDirectoryRepository constructs the repository.
func NewRoleDirectoryRepository(db *sqlx.DB) *RoleDirectoryRepository {
	return &RoleDirectoryRepository{db: db}
}

// RoleOf returns the role assigned to the identity. A missing row is not an
// error: the identity is simply unassigned (administrative backlog).
func (r *RoleDirectoryRepository) RoleOf(ctx context.Context, identityID string) (models.UserRole, error) {
	const query = `SELECT role FROM role_assignments WHERE identity_id = $1`
	var role models.UserRole
	if err := r.db.GetContext(ctx, &role, query, identityID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.RoleUnassigned, nil
		}
		return models.RoleUnassigned, fmt.Errorf("lookup role assignment: %w", err)
	}
	return role, nil
}
