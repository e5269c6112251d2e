package models

import "time"

// UserRole represents the authoritative role recorded in the role directory.
type UserRole string

const (
	RoleAdmin      UserRole = "ADMIN"
	RoleTeacher    UserRole = "TEACHER"
	RoleStudent    UserRole = "STUDENT"
	RoleUnassigned UserRole = "UNASSIGNED"
)

// ParseRole normalises a declared role string. Unknown values map to
// RoleUnassigned so they can never match a real assignment.
func ParseRole(raw string) UserRole {
	switch UserRole(raw) {
	case RoleAdmin, RoleTeacher, RoleStudent:
		return UserRole(raw)
	default:
		return RoleUnassigned
	}
}

// User represents an account stored in the users table. Credentials are
// owned by the identity gateway; the portal core only reads them there.
type User struct {
	ID           string     `db:"id" json:"id"`
	Email        string     `db:"email" json:"email"`
	PasswordHash string     `db:"password_hash" json:"-"`
	FullName     string     `db:"full_name" json:"full_name"`
	Active       bool       `db:"active" json:"active"`
	LastLogin    *time.Time `db:"last_login" json:"last_login,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// RoleAssignment maps an identity to its single authoritative role.
// A missing row means the identity is unassigned.
type RoleAssignment struct {
	IdentityID string    `db:"identity_id" json:"identity_id"`
	Role       UserRole  `db:"role" json:"role"`
	AssignedAt time.Time `db:"assigned_at" json:"assigned_at"`
}
