package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Identity is the stable identity returned by the identity gateway.
type Identity struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is the fully reconciled caller identity plus role. It exists only
// in process memory; it is either complete or absent, never partial.
type Session struct {
	Identity      Identity  `json:"identity"`
	Role          UserRole  `json:"role"`
	EstablishedAt time.Time `json:"established_at"`
}

// HasCapability reports whether the session carries an actionable role.
// Unassigned sessions are valid but can perform no role-gated operation.
func (s *Session) HasCapability() bool {
	return s != nil && s.Role != RoleUnassigned
}

// LoginRequest holds credentials plus the role the caller claims to hold.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Role     string `json:"role" validate:"required"`
}

// LoginResponse returns the issued token and reconciled session.
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresIn int64     `json:"expires_in"`
	Session   Session   `json:"session"`
	IssuedAt  time.Time `json:"issued_at"`
}

// IdentityClaims represents the JWT payload issued by the identity gateway.
// Deliberately role-free: the role directory is consulted on every request.
type IdentityClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}
