package service

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/campushq/portal-api/internal/gateway"
	"github.com/campushq/portal-api/internal/models"
	appErrors "github.com/campushq/portal-api/pkg/errors"
)

type roleDirectory interface {
	RoleOf(ctx context.Context, identityID string) (models.UserRole, error)
}

// SessionService is the session gate: it orchestrates credential
// verification against the identity gateway and reconciles the declared
// role against the role directory. Every other component depends on it for
// "who is calling, as what role".
type SessionService struct {
	identity  gateway.Identity
	roles     roleDirectory
	validator *validator.Validate
	logger    *zap.Logger
	tokenTTL  time.Duration
}

// NewSessionService constructs the service.
func NewSessionService(identity gateway.Identity, roles roleDirectory, validate *validator.Validate, logger *zap.Logger, tokenTTL time.Duration) *SessionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{identity: identity, roles: roles, validator: validate, logger: logger, tokenTTL: tokenTTL}
}

// Authenticate verifies credentials and enforces the role reconciliation
// rule: a declared role that does not match the directory's record revokes
// the freshly issued token and fails. A session is never returned partially
// formed.
func (s *SessionService) Authenticate(ctx context.Context, req models.LoginRequest) (*models.LoginResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	identity, token, err := s.identity.Verify(ctx, req.Email, req.Password)
	if err != nil {
		return nil, err
	}

	role, err := s.roles.RoleOf(ctx, identity.ID)
	if err != nil {
		s.revokeBestEffort(ctx, token)
		return nil, appErrors.Wrap(err, appErrors.ErrCollaborator.Code, appErrors.ErrCollaborator.Status, "role directory lookup failed")
	}

	// An unassigned identity is a valid state (administrative backlog): the
	// caller gets a no-capability session and a remediation path instead of
	// a login failure.
	if role != models.RoleUnassigned && models.ParseRole(req.Role) != role {
		s.revokeBestEffort(ctx, token)
		return nil, appErrors.Clone(appErrors.ErrRoleMismatch, "declared role does not match assigned role")
	}

	now := time.Now().UTC()
	return &models.LoginResponse{
		Token:     token,
		ExpiresIn: int64(s.tokenTTL.Seconds()),
		IssuedAt:  now,
		Session: models.Session{
			Identity:      *identity,
			Role:          role,
			EstablishedAt: now,
		},
	}, nil
}

// Current re-derives a session from an already-established token. The role
// is looked up on every call so it is never stale. No active identity is
// not an error: (nil, nil).
func (s *SessionService) Current(ctx context.Context, token string) (*models.Session, error) {
	identity, err := s.identity.Current(ctx, token)
	if err != nil {
		return nil, err
	}
	if identity == nil {
		return nil, nil
	}

	role, err := s.roles.RoleOf(ctx, identity.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrCollaborator.Code, appErrors.ErrCollaborator.Status, "role directory lookup failed")
	}

	return &models.Session{
		Identity:      *identity,
		Role:          role,
		EstablishedAt: time.Now().UTC(),
	}, nil
}

// End invalidates the external authentication state. Revocation is best
// effort: a remote failure is logged and the caller's local view is cleared
// regardless.
func (s *SessionService) End(ctx context.Context, token string) error {
	s.revokeBestEffort(ctx, token)
	return nil
}

func (s *SessionService) revokeBestEffort(ctx context.Context, token string) {
	if err := s.identity.Revoke(ctx, token); err != nil {
		s.logger.Warn("failed to revoke session token", zap.Error(err))
	}
}
