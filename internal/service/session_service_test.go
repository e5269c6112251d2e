package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/campushq/portal-api/internal/models"
	appErrors "github.com/campushq/portal-api/pkg/errors"
)

type identityGatewayMock struct {
	identities map[string]models.Identity // email -> identity
	password   string
	tokens     map[string]models.Identity // token -> identity
	revoked    map[string]bool
	revokeErr  error
	issued     int
}

func newIdentityGatewayMock() *identityGatewayMock {
	return &identityGatewayMock{
		identities: map[string]models.Identity{},
		password:   "s3cret",
		tokens:     map[string]models.Identity{},
		revoked:    map[string]bool{},
	}
}

func (m *identityGatewayMock) Verify(ctx context.Context, email, password string) (*models.Identity, string, error) {
	identity, ok := m.identities[email]
	if !ok || password != m.password {
		return nil, "", appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
	}
	m.issued++
	token := email + "-token"
	m.tokens[token] = identity
	return &identity, token, nil
}

func (m *identityGatewayMock) Current(ctx context.Context, token string) (*models.Identity, error) {
	if m.revoked[token] {
		return nil, nil
	}
	identity, ok := m.tokens[token]
	if !ok {
		return nil, nil
	}
	return &identity, nil
}

func (m *identityGatewayMock) Revoke(ctx context.Context, token string) error {
	if m.revokeErr != nil {
		return m.revokeErr
	}
	m.revoked[token] = true
	return nil
}

type roleDirectoryMock struct {
	roles map[string]models.UserRole
}

func (m *roleDirectoryMock) RoleOf(ctx context.Context, identityID string) (models.UserRole, error) {
	if role, ok := m.roles[identityID]; ok {
		return role, nil
	}
	return models.RoleUnassigned, nil
}

func newSessionFixture() (*SessionService, *identityGatewayMock, *roleDirectoryMock) {
	identity := newIdentityGatewayMock()
	identity.identities["sana@example.edu"] = models.Identity{ID: "stu-1", Email: "sana@example.edu"}
	identity.identities["tom@example.edu"] = models.Identity{ID: "tch-1", Email: "tom@example.edu"}
	identity.identities["new@example.edu"] = models.Identity{ID: "usr-9", Email: "new@example.edu"}
	roles := &roleDirectoryMock{roles: map[string]models.UserRole{
		"stu-1": models.RoleStudent,
		"tch-1": models.RoleTeacher,
	}}
	svc := NewSessionService(identity, roles, nil, nil, time.Hour)
	return svc, identity, roles
}

func TestSessionServiceAuthenticate(t *testing.T) {
	svc, _, _ := newSessionFixture()

	result, err := svc.Authenticate(context.Background(), models.LoginRequest{
		Email:    "sana@example.edu",
		Password: "s3cret",
		Role:     "STUDENT",
	})
	require.NoError(t, err)
	require.Equal(t, models.RoleStudent, result.Session.Role)
	require.Equal(t, "stu-1", result.Session.Identity.ID)
	require.NotEmpty(t, result.Token)
}

func TestSessionServiceAuthenticateRoleMismatchRevokes(t *testing.T) {
	svc, identity, _ := newSessionFixture()

	_, err := svc.Authenticate(context.Background(), models.LoginRequest{
		Email:    "sana@example.edu",
		Password: "s3cret",
		Role:     "TEACHER",
	})
	require.True(t, appErrors.Is(err, appErrors.ErrRoleMismatch))

	// The token issued during the rejected attempt must not be resumable.
	require.Equal(t, 1, identity.issued)
	session, err := svc.Current(context.Background(), "sana@example.edu-token")
	require.NoError(t, err)
	require.Nil(t, session)
}

func TestSessionServiceAuthenticateInvalidCredentials(t *testing.T) {
	svc, _, _ := newSessionFixture()

	_, err := svc.Authenticate(context.Background(), models.LoginRequest{
		Email:    "sana@example.edu",
		Password: "wrong",
		Role:     "STUDENT",
	})
	require.True(t, appErrors.Is(err, appErrors.ErrInvalidCredentials))
}

func TestSessionServiceAuthenticateUnassignedRole(t *testing.T) {
	svc, _, _ := newSessionFixture()

	result, err := svc.Authenticate(context.Background(), models.LoginRequest{
		Email:    "new@example.edu",
		Password: "s3cret",
		Role:     "STUDENT",
	})
	require.NoError(t, err)
	require.Equal(t, models.RoleUnassigned, result.Session.Role)
	require.False(t, result.Session.HasCapability())
}

func TestSessionServiceCurrentRederivesRole(t *testing.T) {
	svc, _, roles := newSessionFixture()

	result, err := svc.Authenticate(context.Background(), models.LoginRequest{
		Email:    "tom@example.edu",
		Password: "s3cret",
		Role:     "TEACHER",
	})
	require.NoError(t, err)

	// Role reassignment between requests is reflected immediately.
	roles.roles["tch-1"] = models.RoleAdmin
	session, err := svc.Current(context.Background(), result.Token)
	require.NoError(t, err)
	require.Equal(t, models.RoleAdmin, session.Role)
}

func TestSessionServiceEndIsBestEffort(t *testing.T) {
	svc, identity, _ := newSessionFixture()

	result, err := svc.Authenticate(context.Background(), models.LoginRequest{
		Email:    "sana@example.edu",
		Password: "s3cret",
		Role:     "STUDENT",
	})
	require.NoError(t, err)

	identity.revokeErr = context.DeadlineExceeded
	require.NoError(t, svc.End(context.Background(), result.Token))

	identity.revokeErr = nil
	require.NoError(t, svc.End(context.Background(), result.Token))
	session, err := svc.Current(context.Background(), result.Token)
	require.NoError(t, err)
	require.Nil(t, session)
}
