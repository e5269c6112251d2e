package gateway

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/campushq/portal-api/internal/models"
	appErrors "github.com/campushq/portal-api/pkg/errors"
)

// Identity is the credential-verification boundary. The portal core treats
// it as an external collaborator: it verifies credentials, resumes and
// revokes authenticated identities, and knows nothing about roles.
type Identity interface {
	Verify(ctx context.Context, email, password string) (*models.Identity, string, error)
	Current(ctx context.Context, token string) (*models.Identity, error)
	Revoke(ctx context.Context, token string) error
}

type identityUserReader interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateLastLogin(ctx context.Context, id string, ts time.Time) error
}

// Config defines token issuing parameters.
type Config struct {
	Secret     string
	Expiration time.Duration
	Issuer     string
}

// JWTIdentity implements Identity with HS256 tokens and a Redis revocation
// set keyed by token id.
type JWTIdentity struct {
	users  identityUserReader
	redis  *redis.Client
	logger *zap.Logger
	config Config
}

// NewJWTIdentity constructs the gateway.
func NewJWTIdentity(users identityUserReader, redisClient *redis.Client, logger *zap.Logger, config Config) *JWTIdentity {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Expiration <= 0 {
		config.Expiration = 24 * time.Hour
	}
	return &JWTIdentity{users: users, redis: redisClient, logger: logger, config: config}
}

// Verify checks credentials and issues an opaque session token.
func (g *JWTIdentity) Verify(ctx context.Context, email, password string) (*models.Identity, string, error) {
	user, err := g.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
		}
		return nil, "", appErrors.Wrap(err, appErrors.ErrCollaborator.Code, appErrors.ErrCollaborator.Status, "identity lookup failed")
	}

	if !user.Active {
		return nil, "", appErrors.Clone(appErrors.ErrInvalidCredentials, "account is inactive")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, "", appErrors.Clone(appErrors.ErrInvalidCredentials, "invalid email or password")
	}

	token, err := g.issueToken(user)
	if err != nil {
		return nil, "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to issue token")
	}

	if err := g.users.UpdateLastLogin(ctx, user.ID, time.Now().UTC()); err != nil {
		g.logger.Warn("failed to update last login", zap.Error(err))
	}

	return &models.Identity{ID: user.ID, Email: user.Email}, token, nil
}

// Current resumes the identity behind a previously issued token. An absent,
// expired or revoked token yields (nil, nil): no active identity.
func (g *JWTIdentity) Current(ctx context.Context, token string) (*models.Identity, error) {
	if token == "" {
		return nil, nil
	}
	claims, err := g.parseToken(token)
	if err != nil {
		return nil, nil
	}

	revoked, err := g.isRevoked(ctx, claims.ID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrCollaborator.Code, appErrors.ErrCollaborator.Status, "revocation check failed")
	}
	if revoked {
		return nil, nil
	}

	return &models.Identity{ID: claims.Subject, Email: claims.Email}, nil
}

// Revoke invalidates a token by recording its id until natural expiry.
func (g *JWTIdentity) Revoke(ctx context.Context, token string) error {
	claims, err := g.parseToken(token)
	if err != nil {
		return nil // already unusable
	}

	ttl := time.Until(claims.ExpiresAt.Time)
	if ttl <= 0 || g.redis == nil {
		return nil
	}

	if err := g.redis.Set(ctx, revocationKey(claims.ID), "1", ttl).Err(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrCollaborator.Code, appErrors.ErrCollaborator.Status, "failed to record revocation")
	}
	return nil
}

func (g *JWTIdentity) issueToken(user *models.User) (string, error) {
	issuedAt := time.Now().UTC()
	claims := &models.IdentityClaims{
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    g.config.Issuer,
			Subject:   user.ID,
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(g.config.Expiration)),
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			NotBefore: jwt.NewNumericDate(issuedAt),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(g.config.Secret))
}

func (g *JWTIdentity) parseToken(tokenString string) (*models.IdentityClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &models.IdentityClaims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(g.config.Secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*models.IdentityClaims)
	if !ok || !token.Valid || claims.ExpiresAt == nil {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}

func (g *JWTIdentity) isRevoked(ctx context.Context, tokenID string) (bool, error) {
	if g.redis == nil {
		return false, nil
	}
	err := g.redis.Get(ctx, revocationKey(tokenID)).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func revocationKey(tokenID string) string {
	return "auth:revoked:" + tokenID
}
