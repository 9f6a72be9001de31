package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/99minutos/account-service/internal/core/domain"
)

// DefaultTokenLifetime is used when TokenConfig.Lifetime is not set.
const DefaultTokenLifetime = 99 * 24 * time.Hour

// RoleResolver resolves the role names currently held by an identity.
type RoleResolver interface {
	RoleNamesForIdentity(ctx context.Context, identityID string) ([]string, error)
}

// TokenConfig carries the process-level signing settings.
type TokenConfig struct {
	SigningKey []byte
	Issuer     string
	Audience   string
	Lifetime   time.Duration
}

type accessClaims struct {
	jwt.RegisteredClaims
	Roles []string `json:"roles"`
}

// TokenIssuer mints and verifies HS256 access tokens. Tokens carry the role
// names held at issuance time and nothing is persisted.
type TokenIssuer struct {
	roles RoleResolver
	cfg   TokenConfig
	now   func() time.Time
	log   zerolog.Logger
}

func NewTokenIssuer(roles RoleResolver, cfg TokenConfig, log zerolog.Logger) *TokenIssuer {
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = DefaultTokenLifetime
	}
	return &TokenIssuer{
		roles: roles,
		cfg:   cfg,
		now:   time.Now,
		log:   log.With().Str("component", "token_issuer").Logger(),
	}
}

// IssueToken builds and signs a token for identity.
func (t *TokenIssuer) IssueToken(ctx context.Context, identity *domain.Identity) (*domain.SignedToken, error) {
	if identity == nil {
		return nil, errors.New("issue token: identity is required")
	}

	roles, err := t.roles.RoleNamesForIdentity(ctx, identity.ID)
	if err != nil {
		return nil, fmt.Errorf("issue token: resolve roles: %w", err)
	}
	if roles == nil {
		roles = []string{}
	}

	// NumericDate has second precision; truncate so the plaintext expiry
	// matches the signed exp claim.
	issuedAt := t.now().UTC().Truncate(time.Second)
	expiresAt := issuedAt.Add(t.cfg.Lifetime)

	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserName(),
			ID:        uuid.NewString(),
			Issuer:    t.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Roles: roles,
	}
	if t.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{t.cfg.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.cfg.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("issue token: sign: %w", err)
	}

	t.log.Info().
		Str("subject", claims.Subject).
		Str("jti", claims.ID).
		Strs("roles", roles).
		Time("expires_at", expiresAt).
		Msg("token issued")

	return &domain.SignedToken{
		AccessToken: signed,
		TokenID:     claims.ID,
		Expiration:  expiresAt,
		IdentityID:  identity.ID,
		UserName:    identity.UserName(),
		Email:       identity.Email,
		Roles:       roles,
	}, nil
}

// Verify checks signature, algorithm, expiry, issuer and audience and returns
// the token's claims. All failures wrap domain.ErrInvalidToken.
func (t *TokenIssuer) Verify(token string) (*domain.TokenClaims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	}
	if t.cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(t.cfg.Issuer))
	}
	if t.cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(t.cfg.Audience))
	}

	var claims accessClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return t.cfg.SigningKey, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, domain.ErrInvalidToken
	}

	out := &domain.TokenClaims{
		Subject:  claims.Subject,
		TokenID:  claims.ID,
		Issuer:   claims.Issuer,
		Audience: []string(claims.Audience),
		Roles:    claims.Roles,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}
