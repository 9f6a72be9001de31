package ports

import (
	"context"

	"github.com/99minutos/account-service/internal/core/domain"
)

// AccountService is the authentication core exposed to the transport layer.
type AccountService interface {
	Register(ctx context.Context, email, password string) error
	Authenticate(ctx context.Context, identifier, password string) (*domain.Identity, error)
	// CreateToken authenticates the caller and mints a token on success.
	CreateToken(ctx context.Context, identifier, password string) (*domain.SignedToken, error)
	ListUsers(ctx context.Context) ([]domain.UserRoleRow, error)
}

// TokenIssuer signs and verifies access tokens.
type TokenIssuer interface {
	IssueToken(ctx context.Context, identity *domain.Identity) (*domain.SignedToken, error)
	Verify(token string) (*domain.TokenClaims, error)
}
