package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/99minutos/account-service/internal/core/domain"
	"github.com/99minutos/account-service/internal/core/ports"
	"github.com/99minutos/account-service/internal/infrastructure/db/memory"
)

const (
	testKey      = "0123456789abcdef0123456789abcdef"
	testIssuer   = "account-service-test"
	testAudience = "account-service-clients"
)

type fixture struct {
	store    *memory.CredentialStore
	roles    *RoleBootstrapper
	tokens   *TokenIssuer
	accounts *AccountService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWith(t, memory.NewCredentialStore(), nil)
}

// newFixtureWith builds the services over store and an optional role cache.
func newFixtureWith(t *testing.T, store *memory.CredentialStore, cache ports.RoleCache) *fixture {
	t.Helper()

	roles := NewRoleBootstrapper(store, cache, zerolog.Nop())
	tokens := NewTokenIssuer(store, TokenConfig{
		SigningKey: []byte(testKey),
		Issuer:     testIssuer,
		Audience:   testAudience,
		Lifetime:   time.Hour,
	}, zerolog.Nop())
	accounts, err := NewAccountService(store, roles, tokens, AccountConfig{
		DefaultRole:    "ROLE_MODERATOR",
		BootstrapRoles: []string{"ROLE_ADMIN"},
		Policy: PasswordPolicy{
			MinLength:    6,
			RequireDigit: true,
			RequireLower: true,
			RequireUpper: true,
		},
		BcryptCost: bcrypt.MinCost,
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewAccountService returned error: %v", err)
	}

	return &fixture{store: store, roles: roles, tokens: tokens, accounts: accounts}
}

// grant gives an existing identity an extra role outside the registration flow.
func (f *fixture) grant(t *testing.T, email, roleName string) {
	t.Helper()
	ctx := context.Background()

	identity, err := f.store.FindIdentityByEmail(ctx, email)
	if err != nil {
		t.Fatalf("find %s: %v", email, err)
	}
	role, err := f.roles.EnsureRole(ctx, roleName)
	if err != nil {
		t.Fatalf("ensure %s: %v", roleName, err)
	}
	if err := f.store.AddIdentityToRole(ctx, identity.ID, role.ID); err != nil {
		t.Fatalf("grant %s: %v", roleName, err)
	}
}

// unavailableStore fails every identity lookup as if the database were down.
type unavailableStore struct {
	*memory.CredentialStore
}

func (unavailableStore) FindIdentityByEmail(context.Context, string) (*domain.Identity, error) {
	return nil, domain.ErrStoreUnavailable
}

func (unavailableStore) ListIdentityRoles(context.Context) ([]domain.UserRoleRow, error) {
	return nil, domain.ErrStoreUnavailable
}

// missingRoleStore rejects every identity write as if the role had vanished.
type missingRoleStore struct {
	*memory.CredentialStore
	creates int
}

func (s *missingRoleStore) CreateIdentity(context.Context, *domain.Identity, ...string) (*domain.Identity, error) {
	s.creates++
	return nil, domain.ErrRoleNotFound
}
