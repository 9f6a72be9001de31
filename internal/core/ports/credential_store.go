package ports

import (
	"context"

	"github.com/99minutos/account-service/internal/core/domain"
)

// CredentialStore is the persistence collaborator holding identities, roles,
// and their associations. Implementations must enforce uniqueness of the
// normalized email and of the role name atomically.
type CredentialStore interface {
	// FindIdentityByEmail returns domain.ErrIdentityNotFound when no identity
	// matches the normalized email.
	FindIdentityByEmail(ctx context.Context, email string) (*domain.Identity, error)
	// CreateIdentity persists a new identity together with its links to
	// roleIDs and returns it with its ID set. Either everything is stored or
	// nothing is. A concurrent duplicate yields domain.ErrDuplicateIdentity
	// and an unknown role id yields domain.ErrRoleNotFound.
	CreateIdentity(ctx context.Context, identity *domain.Identity, roleIDs ...string) (*domain.Identity, error)

	// FindRoleByName returns domain.ErrRoleNotFound when absent.
	FindRoleByName(ctx context.Context, name string) (*domain.Role, error)
	// CreateRole returns domain.ErrRoleExists when the name is taken.
	CreateRole(ctx context.Context, name string) (*domain.Role, error)

	// AddIdentityToRole returns domain.ErrAssociationExists when the pair
	// already exists and domain.ErrIdentityNotFound or domain.ErrRoleNotFound
	// when either side is missing.
	AddIdentityToRole(ctx context.Context, identityID, roleID string) error
	// RoleNamesForIdentity lists the names of all roles held by identityID.
	RoleNamesForIdentity(ctx context.Context, identityID string) ([]string, error)
	// ListIdentityRoles returns one row per (identity, role) pair. Identities
	// without roles are omitted.
	ListIdentityRoles(ctx context.Context) ([]domain.UserRoleRow, error)

	Ping(ctx context.Context) error
}

// RoleCache remembers role ids by name so the bootstrapper can skip a store
// round-trip for roles it has already seen. It is only a shortcut: an entry
// may outlive the store it was read from.
type RoleCache interface {
	Lookup(ctx context.Context, name string) (roleID string, ok bool, err error)
	Store(ctx context.Context, role *domain.Role) error
	Invalidate(ctx context.Context, name string) error
}
