package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/99minutos/account-service/internal/core/domain"
	"github.com/99minutos/account-service/internal/core/ports"
)

// RoleBootstrapper creates roles lazily the first time they are referenced.
// No application lock is taken: the store's unique constraint on the role
// name decides concurrent creations, and the loser re-reads the winner's row.
type RoleBootstrapper struct {
	store ports.CredentialStore
	cache ports.RoleCache
	log   zerolog.Logger
}

// NewRoleBootstrapper returns a RoleBootstrapper. cache may be nil.
func NewRoleBootstrapper(store ports.CredentialStore, cache ports.RoleCache, log zerolog.Logger) *RoleBootstrapper {
	return &RoleBootstrapper{
		store: store,
		cache: cache,
		log:   log.With().Str("component", "role_bootstrapper").Logger(),
	}
}

// EnsureRole returns the role called name, creating it when absent. A cached
// id is returned without a store round-trip; callers that find it stale use
// Refresh.
func (b *RoleBootstrapper) EnsureRole(ctx context.Context, name string) (*domain.Role, error) {
	name, err := roleName(name)
	if err != nil {
		return nil, err
	}

	if b.cache != nil {
		id, ok, err := b.cache.Lookup(ctx, name)
		if err != nil {
			b.log.Warn().Err(err).Str("role", name).Msg("role cache lookup failed, falling back to store")
		} else if ok {
			return &domain.Role{ID: id, Name: name}, nil
		}
	}
	return b.fromStore(ctx, name)
}

// Refresh drops any cached id for name and ensures the role against the
// store.
func (b *RoleBootstrapper) Refresh(ctx context.Context, name string) (*domain.Role, error) {
	name, err := roleName(name)
	if err != nil {
		return nil, err
	}

	if b.cache != nil {
		if err := b.cache.Invalidate(ctx, name); err != nil {
			b.log.Warn().Err(err).Str("role", name).Msg("failed to invalidate cached role")
		}
	}
	return b.fromStore(ctx, name)
}

// EnsureRoles makes sure every non-empty name exists in the store. It never
// trusts the cache, so roles are recreated even when cached ids outlived
// the store.
func (b *RoleBootstrapper) EnsureRoles(ctx context.Context, names ...string) error {
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			continue
		}
		if _, err := b.Refresh(ctx, name); err != nil {
			return err
		}
	}
	return nil
}

func (b *RoleBootstrapper) fromStore(ctx context.Context, name string) (*domain.Role, error) {
	role, err := b.store.FindRoleByName(ctx, name)
	if errors.Is(err, domain.ErrRoleNotFound) {
		role, err = b.create(ctx, name)
	}
	if err != nil {
		return nil, fmt.Errorf("ensure role %s: %w", name, err)
	}

	if b.cache != nil {
		if err := b.cache.Store(ctx, role); err != nil {
			b.log.Warn().Err(err).Str("role", name).Msg("failed to cache role")
		}
	}
	return role, nil
}

func (b *RoleBootstrapper) create(ctx context.Context, name string) (*domain.Role, error) {
	role, err := b.store.CreateRole(ctx, name)
	if errors.Is(err, domain.ErrRoleExists) {
		// Another caller created it between our read and write.
		b.log.Debug().Str("role", name).Msg("role created concurrently")
		return b.store.FindRoleByName(ctx, name)
	}
	if err != nil {
		return nil, err
	}

	b.log.Info().Str("role", name).Str("role_id", role.ID).Msg("role created")
	return role, nil
}

func roleName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		verr := domain.NewValidationError()
		verr.Add("role", "role is required")
		return "", verr
	}
	return name, nil
}
