// Package memory provides an in-process CredentialStore. It enforces the same
// uniqueness constraints as the database-backed stores and is used for local
// development and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/99minutos/account-service/internal/core/domain"
)

type association struct {
	identityID string
	roleID     string
}

type CredentialStore struct {
	mu sync.RWMutex

	identities map[string]domain.Identity // by id
	byEmail    map[string]string          // normalized email -> id
	roles      map[string]domain.Role     // by id
	byName     map[string]string          // role name -> id
	links      map[association]struct{}
}

func NewCredentialStore() *CredentialStore {
	return &CredentialStore{
		identities: make(map[string]domain.Identity),
		byEmail:    make(map[string]string),
		roles:      make(map[string]domain.Role),
		byName:     make(map[string]string),
		links:      make(map[association]struct{}),
	}
}

func (s *CredentialStore) FindIdentityByEmail(_ context.Context, email string) (*domain.Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byEmail[domain.NormalizeEmail(email)]
	if !ok {
		return nil, domain.ErrIdentityNotFound
	}
	identity := s.identities[id]
	return &identity, nil
}

func (s *CredentialStore) CreateIdentity(_ context.Context, identity *domain.Identity, roleIDs ...string) (*domain.Identity, error) {
	key := domain.NormalizeEmail(identity.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byEmail[key]; exists {
		return nil, domain.ErrDuplicateIdentity
	}
	for _, roleID := range roleIDs {
		if _, ok := s.roles[roleID]; !ok {
			return nil, domain.ErrRoleNotFound
		}
	}

	created := *identity
	created.ID = uuid.NewString()
	s.identities[created.ID] = created
	s.byEmail[key] = created.ID
	for _, roleID := range roleIDs {
		s.links[association{identityID: created.ID, roleID: roleID}] = struct{}{}
	}
	return &created, nil
}

func (s *CredentialStore) FindRoleByName(_ context.Context, name string) (*domain.Role, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byName[name]
	if !ok {
		return nil, domain.ErrRoleNotFound
	}
	role := s.roles[id]
	return &role, nil
}

func (s *CredentialStore) CreateRole(_ context.Context, name string) (*domain.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byName[name]; exists {
		return nil, domain.ErrRoleExists
	}

	role := domain.Role{ID: uuid.NewString(), Name: name}
	s.roles[role.ID] = role
	s.byName[name] = role.ID
	return &role, nil
}

func (s *CredentialStore) AddIdentityToRole(_ context.Context, identityID, roleID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.identities[identityID]; !ok {
		return domain.ErrIdentityNotFound
	}
	if _, ok := s.roles[roleID]; !ok {
		return domain.ErrRoleNotFound
	}

	link := association{identityID: identityID, roleID: roleID}
	if _, exists := s.links[link]; exists {
		return domain.ErrAssociationExists
	}
	s.links[link] = struct{}{}
	return nil
}

func (s *CredentialStore) RoleNamesForIdentity(_ context.Context, identityID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := []string{}
	for link := range s.links {
		if link.identityID == identityID {
			names = append(names, s.roles[link.roleID].Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *CredentialStore) ListIdentityRoles(_ context.Context) ([]domain.UserRoleRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows := make([]domain.UserRoleRow, 0, len(s.links))
	for link := range s.links {
		identity := s.identities[link.identityID]
		rows = append(rows, domain.UserRoleRow{
			ID:             identity.ID,
			Username:       identity.UserName(),
			Email:          identity.Email,
			EmailConfirmed: identity.EmailConfirmed,
			Role:           s.roles[link.roleID].Name,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Email != rows[j].Email {
			return rows[i].Email < rows[j].Email
		}
		return rows[i].Role < rows[j].Role
	})
	return rows, nil
}

func (s *CredentialStore) Ping(context.Context) error {
	return nil
}
