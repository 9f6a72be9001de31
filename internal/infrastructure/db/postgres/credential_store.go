package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/99minutos/account-service/internal/core/domain"
)

const (
	uniqueViolation     = pq.ErrorCode("23505")
	foreignKeyViolation = pq.ErrorCode("23503")
)

const schema = `
CREATE TABLE IF NOT EXISTS identities (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL,
	normalized_email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	email_confirmed BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS roles (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE
);
CREATE TABLE IF NOT EXISTS identity_roles (
	identity_id TEXT NOT NULL REFERENCES identities(id),
	role_id TEXT NOT NULL REFERENCES roles(id),
	PRIMARY KEY (identity_id, role_id)
)`

// CredentialStore implements ports.CredentialStore on PostgreSQL.
type CredentialStore struct {
	db *sql.DB
}

// NewCredentialStore wraps db and creates the schema if needed.
func NewCredentialStore(ctx context.Context, db *sql.DB) (*CredentialStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	s := &CredentialStore{db: db}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return nil, fmt.Errorf("ensure credential schema: %w", classify(err))
	}
	return s, nil
}

func (s *CredentialStore) FindIdentityByEmail(ctx context.Context, email string) (*domain.Identity, error) {
	const q = `SELECT id, email, password_hash, email_confirmed, created_at FROM identities WHERE normalized_email = $1`

	var i domain.Identity
	err := s.db.QueryRowContext(ctx, q, domain.NormalizeEmail(email)).
		Scan(&i.ID, &i.Email, &i.PasswordHash, &i.EmailConfirmed, &i.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrIdentityNotFound
		}
		return nil, fmt.Errorf("query identity: %w", classify(err))
	}
	return &i, nil
}

func (s *CredentialStore) CreateIdentity(ctx context.Context, identity *domain.Identity, roleIDs ...string) (*domain.Identity, error) {
	const (
		insertIdentity = `
INSERT INTO identities (id, email, normalized_email, password_hash, email_confirmed, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`
		insertLink = `INSERT INTO identity_roles (identity_id, role_id) VALUES ($1, $2)`
	)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin identity tx: %w", classify(err))
	}
	defer func() { _ = tx.Rollback() }()

	created := *identity
	created.ID = uuid.NewString()
	_, err = tx.ExecContext(ctx, insertIdentity,
		created.ID, created.Email, domain.NormalizeEmail(created.Email),
		created.PasswordHash, created.EmailConfirmed, created.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrDuplicateIdentity
		}
		return nil, fmt.Errorf("insert identity: %w", classify(err))
	}

	for _, roleID := range roleIDs {
		if _, err := tx.ExecContext(ctx, insertLink, created.ID, roleID); err != nil {
			if missing := missingReference(err); missing != nil {
				return nil, missing
			}
			return nil, fmt.Errorf("insert identity role: %w", classify(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit identity: %w", classify(err))
	}
	return &created, nil
}

func (s *CredentialStore) FindRoleByName(ctx context.Context, name string) (*domain.Role, error) {
	const q = `SELECT id, name FROM roles WHERE name = $1`

	var r domain.Role
	if err := s.db.QueryRowContext(ctx, q, name).Scan(&r.ID, &r.Name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRoleNotFound
		}
		return nil, fmt.Errorf("query role: %w", classify(err))
	}
	return &r, nil
}

func (s *CredentialStore) CreateRole(ctx context.Context, name string) (*domain.Role, error) {
	const q = `INSERT INTO roles (id, name) VALUES ($1, $2)`

	r := domain.Role{ID: uuid.NewString(), Name: name}
	if _, err := s.db.ExecContext(ctx, q, r.ID, r.Name); err != nil {
		if isUniqueViolation(err) {
			return nil, domain.ErrRoleExists
		}
		return nil, fmt.Errorf("insert role: %w", classify(err))
	}
	return &r, nil
}

func (s *CredentialStore) AddIdentityToRole(ctx context.Context, identityID, roleID string) error {
	const q = `INSERT INTO identity_roles (identity_id, role_id) VALUES ($1, $2)`

	if _, err := s.db.ExecContext(ctx, q, identityID, roleID); err != nil {
		if isUniqueViolation(err) {
			return domain.ErrAssociationExists
		}
		if missing := missingReference(err); missing != nil {
			return missing
		}
		return fmt.Errorf("insert identity role: %w", classify(err))
	}
	return nil
}

func (s *CredentialStore) RoleNamesForIdentity(ctx context.Context, identityID string) ([]string, error) {
	const q = `
SELECT r.name FROM identity_roles ur
JOIN roles r ON r.id = ur.role_id
WHERE ur.identity_id = $1
ORDER BY r.name`

	rows, err := s.db.QueryContext(ctx, q, identityID)
	if err != nil {
		return nil, fmt.Errorf("query role names: %w", classify(err))
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan role name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate role names: %w", classify(err))
	}
	return names, nil
}

func (s *CredentialStore) ListIdentityRoles(ctx context.Context) ([]domain.UserRoleRow, error) {
	const q = `
SELECT u.id, u.email, u.email_confirmed, r.name
FROM identities u
JOIN identity_roles ur ON ur.identity_id = u.id
JOIN roles r ON r.id = ur.role_id
ORDER BY u.email, r.name`

	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query identity roles: %w", classify(err))
	}
	defer rows.Close()

	out := []domain.UserRoleRow{}
	for rows.Next() {
		var row domain.UserRoleRow
		if err := rows.Scan(&row.ID, &row.Email, &row.EmailConfirmed, &row.Role); err != nil {
			return nil, fmt.Errorf("scan identity role: %w", err)
		}
		row.Username = row.Email
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identity roles: %w", classify(err))
	}
	return out, nil
}

func (s *CredentialStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return classify(err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// missingReference maps a foreign-key violation on identity_roles to the
// domain error for the side that does not exist. It returns nil for any other
// error.
func missingReference(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) || pqErr.Code != foreignKeyViolation {
		return nil
	}
	if strings.Contains(pqErr.Constraint, "identity_id") {
		return domain.ErrIdentityNotFound
	}
	return domain.ErrRoleNotFound
}

// classify marks connectivity failures as domain.ErrStoreUnavailable.
func classify(err error) error {
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", domain.ErrStoreUnavailable, err)
	}
	return err
}
