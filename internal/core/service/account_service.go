package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/99minutos/account-service/internal/core/domain"
	"github.com/99minutos/account-service/internal/core/ports"
)

// AccountConfig holds the registration settings.
type AccountConfig struct {
	// DefaultRole is granted to every newly registered identity.
	DefaultRole string
	// BootstrapRoles are ensured on registration but not granted.
	BootstrapRoles []string
	Policy         PasswordPolicy
	BcryptCost     int
}

// AccountService implements registration, authentication, token creation and
// the role-joined user listing.
//
// Authentication has no lockout or rate limiting.
type AccountService struct {
	store    ports.CredentialStore
	roles    *RoleBootstrapper
	tokens   ports.TokenIssuer
	cfg      AccountConfig
	validate *validator.Validate
	log      zerolog.Logger

	// dummyHash is compared against when the identifier is unknown.
	dummyHash []byte
}

func NewAccountService(
	store ports.CredentialStore,
	roles *RoleBootstrapper,
	tokens ports.TokenIssuer,
	cfg AccountConfig,
	log zerolog.Logger,
) (*AccountService, error) {
	cfg.BcryptCost = normalizeCost(cfg.BcryptCost)

	dummy, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("account service: build dummy hash: %w", err)
	}

	return &AccountService{
		store:     store,
		roles:     roles,
		tokens:    tokens,
		cfg:       cfg,
		validate:  validator.New(),
		log:       log.With().Str("component", "account_service").Logger(),
		dummyHash: dummy,
	}, nil
}

// Register creates an identity for email and grants it the default role.
// No token is issued; the caller authenticates separately.
func (s *AccountService) Register(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)
	if err := s.validateRegistration(email, password); err != nil {
		return err
	}

	_, err := s.store.FindIdentityByEmail(ctx, email)
	switch {
	case err == nil:
		return domain.ErrDuplicateIdentity
	case !errors.Is(err, domain.ErrIdentityNotFound):
		return fmt.Errorf("register: %w", err)
	}

	if reason := s.cfg.Policy.Check(password); reason != "" {
		return &domain.CredentialCreationError{Reason: reason}
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cfg.BcryptCost)
	if err != nil {
		return &domain.CredentialCreationError{Reason: "password cannot be hashed", Err: err}
	}

	// The identity and its default role link are written together, so the
	// role must exist first.
	role, err := s.roles.EnsureRole(ctx, s.cfg.DefaultRole)
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}
	if err := s.roles.EnsureRoles(ctx, s.cfg.BootstrapRoles...); err != nil {
		return fmt.Errorf("register: %w", err)
	}

	candidate := &domain.Identity{
		Email:          email,
		PasswordHash:   string(hash),
		EmailConfirmed: true,
		CreatedAt:      time.Now().UTC(),
	}
	identity, err := s.store.CreateIdentity(ctx, candidate, role.ID)
	if errors.Is(err, domain.ErrRoleNotFound) {
		// The role id came from a cache that outlived the store.
		s.log.Warn().Str("role", role.Name).Msg("cached role missing from store, refreshing")
		if role, err = s.roles.Refresh(ctx, s.cfg.DefaultRole); err != nil {
			return fmt.Errorf("register: %w", err)
		}
		identity, err = s.store.CreateIdentity(ctx, candidate, role.ID)
	}
	if err != nil {
		if errors.Is(err, domain.ErrDuplicateIdentity) {
			return domain.ErrDuplicateIdentity
		}
		return fmt.Errorf("register: %w", err)
	}

	s.log.Info().
		Str("identity_id", identity.ID).
		Str("role", role.Name).
		Msg("identity registered")
	return nil
}

// Authenticate verifies identifier and password. Unknown identifiers and
// wrong passwords both yield domain.ErrInvalidCredentials.
func (s *AccountService) Authenticate(ctx context.Context, identifier, password string) (*domain.Identity, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, domain.ErrInvalidCredentials
	}

	identity, err := s.store.FindIdentityByEmail(ctx, identifier)
	if err != nil {
		if errors.Is(err, domain.ErrIdentityNotFound) {
			// Spend the same bcrypt work as a real comparison.
			_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
			s.log.Debug().Msg("authentication rejected")
			return nil, domain.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(identity.PasswordHash), []byte(password)); err != nil {
		s.log.Debug().Msg("authentication rejected")
		return nil, domain.ErrInvalidCredentials
	}
	return identity, nil
}

// CreateToken authenticates and, on success, issues a signed token.
func (s *AccountService) CreateToken(ctx context.Context, identifier, password string) (*domain.SignedToken, error) {
	identity, err := s.Authenticate(ctx, identifier, password)
	if err != nil {
		return nil, err
	}
	return s.tokens.IssueToken(ctx, identity)
}

// ListUsers returns one row per (identity, role) pair.
func (s *AccountService) ListUsers(ctx context.Context) ([]domain.UserRoleRow, error) {
	rows, err := s.store.ListIdentityRoles(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	if rows == nil {
		rows = []domain.UserRoleRow{}
	}
	return rows, nil
}

func (s *AccountService) validateRegistration(email, password string) error {
	verr := domain.NewValidationError()
	if err := s.validate.Var(email, "required,email"); err != nil {
		verr.Add("email", fieldMessage("email", err))
	}
	if err := s.validate.Var(password, "required"); err != nil {
		verr.Add("password", fieldMessage("password", err))
	}
	return verr.OrNil()
}

func fieldMessage(field string, err error) string {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return field + " is invalid"
	}
	switch ve[0].Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email"
	default:
		return fmt.Sprintf("%s failed validation (%s)", field, ve[0].Tag())
	}
}
