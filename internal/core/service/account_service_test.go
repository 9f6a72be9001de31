package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/99minutos/account-service/internal/core/domain"
	"github.com/99minutos/account-service/internal/infrastructure/db/memory"
)

func TestAccountService_RegisterThenAuthenticate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.accounts.Register(ctx, "alice@x.com", "Secret1"); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	identity, err := f.accounts.Authenticate(ctx, "alice@x.com", "Secret1")
	if err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	if identity.Email != "alice@x.com" || !identity.EmailConfirmed {
		t.Fatalf("unexpected identity: %+v", identity)
	}

	token, err := f.accounts.CreateToken(ctx, "alice@x.com", "Secret1")
	if err != nil {
		t.Fatalf("CreateToken returned error: %v", err)
	}
	if len(token.Roles) != 1 || token.Roles[0] != "ROLE_MODERATOR" {
		t.Fatalf("expected [ROLE_MODERATOR], got %v", token.Roles)
	}
	if token.UserName != "alice@x.com" || token.IdentityID != identity.ID {
		t.Fatalf("unexpected token identity: %+v", token)
	}
}

func TestAccountService_Register_HashesPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.accounts.Register(ctx, "bob@x.com", "Passw0rd"); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	stored, err := f.store.FindIdentityByEmail(ctx, "bob@x.com")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if stored.PasswordHash == "Passw0rd" {
		t.Fatalf("expected password to be hashed")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("Passw0rd")); err != nil {
		t.Fatalf("stored hash does not match password: %v", err)
	}
}

func TestAccountService_Register_BootstrapsRolesButGrantsOnlyDefault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.accounts.Register(ctx, "carol@x.com", "Secret1"); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	if _, err := f.store.FindRoleByName(ctx, "ROLE_ADMIN"); err != nil {
		t.Fatalf("expected ROLE_ADMIN to be bootstrapped: %v", err)
	}

	identity, _ := f.store.FindIdentityByEmail(ctx, "carol@x.com")
	names, err := f.store.RoleNamesForIdentity(ctx, identity.ID)
	if err != nil {
		t.Fatalf("role names: %v", err)
	}
	if len(names) != 1 || names[0] != "ROLE_MODERATOR" {
		t.Fatalf("expected only the default role, got %v", names)
	}
}

func TestAccountService_Register_Duplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.accounts.Register(ctx, "dave@x.com", "Secret1"); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	for _, email := range []string{"dave@x.com", "DAVE@x.com", " dave@x.com "} {
		if err := f.accounts.Register(ctx, email, "Other22"); !errors.Is(err, domain.ErrDuplicateIdentity) {
			t.Fatalf("Register(%q): expected ErrDuplicateIdentity, got %v", email, err)
		}
	}
}

func TestAccountService_Register_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		email, password string
		fields          []string
	}{
		{"", "Secret1", []string{"email"}},
		{"not-an-email", "Secret1", []string{"email"}},
		{"erin@x.com", "", []string{"password"}},
		{"", "", []string{"email", "password"}},
	}

	for _, tc := range cases {
		err := f.accounts.Register(ctx, tc.email, tc.password)
		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("Register(%q, %q): expected ValidationError, got %v", tc.email, tc.password, err)
		}
		if len(verr.Fields) != len(tc.fields) {
			t.Fatalf("Register(%q, %q): unexpected fields %v", tc.email, tc.password, verr.Fields)
		}
		for _, field := range tc.fields {
			if _, ok := verr.Fields[field]; !ok {
				t.Fatalf("Register(%q, %q): missing field %s in %v", tc.email, tc.password, field, verr.Fields)
			}
		}
	}
}

func TestAccountService_Register_WeakPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	err := f.accounts.Register(ctx, "frank@x.com", "secret")
	var cerr *domain.CredentialCreationError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CredentialCreationError, got %v", err)
	}
	if !strings.Contains(cerr.Reason, "digit") {
		t.Fatalf("unexpected reason: %s", cerr.Reason)
	}

	if _, err := f.store.FindIdentityByEmail(ctx, "frank@x.com"); !errors.Is(err, domain.ErrIdentityNotFound) {
		t.Fatalf("rejected identity must not be stored, got %v", err)
	}
}

func TestAccountService_Register_PasswordTooLongForBcrypt(t *testing.T) {
	f := newFixture(t)

	long := "Aa1" + strings.Repeat("x", 80)
	err := f.accounts.Register(context.Background(), "gina@x.com", long)
	var cerr *domain.CredentialCreationError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected CredentialCreationError, got %v", err)
	}
	if !errors.Is(err, bcrypt.ErrPasswordTooLong) {
		t.Fatalf("expected wrapped bcrypt error, got %v", err)
	}
}

func TestAccountService_Register_ConcurrentSameEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const n = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		dupes     int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := f.accounts.Register(ctx, "race@x.com", "Secret1")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, domain.ErrDuplicateIdentity):
				dupes++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || dupes != n-1 {
		t.Fatalf("expected 1 success and %d duplicates, got %d and %d", n-1, successes, dupes)
	}
}

func TestAccountService_Authenticate_FailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.accounts.Register(ctx, "alice@x.com", "Secret1"); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	_, wrongPassword := f.accounts.Authenticate(ctx, "alice@x.com", "wrong")
	_, unknownUser := f.accounts.Authenticate(ctx, "ghost@x.com", "Secret1")
	_, emptyInput := f.accounts.Authenticate(ctx, "", "")

	for name, err := range map[string]error{
		"wrong password": wrongPassword,
		"unknown user":   unknownUser,
		"empty input":    emptyInput,
	} {
		if err != domain.ErrInvalidCredentials {
			t.Fatalf("%s: expected ErrInvalidCredentials, got %v", name, err)
		}
	}
	if wrongPassword.Error() != unknownUser.Error() {
		t.Fatalf("failure messages differ: %q vs %q", wrongPassword, unknownUser)
	}

	if _, err := f.accounts.CreateToken(ctx, "alice@x.com", "wrong"); err != domain.ErrInvalidCredentials {
		t.Fatalf("CreateToken: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAccountService_Authenticate_IsCaseInsensitiveOnEmail(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.accounts.Register(ctx, "Helen@X.com", "Secret1"); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	identity, err := f.accounts.Authenticate(ctx, "helen@x.com", "Secret1")
	if err != nil {
		t.Fatalf("Authenticate returned error: %v", err)
	}
	if identity.Email != "Helen@X.com" {
		t.Fatalf("expected original casing to be kept, got %s", identity.Email)
	}
}

func TestAccountService_StoreUnavailable(t *testing.T) {
	store := unavailableStore{memory.NewCredentialStore()}
	roles := NewRoleBootstrapper(store, nil, zerolog.Nop())
	tokens := NewTokenIssuer(store, TokenConfig{SigningKey: []byte(testKey)}, zerolog.Nop())
	svc, err := NewAccountService(store, roles, tokens, AccountConfig{DefaultRole: "ROLE_MODERATOR", BcryptCost: bcrypt.MinCost}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewAccountService returned error: %v", err)
	}
	ctx := context.Background()

	if err := svc.Register(ctx, "ivan@x.com", "Secret1"); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("Register: expected ErrStoreUnavailable, got %v", err)
	}
	if _, err := svc.Authenticate(ctx, "ivan@x.com", "Secret1"); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("Authenticate: expected ErrStoreUnavailable, got %v", err)
	}
	if _, err := svc.ListUsers(ctx); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("ListUsers: expected ErrStoreUnavailable, got %v", err)
	}
}

func TestAccountService_ListUsers_OneRowPerRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.accounts.Register(ctx, "a@x.com", "Secret1"); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}
	f.grant(t, "a@x.com", "ROLE_ADMIN")

	// An identity created outside registration holds no role.
	if _, err := f.store.CreateIdentity(ctx, &domain.Identity{Email: "b@x.com", PasswordHash: "x"}); err != nil {
		t.Fatalf("create b: %v", err)
	}

	rows, err := f.accounts.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers returned error: %v", err)
	}

	var forA, forB int
	roles := map[string]bool{}
	for _, r := range rows {
		switch r.Email {
		case "a@x.com":
			forA++
			roles[r.Role] = true
		case "b@x.com":
			forB++
		}
	}
	if forA != 2 || forB != 0 {
		t.Fatalf("expected 2 rows for a and 0 for b, got %d and %d", forA, forB)
	}
	if !roles["ROLE_ADMIN"] || !roles["ROLE_MODERATOR"] {
		t.Fatalf("unexpected roles for a: %v", roles)
	}
}

func TestAccountService_ListUsers_EmptyIsNotNil(t *testing.T) {
	f := newFixture(t)

	rows, err := f.accounts.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("ListUsers returned error: %v", err)
	}
	if rows == nil || len(rows) != 0 {
		t.Fatalf("expected empty slice, got %#v", rows)
	}
}

func TestAccountService_Register_CacheOutlivesStore(t *testing.T) {
	ctx := context.Background()
	cache := newStubRoleCache()

	before := newFixtureWith(t, memory.NewCredentialStore(), cache)
	if err := before.accounts.Register(ctx, "bob@x.com", "Secret1"); err != nil {
		t.Fatalf("Register returned error: %v", err)
	}

	// Same cache, empty store: every cached role id now points nowhere.
	after := newFixtureWith(t, memory.NewCredentialStore(), cache)
	if err := after.accounts.Register(ctx, "alice@x.com", "Secret1"); err != nil {
		t.Fatalf("Register after store reset returned error: %v", err)
	}

	token, err := after.accounts.CreateToken(ctx, "alice@x.com", "Secret1")
	if err != nil {
		t.Fatalf("CreateToken returned error: %v", err)
	}
	if len(token.Roles) != 1 || token.Roles[0] != "ROLE_MODERATOR" {
		t.Fatalf("expected [ROLE_MODERATOR], got %v", token.Roles)
	}

	rows, err := after.accounts.ListUsers(ctx)
	if err != nil {
		t.Fatalf("ListUsers returned error: %v", err)
	}
	if len(rows) != 1 || rows[0].Email != "alice@x.com" {
		t.Fatalf("expected one row for alice, got %+v", rows)
	}
	for _, name := range []string{"ROLE_MODERATOR", "ROLE_ADMIN"} {
		role, err := after.store.FindRoleByName(ctx, name)
		if err != nil {
			t.Fatalf("expected %s in the new store: %v", name, err)
		}
		if id, _, _ := cache.Lookup(ctx, name); id != role.ID {
			t.Fatalf("cache holds %q for %s, store holds %q", id, name, role.ID)
		}
	}
}

func TestAccountService_Register_NoHalfCreatedIdentity(t *testing.T) {
	ctx := context.Background()
	cache := newStubRoleCache()
	cache.entries["ROLE_MODERATOR"] = "gone"
	store := &missingRoleStore{CredentialStore: memory.NewCredentialStore()}
	f := newFixtureWith(t, store.CredentialStore, cache)
	f.accounts.store = store

	err := f.accounts.Register(ctx, "carol@x.com", "Secret1")
	if !errors.Is(err, domain.ErrRoleNotFound) {
		t.Fatalf("expected ErrRoleNotFound, got %v", err)
	}
	if _, err := store.FindIdentityByEmail(ctx, "carol@x.com"); !errors.Is(err, domain.ErrIdentityNotFound) {
		t.Fatalf("expected no identity after a failed registration, got %v", err)
	}
	if store.creates != 2 {
		t.Fatalf("expected one retry after refreshing the role, got %d creates", store.creates)
	}
}

func TestNewAccountService_BuildsDummyHash(t *testing.T) {
	f := newFixture(t)

	cost, err := bcrypt.Cost(f.accounts.dummyHash)
	if err != nil {
		t.Fatalf("dummy hash is not a bcrypt hash: %v", err)
	}
	if cost != bcrypt.MinCost {
		t.Fatalf("expected dummy hash at cost %d, got %d", bcrypt.MinCost, cost)
	}
}
