package domain

import (
	"strings"
	"time"
)

// Identity models a registered account. The email doubles as the username.
type Identity struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	PasswordHash   string    `json:"-"`
	EmailConfirmed bool      `json:"emailConfirmed"`
	CreatedAt      time.Time `json:"created_at"`
}

// UserName returns the login name of the identity.
func (i *Identity) UserName() string {
	return i.Email
}

// Role is a named permission group an identity may belong to.
type Role struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// UserRoleRow is one (identity, role) pair of the account listing.
type UserRoleRow struct {
	ID             string `json:"id"`
	Username       string `json:"username"`
	Email          string `json:"email"`
	EmailConfirmed bool   `json:"emailConfirmed"`
	Role           string `json:"roles"`
}

// NormalizeEmail returns the lookup key used for uniqueness checks.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
