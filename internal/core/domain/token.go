package domain

import "time"

// SignedToken is the result of a successful token issuance. The access token
// is a snapshot: roles granted after issuance are not reflected until a new
// token is minted.
type SignedToken struct {
	AccessToken string
	TokenID     string
	Expiration  time.Time
	IdentityID  string
	UserName    string
	Email       string
	Roles       []string
}

// TokenClaims is the verified content of an access token.
type TokenClaims struct {
	Subject   string
	TokenID   string
	Issuer    string
	Audience  []string
	Roles     []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// HasRole reports whether the token was issued with the given role.
func (c *TokenClaims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}
