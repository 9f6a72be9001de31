package service

import (
	"fmt"
	"unicode"

	"golang.org/x/crypto/bcrypt"
)

// PasswordPolicy is the strength rule set applied before a password is
// hashed. The zero value only rejects empty passwords.
type PasswordPolicy struct {
	MinLength     int
	RequireDigit  bool
	RequireLower  bool
	RequireUpper  bool
	RequireSymbol bool
}

// Check returns the first rule the password violates, or "" if it passes.
func (p PasswordPolicy) Check(password string) string {
	if password == "" {
		return "password is required"
	}
	if len([]rune(password)) < p.MinLength {
		return fmt.Sprintf("password must be at least %d characters", p.MinLength)
	}

	var digit, lower, upper, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case !unicode.IsLetter(r) && !unicode.IsSpace(r):
			symbol = true
		}
	}

	switch {
	case p.RequireDigit && !digit:
		return "password must contain a digit"
	case p.RequireLower && !lower:
		return "password must contain a lowercase letter"
	case p.RequireUpper && !upper:
		return "password must contain an uppercase letter"
	case p.RequireSymbol && !symbol:
		return "password must contain a non-alphanumeric character"
	}
	return ""
}

// normalizeCost clamps a configured bcrypt cost into the range bcrypt accepts.
func normalizeCost(cost int) int {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return bcrypt.DefaultCost
	}
	return cost
}
