package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrDuplicateIdentity  = errors.New("email already in use")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrStoreUnavailable   = errors.New("credential store unavailable")
	ErrIdentityNotFound   = errors.New("identity not found")
	ErrRoleNotFound       = errors.New("role not found")
	ErrRoleExists         = errors.New("role already exists")
	ErrAssociationExists  = errors.New("identity already holds role")
	ErrInvalidToken       = errors.New("invalid token")
)

// ValidationError reports malformed input, keyed by field name.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError returns an empty ValidationError ready for Add.
func NewValidationError() *ValidationError {
	return &ValidationError{Fields: make(map[string]string)}
}

// Add records a problem for field, keeping the first message per field.
func (e *ValidationError) Add(field, msg string) {
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = msg
	}
}

// OrNil returns nil when no field problem was recorded.
func (e *ValidationError) OrNil() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	msgs := make([]string, 0, len(keys))
	for _, k := range keys {
		msgs = append(msgs, e.Fields[k])
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

// CredentialCreationError is returned when an identity could not be created
// from otherwise well-formed input, e.g. a password rejected by policy.
type CredentialCreationError struct {
	Reason string
	Err    error
}

func (e *CredentialCreationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("create credential: %s: %v", e.Reason, e.Err)
	}
	return "create credential: " + e.Reason
}

func (e *CredentialCreationError) Unwrap() error {
	return e.Err
}
