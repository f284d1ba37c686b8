package credential

import (
	"errors"
	"fmt"
)

type AuthKind int

const (
	// Invalid means the identity service rejected the token outright.
	Invalid AuthKind = iota + 1
	// Transient covers network failures, 5xx and anything after a successful grant.
	Transient
)

func (k AuthKind) String() string {
	switch k {
	case Invalid:
		return "invalid"
	case Transient:
		return "transient"
	default:
		return "unknown"
	}
}

var (
	ErrInvalidToken = errors.New("token rejected by identity service")
	ErrTransient    = errors.New("credential exchange temporarily failed")
)

type AuthError struct {
	Kind AuthKind
	Err  error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth %s: %v", e.Kind, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Is matches ErrInvalidToken and ErrTransient by kind.
func (e *AuthError) Is(target error) bool {
	switch target {
	case ErrInvalidToken:
		return e.Kind == Invalid
	case ErrTransient:
		return e.Kind == Transient
	}
	return false
}

func invalid(err error) error   { return &AuthError{Kind: Invalid, Err: err} }
func transient(err error) error { return &AuthError{Kind: Transient, Err: err} }
