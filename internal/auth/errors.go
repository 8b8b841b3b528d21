package auth

import (
	"errors"
	"fmt"
)

// Kind classifies an authentication or authorization outcome.
type Kind string

const (
	KindInvalidCredentials     Kind = "INVALID_CREDENTIALS"
	KindSessionExpired         Kind = "SESSION_EXPIRED"
	KindUnauthenticated        Kind = "UNAUTHENTICATED"
	KindInsufficientPrivileges Kind = "INSUFFICIENT_PRIVILEGES"
	KindMalformedHash          Kind = "MALFORMED_HASH"
	KindDirectoryUnavailable   Kind = "DIRECTORY_UNAVAILABLE"
	KindAccountLocked          Kind = "ACCOUNT_LOCKED"
)

// Error carries a Kind plus diagnostic detail meant for logs only.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

var (
	ErrInvalidCredentials     = &Error{Kind: KindInvalidCredentials}
	ErrSessionExpired         = &Error{Kind: KindSessionExpired}
	ErrUnauthenticated        = &Error{Kind: KindUnauthenticated}
	ErrInsufficientPrivileges = &Error{Kind: KindInsufficientPrivileges}
	ErrMalformedHash          = &Error{Kind: KindMalformedHash}
	ErrDirectoryUnavailable   = &Error{Kind: KindDirectoryUnavailable}
	ErrAccountLocked          = &Error{Kind: KindAccountLocked}
)

// NewError builds an Error of the given kind.
func NewError(kind Kind, detail string, err error) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same Kind, so the package sentinels work
// with errors.Is regardless of detail.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the Kind of err, or "" when err is not an auth error.
func KindOf(err error) Kind {
	var authErr *Error
	if errors.As(err, &authErr) {
		return authErr.Kind
	}
	return ""
}
