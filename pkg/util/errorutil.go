package util

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/community-hub/internal/auth"
	"github.com/spec-kit/community-hub/internal/session"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Messages shown to callers for authentication failures. They never
// distinguish an unknown account from a wrong password.
const (
	MessageInvalidCredentials = "invalid credentials"
	MessageSessionExpired     = "session expired, please log in again"
	MessageForbidden          = "not permitted"
	MessageAccountLocked      = "too many failed attempts, try again later"
	MessageUnavailable        = "service temporarily unavailable, please retry"
)

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError("VALIDATION_FAILED", message, http.StatusBadRequest, details)
}

func NewNotFound(resource string, details map[string]any) error {
	if details == nil {
		details = map[string]any{}
	}
	return &DomainError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound,
		Details:    details,
	}
}

func NewUnauthorized(message string) error {
	return NewDomainError("UNAUTHORIZED", message, http.StatusUnauthorized, nil)
}

func NewForbidden(message string) error {
	return NewDomainError("FORBIDDEN", message, http.StatusForbidden, nil)
}

func NewConflict(message string, details map[string]any) error {
	return NewDomainError("CONFLICT", message, http.StatusConflict, details)
}

func NewServiceUnavailable(err error) error {
	return &DomainError{
		Code:       "SERVICE_UNAVAILABLE",
		Message:    MessageUnavailable,
		HTTPStatus: http.StatusServiceUnavailable,
		Details:    map[string]any{"retryable": true},
		Err:        err,
	}
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       "INTERNAL_ERROR",
		Message:    "internal server error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// FromAuthError translates an auth error kind into its generic user-facing
// form. The wrapped error stays reachable through Unwrap for logging.
func FromAuthError(err error) (*DomainError, bool) {
	kind := auth.KindOf(err)
	if kind == "" {
		return nil, false
	}

	var de *DomainError
	switch kind {
	case auth.KindInvalidCredentials:
		de = NewDomainError("INVALID_CREDENTIALS", MessageInvalidCredentials, http.StatusUnauthorized, nil)
	case auth.KindSessionExpired, auth.KindUnauthenticated:
		de = NewDomainError("SESSION_EXPIRED", MessageSessionExpired, http.StatusUnauthorized, nil)
	case auth.KindInsufficientPrivileges:
		de = NewDomainError("FORBIDDEN", MessageForbidden, http.StatusForbidden, nil)
	case auth.KindAccountLocked:
		de = NewDomainError("ACCOUNT_LOCKED", MessageAccountLocked, http.StatusTooManyRequests, nil)
	case auth.KindDirectoryUnavailable:
		de = NewServiceUnavailable(nil).(*DomainError)
	default:
		de = NewInternalError(nil).(*DomainError)
	}
	de.Err = err
	return de, true
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	if de, ok := FromAuthError(err); ok {
		return de
	}
	if errors.Is(err, session.ErrStoreUnavailable) {
		return NewServiceUnavailable(err).(*DomainError)
	}
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code := strings.ToUpper(strings.ReplaceAll(http.StatusText(fiberErr.Code), " ", "_"))
		if code == "" {
			code = "HTTP_ERROR"
		}
		return NewDomainError(code, fiberErr.Message, fiberErr.Code, nil)
	}
	return NewInternalError(err).(*DomainError)
}
