package events

import (
	"time"

	"github.com/spec-kit/community-hub/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventLoginSucceeded     EventType = "login_succeeded"
	EventLoginFailed        EventType = "login_failed"
	EventLogout             EventType = "logout"
	EventAccessDenied       EventType = "access_denied"
	EventCredentialRehashed EventType = "credential_rehashed"
	EventPasswordChanged    EventType = "password_changed"
	EventUserRegistered     EventType = "user_registered"
)

// AuditTypes lists every event the audit trail records.
func AuditTypes() []EventType {
	return []EventType{
		EventLoginSucceeded,
		EventLoginFailed,
		EventLogout,
		EventAccessDenied,
		EventCredentialRehashed,
		EventPasswordChanged,
		EventUserRegistered,
	}
}

// Event is an authentication fact emitted by services. SubjectID is
// domain.AnonymousSubject when the caller was never identified.
type Event struct {
	ID            string      `json:"id"`
	Type          EventType   `json:"type"`
	SubjectID     string      `json:"subject_id"`
	CorrelationID string      `json:"correlation_id"`
	Timestamp     time.Time   `json:"timestamp"`
	Payload       interface{} `json:"payload"`
}

// LoginSucceededPayload payload.
type LoginSucceededPayload struct {
	Role        domain.Role `json:"role"`
	TokenPrefix string      `json:"token_prefix"`
}

// LoginFailedPayload payload. Username is what the caller typed.
type LoginFailedPayload struct {
	Username string `json:"username"`
	Reason   string `json:"reason"`
}

// LogoutPayload payload.
type LogoutPayload struct {
	TokenPrefix string `json:"token_prefix"`
}

// AccessDeniedPayload payload.
type AccessDeniedPayload struct {
	Role     domain.Role `json:"role,omitempty"`
	Required string      `json:"required"`
	Reason   string      `json:"reason"`
}

// PasswordChangedPayload payload.
type PasswordChangedPayload struct {
	SessionsRevoked int `json:"sessions_revoked"`
}

// UserRegisteredPayload payload.
type UserRegisteredPayload struct {
	Role domain.Role `json:"role"`
}
