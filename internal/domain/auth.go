package domain

import "time"

// AnonymousSubject is the subject id reported before authentication.
const AnonymousSubject = "anonymous"

// CredentialRecord is the stored credential of one subject. EncodedHash is
// either "<base64-salt>:<base64-digest>" or a bare legacy base64 digest.
type CredentialRecord struct {
	SubjectID   string
	EncodedHash string
}

// Session is one live authenticated session. Role is fixed for the
// session's lifetime.
type Session struct {
	Token           string    `json:"token"`
	SubjectID       string    `json:"subject_id"`
	Role            Role      `json:"role"`
	CreatedAt       time.Time `json:"created_at"`
	LastRefreshedAt time.Time `json:"last_refreshed_at"`
}
