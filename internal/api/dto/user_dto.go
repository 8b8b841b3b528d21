package dto

import (
	"time"

	"github.com/spec-kit/community-hub/internal/domain"
)

// RegisterRequest payload for new accounts.
type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// LoginRequest payload for login.
type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// ChangePasswordRequest payload for password change.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

// AuthResponse standard response for auth endpoints.
type AuthResponse struct {
	Token     string      `json:"token"`
	Role      domain.Role `json:"role"`
	ExpiresAt time.Time   `json:"expires_at"`
}

// SessionResponse describes the caller's session without its token.
type SessionResponse struct {
	SubjectID       string      `json:"subject_id"`
	Role            domain.Role `json:"role"`
	RoleName        string      `json:"role_name"`
	CreatedAt       time.Time   `json:"created_at"`
	LastRefreshedAt time.Time   `json:"last_refreshed_at"`
	ExpiresAt       time.Time   `json:"expires_at"`
}

// UserResponse is the public view of an account.
type UserResponse struct {
	ID        string      `json:"id"`
	Username  string      `json:"username"`
	Email     string      `json:"email"`
	Role      domain.Role `json:"role"`
	Status    string      `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
}

// NewUserResponse converts a domain user; the credential is never copied.
func NewUserResponse(u *domain.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Role:      u.Role,
		Status:    string(u.Status),
		CreatedAt: u.CreatedAt,
	}
}
