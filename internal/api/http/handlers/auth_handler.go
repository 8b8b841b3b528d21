package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/community-hub/internal/api/dto"
	"github.com/spec-kit/community-hub/internal/auth"
	"github.com/spec-kit/community-hub/internal/domain"
	"github.com/spec-kit/community-hub/internal/service"
	apperrors "github.com/spec-kit/community-hub/pkg/util"
)

// AuthHandler exposes login, registration and session endpoints.
type AuthHandler struct {
	auth       *service.AuthService
	tokens     *auth.TokenManager
	cookieName string
	secure     bool
}

// NewAuthHandler constructs handler. secureCookie marks the session cookie
// Secure.
func NewAuthHandler(authService *service.AuthService, tokens *auth.TokenManager, cookieName string, secureCookie bool) *AuthHandler {
	return &AuthHandler{auth: authService, tokens: tokens, cookieName: cookieName, secure: secureCookie}
}

// Register handles POST /auth/register.
func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req dto.RegisterRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}

	var role domain.Role
	if strings.TrimSpace(req.Role) != "" {
		parsed, err := domain.ParseRole(req.Role)
		if err != nil {
			return apperrors.NewValidationError("invalid registration", map[string]any{"role": "unknown role"})
		}
		role = parsed
	}

	user, err := h.auth.Register(c.UserContext(), service.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		Role:     role,
	})
	if err != nil {
		return err
	}

	return c.Status(http.StatusCreated).JSON(fiber.Map{
		"data": fiber.Map{"user": dto.NewUserResponse(user)},
	})
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req dto.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		return apperrors.NewValidationError("username and password required", nil)
	}

	sess, err := h.auth.Login(c.UserContext(), req.Username, req.Password)
	if err != nil {
		return err
	}

	envelope, err := h.tokens.Seal(sess)
	if err != nil {
		return apperrors.NewInternalError(err)
	}
	expiresAt := h.auth.SessionPolicy().ExpiresAt(sess)

	if h.cookieName != "" {
		c.Cookie(&fiber.Cookie{
			Name:     h.cookieName,
			Value:    envelope,
			Path:     "/",
			HTTPOnly: true,
			Secure:   h.secure,
			SameSite: fiber.CookieSameSiteStrictMode,
			Expires:  expiresAt,
		})
	}

	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"auth": dto.AuthResponse{Token: envelope, Role: sess.Role, ExpiresAt: expiresAt},
		},
	})
}

// Logout handles POST /auth/logout.
func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	token, ok := auth.TokenFromContext(c)
	if !ok {
		return auth.NewError(auth.KindUnauthenticated, "no session token", nil)
	}
	if err := h.auth.Logout(c.UserContext(), token); err != nil {
		return err
	}
	if h.cookieName != "" {
		c.Cookie(&fiber.Cookie{
			Name:     h.cookieName,
			Value:    "",
			Path:     "/",
			HTTPOnly: true,
			Secure:   h.secure,
			Expires:  time.Unix(0, 0),
		})
	}
	return c.SendStatus(http.StatusNoContent)
}

// Session handles GET /auth/session.
func (h *AuthHandler) Session(c *fiber.Ctx) error {
	sess, ok := auth.SessionFromContext(c)
	if !ok {
		return auth.NewError(auth.KindUnauthenticated, "no session", nil)
	}
	return c.JSON(fiber.Map{
		"data": dto.SessionResponse{
			SubjectID:       sess.SubjectID,
			Role:            sess.Role,
			RoleName:        sess.Role.DisplayName(),
			CreatedAt:       sess.CreatedAt,
			LastRefreshedAt: sess.LastRefreshedAt,
			ExpiresAt:       h.auth.SessionPolicy().ExpiresAt(sess),
		},
	})
}

// ChangePassword handles POST /auth/password/change.
func (h *AuthHandler) ChangePassword(c *fiber.Ctx) error {
	sess, ok := auth.SessionFromContext(c)
	if !ok {
		return auth.NewError(auth.KindUnauthenticated, "no session", nil)
	}

	var req dto.ChangePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return apperrors.NewValidationError("invalid payload", nil)
	}
	if req.CurrentPassword == "" || req.NewPassword == "" {
		return apperrors.NewValidationError("current_password and new_password required", nil)
	}

	revoked, err := h.auth.ChangePassword(c.UserContext(), sess, req.CurrentPassword, req.NewPassword)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"data": fiber.Map{"sessions_revoked": revoked},
	})
}
