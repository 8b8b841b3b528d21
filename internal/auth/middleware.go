package auth

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/community-hub/internal/correlation"
	"github.com/spec-kit/community-hub/internal/domain"
)

const (
	sessionKey = "auth_session"
	tokenKey   = "auth_token"
)

// Authorizer resolves a session token and checks it against a requirement.
type Authorizer interface {
	Authorize(ctx context.Context, token string, req Requirement) (*domain.Session, error)
}

// AuthMiddleware resolves bearer envelopes into sessions.
type AuthMiddleware struct {
	tokens     *TokenManager
	authorizer Authorizer
	cookieName string
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager, authorizer Authorizer, cookieName string) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, authorizer: authorizer, cookieName: cookieName}
}

// Handle enforces authentication for protected routes.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	return m.Require(Authenticated())(c)
}

// Require enforces authentication plus req.
func (m *AuthMiddleware) Require(req Requirement) fiber.Handler {
	return func(c *fiber.Ctx) error {
		envelope, err := m.extract(c)
		if err != nil {
			return err
		}

		claims, err := m.tokens.Open(envelope)
		if err != nil {
			return NewError(KindSessionExpired, "envelope rejected", err)
		}

		sess, err := m.authorizer.Authorize(c.UserContext(), claims.SessionToken, req)
		if err != nil {
			return err
		}

		if cc, ok := correlation.FromContext(c.UserContext()); ok {
			c.SetUserContext(correlation.NewContext(c.UserContext(), cc.WithSubject(sess.SubjectID)))
		}
		c.Locals(sessionKey, sess)
		c.Locals(tokenKey, claims.SessionToken)
		return c.Next()
	}
}

func (m *AuthMiddleware) extract(c *fiber.Ctx) (string, error) {
	if authHeader := c.Get(fiber.HeaderAuthorization); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			return "", NewError(KindUnauthenticated, "invalid authorization header", nil)
		}
		return strings.TrimSpace(parts[1]), nil
	}
	if m.cookieName != "" {
		if cookie := c.Cookies(m.cookieName); cookie != "" {
			return cookie, nil
		}
	}
	return "", NewError(KindUnauthenticated, "missing credentials", nil)
}

// SessionFromContext retrieves the session resolved by the middleware.
func SessionFromContext(c *fiber.Ctx) (*domain.Session, bool) {
	sess, ok := c.Locals(sessionKey).(*domain.Session)
	return sess, ok && sess != nil
}

// TokenFromContext retrieves the opaque session token of the request.
func TokenFromContext(c *fiber.Ctx) (string, bool) {
	token, ok := c.Locals(tokenKey).(string)
	return token, ok && token != ""
}
