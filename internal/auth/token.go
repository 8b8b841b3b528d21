package auth

import (
	"errors"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/thejerf/abtime"

	"github.com/spec-kit/community-hub/internal/domain"
)

// TokenManager wraps opaque session tokens in an HMAC-signed envelope so
// forged or foreign bearers are rejected before the session store is
// consulted. The store stays the authority on liveness and role.
type TokenManager struct {
	secret []byte
	clock  abtime.AbstractTime
}

// NewTokenManager builds a new manager.
func NewTokenManager(secret string, clock abtime.AbstractTime) *TokenManager {
	if clock == nil {
		clock = abtime.NewRealTime()
	}
	return &TokenManager{secret: []byte(secret), clock: clock}
}

// Claims describes the envelope payload.
type Claims struct {
	SessionToken string      `json:"sid"`
	Role         domain.Role `json:"role"`
	jwt.RegisteredClaims
}

// Seal signs an envelope around sess.Token.
func (tm *TokenManager) Seal(sess *domain.Session) (string, error) {
	if sess == nil || sess.Token == "" {
		return "", errors.New("session token required")
	}
	claims := &Claims{
		SessionToken: sess.Token,
		Role:         sess.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  sess.SubjectID,
			IssuedAt: jwt.NewNumericDate(tm.clock.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tm.secret)
}

// Open validates an envelope and returns its claims.
func (tm *TokenManager) Open(envelope string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(envelope, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return tm.secret, nil
	}, jwt.WithTimeFunc(tm.clock.Now))
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.SessionToken == "" {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}
