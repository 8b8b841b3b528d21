package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/spec-kit/community-hub/internal/domain"
)

// DefaultTimeout is the session lifetime used when none is configured.
const DefaultTimeout = 8 * time.Hour

const tokenBytes = 32

// ErrStoreUnavailable wraps backend failures of a Store.
var ErrStoreUnavailable = errors.New("session store unavailable")

// Store is the contract shared by session backends. Returned sessions are
// copies; mutating them does not affect the store.
type Store interface {
	// Create starts a session and returns it with its new token.
	Create(ctx context.Context, subjectID string, role domain.Role) (*domain.Session, error)
	// Lookup returns the live session for token, evicting it if expired.
	Lookup(ctx context.Context, token string) (*domain.Session, bool, error)
	// Refresh records activity on a live session.
	Refresh(ctx context.Context, token string) (*domain.Session, bool, error)
	// Invalidate destroys the session; unknown tokens are ignored.
	Invalidate(ctx context.Context, token string) error
	// InvalidateSubject destroys every session of subjectID except keepToken.
	InvalidateSubject(ctx context.Context, subjectID, keepToken string) (int, error)
	// ActiveCount returns the number of unexpired sessions.
	ActiveCount(ctx context.Context) (int, error)
	// Sweep evicts every expired session and returns how many it removed.
	Sweep(ctx context.Context) (int, error)
	// Policy returns the expiry policy in force.
	Policy() Policy
}

// Policy decides when a session expires.
type Policy struct {
	Timeout time.Duration
	Sliding bool
}

// FixedPolicy expires sessions timeout after creation.
func FixedPolicy(timeout time.Duration) Policy {
	return Policy{Timeout: normalizeTimeout(timeout)}
}

// SlidingPolicy expires sessions timeout after their last refresh.
func SlidingPolicy(timeout time.Duration) Policy {
	return Policy{Timeout: normalizeTimeout(timeout), Sliding: true}
}

// ExpiresAt returns the instant after which sess is expired.
func (p Policy) ExpiresAt(sess *domain.Session) time.Time {
	base := sess.CreatedAt
	if p.Sliding {
		base = sess.LastRefreshedAt
	}
	return base.Add(p.Timeout)
}

// Expired reports whether sess is past its expiry at now.
func (p Policy) Expired(sess *domain.Session, now time.Time) bool {
	return now.After(p.ExpiresAt(sess))
}

func (p Policy) String() string {
	if p.Sliding {
		return fmt.Sprintf("sliding(%s)", p.Timeout)
	}
	return fmt.Sprintf("fixed(%s)", p.Timeout)
}

func normalizeTimeout(timeout time.Duration) time.Duration {
	if timeout <= 0 {
		return DefaultTimeout
	}
	return timeout
}

// NewToken returns a 256-bit random token, base64url without padding.
func NewToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// TokenPrefix returns a short, log-safe prefix of token.
func TokenPrefix(token string) string {
	const n = 8
	if len(token) <= n {
		return token
	}
	return token[:n]
}

func clone(sess *domain.Session) *domain.Session {
	cp := *sess
	return &cp
}
