package auth

import (
	"fmt"

	"github.com/spec-kit/community-hub/internal/domain"
)

// Requirement is what a caller must satisfy once its session is resolved.
// The zero value admits any authenticated session.
type Requirement struct {
	Roles      []domain.Role
	Capability domain.Capability
}

// Authenticated admits any live session.
func Authenticated() Requirement {
	return Requirement{}
}

// AnyOf admits sessions holding one of roles.
func AnyOf(roles ...domain.Role) Requirement {
	return Requirement{Roles: roles}
}

// WithCapability admits sessions whose role grants capability.
func WithCapability(capability domain.Capability) Requirement {
	return Requirement{Capability: capability}
}

// Check applies the requirement to sess.
func (r Requirement) Check(sess *domain.Session) error {
	if err := RequireRole(sess, r.Roles...); err != nil {
		return err
	}
	if r.Capability != "" {
		return RequireCapability(sess, r.Capability)
	}
	return nil
}

// RequireRole fails with ErrUnauthenticated when sess is nil and with
// ErrInsufficientPrivileges when its role is not in allowed. An empty
// allowed list admits every role.
func RequireRole(sess *domain.Session, allowed ...domain.Role) error {
	if sess == nil {
		return NewError(KindUnauthenticated, "no session", nil)
	}
	if len(allowed) == 0 {
		return nil
	}
	for _, role := range allowed {
		if sess.Role == role {
			return nil
		}
	}
	return NewError(KindInsufficientPrivileges, fmt.Sprintf("role %s not in %v", sess.Role, allowed), nil)
}

// RequireOwnership admits the owner of a resource or any Admin.
func RequireOwnership(sess *domain.Session, ownerID string) error {
	if sess == nil {
		return NewError(KindUnauthenticated, "no session", nil)
	}
	if CanAccess(sess, ownerID) {
		return nil
	}
	return NewError(KindInsufficientPrivileges, fmt.Sprintf("subject %s does not own %s", sess.SubjectID, ownerID), nil)
}

// RequireCapability admits sessions whose role grants capability.
func RequireCapability(sess *domain.Session, capability domain.Capability) error {
	if sess == nil {
		return NewError(KindUnauthenticated, "no session", nil)
	}
	if !sess.Role.Has(capability) {
		return NewError(KindInsufficientPrivileges, fmt.Sprintf("role %s lacks %s", sess.Role, capability), nil)
	}
	return nil
}

// CanAccess is the boolean form of RequireOwnership.
func CanAccess(sess *domain.Session, ownerID string) bool {
	if sess == nil {
		return false
	}
	return sess.Role == domain.RoleAdmin || (ownerID != "" && sess.SubjectID == ownerID)
}
