package domain

import (
	"fmt"
	"strings"
)

// Role is the closed set of account roles.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleVolunteer Role = "VOLUNTEER"
	RoleRequester Role = "REQUESTER"
)

// Capability names an action gated by role.
type Capability string

const (
	CapabilityViewResources   Capability = "view_resources"
	CapabilitySubmitRequests  Capability = "submit_requests"
	CapabilityManageRequests  Capability = "manage_requests"
	CapabilityManageResources Capability = "manage_resources"
	CapabilityManageUsers     Capability = "manage_users"
	CapabilityViewSessions    Capability = "view_sessions"
)

var roleCapabilities = map[Role]map[Capability]struct{}{
	RoleAdmin: {
		CapabilityViewResources:   {},
		CapabilitySubmitRequests:  {},
		CapabilityManageRequests:  {},
		CapabilityManageResources: {},
		CapabilityManageUsers:     {},
		CapabilityViewSessions:    {},
	},
	RoleVolunteer: {
		CapabilityViewResources:  {},
		CapabilityManageRequests: {},
	},
	RoleRequester: {
		CapabilityViewResources:  {},
		CapabilitySubmitRequests: {},
	},
}

// Roles lists every role in a stable order.
func Roles() []Role {
	return []Role{RoleAdmin, RoleVolunteer, RoleRequester}
}

// ParseRole accepts a role name in any case.
func ParseRole(value string) (Role, error) {
	role := Role(strings.ToUpper(strings.TrimSpace(value)))
	if !role.Valid() {
		return "", fmt.Errorf("invalid role: %q", value)
	}
	return role, nil
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	_, ok := roleCapabilities[r]
	return ok
}

// Has reports whether the role grants the capability.
func (r Role) Has(capability Capability) bool {
	_, ok := roleCapabilities[r][capability]
	return ok
}

// DisplayName returns the human readable role name.
func (r Role) DisplayName() string {
	switch r {
	case RoleAdmin:
		return "Administrator"
	case RoleVolunteer:
		return "Volunteer"
	case RoleRequester:
		return "Requester"
	default:
		return string(r)
	}
}

func (r Role) String() string {
	return string(r)
}
