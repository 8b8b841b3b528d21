package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/community-hub/internal/domain"
)

// RequireRoles ensures the resolved session holds one of allowed.
func RequireRoles(allowed ...domain.Role) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess, _ := SessionFromContext(c)
		if err := RequireRole(sess, allowed...); err != nil {
			return err
		}
		return c.Next()
	}
}

// RequireCapabilityHandler ensures the session's role grants capability.
func RequireCapabilityHandler(capability domain.Capability) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess, _ := SessionFromContext(c)
		if err := RequireCapability(sess, capability); err != nil {
			return err
		}
		return c.Next()
	}
}

// RequireOwner ensures the session owns the resource named by the route
// parameter param, or is an Admin.
func RequireOwner(param string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sess, _ := SessionFromContext(c)
		if err := RequireOwnership(sess, c.Params(param)); err != nil {
			return err
		}
		return c.Next()
	}
}
