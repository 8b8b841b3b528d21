package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/community-hub/internal/api/dto"
	"github.com/spec-kit/community-hub/internal/service"
)

// UsersHandler exposes account profiles.
type UsersHandler struct {
	auth *service.AuthService
}

// NewUsersHandler constructs handler.
func NewUsersHandler(authService *service.AuthService) *UsersHandler {
	return &UsersHandler{auth: authService}
}

// Get handles GET /users/:id. Ownership is enforced by the route guard.
func (h *UsersHandler) Get(c *fiber.Ctx) error {
	user, err := h.auth.Profile(c.UserContext(), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{"data": dto.NewUserResponse(user)})
}
