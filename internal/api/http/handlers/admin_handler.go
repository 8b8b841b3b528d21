package handlers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/community-hub/internal/observability"
	"github.com/spec-kit/community-hub/internal/service"
)

// AdminHandler exposes operational views for administrators.
type AdminHandler struct {
	auth    *service.AuthService
	metrics *observability.Metrics
}

// NewAdminHandler constructs handler.
func NewAdminHandler(authService *service.AuthService, metrics *observability.Metrics) *AdminHandler {
	return &AdminHandler{auth: authService, metrics: metrics}
}

// Sessions handles GET /admin/sessions.
func (h *AdminHandler) Sessions(c *fiber.Ctx) error {
	count, err := h.auth.ActiveSessions(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"data": fiber.Map{
			"active": count,
			"policy": h.auth.SessionPolicy().String(),
		},
	})
}

// Metrics handles GET /admin/metrics.
func (h *AdminHandler) Metrics(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"data": h.metrics.Snapshot()})
}
