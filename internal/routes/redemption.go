package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/kittybank/kitty/internal/redemption"
)

// RegisterRedemptionRoutes wires code issuance and redemption endpoints.
func RegisterRedemptionRoutes(r fiber.Router, h *redemption.Handler, rateLimiter fiber.Handler) {
	group := r.Group("/redemption-codes")
	group.Get("", h.List)
	group.Post("", h.Create)
	group.Post("/redeem", rateLimiter, h.Redeem)
}
