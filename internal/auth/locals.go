package auth

import "github.com/gofiber/fiber/v2"

const principalLocal = "principal"

// Attach stores p on the request for downstream handlers.
func Attach(c *fiber.Ctx, p Principal) {
	c.Locals(principalLocal, p)
	c.Locals("user_id", p.UserID)
}

// FromCtx returns the principal attached by the auth middleware, or the zero
// Principal when the request is anonymous.
func FromCtx(c *fiber.Ctx) Principal {
	p, _ := c.Locals(principalLocal).(Principal)
	return p
}
