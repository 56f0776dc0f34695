package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"
)

// Identity resolves the caller from the X-User-Id header. The portal's
// REST backend authenticates users and fronts this service; identity
// management itself is out of scope here.
func Identity() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := strings.TrimSpace(c.Get("X-User-Id"))
		if userID == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing X-User-Id header",
			})
		}

		c.Locals("user_id", userID)
		return c.Next()
	}
}
