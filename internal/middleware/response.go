package middleware

import (
	"cryptofolio-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
)

// ResponseFormatter exposes the standard response helpers via Locals and marks API
// responses as uncacheable, since balances and prices change between requests.
func ResponseFormatter() fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals("response_success", func(msg string, data interface{}, meta interface{}) error {
			return response.Success(c, msg, data, meta)
		})
		c.Locals("response_success_created", func(msg string, data interface{}, meta interface{}) error {
			return response.SuccessCreated(c, msg, data, meta)
		})
		c.Locals("response_error", func(msg string, code int, details interface{}) error {
			return response.Error(c, msg, code, details)
		})
		c.Set(fiber.HeaderCacheControl, "no-store")
		return c.Next()
	}
}
