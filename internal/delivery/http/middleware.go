package http

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/roadwatch/backend/internal/resilience"
)

// RateLimit applies one rule class to a route group, keyed by caller IP.
// Violations get a structured 429 with a retry hint; the limiter itself
// samples violation logging.
func RateLimit(limiter *resilience.RateLimiter, class resilience.RuleClass) fiber.Handler {
	return func(c *fiber.Ctx) error {
		retryAfter, err := limiter.Allow(c.IP(), class)
		if err == nil {
			return c.Next()
		}

		seconds := int(retryAfter.Seconds()) + 1
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(seconds))
		return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
			"error":               true,
			"message":             "Too many requests",
			"retry_after_seconds": seconds,
		})
	}
}
