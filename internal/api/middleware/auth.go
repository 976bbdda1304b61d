/**
 * @description
 * Shared-secret middleware for operator endpoints.
 * Sync triggers and quota resets are called by schedulers and operators, not
 * end users, so they are guarded by JOB_SYNC_SECRET instead of user tokens.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2: HTTP Context
 *
 * @notes
 * - Accepts the secret as "Authorization: Bearer <secret>" or "X-Job-Secret".
 * - With no secret configured every protected route answers 500.
 */

package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/sellerpulse/backend/internal/logger"
)

// JobSecretHeader carries the shared secret when no Authorization header is set.
const JobSecretHeader = "X-Job-Secret"

// JobSecret protects routes with a shared secret.
func JobSecret(secret string) fiber.Handler {
	if secret == "" {
		logger.Warn("JOB_SYNC_SECRET is empty. Protected routes will reject every request.")
	}

	return func(c *fiber.Ctx) error {
		if secret == "" {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
				"error": "Job secret not configured",
			})
		}

		provided := c.Get(JobSecretHeader)
		if authHeader := c.Get("Authorization"); authHeader != "" {
			token := strings.TrimPrefix(authHeader, "Bearer ")
			if token == authHeader {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid token format"})
			}
			provided = token
		}
		if provided == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Missing job secret"})
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid job secret"})
		}
		return c.Next()
	}
}
