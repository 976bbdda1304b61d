package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sellerpulse/backend/internal/logger"
	"github.com/sellerpulse/backend/internal/quota"
)

type QuotaHandler struct {
	Governor *quota.Governor
}

func NewQuotaHandler(governor *quota.Governor) *QuotaHandler {
	return &QuotaHandler{Governor: governor}
}

// GetUsage reports the shared daily budget
// GET /api/v1/quota
func (h *QuotaHandler) GetUsage(c *fiber.Ctx) error {
	usage, err := h.Governor.Usage(c.Context())
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Quota store unavailable",
		})
	}
	return c.JSON(usage)
}

// ResetUsage clears today's counter
// POST /api/v1/quota/reset
func (h *QuotaHandler) ResetUsage(c *fiber.Ctx) error {
	if err := h.Governor.Reset(c.Context()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "Quota store unavailable",
		})
	}
	logger.Warn("Daily quota counter reset by operator")
	return h.GetUsage(c)
}
