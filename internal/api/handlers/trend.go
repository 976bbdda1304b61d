/**
 * @description
 * Trend API Handlers.
 * Serves the ranked leaderboard as JSON or XLSX and recomputes scores on demand.
 *
 * @dependencies
 * - github.com/gofiber/fiber/v2
 * - backend/internal/services
 * - backend/internal/report
 */

package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sellerpulse/backend/internal/models"
	"github.com/sellerpulse/backend/internal/report"
	"github.com/sellerpulse/backend/internal/services"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

type TrendHandler struct {
	Service *services.TrendService
	now     func() time.Time
}

func NewTrendHandler(service *services.TrendService) *TrendHandler {
	return &TrendHandler{Service: service, now: time.Now}
}

// GetTrending returns the account's scores for a day, best first.
// Only trending listings unless all=true.
// GET /api/v1/accounts/:id/trending?date=YYYY-MM-DD&limit=&all=
func (h *TrendHandler) GetTrending(c *fiber.Ctx) error {
	accountID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return invalidAccount(c)
	}
	day, err := h.dateParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	limit := c.QueryInt("limit", 0)

	var rows []models.TrendScore
	if c.QueryBool("all", false) {
		rows, err = h.Service.Leaderboard(c.Context(), accountID, day, limit)
	} else {
		rows, err = h.Service.TopTrending(c.Context(), accountID, day, limit)
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch trend scores",
		})
	}
	return c.JSON(fiber.Map{
		"account_id": accountID,
		"date":       models.DayKey(day),
		"scores":     rows,
	})
}

// ExportTrending downloads the full leaderboard as a workbook
// GET /api/v1/accounts/:id/trending/export?date=YYYY-MM-DD
func (h *TrendHandler) ExportTrending(c *fiber.Ctx) error {
	accountID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return invalidAccount(c)
	}
	day, err := h.dateParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	rows, err := h.Service.Leaderboard(c.Context(), accountID, day, 0)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to fetch trend scores",
		})
	}

	var buf bytes.Buffer
	if err := report.WriteTrending(&buf, rows); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to render workbook",
		})
	}
	c.Set(fiber.HeaderContentType, xlsxContentType)
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="trending-%s.xlsx"`, models.DayKey(day)))
	return c.Send(buf.Bytes())
}

// ScoreAccount recomputes the account's scores for a day
// POST /api/v1/accounts/:id/score?date=YYYY-MM-DD
func (h *TrendHandler) ScoreAccount(c *fiber.Ctx) error {
	accountID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return invalidAccount(c)
	}
	day, err := h.dateParam(c)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	summary, err := h.Service.ScoreAccount(c.Context(), accountID, day)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(summary)
	}
	return c.JSON(summary)
}

func (h *TrendHandler) dateParam(c *fiber.Ctx) (time.Time, error) {
	raw := c.Query("date")
	if raw == "" {
		return models.Day(h.now()), nil
	}
	day, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, errors.New("date must be YYYY-MM-DD")
	}
	return day, nil
}
