package handlers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/sellerpulse/backend/internal/logger"
	"github.com/sellerpulse/backend/internal/repository"
	"github.com/sellerpulse/backend/internal/syncerr"
)

type AccountHandler struct {
	Accounts *repository.AccountRepository
	Listings *repository.ListingRepository
}

func NewAccountHandler(accounts *repository.AccountRepository, listings *repository.ListingRepository) *AccountHandler {
	return &AccountHandler{Accounts: accounts, Listings: listings}
}

// GetAccount returns the account with its listing count
// GET /api/v1/accounts/:id
func (h *AccountHandler) GetAccount(c *fiber.Ctx) error {
	accountID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return invalidAccount(c)
	}

	account, err := h.Accounts.Get(c.Context(), accountID)
	if err != nil {
		return accountLookupError(c, err)
	}
	listings, err := h.Listings.CountByAccount(c.Context(), accountID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to count listings",
		})
	}
	return c.JSON(fiber.Map{
		"account":  account,
		"listings": listings,
	})
}

// Deactivate disconnects the account; its history is kept
// POST /api/v1/accounts/:id/deactivate
func (h *AccountHandler) Deactivate(c *fiber.Ctx) error {
	accountID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return invalidAccount(c)
	}
	if err := h.Accounts.Deactivate(c.Context(), accountID, time.Now().UTC()); err != nil {
		return accountLookupError(c, err)
	}
	logger.Info("Account %s deactivated", accountID)
	return c.SendStatus(fiber.StatusNoContent)
}

func accountLookupError(c *fiber.Ctx, err error) error {
	if errors.Is(err, syncerr.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Account not found"})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to load account"})
}
