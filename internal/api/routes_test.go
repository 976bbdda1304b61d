package api

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

func TestRoutesGuardOperatorEndpoints(t *testing.T) {
	app := fiber.New()
	SetupRoutes(context.Background(), app, Services{}, "s3cret")

	resp, err := app.Test(httptest.NewRequest("GET", "/api/v1/health", nil))
	if err != nil || resp.StatusCode != fiber.StatusOK {
		t.Fatalf("health: %v %v", resp, err)
	}

	account := uuid.NewString()
	for _, path := range []string{
		"/api/v1/accounts/" + account + "/sync",
		"/api/v1/accounts/" + account + "/bulk-sync",
		"/api/v1/accounts/" + account + "/score",
		"/api/v1/accounts/" + account + "/deactivate",
		"/api/v1/quota/reset",
	} {
		resp, err := app.Test(httptest.NewRequest("POST", path, nil))
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		if resp.StatusCode != fiber.StatusUnauthorized {
			t.Fatalf("%s without secret answered %d", path, resp.StatusCode)
		}
	}
}
