package handlers

import (
	"bufio"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"github.com/sellerpulse/backend/internal/services"
)

type EventsHandler struct {
	Hub *services.RunEventHub
}

func NewEventsHandler(hub *services.RunEventHub) *EventsHandler {
	return &EventsHandler{Hub: hub}
}

// StreamRunEvents streams sync run progress over SSE
// GET /api/v1/events
func (h *EventsHandler) StreamRunEvents(c *fiber.Ctx) error {
	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")

	requestCtx := c.Context()
	ch, unsubscribe := h.Hub.Subscribe()

	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		defer unsubscribe()

		// Flush headers so clients see the stream open before the first event.
		fmt.Fprint(w, ": connected\n\n")
		if err := w.Flush(); err != nil {
			return
		}

		requestDone := requestCtx.Done()
		for {
			select {
			case <-requestDone:
				return
			case payload, ok := <-ch:
				if !ok {
					return
				}
				fmt.Fprintf(w, "data: %s\n\n", payload)
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	})

	return nil
}
