package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/reachforge/crm-api/internal/service"
)

// WebhooksHandler receives delivery events from the e-mail provider.
type WebhooksHandler struct {
	service *service.WebhookService
}

// NewWebhooksHandler creates a new handler instance.
func NewWebhooksHandler(service *service.WebhookService) *WebhooksHandler {
	return &WebhooksHandler{service: service}
}

// Receive handles POST /webhooks/email requests. The provider retries on
// non-2xx responses, so malformed payloads are acknowledged with 400 and
// only storage failures return 500.
func (h *WebhooksHandler) Receive(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
	if err != nil {
		return Error(c, http.StatusBadRequest, "unable to read payload")
	}
	if len(body) == 0 {
		return Error(c, http.StatusBadRequest, "empty payload")
	}

	if err := h.service.HandleEvent(c.Request().Context(), body); err != nil {
		return Error(c, http.StatusInternalServerError, "failed to process event")
	}
	return Success(c, http.StatusOK, "event processed", nil)
}

// Test handles POST /webhooks/email/test requests so operators can verify
// connectivity without touching contacts.
func (h *WebhooksHandler) Test(c echo.Context) error {
	return Success(c, http.StatusOK, "webhook endpoint reachable", map[string]string{
		"received_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// Status handles GET /webhooks/email/status requests with recent event
// volume and the latest stored events.
func (h *WebhooksHandler) Status(c echo.Context) error {
	ctx := c.Request().Context()

	count, err := h.service.CountSince(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		return Error(c, http.StatusInternalServerError, "failed to count events")
	}
	recent, err := h.service.Recent(ctx, 10)
	if err != nil {
		return Error(c, http.StatusInternalServerError, "failed to list events")
	}

	return Success(c, http.StatusOK, "webhook status retrieved", map[string]any{
		"events_last_24h": count,
		"recent_events":   recent,
	})
}
