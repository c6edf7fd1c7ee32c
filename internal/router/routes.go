package router

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/reachforge/crm-api/internal/auth"
	"github.com/reachforge/crm-api/internal/config"
	"github.com/reachforge/crm-api/internal/handler"
	middlewarepkg "github.com/reachforge/crm-api/internal/middleware"
)

// Handlers aggregates HTTP handlers used by the router.
type Handlers struct {
	Auth     *handler.AuthHandler
	Contacts *handler.ContactsHandler
	Imports  *handler.ImportsHandler
	Webhooks *handler.WebhooksHandler
}

// Register wires all HTTP routes for the API.
func Register(e *echo.Echo, cfg *config.Config, jwtManager *auth.JWTManager, handlers Handlers) {
	e.GET("/healthz", func(c echo.Context) error {
		return handler.Success(c, http.StatusOK, "service healthy", map[string]any{"status": "ok"})
	})

	e.POST("/auth/register", handlers.Auth.Register)
	e.POST("/auth/login", handlers.Auth.Login)

	if handlers.Webhooks != nil {
		e.POST("/webhooks/email", handlers.Webhooks.Receive)
		e.POST("/webhooks/email/test", handlers.Webhooks.Test)
	}

	secured := e.Group("")
	secured.Use(middlewarepkg.JWT(jwtManager))

	admin := secured.Group("/admin", middlewarepkg.RequireRole("admin"))

	admin.GET("/contacts", handlers.Contacts.List)
	admin.POST("/contacts", handlers.Contacts.Create)
	admin.POST("/contacts/unsubscribe", handlers.Contacts.Unsubscribe)
	admin.GET("/contacts/:id", handlers.Contacts.Show)
	admin.PUT("/contacts/:id", handlers.Contacts.Update)
	admin.DELETE("/contacts/:id", handlers.Contacts.Delete)

	admin.POST("/imports", handlers.Imports.Create, middlewarepkg.ImportRateLimiter(cfg.RateLimitImport))
	admin.GET("/imports", handlers.Imports.List)
	admin.GET("/imports/:id", handlers.Imports.Show)
	admin.DELETE("/imports/:id", handlers.Imports.Delete)
	admin.GET("/imports/:id/mapping", handlers.Imports.Mapping)
	admin.POST("/imports/:id/preview", handlers.Imports.Preview)
	admin.POST("/imports/:id/perform", handlers.Imports.Perform, middlewarepkg.ImportRateLimiter(cfg.RateLimitImport))
	admin.GET("/imports/:id/status", handlers.Imports.Status)
	admin.GET("/imports/:id/errors", handlers.Imports.DownloadErrors)

	if handlers.Webhooks != nil {
		admin.GET("/webhooks/email/status", handlers.Webhooks.Status)
	}
}
