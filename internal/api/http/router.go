package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/support-automation/internal/api/http/handlers"
	"github.com/spec-kit/support-automation/internal/auth"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health         *handlers.HealthHandler
	Keys           *handlers.KeysHandler
	Usage          *handlers.UsageHandler
	Tickets        *handlers.TicketsHandler
	AgentTickets   *handlers.AgentTicketsHandler
	AgentAuth      *handlers.AgentAuthHandler
	AuthMiddleware *auth.AuthMiddleware
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)

	app.Post("/auth/agents/login", cfg.AgentAuth.Login)

	v1 := app.Group("/v1")
	v1.Post("/meter", cfg.Keys.Meter)

	customer := v1.Group("", cfg.AuthMiddleware.Handle, auth.RequireCustomer())
	customer.Post("/keys", cfg.Keys.CreateKey)
	customer.Post("/keys/rotate", cfg.Keys.RotateKey)
	customer.Get("/keys", cfg.Keys.ListKeys)
	customer.Delete("/keys/:id", cfg.Keys.RevokeKey)

	customer.Get("/usage", cfg.Usage.Summary)
	customer.Get("/billing/history", cfg.Usage.BillingHistory)

	customer.Post("/tickets", cfg.Tickets.CreateTicket)
	customer.Get("/tickets", cfg.Tickets.ListTickets)
	customer.Get("/tickets/:id", cfg.Tickets.GetTicket)
	customer.Post("/tickets/:id/replies", cfg.Tickets.Reply)

	agent := app.Group("/agent", cfg.AuthMiddleware.Handle, auth.RequireAgent())
	agent.Get("/tickets", cfg.AgentTickets.ListTickets)
	agent.Get("/tickets/:id", cfg.AgentTickets.GetTicket)
	agent.Post("/tickets/:id/responses", cfg.AgentTickets.Respond)
	agent.Post("/tickets/:id/resolve", cfg.AgentTickets.Resolve)
}
