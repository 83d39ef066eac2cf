package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	applog "storefront/internal/log"
)

// Routes mounts the public API, the cart, the payment webhook and the admin
// surface on app.
func Routes(app *fiber.App, d *Deps, adminTokenHash, webhookTokenHash string) {
	app.Get("/healthz", d.HealthHandler.Check)

	app.Get("/cart", d.CartHandler.View)
	app.Post("/cart", d.CartHandler.Add)

	api := app.Group("/api/v1")
	availLimiter := limiter.New(limiter.Config{
		Max:        30,
		Expiration: 30 * time.Second,
		KeyGenerator: func(c *fiber.Ctx) string {
			return c.IP() + "|avail"
		},
		LimitReached: func(c *fiber.Ctx) error {
			applog.Security(c, "rate.availability.hit", nil)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate limit exceeded, retry soon"})
		},
	})
	api.Get("/availability", availLimiter, d.InventoryHandler.Check)

	api.Post("/reservations", d.ReservationHandler.Create)
	api.Get("/reservations/:sourceType/:sourceId", d.ReservationHandler.List)
	api.Delete("/reservations/:sourceType/:sourceId", d.ReservationHandler.Release)

	api.Post("/orders", d.OrderHandler.Place)
	api.Get("/orders/:id", d.OrderHandler.View)
	api.Post("/orders/:id/cancel", d.OrderHandler.Cancel)

	api.Post("/payments/events", RequireWebhookToken(webhookTokenHash), d.PaymentHandler.Receive)

	admin := app.Group("/admin", RequireAdmin(adminTokenHash))
	admin.Get("/inventory", d.AdminHandler.Inventory)
	admin.Post("/api/stock/adjust", d.AdminHandler.Adjust)
	admin.Post("/api/stock/set", d.AdminHandler.Set)
	admin.Post("/api/stock/safety", d.AdminHandler.Safety)
	admin.Get("/api/stock/movements", d.AdminHandler.Movements)
	admin.Get("/api/stock/reconcile", d.AdminHandler.Reconcile)
	admin.Post("/api/reservations/sweep", d.AdminHandler.Sweep)
}
