package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"

	applog "storefront/internal/log"
)

// RequireAdmin checks the bearer token (or admin_token cookie, for the HTML
// page) against a bcrypt hash. An empty hash turns the admin surface off.
func RequireAdmin(tokenHash string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if tokenHash == "" {
			return c.Status(fiber.StatusNotFound).Render("notfound", fiber.Map{"Message": "Page not found"})
		}
		tok := bearer(c.Get(fiber.HeaderAuthorization))
		if tok == "" {
			tok = c.Cookies("admin_token")
		}
		if !tokenMatches(tokenHash, tok) {
			applog.Security(c, "access.denied.admin", map[string]any{"token_present": tok != ""})
			return c.Status(fiber.StatusForbidden).Render("notfound", fiber.Map{"Message": "Access denied"})
		}
		c.Locals("admin", true)
		return c.Next()
	}
}

// RequireWebhookToken guards provider callbacks with a shared secret sent in
// X-Webhook-Token or as a bearer token. An empty hash disables the webhook.
func RequireWebhookToken(tokenHash string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if tokenHash == "" {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "not found"})
		}
		tok := strings.TrimSpace(c.Get("X-Webhook-Token"))
		if tok == "" {
			tok = bearer(c.Get(fiber.HeaderAuthorization))
		}
		if !tokenMatches(tokenHash, tok) {
			applog.Security(c, "access.denied.webhook", map[string]any{"token_present": tok != ""})
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid webhook token"})
		}
		return c.Next()
	}
}

func tokenMatches(hash, tok string) bool {
	return tok != "" && bcrypt.CompareHashAndPassword([]byte(hash), []byte(tok)) == nil
}

func bearer(h string) string {
	const prefix = "bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}
