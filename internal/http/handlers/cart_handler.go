package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	applog "storefront/internal/log"
	"storefront/internal/services"
	"storefront/internal/validate"
)

type CartHandler struct {
	Cart *services.CartService
}

func ensureSID(c *fiber.Ctx) string {
	sid := c.Cookies("sid")
	if sid == "" {
		sid = uuid.NewString()
		c.Cookie(&fiber.Cookie{
			Name:     "sid",
			Value:    sid,
			Path:     "/",
			HTTPOnly: true,
			SameSite: fiber.CookieSameSiteLaxMode,
		})
	}
	return sid
}

type addRequest struct {
	VariantID int64 `json:"variant_id" form:"variant_id"`
	Qty       int   `json:"qty" form:"qty"`
}

// POST /cart
func (h *CartHandler) Add(c *fiber.Ctx) error {
	sid := ensureSID(c)
	var req addRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "body", "invalid body")
	}
	if req.VariantID < 1 {
		return badRequest(c, "variant_id", "missing variant_id")
	}
	qty := req.Qty
	if qty == 0 {
		qty = 1
	}
	if qty < 1 || qty > validate.MaxLineQty {
		return badRequest(c, "qty", "qty must be between 1 and 1000")
	}

	cart, err := h.Cart.Add(c.UserContext(), sid, req.VariantID, qty)
	if err != nil {
		return fail(c, "cart.add", err)
	}
	applog.Info(c, "cart.add", map[string]any{"cart_id": cart.ID, "variant_id": req.VariantID, "qty": qty})
	return c.JSON(cart)
}

// GET /cart
func (h *CartHandler) View(c *fiber.Ctx) error {
	cart, err := h.Cart.View(c.UserContext(), ensureSID(c))
	if err != nil {
		return fail(c, "cart.view", err)
	}
	return c.JSON(cart)
}
