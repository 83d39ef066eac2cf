package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"storefront/internal/domain"
	"storefront/internal/events"
	applog "storefront/internal/log"
	"storefront/internal/services"
	"storefront/internal/validate"
)

type OrderHandler struct {
	Cart  *services.CartService
	Order *services.OrderService
}

type placeRequest struct {
	Name  string `json:"name" form:"name"`
	Email string `json:"email" form:"email"`
}

// POST /api/v1/orders
func (h *OrderHandler) Place(c *fiber.Ctx) error {
	sid := ensureSID(c)
	var req placeRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "body", "invalid body")
	}
	email, ok := validate.Email(req.Email)
	if !ok {
		return badRequest(c, "email", "invalid email")
	}
	name, ok := validate.Name(req.Name)
	if !ok {
		return badRequest(c, "name", "name must be 1-60 characters")
	}

	order, err := h.Order.Place(c.UserContext(), sid, services.Contact{Name: name, Email: email})
	if ise, short := domain.IsInsufficientStock(err); short {
		// the order exists, already cancelled; the cart is left for the shopper to fix
		applog.Audit(c, "order.place.refused", map[string]any{"order_id": order.ID, "number": order.Number})
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":  "insufficient stock",
			"order":  order,
			"items":  ise.Items,
			"status": order.Status,
		})
	}
	if err != nil {
		return fail(c, "order.place", err)
	}
	applog.Audit(c, "order.place", map[string]any{
		"order_id": order.ID,
		"number":   order.Number,
		"total":    order.Total.String(),
	})
	return c.Status(fiber.StatusCreated).JSON(order)
}

// owned loads an order and hides it from other sessions.
func (h *OrderHandler) owned(c *fiber.Ctx) (domain.Order, bool, error) {
	id, ok := validate.ID(c.Params("id"))
	if !ok {
		return domain.Order{}, false, nil
	}
	o, err := h.Order.Get(c.UserContext(), id)
	if err != nil {
		return domain.Order{}, false, err
	}
	if sid := c.Cookies("sid"); sid == "" || sid != o.SessionID {
		applog.Security(c, "access.denied.order", map[string]any{"order_id": id})
		return domain.Order{}, false, nil
	}
	return o, true, nil
}

// GET /api/v1/orders/:id
func (h *OrderHandler) View(c *fiber.Ctx) error {
	o, ok, err := h.owned(c)
	if err != nil {
		return fail(c, "order.view", err)
	}
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "order not found"})
	}
	return c.JSON(o)
}

// POST /api/v1/orders/:id/cancel
func (h *OrderHandler) Cancel(c *fiber.Ctx) error {
	o, ok, err := h.owned(c)
	if err != nil {
		return fail(c, "order.cancel", err)
	}
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "order not found"})
	}
	var req struct {
		Reason string `json:"reason" form:"reason"`
	}
	_ = c.BodyParser(&req)
	reason := strings.TrimSpace(req.Reason)
	if len(reason) > 200 {
		return badRequest(c, "reason", "reason is too long")
	}

	o, err = h.Order.Cancel(c.UserContext(), o.ID, reason)
	if err != nil {
		return fail(c, "order.cancel", err)
	}
	applog.Audit(c, "order.cancel", map[string]any{"order_id": o.ID, "reason": reason})
	return c.JSON(o)
}

// PaymentHandler receives payment outcomes from the payment provider. The
// 202 is sent only after Signals has stored the event.
type PaymentHandler struct {
	Signals events.Publisher
}

type paymentRequest struct {
	// EventID is the provider's id; resending it is a no-op.
	EventID   string `json:"event_id"`
	OrderID   int64  `json:"order_id"`
	Status    string `json:"status"`
	Reference string `json:"reference"`
	Message   string `json:"message"`
}

// POST /api/v1/payments/events
func (h *PaymentHandler) Receive(c *fiber.Ctx) error {
	var req paymentRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "body", "invalid JSON body")
	}
	if req.OrderID < 1 {
		return badRequest(c, "order_id", "order_id is required")
	}
	eventID := ""
	if req.EventID != "" {
		id, ok := validate.EventID(req.EventID)
		if !ok {
			return badRequest(c, "event_id", "event_id must be 1-64 letters, digits, '-' or '_'")
		}
		eventID = id
	}
	var succeeded bool
	switch strings.ToLower(strings.TrimSpace(req.Status)) {
	case "succeeded":
		succeeded = true
	case "failed":
	default:
		return badRequest(c, "status", "status must be succeeded or failed")
	}

	ev, err := services.PaymentEvent(succeeded, req.OrderID, eventID, req.Reference, req.Message)
	if err != nil {
		return fail(c, "payment.event", err)
	}
	if err := h.Signals.Publish(c.UserContext(), ev); err != nil {
		return fail(c, "payment.event", err)
	}
	applog.Audit(c, "payment.event", map[string]any{
		"order_id": req.OrderID, "type": ev.Type, "event_id": ev.ID, "reference": req.Reference,
	})
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"event_id": ev.ID})
}
