package handlers

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jmoiron/sqlx"

	"storefront/internal/domain"
	applog "storefront/internal/log"
	"storefront/internal/services"
	"storefront/internal/validate"
)

type HealthHandler struct {
	DB *sqlx.DB
}

func (h *HealthHandler) Check(c *fiber.Ctx) error {
	if err := h.DB.PingContext(c.UserContext()); err != nil {
		applog.Error(c, "health.db.fail", err, nil)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
	}
	return c.JSON(fiber.Map{"status": "ok"})
}

type InventoryHandler struct {
	Inv *services.InventoryService
}

// GET /api/v1/availability?items=12:3,14:1&warehouse=1
func (h *InventoryHandler) Check(c *fiber.Ctx) error {
	items, err := validate.Items(c.Query("items"))
	if err != nil {
		return badRequest(c, "items", err.Error())
	}
	requested := make(map[int64]int, len(items))
	for _, it := range items {
		requested[it.VariantID] += it.Quantity
	}

	var warehouse *int64
	if raw := strings.TrimSpace(c.Query("warehouse")); raw != "" {
		id, ok := validate.ID(raw)
		if !ok {
			return badRequest(c, "warehouse", "warehouse must be a positive id")
		}
		warehouse = &id
	}

	res, err := h.Inv.CheckAvailability(c.UserContext(), requested, warehouse)
	if err != nil {
		return fail(c, "availability.check", err)
	}
	all := true
	for _, r := range res {
		all = all && r.IsAvailable
	}
	return c.JSON(fiber.Map{"items": res, "available": all})
}

// ReservationHandler lets a shopper hold stock for their own cart. Order
// reservations are made by checkout and released by cancellation or expiry;
// here they can only be read by the session that placed the order.
type ReservationHandler struct {
	Inv    *services.InventoryService
	Cart   *services.CartService
	Orders *services.OrderService
	// MaxHold is the default and the longest allowed cart hold.
	MaxHold time.Duration
}

const defaultHold = 30 * time.Minute

type reserveRequest struct {
	// SourceType may be omitted; only "cart" is accepted.
	SourceType string               `json:"source_type"`
	Items      []domain.ReserveItem `json:"items"`
	// ExpiresIn shortens the hold, e.g. "15m".
	ExpiresIn string `json:"expires_in"`
}

func (h *ReservationHandler) maxHold() time.Duration {
	if h.MaxHold > 0 {
		return h.MaxHold
	}
	return defaultHold
}

// POST /api/v1/reservations
func (h *ReservationHandler) Create(c *fiber.Ctx) error {
	sid := ensureSID(c)
	var req reserveRequest
	if err := c.BodyParser(&req); err != nil {
		return badRequest(c, "body", "invalid JSON body")
	}
	switch domain.SourceType(strings.ToLower(strings.TrimSpace(req.SourceType))) {
	case "", domain.SourceCart:
	case domain.SourceOrder:
		return orderReservationsClosed(c, "create")
	default:
		return badRequest(c, "source_type", "only cart holds can be requested")
	}
	if len(req.Items) == 0 || len(req.Items) > 100 {
		return badRequest(c, "items", "between 1 and 100 items are required")
	}

	ttl := h.maxHold()
	if req.ExpiresIn != "" {
		d, err := time.ParseDuration(req.ExpiresIn)
		if err != nil || d <= 0 || d > ttl {
			return badRequest(c, "expires_in", "expires_in must be a positive duration up to "+ttl.String())
		}
		ttl = d
	}
	expiresAt := h.Inv.Now().Add(ttl)

	cart, err := h.Cart.Ensure(c.UserContext(), sid)
	if err != nil {
		return fail(c, "reservation.create", err)
	}
	src := services.CartSource(cart.ID)
	out, err := h.Inv.ReserveStock(c.UserContext(), req.Items, src, &expiresAt)
	if err != nil {
		return fail(c, "reservation.create", err)
	}
	applog.Audit(c, "reservation.create", map[string]any{
		"source_type": src.Type, "source_id": src.ID, "lines": len(out), "expires_at": expiresAt,
	})
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"source": src, "reservations": out})
}

// GET /api/v1/reservations/:sourceType/:sourceId
func (h *ReservationHandler) List(c *fiber.Ctx) error {
	src, ok := validate.Source(c.Params("sourceType"), c.Params("sourceId"))
	if !ok {
		return badRequest(c, "source", "unknown reservation source")
	}
	owned, err := h.owns(c, src)
	if err != nil {
		return fail(c, "reservation.list", err)
	}
	if !owned {
		return reservationsNotFound(c, src)
	}
	out, err := h.Inv.Reservations(c.UserContext(), src)
	if err != nil {
		return fail(c, "reservation.list", err)
	}
	return c.JSON(fiber.Map{"reservations": out})
}

// DELETE /api/v1/reservations/:sourceType/:sourceId
func (h *ReservationHandler) Release(c *fiber.Ctx) error {
	src, ok := validate.Source(c.Params("sourceType"), c.Params("sourceId"))
	if !ok {
		return badRequest(c, "source", "unknown reservation source")
	}
	if src.Type == domain.SourceOrder {
		return orderReservationsClosed(c, "release")
	}
	owned, err := h.owns(c, src)
	if err != nil {
		return fail(c, "reservation.release", err)
	}
	if !owned {
		return reservationsNotFound(c, src)
	}
	n, err := h.Inv.ReleaseReservations(c.UserContext(), src)
	if err != nil {
		return fail(c, "reservation.release", err)
	}
	applog.Audit(c, "reservation.release", map[string]any{
		"source_type": src.Type, "source_id": src.ID, "released": n,
	})
	return c.JSON(fiber.Map{"released": n})
}

// owns reports whether src belongs to the caller's session: its active cart,
// or an order it placed.
func (h *ReservationHandler) owns(c *fiber.Ctx, src domain.Source) (bool, error) {
	sid := c.Cookies("sid")
	if sid == "" {
		return false, nil
	}
	switch src.Type {
	case domain.SourceCart:
		cart, err := h.Cart.View(c.UserContext(), sid)
		if err != nil {
			return false, err
		}
		return cart.ID != 0 && strconv.FormatInt(cart.ID, 10) == src.ID, nil
	case domain.SourceOrder:
		id, ok := validate.ID(src.ID)
		if !ok {
			return false, nil
		}
		o, err := h.Orders.Get(c.UserContext(), id)
		if errors.Is(err, domain.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return o.SessionID == sid, nil
	}
	return false, nil
}

func reservationsNotFound(c *fiber.Ctx, src domain.Source) error {
	applog.Security(c, "access.denied.reservation", map[string]any{
		"source_type": src.Type, "source_id": src.ID,
	})
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "reservations not found"})
}

func orderReservationsClosed(c *fiber.Ctx, op string) error {
	applog.Security(c, "access.denied.reservation", map[string]any{"source_type": domain.SourceOrder, "op": op})
	return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
		"error": "order reservations are managed by checkout and cancellation",
	})
}
