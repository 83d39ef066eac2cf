package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"storefront/internal/domain"
	applog "storefront/internal/log"
	"storefront/internal/services"
	"storefront/internal/validate"
)

type AdminHandler struct {
	Ledger    *services.Ledger
	Orders    *services.OrderService
	Sweeper   *services.Sweeper
	Warehouse int64
}

// GET /admin/inventory
func (h *AdminHandler) Inventory(c *fiber.Ctx) error {
	rows, err := h.Ledger.Items(c.UserContext())
	if err != nil {
		applog.Error(c, "admin.inventory.list.fail", err, nil)
		return c.Status(fiber.StatusInternalServerError).Render("notfound", fiber.Map{"Message": "Could not load inventory"})
	}
	ords, err := h.Orders.List(c.UserContext(), 25)
	if err != nil {
		applog.Error(c, "admin.orders.list.fail", err, nil)
	}
	return render(c, "admin_inventory", fiber.Map{"Rows": rows, "Orders": ords})
}

type stockRequest struct {
	VariantID     int64  `json:"variant_id"`
	WarehouseID   int64  `json:"warehouse_id"`
	Delta         int    `json:"delta"`
	Quantity      int    `json:"quantity"`
	SafetyStock   int    `json:"safety_stock"`
	Reason        string `json:"reason"`
	ReferenceType string `json:"reference_type"`
	ReferenceID   string `json:"reference_id"`
}

func (h *AdminHandler) parseStock(c *fiber.Ctx) (stockRequest, domain.StockKey, bool) {
	var req stockRequest
	if err := c.BodyParser(&req); err != nil || req.VariantID < 1 || req.WarehouseID < 0 {
		return req, domain.StockKey{}, false
	}
	if req.WarehouseID == 0 {
		req.WarehouseID = h.Warehouse
	}
	return req, domain.StockKey{VariantID: req.VariantID, WarehouseID: req.WarehouseID}, true
}

// POST /admin/api/stock/adjust
func (h *AdminHandler) Adjust(c *fiber.Ctx) error {
	req, key, ok := h.parseStock(c)
	if !ok {
		return badRequest(c, "variant_id", "variant_id is required")
	}
	reason, ok := validate.Reason(req.Reason)
	if !ok {
		return badRequest(c, "reason", "reason must be a snake_case code")
	}
	var ref *domain.Reference
	if req.ReferenceType != "" || req.ReferenceID != "" {
		ref = &domain.Reference{Type: strings.TrimSpace(req.ReferenceType), ID: strings.TrimSpace(req.ReferenceID)}
	}

	adj, err := h.Ledger.AdjustQuantity(c.UserContext(), key, req.Delta, reason, ref)
	if err != nil {
		return fail(c, "admin.stock.adjust", err)
	}
	applog.Audit(c, "admin.stock.adjust", map[string]any{
		"variant_id": key.VariantID, "warehouse_id": key.WarehouseID,
		"delta": req.Delta, "applied": adj.Applied, "reason": reason, "clamped": adj.Clamped,
	})
	return c.JSON(adj)
}

// POST /admin/api/stock/set
func (h *AdminHandler) Set(c *fiber.Ctx) error {
	req, key, ok := h.parseStock(c)
	if !ok {
		return badRequest(c, "variant_id", "variant_id is required")
	}
	reason, ok := validate.Reason(req.Reason)
	if !ok {
		return badRequest(c, "reason", "reason must be a snake_case code")
	}
	if req.Quantity < 0 {
		return badRequest(c, "quantity", "quantity must not be negative")
	}

	adj, err := h.Ledger.SetQuantity(c.UserContext(), key, req.Quantity, reason)
	if err != nil {
		return fail(c, "admin.stock.set", err)
	}
	applog.Audit(c, "admin.stock.set", map[string]any{
		"variant_id": key.VariantID, "warehouse_id": key.WarehouseID,
		"quantity": req.Quantity, "applied": adj.Applied, "reason": reason,
	})
	return c.JSON(adj)
}

// POST /admin/api/stock/safety
func (h *AdminHandler) Safety(c *fiber.Ctx) error {
	req, key, ok := h.parseStock(c)
	if !ok {
		return badRequest(c, "variant_id", "variant_id is required")
	}
	if req.SafetyStock < 0 {
		return badRequest(c, "safety_stock", "safety_stock must not be negative")
	}
	if err := h.Ledger.SetSafetyStock(c.UserContext(), key, req.SafetyStock); err != nil {
		return fail(c, "admin.stock.safety", err)
	}
	applog.Audit(c, "admin.stock.safety", map[string]any{
		"variant_id": key.VariantID, "warehouse_id": key.WarehouseID, "safety_stock": req.SafetyStock,
	})
	return c.JSON(fiber.Map{"variant_id": key.VariantID, "warehouse_id": key.WarehouseID, "safety_stock": req.SafetyStock})
}

// GET /admin/api/stock/movements?variant=1&warehouse=1&limit=50
func (h *AdminHandler) Movements(c *fiber.Ctx) error {
	vid, ok := validate.ID(c.Query("variant"))
	if !ok {
		return badRequest(c, "variant", "variant is required")
	}
	key := domain.StockKey{VariantID: vid, WarehouseID: h.Warehouse}
	if raw := c.Query("warehouse"); raw != "" {
		if key.WarehouseID, ok = validate.ID(raw); !ok {
			return badRequest(c, "warehouse", "warehouse must be a positive id")
		}
	}
	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 500 {
		limit = 50
	}
	movs, err := h.Ledger.Movements(c.UserContext(), key, limit)
	if err != nil {
		return fail(c, "admin.stock.movements", err)
	}
	return c.JSON(fiber.Map{"movements": movs})
}

// GET /admin/api/stock/reconcile
func (h *AdminHandler) Reconcile(c *fiber.Ctx) error {
	mm, err := h.Ledger.Reconcile(c.UserContext())
	if err != nil {
		return fail(c, "admin.stock.reconcile", err)
	}
	applog.Audit(c, "admin.stock.reconcile", map[string]any{"mismatches": len(mm)})
	return c.JSON(fiber.Map{"ok": len(mm) == 0, "mismatches": mm})
}

// POST /admin/api/reservations/sweep
func (h *AdminHandler) Sweep(c *fiber.Ctx) error {
	srcs, err := h.Sweeper.SweepOnce(c.UserContext())
	if err != nil {
		return fail(c, "admin.reservations.sweep", err)
	}
	applog.Audit(c, "admin.reservations.sweep", map[string]any{"sources": len(srcs)})
	if srcs == nil {
		srcs = []domain.Source{}
	}
	return c.JSON(fiber.Map{"expired": srcs})
}
