package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"storefront/internal/domain"
	applog "storefront/internal/log"
)

func render(c *fiber.Ctx, tmpl string, data fiber.Map) error {
	if data == nil {
		data = fiber.Map{}
	}
	if ok, _ := c.Locals("admin").(bool); ok {
		data["Admin"] = true
	}
	return c.Render(tmpl, data)
}

func badRequest(c *fiber.Ctx, field, msg string) error {
	applog.Security(c, "validation.fail", map[string]any{"field": field})
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}

// fail turns a service error into a JSON response. Stock refusals and caller
// mistakes keep their message; infrastructure failures never leak details.
func fail(c *fiber.Ctx, action string, err error) error {
	if ise, ok := domain.IsInsufficientStock(err); ok {
		applog.Info(c, action+".insufficient", map[string]any{"items": len(ise.Items)})
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": "insufficient stock",
			"items": ise.Items,
		})
	}

	status := fiber.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = fiber.StatusNotFound
	case errors.Is(err, domain.ErrInvalidQuantity),
		errors.Is(err, domain.ErrInvalidSource),
		errors.Is(err, domain.ErrMissingReason),
		errors.Is(err, domain.ErrEmptyCart):
		status = fiber.StatusBadRequest
	case errors.Is(err, domain.ErrIllegalTransition),
		errors.Is(err, domain.ErrCartNotActive),
		errors.Is(err, domain.ErrReservationLapsed):
		status = fiber.StatusConflict
	case errors.Is(err, domain.ErrConflict):
		applog.Error(c, action+".busy", err, nil)
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "busy, please try again"})
	}
	if status == fiber.StatusInternalServerError {
		applog.Error(c, action+".fail", err, nil)
		return c.Status(status).JSON(fiber.Map{"error": "something went wrong, please try again"})
	}
	applog.Security(c, action+".reject", map[string]any{"error": err.Error()})
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

// ErrorHandler is the app-wide fallback. Client errors raised by fiber keep
// their message; anything else is logged and answered with a friendly one.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) && fe.Code < fiber.StatusInternalServerError {
		return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
	}
	applog.Error(c, "server.error", err, nil)
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "something went wrong, please try again"})
}
