package controllers

import (
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/QRFox/internal/pkg/billing"
	"github.com/ManuelReschke/QRFox/internal/pkg/usercontext"
)

var validate = validator.New()

func jsonError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{"error": code, "message": message})
}

// billingError maps billing sentinels to HTTP statuses.
func billingError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, billing.ErrAccountNotFound):
		return jsonError(c, fiber.StatusNotFound, "account_not_found", "Account not found")
	case errors.Is(err, billing.ErrPlanNotConfigured):
		return jsonError(c, fiber.StatusBadRequest, "plan_not_configured", err.Error())
	case errors.Is(err, billing.ErrNoOpPlanChange):
		return jsonError(c, fiber.StatusBadRequest, "no_op_plan_change", "You are already on this plan")
	case errors.Is(err, billing.ErrPlanNotFound):
		return jsonError(c, fiber.StatusNotFound, "plan_not_found", "No subscription found")
	case errors.Is(err, billing.ErrNoActivePlan):
		return jsonError(c, fiber.StatusNotFound, "no_active_plan", "No active paid plan")
	case errors.Is(err, billing.ErrAlreadyCanceled):
		return jsonError(c, fiber.StatusConflict, "already_canceled", "Subscription is already canceled")
	case errors.Is(err, billing.ErrProviderUnavailable):
		log.Errorf("[Billing] %s %s: %v", c.Method(), c.Path(), err)
		return jsonError(c, fiber.StatusBadGateway, "provider_unavailable", "Payment provider unavailable, please retry")
	}
	log.Errorf("[Billing] %s %s: %v", c.Method(), c.Path(), err)
	return jsonError(c, fiber.StatusInternalServerError, "internal_server_error", "Something went wrong")
}

// bindJSON parses and validates the request body into out. When it reports
// false the error response has already been written.
func bindJSON(c *fiber.Ctx, out interface{}) bool {
	if err := c.BodyParser(out); err != nil {
		_ = jsonError(c, fiber.StatusBadRequest, "bad_request", "Invalid request body")
		return false
	}
	if n, ok := out.(interface{ normalize() }); ok {
		n.normalize()
	}
	if err := validate.Struct(out); err != nil {
		msg := err.Error()
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			msg = verrs[0].Field() + " is invalid"
		}
		_ = jsonError(c, fiber.StatusBadRequest, "validation_failed", msg)
		return false
	}
	return true
}

// requireAccount returns the authenticated account context or writes a 401.
func requireAccount(c *fiber.Ctx) (usercontext.AccountContext, bool) {
	acc := usercontext.GetAccountContext(c)
	if !acc.IsAuthenticated || acc.AccountID == 0 {
		_ = jsonError(c, fiber.StatusUnauthorized, "unauthorized", "Missing or invalid authentication")
		return acc, false
	}
	return acc, true
}

// GetClientIP determines the client IP considering Cloudflare and proxy headers
func GetClientIP(c *fiber.Ctx) string {
	if cfIP := strings.TrimSpace(c.Get("CF-Connecting-IP")); cfIP != "" {
		return cfIP
	}
	if xff := c.Get("X-Forwarded-For"); xff != "" {
		// the first entry is the original client
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}
	return strings.TrimPrefix(c.IP(), "::ffff:")
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}
