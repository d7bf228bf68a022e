package middleware

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/QRFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/QRFox/internal/pkg/usercontext"
)

// EntitlementResolver computes the entitlement of an account.
type EntitlementResolver interface {
	Resolve(ctx context.Context, accountID uint) entitlements.Entitlement
}

// RequirePaidAccess rejects accounts without trial or paid access with 402.
// The entitlement is stored in Locals for the handlers behind it.
func RequirePaidAccess(resolver EntitlementResolver) fiber.Handler {
	return func(c *fiber.Ctx) error {
		accountID := usercontext.GetAccountID(c)
		if accountID == 0 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "login required"})
		}
		ent := resolver.Resolve(c.UserContext(), accountID)
		if !ent.HasPaidAccess {
			return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{
				"error":   "payment_required",
				"message": "An active subscription or trial is required",
			})
		}
		c.Locals(usercontext.KeyEntitlement, ent)
		return c.Next()
	}
}

// EntitlementFrom returns the entitlement stored by RequirePaidAccess.
func EntitlementFrom(c *fiber.Ctx) (entitlements.Entitlement, bool) {
	ent, ok := c.Locals(usercontext.KeyEntitlement).(entitlements.Entitlement)
	return ent, ok
}
