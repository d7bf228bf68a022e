package controllers

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/QRFox/app/models"
	"github.com/ManuelReschke/QRFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/QRFox/internal/pkg/middleware"
)

// AccountReader loads accounts by id.
type AccountReader interface {
	GetByID(ctx context.Context, id uint) (*models.Account, error)
}

type AccountController struct {
	accounts AccountReader
	resolver EntitlementResolver
}

func NewAccountController(accounts AccountReader, resolver EntitlementResolver) *AccountController {
	return &AccountController{accounts: accounts, resolver: resolver}
}

// AccountLimits describes what the entitlement unlocks.
type AccountLimits struct {
	DynamicQRCodes int  `json:"dynamic_qr_codes"`
	PremiumDesign  bool `json:"premium_design"`
}

func limitsFor(ent entitlements.Entitlement) AccountLimits {
	return AccountLimits{
		DynamicQRCodes: entitlements.DynamicQRCodeLimit(ent),
		PremiumDesign:  entitlements.AllowsPremiumDesign(ent),
	}
}

// HandleGetAccount returns the account together with its entitlement and limits.
func (ac *AccountController) HandleGetAccount(c *fiber.Ctx) error {
	acc, ok := requireAccount(c)
	if !ok {
		return nil
	}

	account, err := ac.accounts.GetByID(c.UserContext(), acc.AccountID)
	if err != nil {
		return jsonError(c, fiber.StatusNotFound, "account_not_found", "Account not found")
	}

	ent := ac.resolver.Resolve(c.UserContext(), account.ID)
	return c.JSON(fiber.Map{
		"id":               account.ID,
		"name":             account.Name,
		"email":            account.Email,
		"role":             account.Role,
		"is_sub_account":   account.IsSubAccount(),
		"trial_expires_at": formatTimePtr(account.TrialExpiresAt),
		"created_at":       account.CreatedAt,
		"entitlement":      ent,
		"limits":           limitsFor(ent),
	})
}

// HandleGetLimits sits behind RequirePaidAccess and reuses its entitlement.
func (ac *AccountController) HandleGetLimits(c *fiber.Ctx) error {
	ent, ok := middleware.EntitlementFrom(c)
	if !ok {
		acc, authed := requireAccount(c)
		if !authed {
			return nil
		}
		ent = ac.resolver.Resolve(c.UserContext(), acc.AccountID)
	}
	return c.JSON(limitsFor(ent))
}
