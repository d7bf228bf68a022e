package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/QRFox/app/models"
	"github.com/ManuelReschke/QRFox/internal/pkg/usercontext"
)

// AccountKeyLookup resolves an API key hash to its account.
type AccountKeyLookup interface {
	GetByAPIKeyHash(ctx context.Context, hash string) (*models.Account, error)
}

// APIKeyAuthMiddleware authenticates requests carrying an account API key header.
func APIKeyAuthMiddleware(accounts AccountKeyLookup) fiber.Handler {
	return func(c *fiber.Ctx) error {
		apiKey := extractAPIKeyFromHeader(c)
		if apiKey == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing API key"})
		}

		account, err := accounts.GetByAPIKeyHash(c.UserContext(), models.HashAPIKey(apiKey))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid API key"})
			}
			log.Errorf("api key lookup failed: %v", err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "internal_server_error", "message": "API key verification failed"})
		}

		c.Locals(usercontext.KeyContext, usercontext.AccountContext{
			AccountID:       account.ID,
			Name:            account.Name,
			Email:           account.Email,
			Role:            account.Role,
			IsAuthenticated: true,
			IsAdmin:         account.Role == models.ROLE_ADMIN,
			IsSubAccount:    account.IsSubAccount(),
		})
		c.Locals(usercontext.KeyFromProtected, true)
		c.Locals(usercontext.KeyAccountID, account.ID)
		c.Locals(usercontext.KeyIsAdmin, account.Role == models.ROLE_ADMIN)

		return c.Next()
	}
}

func extractAPIKeyFromHeader(c *fiber.Ctx) string {
	apiKey := strings.TrimSpace(c.Get("X-API-Key"))
	if apiKey != "" {
		return apiKey
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
