package router

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/QRFox/app/controllers"
	"github.com/ManuelReschke/QRFox/internal/pkg/constants"
	"github.com/ManuelReschke/QRFox/internal/pkg/middleware"
)

// Dependencies are the handlers and lookups the API routes are built from.
type Dependencies struct {
	Accounts middleware.AccountKeyLookup
	Resolver middleware.EntitlementResolver
	Billing  *controllers.BillingController
	Account  *controllers.AccountController
	// LimiterStorage backs the API rate limiter; nil keeps counters in memory.
	LimiterStorage fiber.Storage
}

type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group(constants.APIRoute, limiter.New(limiter.Config{
		Max:        60,
		Expiration: time.Minute,
		Storage:    h.deps.LimiterStorage,
		// provider retries must never be throttled
		Next: func(c *fiber.Ctx) bool {
			return strings.HasPrefix(c.Path(), constants.BillingWebhookRoute)
		},
	}))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")

	// Signed by the provider, no API key. Registered before the billing group so
	// the group middleware is never reached.
	v1.Post(constants.BillingRoute+"/webhook", h.deps.Billing.HandleWebhook)

	auth := middleware.APIKeyAuthMiddleware(h.deps.Accounts)

	billing := v1.Group(constants.BillingRoute, auth)
	billing.Post("/checkout", h.deps.Billing.HandleCheckout)
	billing.Post("/change-plan", h.deps.Billing.HandleChangePlan)
	billing.Post("/cancel", h.deps.Billing.HandleCancel)
	billing.Post("/revoke-cancel", h.deps.Billing.HandleRevokeCancel)
	billing.Get("/summary", h.deps.Billing.HandleSummary)
	billing.Get("/plan", h.deps.Billing.HandlePlan)
	billing.Get("/subscription-info", h.deps.Billing.HandleSubscriptionInfo)

	account := v1.Group(constants.AccountRoute, auth)
	account.Get("/", h.deps.Account.HandleGetAccount)
	account.Get("/limits", middleware.RequirePaidAccess(h.deps.Resolver), h.deps.Account.HandleGetLimits)
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
