package controllers

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/ManuelReschke/QRFox/internal/pkg/billing"
	"github.com/ManuelReschke/QRFox/internal/pkg/entitlements"
)

// MaxWebhookBodyBytes bounds the provider payload accepted by HandleWebhook.
const MaxWebhookBodyBytes = 1 << 20

// EntitlementResolver computes the entitlement of an account.
type EntitlementResolver interface {
	Resolve(ctx context.Context, accountID uint) entitlements.Entitlement
}

// BillingController serves /api/v1/billing.
type BillingController struct {
	svc           *billing.Service
	resolver      EntitlementResolver
	processor     *billing.WebhookProcessor
	webhookSecret string
}

func NewBillingController(svc *billing.Service, resolver EntitlementResolver, processor *billing.WebhookProcessor, webhookSecret string) *BillingController {
	return &BillingController{
		svc:           svc,
		resolver:      resolver,
		processor:     processor,
		webhookSecret: webhookSecret,
	}
}

type CheckoutBody struct {
	PlanID       string `json:"plan_id" validate:"required,oneof=STARTER LITE BUSINESS PROFESSIONAL"`
	Annual       bool   `json:"annual"`
	FromHomePage bool   `json:"from_home_page"`
}

type ChangePlanBody struct {
	PlanID string `json:"plan_id" validate:"required,oneof=STARTER LITE BUSINESS PROFESSIONAL"`
	Annual bool   `json:"annual"`
}

func (b *CheckoutBody) normalize()   { b.PlanID = strings.ToUpper(strings.TrimSpace(b.PlanID)) }
func (b *ChangePlanBody) normalize() { b.PlanID = strings.ToUpper(strings.TrimSpace(b.PlanID)) }

// HandleCheckout opens a hosted checkout session for the account.
func (bc *BillingController) HandleCheckout(c *fiber.Ctx) error {
	acc, ok := requireAccount(c)
	if !ok {
		return nil
	}
	if acc.IsSubAccount {
		return jsonError(c, fiber.StatusForbidden, "sub_account", "Sub-accounts are billed through their parent account")
	}

	var body CheckoutBody
	if !bindJSON(c, &body) {
		return nil
	}

	res, err := bc.svc.Checkout.Initiate(c.UserContext(), billing.CheckoutRequest{
		AccountID:    acc.AccountID,
		PlanID:       entitlements.Plan(body.PlanID),
		Annual:       body.Annual,
		FromHomePage: body.FromHomePage,
	})
	if err != nil {
		return billingError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

// HandleChangePlan schedules a plan change at the end of the current period.
func (bc *BillingController) HandleChangePlan(c *fiber.Ctx) error {
	acc, ok := requireAccount(c)
	if !ok {
		return nil
	}
	var body ChangePlanBody
	if !bindJSON(c, &body) {
		return nil
	}

	res, err := bc.svc.PlanChange.Change(c.UserContext(), billing.PlanChangeRequest{
		AccountID: acc.AccountID,
		PlanID:    entitlements.Plan(body.PlanID),
		Annual:    body.Annual,
	})
	if err != nil {
		return billingError(c, err)
	}
	return c.JSON(res)
}

func (bc *BillingController) HandleCancel(c *fiber.Ctx) error {
	acc, ok := requireAccount(c)
	if !ok {
		return nil
	}
	res, err := bc.svc.Cancellation.RequestCancel(c.UserContext(), acc.AccountID)
	if err != nil {
		return billingError(c, err)
	}
	return c.JSON(res)
}

func (bc *BillingController) HandleRevokeCancel(c *fiber.Ctx) error {
	acc, ok := requireAccount(c)
	if !ok {
		return nil
	}
	rec, err := bc.svc.Cancellation.RevokeCancel(c.UserContext(), acc.AccountID)
	if err != nil {
		return billingError(c, err)
	}
	return c.JSON(fiber.Map{"cancel_requested": false, "subscription": rec})
}

func (bc *BillingController) HandleSummary(c *fiber.Ctx) error {
	acc, ok := requireAccount(c)
	if !ok {
		return nil
	}
	summary, err := bc.svc.Invoices.Summary(c.UserContext(), acc.AccountID)
	if err != nil {
		return billingError(c, err)
	}
	return c.JSON(summary)
}

func (bc *BillingController) HandlePlan(c *fiber.Ctx) error {
	acc, ok := requireAccount(c)
	if !ok {
		return nil
	}
	details, err := bc.svc.Invoices.PlanDetails(c.UserContext(), acc.AccountID)
	if err != nil {
		return billingError(c, err)
	}
	return c.JSON(details)
}

// HandleSubscriptionInfo returns the entitlement, inherited from the parent for sub-accounts.
func (bc *BillingController) HandleSubscriptionInfo(c *fiber.Ctx) error {
	acc, ok := requireAccount(c)
	if !ok {
		return nil
	}
	return c.JSON(bc.resolver.Resolve(c.UserContext(), acc.AccountID))
}

// HandleWebhook verifies and reconciles a provider notification. Once the
// payload is authenticated the answer is always 200 so the provider does not
// retry events that failed locally; those go to the dead-letter queue.
func (bc *BillingController) HandleWebhook(c *fiber.Ctx) error {
	if bc.webhookSecret == "" {
		log.Error("[Webhook] STRIPE_WEBHOOK_SECRET is not configured")
		return jsonError(c, fiber.StatusServiceUnavailable, "webhook_not_configured", "Webhook secret missing")
	}
	payload := append([]byte(nil), c.Body()...)
	if len(payload) > MaxWebhookBodyBytes {
		return jsonError(c, fiber.StatusRequestEntityTooLarge, "payload_too_large", "Webhook payload too large")
	}

	stripeEvent, err := webhook.ConstructEventWithOptions(payload, c.Get("Stripe-Signature"), bc.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		log.Warnf("[Webhook] rejected delivery from %s: %v", GetClientIP(c), err)
		return jsonError(c, fiber.StatusBadRequest, "invalid_signature", "Webhook signature verification failed")
	}

	ev, err := billing.ParseStripeEvent(stripeEvent)
	if err != nil {
		log.Warnf("[Webhook] unparseable event: %v", err)
		return jsonError(c, fiber.StatusBadRequest, "malformed_event", err.Error())
	}

	res := bc.processor.Process(c.UserContext(), ev, payload)
	if res.Duplicate {
		return c.JSON(fiber.Map{"ok": true, "duplicate": true})
	}
	return c.JSON(fiber.Map{"ok": true})
}
