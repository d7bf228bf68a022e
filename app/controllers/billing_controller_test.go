package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/ManuelReschke/QRFox/app/models"
	"github.com/ManuelReschke/QRFox/internal/pkg/billing"
	"github.com/ManuelReschke/QRFox/internal/pkg/billing/billingtest"
	"github.com/ManuelReschke/QRFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/QRFox/internal/pkg/middleware"
	"github.com/ManuelReschke/QRFox/internal/pkg/usercontext"
)

const testWebhookSecret = "whsec_test_secret"

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	app      *fiber.App
	store    *billingtest.MemoryStore
	accounts *billingtest.MemoryAccounts
	provider *billingtest.FakeProvider
	queue    *billingtest.MemoryDeadLetterQueue
}

func parentID(id uint) *uint { return &id }

func timePtr(t time.Time) *time.Time { return &t }

// newTestEnv wires the controllers against in-memory doubles. The X-Test-Account
// header stands in for API key authentication.
func newTestEnv(t *testing.T, secret string, accounts ...models.Account) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    billingtest.NewMemoryStore(),
		accounts: billingtest.NewMemoryAccounts(accounts...),
		provider: billingtest.NewFakeProvider(),
		queue:    billingtest.NewMemoryDeadLetterQueue(),
	}
	env.provider.Prices["prod_lite"] = []billing.Price{
		{ID: "price_lite_month", ProductID: "prod_lite", Interval: billing.IntervalMonth, UnitAmount: 900, Active: true},
		{ID: "price_lite_year", ProductID: "prod_lite", Interval: billing.IntervalYear, UnitAmount: 9000, Active: true},
	}

	now := func() time.Time { return testNow }
	svc := billing.NewService(billing.Deps{
		Store:    env.store,
		Accounts: env.accounts,
		Provider: env.provider,
		Catalog:  billing.NewCatalog(map[entitlements.Plan]string{entitlements.PlanLite: "prod_lite"}),
		Config:   billing.Config{SuccessURL: "https://app.test/ok", CancelURL: "https://app.test/cancel"},
		Now:      now,
	})
	resolver := entitlements.NewResolver(env.accounts, env.store).WithClock(now)
	processor := billing.NewWebhookProcessor(env.store, svc.Webhooks, env.queue)

	bc := NewBillingController(svc, resolver, processor, secret)
	ac := NewAccountController(env.accounts, resolver)

	app := fiber.New()
	app.Post("/billing/webhook", bc.HandleWebhook)
	app.Use(func(c *fiber.Ctx) error {
		raw := c.Get("X-Test-Account")
		if raw == "" {
			return c.Next()
		}
		id, _ := strconv.Atoi(raw)
		account, err := env.accounts.GetByID(c.UserContext(), uint(id))
		if err != nil {
			return c.SendStatus(fiber.StatusUnauthorized)
		}
		c.Locals(usercontext.KeyContext, usercontext.AccountContext{
			AccountID:       account.ID,
			Email:           account.Email,
			IsAuthenticated: true,
			IsSubAccount:    account.IsSubAccount(),
		})
		return c.Next()
	})
	app.Post("/billing/checkout", bc.HandleCheckout)
	app.Post("/billing/change-plan", bc.HandleChangePlan)
	app.Post("/billing/cancel", bc.HandleCancel)
	app.Post("/billing/revoke-cancel", bc.HandleRevokeCancel)
	app.Get("/billing/summary", bc.HandleSummary)
	app.Get("/billing/plan", bc.HandlePlan)
	app.Get("/billing/subscription-info", bc.HandleSubscriptionInfo)
	app.Get("/account", ac.HandleGetAccount)
	app.Get("/account/limits", middleware.RequirePaidAccess(resolver), ac.HandleGetLimits)
	env.app = app
	return env
}

func (e *testEnv) do(t *testing.T, method, path string, account uint, body string) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if account != 0 {
		req.Header.Set("X-Test-Account", strconv.Itoa(int(account)))
	}
	return e.send(t, req)
}

func (e *testEnv) send(t *testing.T, req *http.Request) (int, map[string]interface{}) {
	t.Helper()
	resp, err := e.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := map[string]interface{}{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp.StatusCode, out
}

func signedWebhook(t *testing.T, secret string, payload []byte) *http.Request {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	req := httptest.NewRequest(http.MethodPost, "/billing/webhook", bytes.NewReader(signed.Payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Stripe-Signature", signed.Header)
	return req
}

func stripeEvent(id, typ, object string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"object":"event","api_version":"2025-07-30.basil","type":%q,"created":1773144000,"data":{"object":%s}}`, id, typ, object))
}

func TestHandleCheckout(t *testing.T) {
	env := newTestEnv(t, testWebhookSecret,
		models.Account{ID: 1, Email: "owner@example.com"},
		models.Account{ID: 2, Email: "member@example.com", ParentAccountID: parentID(1)},
	)

	status, body := env.do(t, http.MethodPost, "/billing/checkout", 0, `{"plan_id":"LITE"}`)
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", body["error"])

	status, body = env.do(t, http.MethodPost, "/billing/checkout", 2, `{"plan_id":"LITE"}`)
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Equal(t, "sub_account", body["error"])

	status, body = env.do(t, http.MethodPost, "/billing/checkout", 1, `{"plan_id":"GOLD"}`)
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "validation_failed", body["error"])

	status, body = env.do(t, http.MethodPost, "/billing/checkout", 1, `{"plan_id":"BUSINESS"}`)
	assert.Equal(t, fiber.StatusBadRequest, status, "BUSINESS has no product in this catalog")
	assert.Equal(t, "plan_not_configured", body["error"])

	status, body = env.do(t, http.MethodPost, "/billing/checkout", 1, `{"plan_id":" lite "}`)
	require.Equal(t, fiber.StatusCreated, status)
	assert.NotEmpty(t, body["url"])
	assert.NotEmpty(t, body["session_id"])

	recs := env.store.All()
	require.Len(t, recs, 1)
	assert.Equal(t, "LITE", recs[0].PlanID)
	assert.False(t, recs[0].IsConfirmed())
}

func TestHandleCheckout_ProviderDown(t *testing.T) {
	env := newTestEnv(t, testWebhookSecret, models.Account{ID: 1, Email: "owner@example.com"})
	env.provider.Fail("CreateCustomer", nil)

	status, body := env.do(t, http.MethodPost, "/billing/checkout", 1, `{"plan_id":"LITE"}`)
	assert.Equal(t, fiber.StatusBadGateway, status)
	assert.Equal(t, "provider_unavailable", body["error"])
}

func TestHandleCancel_WithoutPlan(t *testing.T) {
	env := newTestEnv(t, testWebhookSecret, models.Account{ID: 1, Email: "owner@example.com"})

	status, body := env.do(t, http.MethodPost, "/billing/cancel", 1, "")
	assert.Equal(t, fiber.StatusNotFound, status)
	assert.Equal(t, "plan_not_found", body["error"])

	status, _ = env.do(t, http.MethodGet, "/billing/plan", 1, "")
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestHandleSubscriptionInfo_Trial(t *testing.T) {
	env := newTestEnv(t, testWebhookSecret, models.Account{
		ID:             1,
		Email:          "owner@example.com",
		TrialExpiresAt: timePtr(testNow.Add(24 * time.Hour)),
	})

	status, body := env.do(t, http.MethodGet, "/billing/subscription-info", 1, "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["trialValid"])
	assert.Equal(t, true, body["isValid"])
	assert.Equal(t, false, body["hadSubscribed"])
}

func TestHandleWebhook_Signature(t *testing.T) {
	env := newTestEnv(t, testWebhookSecret)
	payload := stripeEvent("evt_sig", "charge.refunded", `{"id":"ch_1","object":"charge"}`)

	status, body := env.send(t, signedWebhook(t, "whsec_wrong", payload))
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "invalid_signature", body["error"])

	req := httptest.NewRequest(http.MethodPost, "/billing/webhook", bytes.NewReader(payload))
	status, _ = env.send(t, req)
	assert.Equal(t, fiber.StatusBadRequest, status, "missing header")

	assert.Empty(t, env.store.Events(), "rejected deliveries never reach the ledger")
}

func TestHandleWebhook_NotConfigured(t *testing.T) {
	env := newTestEnv(t, "")
	payload := stripeEvent("evt_1", "charge.refunded", `{"id":"ch_1","object":"charge"}`)

	status, body := env.send(t, signedWebhook(t, testWebhookSecret, payload))
	assert.Equal(t, fiber.StatusServiceUnavailable, status)
	assert.Equal(t, "webhook_not_configured", body["error"])
}

func TestHandleWebhook_IgnoredThenDuplicate(t *testing.T) {
	env := newTestEnv(t, testWebhookSecret)
	payload := stripeEvent("evt_dup", "charge.refunded", `{"id":"ch_1","object":"charge"}`)

	status, body := env.send(t, signedWebhook(t, testWebhookSecret, payload))
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["ok"])
	assert.Nil(t, body["duplicate"])

	status, body = env.send(t, signedWebhook(t, testWebhookSecret, payload))
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["duplicate"])

	require.Len(t, env.store.Events(), 1)
}

func TestHandleWebhook_CheckoutLifecycle(t *testing.T) {
	env := newTestEnv(t, testWebhookSecret, models.Account{ID: 1, Email: "owner@example.com"})

	status, body := env.do(t, http.MethodPost, "/billing/checkout", 1, `{"plan_id":"LITE"}`)
	require.Equal(t, fiber.StatusCreated, status)
	session := body["session_id"].(string)
	account, err := env.accounts.GetByID(context.Background(), 1)
	require.NoError(t, err)
	customer := account.CustomerID()
	require.NotEmpty(t, customer)

	completed := stripeEvent("evt_c", "checkout.session.completed",
		fmt.Sprintf(`{"id":%q,"object":"checkout.session","customer":%q,"subscription":"sub_1"}`, session, customer))
	status, _ = env.send(t, signedWebhook(t, testWebhookSecret, completed))
	require.Equal(t, fiber.StatusOK, status)

	paid := stripeEvent("evt_p", "invoice.payment_succeeded",
		fmt.Sprintf(`{"id":"in_1","object":"invoice","customer":%q,"subscription":"sub_1","status":"paid","amount_paid":900}`, customer))
	status, _ = env.send(t, signedWebhook(t, testWebhookSecret, paid))
	require.Equal(t, fiber.StatusOK, status)

	status, body = env.do(t, http.MethodGet, "/billing/subscription-info", 1, "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["isValid"])
	assert.Equal(t, "LITE", body["planName"])

	status, body = env.do(t, http.MethodGet, "/account/limits", 1, "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, float64(50), body["dynamic_qr_codes"])
	assert.Equal(t, true, body["premium_design"])
}

func TestHandleGetAccount(t *testing.T) {
	env := newTestEnv(t, testWebhookSecret, models.Account{ID: 1, Email: "owner@example.com", Name: "Owner"})

	status, body := env.do(t, http.MethodGet, "/account", 1, "")
	require.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "owner@example.com", body["email"])
	limits := body["limits"].(map[string]interface{})
	assert.Equal(t, float64(0), limits["dynamic_qr_codes"])

	status, body = env.do(t, http.MethodGet, "/account/limits", 1, "")
	assert.Equal(t, fiber.StatusPaymentRequired, status)
	assert.Equal(t, "payment_required", body["error"])
}
