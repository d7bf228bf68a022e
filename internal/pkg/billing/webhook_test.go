package billing_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/QRFox/app/models"
	"github.com/ManuelReschke/QRFox/internal/pkg/billing"
	"github.com/ManuelReschke/QRFox/internal/pkg/entitlements"
)

func eventJSON(id, typ, object string) []byte {
	return []byte(fmt.Sprintf(`{"id":%q,"object":"event","type":%q,"created":1773144000,"data":{"object":%s}}`, id, typ, object))
}

func subscriptionObject(sub, customer, status, price, product, interval string) string {
	return fmt.Sprintf(`{"id":%q,"object":"subscription","customer":%q,"status":%q,
		"items":{"data":[{"id":"si_%s","price":{"id":%q,"product":%q,"unit_amount":1900,"recurring":{"interval":%q}}}]}}`,
		sub, customer, status, sub, price, product, interval)
}

func invoiceObject(id, sub, customer, status string, paid int64) string {
	return fmt.Sprintf(`{"id":%q,"object":"invoice","customer":%q,"subscription":%q,"status":%q,"amount_paid":%d}`,
		id, customer, sub, status, paid)
}

func mustEvent(t *testing.T, payload []byte) billing.Event {
	t.Helper()
	ev, err := billing.ParseEventJSON(payload)
	require.NoError(t, err)
	return ev
}

func reconcile(t *testing.T, f *fixture, payload []byte) (billing.Outcome, error) {
	t.Helper()
	return f.svc.Webhooks.Reconcile(context.Background(), mustEvent(t, payload))
}

func startCheckout(t *testing.T, f *fixture, accountID uint, plan entitlements.Plan) *billing.CheckoutResult {
	t.Helper()
	res, err := f.svc.Checkout.Initiate(context.Background(), billing.CheckoutRequest{AccountID: accountID, PlanID: plan})
	require.NoError(t, err)
	return res
}

func TestParseEventJSON(t *testing.T) {
	ev := mustEvent(t, eventJSON("evt_1", "invoice.payment_succeeded",
		`{"id":"in_1","customer":{"id":"cus_1","object":"customer"},"status":"paid","amount_paid":900,
		  "parent":{"subscription_details":{"subscription":"sub_9"}}}`))
	assert.Equal(t, billing.KindInvoicePaymentSucceeded, ev.Kind)
	require.NotNil(t, ev.Invoice)
	assert.Equal(t, "cus_1", ev.Invoice.CustomerID)
	assert.Equal(t, "sub_9", ev.Invoice.SubscriptionID)
	assert.Equal(t, int64(900), ev.Invoice.AmountPaid)

	ev = mustEvent(t, eventJSON("evt_2", "customer.subscription.updated",
		`{"id":"sub_1","customer":"cus_1","status":"active","default_payment_method":"pm_1",
		  "items":{"data":[{"id":"si_1","plan":{"id":"price_x","product":"prod_lite","interval":"year","amount":9000}}]}}`))
	require.NotNil(t, ev.Subscription)
	assert.Equal(t, "price_x", ev.Subscription.PriceID)
	assert.Equal(t, "prod_lite", ev.Subscription.ProductID)
	assert.Equal(t, "year", ev.Subscription.Interval)
	assert.Equal(t, "pm_1", ev.Subscription.DefaultPaymentMethod)

	ev = mustEvent(t, eventJSON("evt_3", "charge.refunded", `{"id":"ch_1"}`))
	assert.Equal(t, billing.KindUnknown, ev.Kind)

	_, err := billing.ParseEventJSON([]byte(`{"type":"invoice.payment_failed"}`))
	assert.ErrorIs(t, err, billing.ErrMalformedEvent)
	_, err = billing.ParseEventJSON([]byte(`not json`))
	assert.ErrorIs(t, err, billing.ErrMalformedEvent)
}

func TestWebhook_CheckoutLifecycle(t *testing.T) {
	f := newFixture(models.Account{ID: 1, Email: "owner@example.com", ProviderCustomerID: strPtr("cus_1")})
	res := startCheckout(t, f, 1, entitlements.PlanLite)

	out, err := reconcile(t, f, eventJSON("evt_1", "customer.subscription.created",
		subscriptionObject("sub_1", "cus_1", "incomplete", "price_lite_month", productLite, "month")))
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeApplied, out)

	out, err = reconcile(t, f, eventJSON("evt_2", "checkout.session.completed", fmt.Sprintf(
		`{"id":%q,"customer":"cus_1","subscription":"sub_1","customer_details":{"address":{"city":"Leipzig","country":"DE","line1":"Main 1","postal_code":"04109"}}}`,
		res.SessionID)))
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeApplied, out)

	paid := eventJSON("evt_3", "invoice.payment_succeeded", invoiceObject("in_1", "sub_1", "cus_1", "paid", 900))
	out, err = reconcile(t, f, paid)
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeApplied, out)

	recs := f.store.All()
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, "sub_1", rec.SubscriptionID())
	assert.True(t, rec.PaymentStatus)
	assert.True(t, rec.HadSubscribed)
	assert.Equal(t, int64(900), rec.PaidAmount)
	assert.Equal(t, "Leipzig", rec.BillingAddress.City)

	acc, err := f.accounts.GetByID(context.Background(), 1)
	require.NoError(t, err)
	require.NotNil(t, acc.SubscriptionRecordID)
	assert.Equal(t, rec.ID, *acc.SubscriptionRecordID)

	out, err = reconcile(t, f, paid)
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeNoop, out, "redelivery changes nothing")
	assert.Equal(t, rec, f.store.All()[0])
}

func TestWebhook_InvoiceBeforeSubscriptionCreated(t *testing.T) {
	f := newFixture(models.Account{ID: 1, ProviderCustomerID: strPtr("cus_1")})
	startCheckout(t, f, 1, entitlements.PlanStarter)

	_, err := reconcile(t, f, eventJSON("evt_1", "invoice.payment_succeeded", invoiceObject("in_1", "sub_1", "cus_1", "paid", 900)))
	require.NoError(t, err)

	out, err := reconcile(t, f, eventJSON("evt_2", "customer.subscription.created",
		subscriptionObject("sub_1", "cus_1", "active", "price_starter_month", productStarter, "month")))
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeNoop, out)

	recs := f.store.All()
	require.Len(t, recs, 1)
	assert.Equal(t, "sub_1", recs[0].SubscriptionID())
	assert.True(t, recs[0].PaymentStatus)
}

func TestWebhook_HadSubscribedNeverClears(t *testing.T) {
	f := newFixture(models.Account{ID: 1, ProviderCustomerID: strPtr("cus_1")})
	f.store.Seed(paidRecord(1, "cus_1", "sub_1", "LITE"))

	out, err := reconcile(t, f, eventJSON("evt_1", "invoice.payment_failed", invoiceObject("in_2", "sub_1", "cus_1", "open", 0)))
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeApplied, out)

	rec := f.store.All()[0]
	assert.False(t, rec.PaymentStatus)
	assert.True(t, rec.HadSubscribed)
	assert.Nil(t, rec.RetiredAt, "a failed payment never cancels")
	assert.Empty(t, f.provider.Updates)
}

func TestWebhook_UnknownSubscriptionUpdateIsNoop(t *testing.T) {
	f := newFixture()

	out, err := reconcile(t, f, eventJSON("evt_1", "customer.subscription.updated",
		subscriptionObject("sub_404", "cus_x", "active", "price_lite_month", productLite, "month")))
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeNoop, out)
	assert.Empty(t, f.store.All())
	assert.Empty(t, f.provider.Calls)
}

func TestWebhook_SubscriptionUpdatedMirrorsProvider(t *testing.T) {
	f := newFixture(models.Account{ID: 1, ProviderCustomerID: strPtr("cus_1")})
	f.store.Seed(paidRecord(1, "cus_1", "sub_1", "LITE"))
	f.provider.PaymentMethods["pm_9"] = billing.PaymentMethod{ID: "pm_9", CardBrand: "mastercard", CardLast4: "5555"}

	out, err := reconcile(t, f, eventJSON("evt_1", "customer.subscription.updated",
		`{"id":"sub_1","customer":"cus_1","status":"past_due","default_payment_method":"pm_9",
		  "items":{"data":[{"id":"si_1","price":{"id":"price_business_year","product":"prod_business","unit_amount":9000,"recurring":{"interval":"year"}}}]}}`))
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeApplied, out)

	rec := f.store.All()[0]
	assert.Equal(t, "mastercard", rec.CardBrand)
	assert.Equal(t, "5555", rec.CardLast4)
	assert.Equal(t, "BUSINESS", rec.PlanID)
	assert.Equal(t, "price_business_year", rec.PriceID)
	assert.True(t, rec.IsAnnual)
	assert.Equal(t, models.BillingStatusPastDue, rec.ProviderSubscriptionStatus)
	assert.Equal(t, "pm_9", f.provider.DefaultMethods["cus_1"])
}

func TestWebhook_SubscriptionUpdatedAttachFailureStillMirrors(t *testing.T) {
	f := newFixture(models.Account{ID: 1, ProviderCustomerID: strPtr("cus_1")})
	f.store.Seed(paidRecord(1, "cus_1", "sub_1", "LITE"))
	f.provider.Fail("AttachPaymentMethod", nil)

	_, err := reconcile(t, f, eventJSON("evt_1", "customer.subscription.updated",
		`{"id":"sub_1","customer":"cus_1","status":"active","default_payment_method":"pm_9","items":{"data":[]}}`))
	assert.ErrorIs(t, err, billing.ErrProviderUnavailable)
	assert.Equal(t, models.BillingStatusActive, f.store.All()[0].ProviderSubscriptionStatus)
}

func TestWebhook_PlanChangeLeavesSingleActiveRecord(t *testing.T) {
	f := newFixture(models.Account{ID: 1, ProviderCustomerID: strPtr("cus_1")})
	f.store.Seed(paidRecord(1, "cus_1", "sub_old", "LITE"))

	out, err := reconcile(t, f, eventJSON("evt_1", "customer.subscription.created",
		subscriptionObject("sub_new", "cus_1", "active", "price_pro_year", productPro, "year")))
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeApplied, out)

	recs := f.store.All()
	require.Len(t, recs, 2)
	created := recs[1]
	assert.Equal(t, "sub_new", created.SubscriptionID())
	assert.Equal(t, "PROFESSIONAL", created.PlanID)
	assert.True(t, created.IsAnnual)
	assert.True(t, created.HadSubscribed)
	assert.Equal(t, "visa", created.CardBrand)
	assert.False(t, created.PaymentStatus)

	out, err = reconcile(t, f, eventJSON("evt_1b", "customer.subscription.created",
		subscriptionObject("sub_new", "cus_1", "active", "price_pro_year", productPro, "year")))
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeNoop, out)
	assert.Len(t, f.store.All(), 2)

	_, err = reconcile(t, f, eventJSON("evt_2", "invoice.payment_succeeded", invoiceObject("in_9", "sub_new", "cus_1", "paid", 9000)))
	require.NoError(t, err)

	active := 0
	for _, r := range f.store.All() {
		if r.RetiredAt == nil {
			active++
			assert.Equal(t, "sub_new", r.SubscriptionID())
		}
	}
	assert.Equal(t, 1, active)

	recs, _ = f.store.ListSubscriptionsByAccount(context.Background(), 1)
	acc, _ := f.accounts.GetByID(context.Background(), 1)
	ent := entitlements.Evaluate(testNow, entitlements.Input{Account: acc, Records: recs})
	assert.Equal(t, "PROFESSIONAL", ent.PlanID)
	assert.True(t, ent.HasPaidAccess)
}

func TestWebhook_InvoiceForMissingAccountCancelsDefensively(t *testing.T) {
	f := newFixture()
	f.store.Seed(models.SubscriptionRecord{
		AccountID:              42,
		ProviderCustomerID:     "cus_gone",
		ProviderSubscriptionID: strPtr("sub_gone"),
		PlanID:                 "LITE",
	})

	_, err := reconcile(t, f, eventJSON("evt_1", "invoice.payment_succeeded", invoiceObject("in_1", "sub_gone", "cus_gone", "paid", 900)))
	require.NoError(t, err)

	require.Len(t, f.provider.Updates, 1)
	assert.Equal(t, "sub_gone", f.provider.Updates[0].SubscriptionID)
	assert.True(t, *f.provider.Updates[0].Update.CancelAtPeriodEnd)
}

func TestWebhook_SubscriptionDeletedRetiresRecord(t *testing.T) {
	f := newFixture(models.Account{ID: 1, ProviderCustomerID: strPtr("cus_1")})
	f.store.Seed(paidRecord(1, "cus_1", "sub_1", "LITE"))
	deleted := eventJSON("evt_1", "customer.subscription.deleted",
		subscriptionObject("sub_1", "cus_1", "canceled", "price_lite_month", productLite, "month"))

	out, err := reconcile(t, f, deleted)
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeApplied, out)

	rec := f.store.All()[0]
	assert.Equal(t, models.BillingStatusCanceled, rec.ProviderSubscriptionStatus)
	require.NotNil(t, rec.RetiredAt)
	assert.True(t, rec.RetiredAt.Equal(testNow))
	assert.True(t, rec.HadSubscribed)

	out, err = reconcile(t, f, deleted)
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeNoop, out)
	assert.Len(t, f.notifier.ended, 1)
}

func TestWebhook_NotFoundAndIgnored(t *testing.T) {
	f := newFixture()

	out, err := reconcile(t, f, eventJSON("evt_1", "invoice.payment_failed", invoiceObject("in_1", "sub_x", "cus_x", "open", 0)))
	assert.ErrorIs(t, err, billing.ErrRecordNotFound)
	assert.Equal(t, billing.OutcomeNotFound, out)

	out, err = reconcile(t, f, eventJSON("evt_2", "customer.created", `{"id":"cus_1"}`))
	require.NoError(t, err)
	assert.Equal(t, billing.OutcomeIgnored, out)
}
