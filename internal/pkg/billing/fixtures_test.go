package billing_test

import (
	"context"
	"time"

	"github.com/ManuelReschke/QRFox/app/models"
	"github.com/ManuelReschke/QRFox/internal/pkg/billing"
	"github.com/ManuelReschke/QRFox/internal/pkg/billing/billingtest"
	"github.com/ManuelReschke/QRFox/internal/pkg/entitlements"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

const (
	productStarter = "prod_starter"
	productLite    = "prod_lite"
	productBiz     = "prod_business"
	productPro     = "prod_professional"
)

type fixture struct {
	store    *billingtest.MemoryStore
	accounts *billingtest.MemoryAccounts
	provider *billingtest.FakeProvider
	notifier *recordingNotifier
	deps     billing.Deps
	svc      *billing.Service
}

type recordingNotifier struct {
	ended []models.SubscriptionRecord
}

func (n *recordingNotifier) SubscriptionEnded(_ context.Context, rec models.SubscriptionRecord) {
	n.ended = append(n.ended, rec)
}

func newFixture(accounts ...models.Account) *fixture {
	f := &fixture{
		store:    billingtest.NewMemoryStore(),
		accounts: billingtest.NewMemoryAccounts(accounts...),
		provider: billingtest.NewFakeProvider(),
		notifier: &recordingNotifier{},
	}
	for product, prefix := range map[string]string{
		productStarter: "starter",
		productLite:    "lite",
		productBiz:     "business",
		productPro:     "pro",
	} {
		f.provider.Prices[product] = []billing.Price{
			{ID: "price_" + prefix + "_month", ProductID: product, Interval: billing.IntervalMonth, UnitAmount: 900, Active: true},
			{ID: "price_" + prefix + "_year_old", ProductID: product, Interval: billing.IntervalYear, UnitAmount: 8000, Active: false},
			{ID: "price_" + prefix + "_year", ProductID: product, Interval: billing.IntervalYear, UnitAmount: 9000, Active: true},
		}
	}
	f.deps = billing.Deps{
		Store:    f.store,
		Accounts: f.accounts,
		Provider: f.provider,
		Catalog: billing.NewCatalog(map[entitlements.Plan]string{
			entitlements.PlanStarter:      productStarter,
			entitlements.PlanLite:         productLite,
			entitlements.PlanBusiness:     productBiz,
			entitlements.PlanProfessional: productPro,
		}),
		Config: billing.Config{
			SuccessURL: "https://app.test/billing/success",
			CancelURL:  "https://app.test/billing/cancel",
		},
		Notifier: f.notifier,
		Now:      func() time.Time { return testNow },
	}
	f.svc = billing.NewService(f.deps)
	return f
}

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

// paidRecord is a confirmed, paid record as left behind by a completed checkout.
func paidRecord(accountID uint, customer, sub, plan string) models.SubscriptionRecord {
	return models.SubscriptionRecord{
		AccountID:                  accountID,
		Provider:                   models.BillingProviderStripe,
		ProviderCustomerID:         customer,
		ProviderSubscriptionID:     strPtr(sub),
		PlanID:                     plan,
		PriceID:                    "price_lite_month",
		Amount:                     900,
		PaymentStatus:              true,
		HadSubscribed:              true,
		ProviderSubscriptionStatus: models.BillingStatusActive,
		CardBrand:                  "visa",
		CardLast4:                  "4242",
	}
}
