package billing

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ManuelReschke/QRFox/app/models"
	"github.com/ManuelReschke/QRFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/QRFox/internal/pkg/env"
)

// DefaultProducts are the live Stripe products the plans were launched with.
var DefaultProducts = map[entitlements.Plan]string{
	entitlements.PlanStarter:      "prod_OKieGxqxMLmcJc",
	entitlements.PlanLite:         "prod_OKiTjVnsek08K0",
	entitlements.PlanBusiness:     "prod_OKiY85SvaDr9dk",
	entitlements.PlanProfessional: "prod_OKigS5OEDLD4CI",
}

// Catalog maps plans to provider products. It holds no other state and is
// passed to the components that need it.
type Catalog struct {
	products map[entitlements.Plan]string
	plans    map[string]entitlements.Plan
}

// NewCatalog builds a catalog from an explicit plan to product map.
func NewCatalog(products map[entitlements.Plan]string) *Catalog {
	c := &Catalog{
		products: make(map[entitlements.Plan]string, len(products)),
		plans:    make(map[string]entitlements.Plan, len(products)),
	}
	for plan, product := range products {
		c.set(plan, product)
	}
	return c
}

// CatalogFromEnv starts from DefaultProducts and applies STRIPE_PRODUCT_<PLAN> overrides.
func CatalogFromEnv() *Catalog {
	products := make(map[entitlements.Plan]string, len(DefaultProducts))
	for plan, product := range DefaultProducts {
		products[plan] = env.GetEnv("STRIPE_PRODUCT_"+string(plan), product)
	}
	return NewCatalog(products)
}

// WithMappings applies active provider mappings on top of the current entries.
func (c *Catalog) WithMappings(mappings []models.BillingPlanMapping) *Catalog {
	for _, m := range mappings {
		if !m.IsActive || m.Provider != models.BillingProviderStripe {
			continue
		}
		plan, ok := entitlements.ParsePlan(m.PlanID)
		if !ok {
			continue
		}
		c.set(plan, m.ProviderProductRef)
	}
	return c
}

func (c *Catalog) set(plan entitlements.Plan, product string) {
	product = strings.TrimSpace(product)
	if product == "" {
		return
	}
	if old, ok := c.products[plan]; ok {
		delete(c.plans, old)
	}
	c.products[plan] = product
	c.plans[product] = plan
}

// ProductFor returns the provider product of a plan.
func (c *Catalog) ProductFor(plan entitlements.Plan) (string, bool) {
	p, ok := c.products[plan]
	return p, ok
}

// PlanForProduct is the reverse lookup used when mirroring provider data.
func (c *Catalog) PlanForProduct(productID string) (entitlements.Plan, bool) {
	p, ok := c.plans[productID]
	return p, ok
}

// Plans returns the configured plans in a stable order.
func (c *Catalog) Plans() []entitlements.Plan {
	out := make([]entitlements.Plan, 0, len(c.products))
	for p := range c.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ResolvePrice finds the live recurring price of a plan for the requested cadence.
func (c *Catalog) ResolvePrice(ctx context.Context, prices PriceLister, plan entitlements.Plan, annual bool) (*Price, error) {
	product, ok := c.ProductFor(plan)
	if !ok {
		return nil, fmt.Errorf("%w: unknown plan %q", ErrPlanNotConfigured, plan)
	}
	list, err := prices.ListPrices(ctx, product)
	if err != nil {
		return nil, providerErr("list prices", err)
	}

	want := IntervalMonth
	if annual {
		want = IntervalYear
	}
	for i := range list {
		if list[i].Active && list[i].Interval == want {
			return &list[i], nil
		}
	}
	return nil, fmt.Errorf("%w: no %sly price for %s", ErrPlanNotConfigured, want, plan)
}
