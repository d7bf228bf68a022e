package billing

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/invoice"
	"github.com/stripe/stripe-go/v82/paymentmethod"
	"github.com/stripe/stripe-go/v82/price"
	"github.com/stripe/stripe-go/v82/subscription"

	"github.com/ManuelReschke/QRFox/app/models"
)

const defaultProviderTimeout = 15 * time.Second

// StripeProvider implements Provider with the stripe-go resource packages.
// The SDK is configured without automatic retries and with a bounded HTTP client.
type StripeProvider struct {
	timeout time.Duration
}

// NewStripeProvider sets the global Stripe key and backend.
func NewStripeProvider(apiKey string, timeout time.Duration) *StripeProvider {
	if timeout <= 0 {
		timeout = defaultProviderTimeout
	}
	stripe.Key = apiKey
	stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: timeout},
		MaxNetworkRetries: stripe.Int64(0),
	}))
	return &StripeProvider{timeout: timeout}
}

func (p *StripeProvider) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, p.timeout)
}

func (p *StripeProvider) CreateCustomer(ctx context.Context, in CustomerInput) (*Customer, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()

	params := &stripe.CustomerParams{
		Email: stripe.String(in.Email),
		Name:  stripe.String(in.Name),
	}
	params.Context = ctx
	params.AddMetadata("account_id", strconv.FormatUint(uint64(in.AccountID), 10))

	c, err := customer.New(params)
	observeProvider("create_customer", err)
	if err != nil {
		return nil, providerErr("create customer", err)
	}
	return &Customer{ID: c.ID}, nil
}

func (p *StripeProvider) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	ctx, cancel := p.bound(ctx)
	defer cancel()

	params := &stripe.CustomerParams{
		InvoiceSettings: &stripe.CustomerInvoiceSettingsParams{
			DefaultPaymentMethod: stripe.String(paymentMethodID),
		},
	}
	params.Context = ctx

	_, err := customer.Update(customerID, params)
	observeProvider("update_customer", err)
	return providerErr("update customer", err)
}

func (p *StripeProvider) ListPrices(ctx context.Context, productID string) ([]Price, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()

	params := &stripe.PriceListParams{
		Product: stripe.String(productID),
	}
	params.Context = ctx

	var out []Price
	it := price.List(params)
	for it.Next() {
		sp := it.Price()
		pr := Price{
			ID:         sp.ID,
			UnitAmount: sp.UnitAmount,
			Active:     sp.Active,
		}
		if sp.Product != nil {
			pr.ProductID = sp.Product.ID
		}
		if sp.Recurring != nil {
			pr.Interval = string(sp.Recurring.Interval)
		}
		out = append(out, pr)
	}
	observeProvider("list_prices", it.Err())
	if err := it.Err(); err != nil {
		return nil, providerErr("list prices", err)
	}
	return out, nil
}

func (p *StripeProvider) CreateCheckoutSession(ctx context.Context, in CheckoutSessionInput) (*CheckoutSession, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()

	params := &stripe.CheckoutSessionParams{
		Mode:                     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:                 stripe.String(in.CustomerID),
		SuccessURL:               stripe.String(in.SuccessURL),
		CancelURL:                stripe.String(in.CancelURL),
		BillingAddressCollection: stripe.String(string(stripe.CheckoutSessionBillingAddressCollectionRequired)),
		PaymentMethodCollection:  stripe.String(string(stripe.CheckoutSessionPaymentMethodCollectionAlways)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(in.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx
	params.AddMetadata("account_id", strconv.FormatUint(uint64(in.AccountID), 10))
	if in.IdempotencyKey != "" {
		params.SetIdempotencyKey(in.IdempotencyKey)
	}

	s, err := session.New(params)
	observeProvider("create_checkout_session", err)
	if err != nil {
		return nil, providerErr("create checkout session", err)
	}
	out := &CheckoutSession{ID: s.ID, URL: s.URL, CustomerID: in.CustomerID}
	if s.Customer != nil && s.Customer.ID != "" {
		out.CustomerID = s.Customer.ID
	}
	return out, nil
}

func (p *StripeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()

	params := &stripe.SubscriptionParams{}
	params.Context = ctx

	s, err := subscription.Get(subscriptionID, params)
	observeProvider("get_subscription", err)
	if err != nil {
		return nil, providerErr("get subscription", err)
	}
	return fromStripeSubscription(s), nil
}

func (p *StripeProvider) UpdateSubscription(ctx context.Context, subscriptionID string, in SubscriptionUpdate) (*Subscription, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()

	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	if in.CancelAtPeriodEnd != nil {
		params.CancelAtPeriodEnd = stripe.Bool(*in.CancelAtPeriodEnd)
	}
	if in.ProrationBehavior != "" {
		params.ProrationBehavior = stripe.String(in.ProrationBehavior)
	}
	for _, item := range in.Items {
		ip := &stripe.SubscriptionItemsParams{Price: stripe.String(item.PriceID)}
		if item.ID != "" {
			ip.ID = stripe.String(item.ID)
		}
		params.Items = append(params.Items, ip)
	}

	s, err := subscription.Update(subscriptionID, params)
	observeProvider("update_subscription", err)
	if err != nil {
		return nil, providerErr("update subscription", err)
	}
	return fromStripeSubscription(s), nil
}

func (p *StripeProvider) CreateSubscription(ctx context.Context, in SubscriptionCreate) (*Subscription, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()

	params := &stripe.SubscriptionParams{
		Customer: stripe.String(in.CustomerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(in.PriceID)},
		},
	}
	params.Context = ctx
	params.AddMetadata("account_id", strconv.FormatUint(uint64(in.AccountID), 10))
	if in.ProrationBehavior != "" {
		params.ProrationBehavior = stripe.String(in.ProrationBehavior)
	}
	if !in.BillingCycleAnchor.IsZero() {
		params.BillingCycleAnchor = stripe.Int64(in.BillingCycleAnchor.Unix())
	}

	s, err := subscription.New(params)
	observeProvider("create_subscription", err)
	if err != nil {
		return nil, providerErr("create subscription", err)
	}
	return fromStripeSubscription(s), nil
}

func (p *StripeProvider) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) (*PaymentMethod, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()

	params := &stripe.PaymentMethodAttachParams{
		Customer: stripe.String(customerID),
	}
	params.Context = ctx

	pm, err := paymentmethod.Attach(paymentMethodID, params)
	observeProvider("attach_payment_method", err)
	if err != nil {
		return nil, providerErr("attach payment method", err)
	}
	out := &PaymentMethod{ID: pm.ID}
	if pm.Card != nil {
		out.CardBrand = string(pm.Card.Brand)
		out.CardLast4 = pm.Card.Last4
	}
	return out, nil
}

func (p *StripeProvider) ListInvoices(ctx context.Context, customerID string) ([]Invoice, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()

	params := &stripe.InvoiceListParams{
		Customer: stripe.String(customerID),
	}
	params.Context = ctx

	var out []Invoice
	it := invoice.List(params)
	for it.Next() {
		in := it.Invoice()
		inv := Invoice{
			ID:               in.ID,
			Created:          unixTime(in.Created),
			Status:           string(in.Status),
			AmountPaid:       in.AmountPaid,
			AmountRemaining:  in.AmountRemaining,
			HostedInvoiceURL: in.HostedInvoiceURL,
		}
		if a := in.CustomerAddress; a != nil {
			inv.CustomerAddress = &models.BillingAddress{
				City:       a.City,
				Country:    a.Country,
				Line1:      a.Line1,
				Line2:      a.Line2,
				PostalCode: a.PostalCode,
				State:      a.State,
			}
		}
		out = append(out, inv)
	}
	observeProvider("list_invoices", it.Err())
	if err := it.Err(); err != nil {
		return nil, providerErr("list invoices", err)
	}
	return out, nil
}

func (p *StripeProvider) UpcomingInvoice(ctx context.Context, customerID string) (*UpcomingInvoice, error) {
	ctx, cancel := p.bound(ctx)
	defer cancel()

	params := &stripe.InvoiceCreatePreviewParams{
		Customer: stripe.String(customerID),
	}
	params.Context = ctx

	in, err := invoice.CreatePreview(params)
	observeProvider("upcoming_invoice", err)
	if err != nil {
		return nil, providerErr("upcoming invoice", err)
	}
	return &UpcomingInvoice{
		NextPaymentAttempt: unixTime(in.NextPaymentAttempt),
		Total:              in.Total,
	}, nil
}

func fromStripeSubscription(s *stripe.Subscription) *Subscription {
	out := &Subscription{
		ID:                s.ID,
		Status:            string(s.Status),
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		CancelAt:          unixTime(s.CancelAt),
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.Items != nil && len(s.Items.Data) > 0 {
		item := s.Items.Data[0]
		out.ItemID = item.ID
		out.CurrentPeriodStart = unixTime(item.CurrentPeriodStart)
		out.CurrentPeriodEnd = unixTime(item.CurrentPeriodEnd)
		if item.Price != nil {
			out.PriceID = item.Price.ID
			if item.Price.Product != nil {
				out.ProductID = item.Price.Product.ID
			}
			if item.Price.Recurring != nil {
				out.Interval = string(item.Price.Recurring.Interval)
			}
		}
	}
	return out
}

func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}
