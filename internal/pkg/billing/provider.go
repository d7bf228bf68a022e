package billing

import (
	"context"
	"time"

	"github.com/ManuelReschke/QRFox/app/models"
)

const (
	IntervalMonth = "month"
	IntervalYear  = "year"

	ProrationNone   = "none"
	ProrationCreate = "create_prorations"
)

// Provider is the subset of the payment provider API the billing core uses.
// Implementations must honour ctx deadlines.
type Provider interface {
	CreateCustomer(ctx context.Context, in CustomerInput) (*Customer, error)
	SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
	ListPrices(ctx context.Context, productID string) ([]Price, error)
	CreateCheckoutSession(ctx context.Context, in CheckoutSessionInput) (*CheckoutSession, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	UpdateSubscription(ctx context.Context, subscriptionID string, in SubscriptionUpdate) (*Subscription, error)
	CreateSubscription(ctx context.Context, in SubscriptionCreate) (*Subscription, error)
	AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) (*PaymentMethod, error)
	ListInvoices(ctx context.Context, customerID string) ([]Invoice, error)
	UpcomingInvoice(ctx context.Context, customerID string) (*UpcomingInvoice, error)
}

// PriceLister is the part of Provider the catalog needs.
type PriceLister interface {
	ListPrices(ctx context.Context, productID string) ([]Price, error)
}

type CustomerInput struct {
	Email     string
	Name      string
	AccountID uint
}

type Customer struct {
	ID string
}

type Price struct {
	ID         string
	ProductID  string
	Interval   string
	UnitAmount int64
	Active     bool
}

type CheckoutSessionInput struct {
	CustomerID     string
	PriceID        string
	SuccessURL     string
	CancelURL      string
	AccountID      uint
	IdempotencyKey string
}

type CheckoutSession struct {
	ID         string
	URL        string
	CustomerID string
}

type Subscription struct {
	ID                 string
	CustomerID         string
	Status             string
	CancelAtPeriodEnd  bool
	CancelAt           time.Time
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	ItemID             string
	PriceID            string
	ProductID          string
	Interval           string
}

// SubscriptionItem replaces the price of an existing item when ID is set.
type SubscriptionItem struct {
	ID      string
	PriceID string
}

type SubscriptionUpdate struct {
	CancelAtPeriodEnd *bool
	ProrationBehavior string
	Items             []SubscriptionItem
}

type SubscriptionCreate struct {
	CustomerID         string
	PriceID            string
	BillingCycleAnchor time.Time
	ProrationBehavior  string
	AccountID          uint
}

type PaymentMethod struct {
	ID        string
	CardBrand string
	CardLast4 string
}

type Invoice struct {
	ID               string
	Created          time.Time
	Status           string
	AmountPaid       int64
	AmountRemaining  int64
	CustomerAddress  *models.BillingAddress
	HostedInvoiceURL string
}

type UpcomingInvoice struct {
	NextPaymentAttempt time.Time
	Total              int64
}
