package billingtest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ManuelReschke/QRFox/internal/pkg/billing"
)

var _ billing.Provider = (*FakeProvider)(nil)

// ErrFake is the default failure injected through FakeProvider.Fail.
var ErrFake = errors.New("fake provider failure")

type UpdateCall struct {
	SubscriptionID string
	Update         billing.SubscriptionUpdate
}

// FakeProvider records every call and answers from its fields. Failures are
// injected per operation name (the method name).
type FakeProvider struct {
	mu sync.Mutex

	Prices         map[string][]billing.Price
	Subscriptions  map[string]*billing.Subscription
	PaymentMethods map[string]billing.PaymentMethod
	Invoices       []billing.Invoice
	Upcoming       *billing.UpcomingInvoice

	Calls            []string
	Customers        []billing.CustomerInput
	CheckoutSessions []billing.CheckoutSessionInput
	Updates          []UpdateCall
	Creates          []billing.SubscriptionCreate
	DefaultMethods   map[string]string

	failures map[string]error
	seq      int
}

func NewFakeProvider() *FakeProvider {
	return &FakeProvider{
		Prices:         make(map[string][]billing.Price),
		Subscriptions:  make(map[string]*billing.Subscription),
		PaymentMethods: make(map[string]billing.PaymentMethod),
		DefaultMethods: make(map[string]string),
		failures:       make(map[string]error),
	}
}

// Fail makes op return err (ErrFake when nil) until cleared with Succeed.
func (f *FakeProvider) Fail(op string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		err = ErrFake
	}
	f.failures[op] = err
}

func (f *FakeProvider) Succeed(op string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failures, op)
}

func (f *FakeProvider) Called(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if c == op {
			n++
		}
	}
	return n
}

func (f *FakeProvider) enter(op string) error {
	f.Calls = append(f.Calls, op)
	return f.failures[op]
}

func (f *FakeProvider) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_%d", prefix, f.seq)
}

func (f *FakeProvider) CreateCustomer(_ context.Context, in billing.CustomerInput) (*billing.Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateCustomer"); err != nil {
		return nil, err
	}
	f.Customers = append(f.Customers, in)
	return &billing.Customer{ID: f.nextID("cus")}, nil
}

func (f *FakeProvider) SetDefaultPaymentMethod(_ context.Context, customerID, paymentMethodID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("SetDefaultPaymentMethod"); err != nil {
		return err
	}
	f.DefaultMethods[customerID] = paymentMethodID
	return nil
}

func (f *FakeProvider) ListPrices(_ context.Context, productID string) ([]billing.Price, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListPrices"); err != nil {
		return nil, err
	}
	return append([]billing.Price(nil), f.Prices[productID]...), nil
}

func (f *FakeProvider) CreateCheckoutSession(_ context.Context, in billing.CheckoutSessionInput) (*billing.CheckoutSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateCheckoutSession"); err != nil {
		return nil, err
	}
	f.CheckoutSessions = append(f.CheckoutSessions, in)
	id := f.nextID("cs")
	return &billing.CheckoutSession{ID: id, URL: "https://checkout.test/" + id, CustomerID: in.CustomerID}, nil
}

func (f *FakeProvider) GetSubscription(_ context.Context, subscriptionID string) (*billing.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("GetSubscription"); err != nil {
		return nil, err
	}
	sub, ok := f.Subscriptions[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("no such subscription: %s", subscriptionID)
	}
	out := *sub
	return &out, nil
}

func (f *FakeProvider) UpdateSubscription(_ context.Context, subscriptionID string, in billing.SubscriptionUpdate) (*billing.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UpdateSubscription"); err != nil {
		return nil, err
	}
	f.Updates = append(f.Updates, UpdateCall{SubscriptionID: subscriptionID, Update: in})
	sub, ok := f.Subscriptions[subscriptionID]
	if !ok {
		sub = &billing.Subscription{ID: subscriptionID}
		f.Subscriptions[subscriptionID] = sub
	}
	if in.CancelAtPeriodEnd != nil {
		sub.CancelAtPeriodEnd = *in.CancelAtPeriodEnd
	}
	for _, item := range in.Items {
		if item.ID == sub.ItemID {
			sub.PriceID = item.PriceID
		}
	}
	out := *sub
	return &out, nil
}

func (f *FakeProvider) CreateSubscription(_ context.Context, in billing.SubscriptionCreate) (*billing.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("CreateSubscription"); err != nil {
		return nil, err
	}
	f.Creates = append(f.Creates, in)
	sub := &billing.Subscription{
		ID:         f.nextID("sub"),
		CustomerID: in.CustomerID,
		Status:     "active",
		PriceID:    in.PriceID,
	}
	f.Subscriptions[sub.ID] = sub
	out := *sub
	return &out, nil
}

func (f *FakeProvider) AttachPaymentMethod(_ context.Context, paymentMethodID, _ string) (*billing.PaymentMethod, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("AttachPaymentMethod"); err != nil {
		return nil, err
	}
	pm, ok := f.PaymentMethods[paymentMethodID]
	if !ok {
		pm = billing.PaymentMethod{ID: paymentMethodID}
	}
	return &pm, nil
}

func (f *FakeProvider) ListInvoices(_ context.Context, _ string) ([]billing.Invoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("ListInvoices"); err != nil {
		return nil, err
	}
	return append([]billing.Invoice(nil), f.Invoices...), nil
}

func (f *FakeProvider) UpcomingInvoice(_ context.Context, _ string) (*billing.UpcomingInvoice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter("UpcomingInvoice"); err != nil {
		return nil, err
	}
	if f.Upcoming == nil {
		return nil, errors.New("no upcoming invoice")
	}
	out := *f.Upcoming
	return &out, nil
}
