package billing

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v82"

	"github.com/ManuelReschke/QRFox/app/models"
)

// EventKind selects the reconciliation handler of an event.
type EventKind int

const (
	KindUnknown EventKind = iota
	KindSubscriptionCreated
	KindCheckoutCompleted
	KindInvoicePaymentSucceeded
	KindInvoicePaymentFailed
	KindSubscriptionUpdated
	KindSubscriptionDeleted
)

var eventKinds = map[string]EventKind{
	"customer.subscription.created": KindSubscriptionCreated,
	"checkout.session.completed":    KindCheckoutCompleted,
	"invoice.payment_succeeded":     KindInvoicePaymentSucceeded,
	"invoice.payment_failed":        KindInvoicePaymentFailed,
	"customer.subscription.updated": KindSubscriptionUpdated,
	"customer.subscription.deleted": KindSubscriptionDeleted,
}

// KindOf maps a provider event type to its kind.
func KindOf(eventType string) EventKind {
	return eventKinds[eventType]
}

func (k EventKind) String() string {
	for t, kind := range eventKinds {
		if kind == k {
			return t
		}
	}
	return "unknown"
}

// Event is a provider notification reduced to the fields reconciliation reads.
// Exactly one payload is set for a known kind.
type Event struct {
	ID           string
	Type         string
	Kind         EventKind
	Created      time.Time
	Subscription *SubscriptionPayload
	Checkout     *CheckoutPayload
	Invoice      *InvoicePayload
}

type SubscriptionPayload struct {
	ID                   string
	CustomerID           string
	Status               string
	ItemID               string
	PriceID              string
	ProductID            string
	Interval             string
	UnitAmount           int64
	DefaultPaymentMethod string
	CardBrand            string
	CardLast4            string
}

type CheckoutPayload struct {
	ID             string
	CustomerID     string
	SubscriptionID string
	Address        *models.BillingAddress
}

type InvoicePayload struct {
	ID             string
	CustomerID     string
	SubscriptionID string
	Status         string
	AmountPaid     int64
}

var ErrMalformedEvent = errors.New("malformed provider event")

// ParseStripeEvent converts a verified stripe event.
func ParseStripeEvent(ev stripe.Event) (Event, error) {
	var raw json.RawMessage
	if ev.Data != nil {
		raw = ev.Data.Raw
	}
	return buildEvent(ev.ID, string(ev.Type), ev.Created, raw)
}

// ParseEventJSON parses a raw event body, as stored in the ledger or dead-letter queue.
func ParseEventJSON(payload []byte) (Event, error) {
	var env struct {
		ID      string `json:"id"`
		Type    string `json:"type"`
		Created int64  `json:"created"`
		Data    struct {
			Object json.RawMessage `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &env); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return buildEvent(env.ID, env.Type, env.Created, env.Data.Object)
}

func buildEvent(id, eventType string, created int64, object json.RawMessage) (Event, error) {
	if id == "" || eventType == "" {
		return Event{}, fmt.Errorf("%w: missing id or type", ErrMalformedEvent)
	}
	ev := Event{ID: id, Type: eventType, Kind: KindOf(eventType), Created: unixTime(created)}
	if ev.Kind == KindUnknown {
		return ev, nil
	}
	if len(bytes.TrimSpace(object)) == 0 {
		return Event{}, fmt.Errorf("%w: %s %s has no data object", ErrMalformedEvent, eventType, id)
	}

	var err error
	switch ev.Kind {
	case KindSubscriptionCreated, KindSubscriptionUpdated, KindSubscriptionDeleted:
		ev.Subscription, err = parseSubscription(object)
	case KindCheckoutCompleted:
		ev.Checkout, err = parseCheckout(object)
	case KindInvoicePaymentSucceeded, KindInvoicePaymentFailed:
		ev.Invoice, err = parseInvoice(object)
	}
	if err != nil {
		return Event{}, fmt.Errorf("%w: %s %s: %v", ErrMalformedEvent, eventType, id, err)
	}
	return ev, nil
}

// ref is an id field the provider may send either as a string or expanded.
type ref struct {
	ID   string
	Card struct {
		Brand string `json:"brand"`
		Last4 string `json:"last4"`
	}
}

func (r *ref) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &r.ID)
	}
	var obj struct {
		ID   string `json:"id"`
		Card *struct {
			Brand string `json:"brand"`
			Last4 string `json:"last4"`
		} `json:"card"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	r.ID = obj.ID
	if obj.Card != nil {
		r.Card.Brand, r.Card.Last4 = obj.Card.Brand, obj.Card.Last4
	}
	return nil
}

type wirePrice struct {
	ID         string `json:"id"`
	Product    ref    `json:"product"`
	UnitAmount int64  `json:"unit_amount"`
	Recurring  *struct {
		Interval string `json:"interval"`
	} `json:"recurring"`
}

func parseSubscription(object json.RawMessage) (*SubscriptionPayload, error) {
	var w struct {
		ID                   string `json:"id"`
		Customer             ref    `json:"customer"`
		Status               string `json:"status"`
		DefaultPaymentMethod ref    `json:"default_payment_method"`
		Items                struct {
			Data []struct {
				ID    string     `json:"id"`
				Price *wirePrice `json:"price"`
				Plan  *struct {
					ID       string `json:"id"`
					Product  ref    `json:"product"`
					Interval string `json:"interval"`
					Amount   int64  `json:"amount"`
				} `json:"plan"`
			} `json:"data"`
		} `json:"items"`
	}
	if err := json.Unmarshal(object, &w); err != nil {
		return nil, err
	}
	if w.ID == "" {
		return nil, errors.New("subscription without id")
	}
	p := &SubscriptionPayload{
		ID:                   w.ID,
		CustomerID:           w.Customer.ID,
		Status:               w.Status,
		DefaultPaymentMethod: w.DefaultPaymentMethod.ID,
		CardBrand:            w.DefaultPaymentMethod.Card.Brand,
		CardLast4:            w.DefaultPaymentMethod.Card.Last4,
	}
	if len(w.Items.Data) > 0 {
		item := w.Items.Data[0]
		p.ItemID = item.ID
		switch {
		case item.Price != nil:
			p.PriceID = item.Price.ID
			p.ProductID = item.Price.Product.ID
			p.UnitAmount = item.Price.UnitAmount
			if item.Price.Recurring != nil {
				p.Interval = item.Price.Recurring.Interval
			}
		case item.Plan != nil:
			p.PriceID = item.Plan.ID
			p.ProductID = item.Plan.Product.ID
			p.UnitAmount = item.Plan.Amount
			p.Interval = item.Plan.Interval
		}
	}
	return p, nil
}

func parseCheckout(object json.RawMessage) (*CheckoutPayload, error) {
	var w struct {
		ID              string `json:"id"`
		Customer        ref    `json:"customer"`
		Subscription    ref    `json:"subscription"`
		CustomerDetails *struct {
			Address *struct {
				City       string `json:"city"`
				Country    string `json:"country"`
				Line1      string `json:"line1"`
				Line2      string `json:"line2"`
				PostalCode string `json:"postal_code"`
				State      string `json:"state"`
			} `json:"address"`
		} `json:"customer_details"`
	}
	if err := json.Unmarshal(object, &w); err != nil {
		return nil, err
	}
	if w.ID == "" {
		return nil, errors.New("checkout session without id")
	}
	p := &CheckoutPayload{ID: w.ID, CustomerID: w.Customer.ID, SubscriptionID: w.Subscription.ID}
	if w.CustomerDetails != nil && w.CustomerDetails.Address != nil {
		a := w.CustomerDetails.Address
		addr := models.BillingAddress{
			City:       a.City,
			Country:    a.Country,
			Line1:      a.Line1,
			Line2:      a.Line2,
			PostalCode: a.PostalCode,
			State:      a.State,
		}
		if !addr.IsZero() {
			p.Address = &addr
		}
	}
	return p, nil
}

func parseInvoice(object json.RawMessage) (*InvoicePayload, error) {
	var w struct {
		ID           string `json:"id"`
		Customer     ref    `json:"customer"`
		Subscription ref    `json:"subscription"`
		Status       string `json:"status"`
		AmountPaid   int64  `json:"amount_paid"`
		Parent       *struct {
			SubscriptionDetails *struct {
				Subscription ref `json:"subscription"`
			} `json:"subscription_details"`
		} `json:"parent"`
	}
	if err := json.Unmarshal(object, &w); err != nil {
		return nil, err
	}
	if w.ID == "" {
		return nil, errors.New("invoice without id")
	}
	p := &InvoicePayload{
		ID:             w.ID,
		CustomerID:     w.Customer.ID,
		SubscriptionID: w.Subscription.ID,
		Status:         w.Status,
		AmountPaid:     w.AmountPaid,
	}
	if p.SubscriptionID == "" && w.Parent != nil && w.Parent.SubscriptionDetails != nil {
		p.SubscriptionID = w.Parent.SubscriptionDetails.Subscription.ID
	}
	return p, nil
}
