package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/QRFox/app/models"
)

// Accounts is the account directory the billing core depends on.
type Accounts interface {
	GetByID(ctx context.Context, id uint) (*models.Account, error)
	// AssignProviderCustomer stores the customer id only if the account has none
	// yet. It reports whether this call assigned it.
	AssignProviderCustomer(ctx context.Context, accountID uint, customerID string) (bool, error)
	LinkSubscriptionRecord(ctx context.Context, accountID, recordID uint) error
}

// Notifier is told when the provider reports a subscription as deleted.
type Notifier interface {
	SubscriptionEnded(ctx context.Context, rec models.SubscriptionRecord)
}

type nopNotifier struct{}

func (nopNotifier) SubscriptionEnded(context.Context, models.SubscriptionRecord) {}

// Deps are the collaborators shared by all billing components.
type Deps struct {
	Store    Store
	Accounts Accounts
	Provider Provider
	Catalog  *Catalog
	Config   Config
	Notifier Notifier
	Now      func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Notifier == nil {
		d.Notifier = nopNotifier{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Catalog == nil {
		d.Catalog = NewCatalog(DefaultProducts)
	}
	return d
}

// Service bundles the billing components for the HTTP layer.
type Service struct {
	Checkout     *CheckoutInitiator
	PlanChange   *PlanChangeCoordinator
	Cancellation *CancellationCoordinator
	Webhooks     *WebhookReconciler
	Invoices     *InvoiceProjector
}

func NewService(d Deps) *Service {
	d = d.withDefaults()
	return &Service{
		Checkout:     NewCheckoutInitiator(d),
		PlanChange:   NewPlanChangeCoordinator(d),
		Cancellation: NewCancellationCoordinator(d),
		Webhooks:     NewWebhookReconciler(d),
		Invoices:     NewInvoiceProjector(d),
	}
}

func loadAccount(ctx context.Context, accounts Accounts, id uint) (*models.Account, error) {
	account, err := accounts.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrAccountNotFound, id)
		}
		return nil, err
	}
	return account, nil
}

func boolPtr(b bool) *bool { return &b }
