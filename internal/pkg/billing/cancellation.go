package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/QRFox/app/models"
)

// DisplayDateLayout is the DD/MM/YYYY format shown to users.
const DisplayDateLayout = "02/01/2006"

type CancelResult struct {
	CancelRequested bool      `json:"cancel_requested"`
	EffectiveAt     time.Time `json:"effective_at"`
	EffectiveDate   string    `json:"cancellation_date"`
}

// CancellationCoordinator applies and reverses cancel-at-period-end. The local
// flag only changes after the provider accepted the change.
type CancellationCoordinator struct {
	store    Store
	provider Provider
}

func NewCancellationCoordinator(d Deps) *CancellationCoordinator {
	d = d.withDefaults()
	return &CancellationCoordinator{store: d.Store, provider: d.Provider}
}

func (c *CancellationCoordinator) current(ctx context.Context, accountID uint) (*models.SubscriptionRecord, error) {
	rec, err := c.store.FindSubscription(ctx, CurrentForAccount(accountID))
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	if !rec.IsConfirmed() {
		return nil, ErrPlanNotFound
	}
	return rec, nil
}

func (c *CancellationCoordinator) RequestCancel(ctx context.Context, accountID uint) (*CancelResult, error) {
	rec, err := c.current(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if rec.CancelRequested {
		return nil, ErrAlreadyCanceled
	}

	subID := rec.SubscriptionID()
	sub, err := c.provider.GetSubscription(ctx, subID)
	if err != nil {
		return nil, providerErr("get subscription", err)
	}
	if sub.Status == models.BillingStatusCanceled {
		return nil, ErrAlreadyCanceled
	}

	updated, err := c.provider.UpdateSubscription(ctx, subID, SubscriptionUpdate{CancelAtPeriodEnd: boolPtr(true)})
	if err != nil {
		return nil, providerErr("cancel at period end", err)
	}

	if _, err := c.store.FindOneAndUpdate(ctx, BySubscription(subID), func(r *models.SubscriptionRecord) bool {
		if r.CancelRequested {
			return false
		}
		r.CancelRequested = true
		return true
	}); err != nil {
		return nil, fmt.Errorf("store cancellation: %w", err)
	}

	effective := updated.CancelAt
	if effective.IsZero() {
		effective = updated.CurrentPeriodEnd
	}
	log.Infof("[Billing] account %d scheduled %s to cancel at %s", accountID, subID, effective.Format(time.RFC3339))
	return &CancelResult{
		CancelRequested: true,
		EffectiveAt:     effective,
		EffectiveDate:   displayDate(effective),
	}, nil
}

// RevokeCancel re-asserts the current price with prorations enabled and clears
// the cancellation. Calling it twice is harmless.
func (c *CancellationCoordinator) RevokeCancel(ctx context.Context, accountID uint) (*models.SubscriptionRecord, error) {
	rec, err := c.current(ctx, accountID)
	if err != nil {
		return nil, err
	}

	subID := rec.SubscriptionID()
	sub, err := c.provider.GetSubscription(ctx, subID)
	if err != nil {
		return nil, providerErr("get subscription", err)
	}

	update := SubscriptionUpdate{
		CancelAtPeriodEnd: boolPtr(false),
		ProrationBehavior: ProrationCreate,
	}
	if sub.ItemID != "" && sub.PriceID != "" {
		update.Items = []SubscriptionItem{{ID: sub.ItemID, PriceID: sub.PriceID}}
	}
	if _, err := c.provider.UpdateSubscription(ctx, subID, update); err != nil {
		return nil, providerErr("revoke cancellation", err)
	}

	out, err := c.store.FindOneAndUpdate(ctx, BySubscription(subID), func(r *models.SubscriptionRecord) bool {
		if !r.CancelRequested {
			return false
		}
		r.CancelRequested = false
		return true
	})
	if err != nil {
		return nil, fmt.Errorf("store revocation: %w", err)
	}
	log.Infof("[Billing] account %d revoked cancellation of %s", accountID, subID)
	return out, nil
}

func displayDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(DisplayDateLayout)
}
