package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/QRFox/internal/pkg/entitlements"
)

type PlanChangeRequest struct {
	AccountID uint
	PlanID    entitlements.Plan
	Annual    bool
}

type PlanChangeResult struct {
	EffectiveAt    time.Time `json:"effective_at"`
	SubscriptionID string    `json:"subscription_id"`
	RedirectURL    string    `json:"redirect_url"`
}

// PlanChangeCoordinator hands a paid subscription over to a new one that starts
// exactly when the current period ends. The local record for the new
// subscription is created by the webhook, not here.
type PlanChangeCoordinator struct {
	store    Store
	provider Provider
	catalog  *Catalog
	cfg      Config
}

func NewPlanChangeCoordinator(d Deps) *PlanChangeCoordinator {
	d = d.withDefaults()
	return &PlanChangeCoordinator{
		store:    d.Store,
		provider: d.Provider,
		catalog:  d.Catalog,
		cfg:      d.Config,
	}
}

func (p *PlanChangeCoordinator) Change(ctx context.Context, req PlanChangeRequest) (*PlanChangeResult, error) {
	current, err := p.store.FindSubscription(ctx, CurrentForAccount(req.AccountID))
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, ErrNoActivePlan
		}
		return nil, err
	}
	if !current.PaymentStatus || !current.IsConfirmed() {
		return nil, ErrNoActivePlan
	}
	if current.PlanID == string(req.PlanID) && current.IsAnnual == req.Annual {
		return nil, ErrNoOpPlanChange
	}

	price, err := p.catalog.ResolvePrice(ctx, p.provider, req.PlanID, req.Annual)
	if err != nil {
		return nil, err
	}

	oldID := current.SubscriptionID()
	existing, err := p.provider.GetSubscription(ctx, oldID)
	if err != nil {
		return nil, providerErr("get subscription", err)
	}
	if existing.CurrentPeriodEnd.IsZero() {
		return nil, &ProviderError{Op: "get subscription", Err: fmt.Errorf("subscription %s has no current period end", oldID)}
	}
	anchor := existing.CurrentPeriodEnd

	if _, err := p.provider.UpdateSubscription(ctx, oldID, SubscriptionUpdate{CancelAtPeriodEnd: boolPtr(true)}); err != nil {
		return nil, providerErr("schedule cancellation", err)
	}

	next, err := p.provider.CreateSubscription(ctx, SubscriptionCreate{
		CustomerID:         current.ProviderCustomerID,
		PriceID:            price.ID,
		BillingCycleAnchor: anchor,
		ProrationBehavior:  ProrationNone,
		AccountID:          current.AccountID,
	})
	if err != nil {
		if _, rerr := p.provider.UpdateSubscription(ctx, oldID, SubscriptionUpdate{CancelAtPeriodEnd: boolPtr(false)}); rerr != nil {
			log.Errorf("[Billing] plan change for account %d left %s canceling at period end: %v", req.AccountID, oldID, rerr)
		}
		return nil, providerErr("create subscription", err)
	}

	log.Infof("[Billing] account %d moves from %s to %s (%s, annual=%t) at %s",
		req.AccountID, oldID, next.ID, req.PlanID, req.Annual, anchor.Format(time.RFC3339))
	return &PlanChangeResult{
		EffectiveAt:    anchor,
		SubscriptionID: next.ID,
		RedirectURL:    p.cfg.SuccessURL,
	}, nil
}
