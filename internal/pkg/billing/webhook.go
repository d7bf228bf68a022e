package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/QRFox/app/models"
	"github.com/ManuelReschke/QRFox/internal/pkg/metrics"
)

// Outcome is what a reconciled event did to local state.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeNoop     Outcome = "noop"
	OutcomeIgnored  Outcome = "ignored"
	OutcomeNotFound Outcome = "not_found"
	OutcomeFailed   Outcome = "failed"
)

// WebhookReconciler folds provider events into the local subscription records.
// Handlers are idempotent and tolerate any delivery order.
type WebhookReconciler struct {
	store    Store
	accounts Accounts
	provider Provider
	catalog  *Catalog
	notifier Notifier
	now      func() time.Time
}

func NewWebhookReconciler(d Deps) *WebhookReconciler {
	d = d.withDefaults()
	return &WebhookReconciler{
		store:    d.Store,
		accounts: d.Accounts,
		provider: d.Provider,
		catalog:  d.Catalog,
		notifier: d.Notifier,
		now:      d.Now,
	}
}

// Reconcile dispatches ev to its handler. A panic in a handler is returned as an error.
func (r *WebhookReconciler) Reconcile(ctx context.Context, ev Event) (out Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			out, err = OutcomeFailed, fmt.Errorf("reconcile %s %s: panic: %v", ev.Type, ev.ID, p)
		}
		switch {
		case errors.Is(err, ErrRecordNotFound):
			out = OutcomeNotFound
			log.Warnf("[Webhook] %s %s: %v", ev.Type, ev.ID, err)
		case err != nil:
			out = OutcomeFailed
			log.Errorf("[Webhook] %s %s: %v", ev.Type, ev.ID, err)
		}
		metrics.WebhookEventsTotal.WithLabelValues(ev.Type, string(out)).Inc()
	}()

	switch ev.Kind {
	case KindSubscriptionCreated:
		return r.subscriptionCreated(ctx, ev.Subscription)
	case KindCheckoutCompleted:
		return r.checkoutCompleted(ctx, ev.Checkout)
	case KindInvoicePaymentSucceeded:
		return r.invoicePaid(ctx, ev.Invoice)
	case KindInvoicePaymentFailed:
		return r.invoiceFailed(ctx, ev.Invoice)
	case KindSubscriptionUpdated:
		return r.subscriptionUpdated(ctx, ev.Subscription)
	case KindSubscriptionDeleted:
		return r.subscriptionDeleted(ctx, ev.Subscription)
	}
	return OutcomeIgnored, nil
}

func outcomeOf(changed bool) Outcome {
	if changed {
		return OutcomeApplied
	}
	return OutcomeNoop
}

func (r *WebhookReconciler) subscriptionCreated(ctx context.Context, p *SubscriptionPayload) (Outcome, error) {
	if p == nil {
		return OutcomeIgnored, nil
	}
	if _, err := r.store.FindSubscription(ctx, BySubscription(p.ID)); err == nil {
		return OutcomeNoop, nil
	} else if !errors.Is(err, ErrRecordNotFound) {
		return OutcomeFailed, err
	}

	changed := false
	_, err := r.store.FindOneAndUpdate(ctx, PendingByCustomer(p.CustomerID), func(rec *models.SubscriptionRecord) bool {
		changed = rec.AttachSubscriptionID(p.ID)
		if changed && p.Status != "" {
			rec.ProviderSubscriptionStatus = p.Status
		}
		return changed
	})
	switch {
	case err == nil:
		return outcomeOf(changed), nil
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return OutcomeNoop, nil
	case !errors.Is(err, ErrRecordNotFound):
		return OutcomeFailed, err
	}

	// No pending checkout: a subscription created by a plan change.
	prev, err := r.store.FindSubscription(ctx, ByCustomer(p.CustomerID))
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return OutcomeNotFound, fmt.Errorf("subscription %s of customer %s: %w", p.ID, p.CustomerID, ErrRecordNotFound)
		}
		return OutcomeFailed, err
	}
	if !prev.IsConfirmed() {
		return OutcomeNotFound, fmt.Errorf("subscription %s of customer %s: %w", p.ID, p.CustomerID, ErrRecordNotFound)
	}

	subID := p.ID
	rec := &models.SubscriptionRecord{
		AccountID:                  prev.AccountID,
		Provider:                   models.BillingProviderStripe,
		ProviderCustomerID:         p.CustomerID,
		ProviderSubscriptionID:     &subID,
		PriceID:                    p.PriceID,
		Amount:                     p.UnitAmount,
		IsAnnual:                   p.Interval == IntervalYear,
		ProviderSubscriptionStatus: p.Status,
		HadSubscribed:              prev.HadSubscribed,
		CardBrand:                  prev.CardBrand,
		CardLast4:                  prev.CardLast4,
		BillingAddress:             prev.BillingAddress,
	}
	if plan, ok := r.catalog.PlanForProduct(p.ProductID); ok {
		rec.PlanID = string(plan)
	} else {
		log.Warnf("[Webhook] subscription %s has unmapped product %q", p.ID, p.ProductID)
	}
	if err := r.store.CreateSubscription(ctx, rec); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return OutcomeNoop, nil
		}
		return OutcomeFailed, err
	}
	log.Infof("[Webhook] subscription %s recorded for account %d after plan change", p.ID, rec.AccountID)
	return OutcomeApplied, nil
}

func (r *WebhookReconciler) checkoutCompleted(ctx context.Context, p *CheckoutPayload) (Outcome, error) {
	if p == nil {
		return OutcomeIgnored, nil
	}
	changed := false
	_, err := r.store.FindOneAndUpdate(ctx, BySession(p.ID), func(rec *models.SubscriptionRecord) bool {
		if p.Address == nil || rec.BillingAddress == *p.Address {
			return false
		}
		rec.BillingAddress = *p.Address
		changed = true
		return true
	})
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return OutcomeNotFound, fmt.Errorf("checkout session %s: %w", p.ID, err)
		}
		return OutcomeFailed, err
	}
	return outcomeOf(changed), nil
}

func (r *WebhookReconciler) invoicePaid(ctx context.Context, p *InvoicePayload) (Outcome, error) {
	if p == nil {
		return OutcomeIgnored, nil
	}
	changed, mismatch := false, false
	apply := func(rec *models.SubscriptionRecord) bool {
		if p.SubscriptionID != "" && rec.IsConfirmed() && rec.SubscriptionID() != p.SubscriptionID {
			mismatch = true
			return false
		}
		changed = false
		if !rec.PaymentStatus {
			rec.PaymentStatus, changed = true, true
		}
		if rec.PaidAmount != p.AmountPaid {
			rec.PaidAmount, changed = p.AmountPaid, true
		}
		if p.Status != "" && rec.ProviderSubscriptionStatus != p.Status {
			rec.ProviderSubscriptionStatus, changed = p.Status, true
		}
		if rec.CancelRequested {
			rec.CancelRequested, changed = false, true
		}
		if rec.MarkSubscribed() {
			changed = true
		}
		if rec.AttachSubscriptionID(p.SubscriptionID) {
			changed = true
		}
		return changed
	}

	rec, err := r.store.FindOneAndUpdate(ctx, BySubscription(p.SubscriptionID), apply)
	if errors.Is(err, ErrRecordNotFound) && p.CustomerID != "" {
		rec, err = r.store.FindOneAndUpdate(ctx, ByCustomer(p.CustomerID), apply)
	}
	if err == nil && mismatch {
		return OutcomeFailed, fmt.Errorf("invoice %s (subscription %q, customer %q): %w", p.ID, p.SubscriptionID, p.CustomerID, ErrSubscriptionNotRecorded)
	}
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return OutcomeNotFound, fmt.Errorf("invoice %s (subscription %q, customer %q): %w", p.ID, p.SubscriptionID, p.CustomerID, ErrRecordNotFound)
		}
		return OutcomeFailed, err
	}

	if err := r.accounts.LinkSubscriptionRecord(ctx, rec.AccountID, rec.ID); err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) && !errors.Is(err, ErrAccountNotFound) {
			return OutcomeFailed, fmt.Errorf("link record %d to account %d: %w", rec.ID, rec.AccountID, err)
		}
		log.Warnf("[Webhook] invoice %s paid for missing account %d, canceling %s at period end", p.ID, rec.AccountID, rec.SubscriptionID())
		if subID := rec.SubscriptionID(); subID != "" {
			if _, cerr := r.provider.UpdateSubscription(ctx, subID, SubscriptionUpdate{CancelAtPeriodEnd: boolPtr(true)}); cerr != nil {
				log.Errorf("[Webhook] could not cancel orphaned subscription %s: %v", subID, cerr)
			}
		}
		return outcomeOf(changed), nil
	}

	retired, err := r.store.RetireSuperseded(ctx, rec.AccountID, rec.ID, r.now())
	if err != nil {
		return OutcomeFailed, fmt.Errorf("retire superseded records of account %d: %w", rec.AccountID, err)
	}
	if retired > 0 {
		log.Infof("[Webhook] account %d: retired %d superseded records, current is %d", rec.AccountID, retired, rec.ID)
		changed = true
	}
	return outcomeOf(changed), nil
}

func (r *WebhookReconciler) invoiceFailed(ctx context.Context, p *InvoicePayload) (Outcome, error) {
	if p == nil {
		return OutcomeIgnored, nil
	}
	changed := false
	_, err := r.store.FindOneAndUpdate(ctx, BySubscription(p.SubscriptionID), func(rec *models.SubscriptionRecord) bool {
		changed = false
		if rec.PaymentStatus {
			rec.PaymentStatus, changed = false, true
		}
		if p.Status != "" && rec.ProviderSubscriptionStatus != p.Status {
			rec.ProviderSubscriptionStatus, changed = p.Status, true
		}
		return changed
	})
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return OutcomeNotFound, fmt.Errorf("failed invoice %s (subscription %q): %w", p.ID, p.SubscriptionID, err)
		}
		return OutcomeFailed, err
	}
	return outcomeOf(changed), nil
}

func (r *WebhookReconciler) subscriptionUpdated(ctx context.Context, p *SubscriptionPayload) (Outcome, error) {
	if p == nil {
		return OutcomeIgnored, nil
	}
	rec, err := r.store.FindSubscription(ctx, BySubscription(p.ID))
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return OutcomeNoop, nil
		}
		return OutcomeFailed, err
	}

	brand, last4 := p.CardBrand, p.CardLast4
	var attachErr error
	customerID := p.CustomerID
	if customerID == "" {
		customerID = rec.ProviderCustomerID
	}
	if p.DefaultPaymentMethod != "" && customerID != "" {
		pm, err := r.provider.AttachPaymentMethod(ctx, p.DefaultPaymentMethod, customerID)
		if err == nil {
			if pm.CardBrand != "" {
				brand, last4 = pm.CardBrand, pm.CardLast4
			}
			err = r.provider.SetDefaultPaymentMethod(ctx, customerID, p.DefaultPaymentMethod)
		}
		if err != nil {
			attachErr = providerErr("attach payment method", err)
			log.Errorf("[Webhook] payment method %s for customer %s: %v", p.DefaultPaymentMethod, customerID, err)
		}
	}

	plan, planKnown := r.catalog.PlanForProduct(p.ProductID)
	changed := false
	_, err = r.store.FindOneAndUpdate(ctx, BySubscription(p.ID), func(rec *models.SubscriptionRecord) bool {
		changed = false
		if brand != "" && (rec.CardBrand != brand || rec.CardLast4 != last4) {
			rec.CardBrand, rec.CardLast4, changed = brand, last4, true
		}
		if planKnown && rec.PlanID != string(plan) {
			rec.PlanID, changed = string(plan), true
		}
		if p.PriceID != "" && rec.PriceID != p.PriceID {
			rec.PriceID, changed = p.PriceID, true
			if p.UnitAmount > 0 {
				rec.Amount = p.UnitAmount
			}
		}
		if p.Interval != "" && rec.IsAnnual != (p.Interval == IntervalYear) {
			rec.IsAnnual, changed = p.Interval == IntervalYear, true
		}
		if p.Status != "" && rec.ProviderSubscriptionStatus != p.Status {
			rec.ProviderSubscriptionStatus, changed = p.Status, true
		}
		return changed
	})
	if err != nil {
		return OutcomeFailed, err
	}
	return outcomeOf(changed), attachErr
}

func (r *WebhookReconciler) subscriptionDeleted(ctx context.Context, p *SubscriptionPayload) (Outcome, error) {
	if p == nil {
		return OutcomeIgnored, nil
	}
	changed, ended := false, false
	rec, err := r.store.FindOneAndUpdate(ctx, BySubscription(p.ID), func(rec *models.SubscriptionRecord) bool {
		changed, ended = false, false
		if rec.ProviderSubscriptionStatus != models.BillingStatusCanceled {
			rec.ProviderSubscriptionStatus, changed = models.BillingStatusCanceled, true
		}
		if rec.RetiredAt == nil {
			now := r.now()
			rec.RetiredAt, changed, ended = &now, true, true
		}
		return changed
	})
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return OutcomeNotFound, fmt.Errorf("deleted subscription %s: %w", p.ID, err)
		}
		return OutcomeFailed, err
	}
	if ended && !r.hasSuccessor(ctx, rec) {
		r.notifier.SubscriptionEnded(ctx, *rec)
	}
	return outcomeOf(changed), nil
}

// hasSuccessor reports whether the account still holds another confirmed,
// non-retired subscription, as it does while a plan change is in flight.
func (r *WebhookReconciler) hasSuccessor(ctx context.Context, rec *models.SubscriptionRecord) bool {
	recs, err := r.store.ListSubscriptionsByAccount(ctx, rec.AccountID)
	if err != nil {
		log.Warnf("[Webhook] list records of account %d: %v", rec.AccountID, err)
		return false
	}
	for i := range recs {
		if recs[i].ID != rec.ID && !recs[i].IsRetired() && recs[i].IsConfirmed() {
			return true
		}
	}
	return false
}
