package billing

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/QRFox/app/models"
	"github.com/ManuelReschke/QRFox/internal/pkg/entitlements"
)

type InvoiceLine struct {
	Date             string                 `json:"date"`
	Status           string                 `json:"status"`
	AmountPaid       float64                `json:"amount_paid"`
	AmountRemaining  float64                `json:"amount_remaining"`
	Address          *models.BillingAddress `json:"address,omitempty"`
	HostedInvoiceURL string                 `json:"hosted_invoice_url"`
}

type NextInvoice struct {
	StartingDate string  `json:"starting_date"`
	Amount       float64 `json:"amount"`
}

// BillingSummary is the read model behind the billing page.
type BillingSummary struct {
	Invoices        []InvoiceLine          `json:"invoices"`
	NextInvoice     *NextInvoice           `json:"next_invoice"`
	CardBrand       string                 `json:"card_brand"`
	CardLast4       string                 `json:"card_last4"`
	BillingAddress  *models.BillingAddress `json:"billing_address,omitempty"`
	PaymentStatus   bool                   `json:"payment_status"`
	Status          string                 `json:"status"`
	Amount          float64                `json:"amount"`
	CancelRequested bool                   `json:"cancel_requested"`
	IsAnnual        bool                   `json:"is_annual"`
	TrialExpiration string                 `json:"trial_expiration"`
	TrialValid      bool                   `json:"trial_valid"`
	Plan            string                 `json:"plan"`
}

type PlanDetails struct {
	Subscription *models.SubscriptionRecord `json:"subscription"`
	IsTrial      bool                       `json:"is_trial"`
	PeriodStart  *time.Time                 `json:"period_start,omitempty"`
	PeriodEnd    *time.Time                 `json:"period_end,omitempty"`
}

// InvoiceProjector builds read-only billing views. It never writes.
type InvoiceProjector struct {
	store    Store
	accounts Accounts
	provider Provider
	now      func() time.Time
}

func NewInvoiceProjector(d Deps) *InvoiceProjector {
	d = d.withDefaults()
	return &InvoiceProjector{store: d.Store, accounts: d.Accounts, provider: d.Provider, now: d.Now}
}

func (p *InvoiceProjector) Summary(ctx context.Context, accountID uint) (*BillingSummary, error) {
	account, err := loadAccount(ctx, p.accounts, accountID)
	if err != nil {
		return nil, err
	}
	rec, err := p.store.FindSubscription(ctx, CurrentForAccount(accountID))
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return nil, err
	}
	if err != nil {
		rec = nil
	}

	out := &BillingSummary{Invoices: []InvoiceLine{}}
	if account.TrialExpiresAt != nil {
		out.TrialExpiration = displayDate(*account.TrialExpiresAt)
	}
	trialValid := account.TrialValid(p.now())

	if rec != nil {
		out.CardBrand = rec.CardBrand
		out.CardLast4 = rec.CardLast4
		if !rec.BillingAddress.IsZero() {
			addr := rec.BillingAddress
			out.BillingAddress = &addr
		}
		out.PaymentStatus = rec.PaymentStatus
		out.Status = rec.ProviderSubscriptionStatus
		out.Amount = dollars(rec.Amount)
		out.CancelRequested = rec.CancelRequested
		out.IsAnnual = rec.IsAnnual
		out.Plan = rec.PlanID
	}
	out.TrialValid = trialValid && !out.PaymentStatus
	if trialValid && out.Plan == "" {
		out.Plan = string(entitlements.PlanFree)
	}

	customerID := account.CustomerID()
	if customerID == "" {
		return out, nil
	}

	invoices, err := p.provider.ListInvoices(ctx, customerID)
	if err != nil {
		return nil, providerErr("list invoices", err)
	}
	for _, inv := range invoices {
		out.Invoices = append(out.Invoices, InvoiceLine{
			Date:             displayDate(inv.Created),
			Status:           inv.Status,
			AmountPaid:       dollars(inv.AmountPaid),
			AmountRemaining:  dollars(inv.AmountRemaining),
			Address:          inv.CustomerAddress,
			HostedInvoiceURL: inv.HostedInvoiceURL,
		})
	}

	if next, err := p.provider.UpcomingInvoice(ctx, customerID); err != nil {
		log.Debugf("[Billing] no upcoming invoice for customer %s: %v", customerID, err)
	} else if next != nil {
		out.NextInvoice = &NextInvoice{
			StartingDate: displayDate(next.NextPaymentAttempt),
			Amount:       dollars(next.Total),
		}
	}
	return out, nil
}

// PlanDetails returns the current record. Trial periods are read from the
// provider because they are not stored locally.
func (p *InvoiceProjector) PlanDetails(ctx context.Context, accountID uint) (*PlanDetails, error) {
	rec, err := p.store.FindSubscription(ctx, CurrentForAccount(accountID))
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	out := &PlanDetails{Subscription: rec}
	if rec.ProviderSubscriptionStatus != models.BillingStatusTrialing || !rec.IsConfirmed() {
		return out, nil
	}

	sub, err := p.provider.GetSubscription(ctx, rec.SubscriptionID())
	if err != nil {
		return nil, providerErr("get subscription", err)
	}
	out.IsTrial = true
	if !sub.CurrentPeriodStart.IsZero() {
		start := sub.CurrentPeriodStart
		out.PeriodStart = &start
	}
	if !sub.CurrentPeriodEnd.IsZero() {
		end := sub.CurrentPeriodEnd
		out.PeriodEnd = &end
	}
	return out, nil
}

func dollars(cents int64) float64 {
	return float64(cents) / 100
}
