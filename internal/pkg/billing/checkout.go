package billing

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/ManuelReschke/QRFox/app/models"
	"github.com/ManuelReschke/QRFox/internal/pkg/entitlements"
)

type CheckoutRequest struct {
	AccountID    uint
	PlanID       entitlements.Plan
	Annual       bool
	FromHomePage bool
}

type CheckoutResult struct {
	URL       string `json:"url"`
	SessionID string `json:"session_id"`
	RecordID  uint   `json:"record_id"`
}

// CheckoutInitiator opens hosted checkout sessions and persists the pending record.
type CheckoutInitiator struct {
	store    Store
	accounts Accounts
	provider Provider
	catalog  *Catalog
	cfg      Config
}

func NewCheckoutInitiator(d Deps) *CheckoutInitiator {
	d = d.withDefaults()
	return &CheckoutInitiator{
		store:    d.Store,
		accounts: d.Accounts,
		provider: d.Provider,
		catalog:  d.Catalog,
		cfg:      d.Config,
	}
}

// Initiate never retries provider calls; the caller re-initiates on failure.
// Concurrent calls for one account may each leave a pending record behind.
func (c *CheckoutInitiator) Initiate(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	account, err := loadAccount(ctx, c.accounts, req.AccountID)
	if err != nil {
		return nil, err
	}

	customerID, err := c.ensureCustomer(ctx, account)
	if err != nil {
		return nil, err
	}

	price, err := c.catalog.ResolvePrice(ctx, c.provider, req.PlanID, req.Annual)
	if err != nil {
		return nil, err
	}

	sess, err := c.provider.CreateCheckoutSession(ctx, CheckoutSessionInput{
		CustomerID:     customerID,
		PriceID:        price.ID,
		SuccessURL:     c.successURL(account, req.FromHomePage),
		CancelURL:      c.cfg.CancelURL,
		AccountID:      account.ID,
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		return nil, providerErr("create checkout session", err)
	}

	sessionID := sess.ID
	rec := &models.SubscriptionRecord{
		AccountID:          account.ID,
		Provider:           models.BillingProviderStripe,
		ProviderCustomerID: customerID,
		CheckoutSessionID:  &sessionID,
		PlanID:             string(req.PlanID),
		IsAnnual:           req.Annual,
		PriceID:            price.ID,
		Amount:             price.UnitAmount,
		PaymentStatus:      false,
	}
	if err := c.store.CreateSubscription(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist pending subscription: %w", err)
	}

	log.Infof("[Billing] checkout %s opened for account %d (%s, annual=%t)", sess.ID, account.ID, req.PlanID, req.Annual)
	return &CheckoutResult{URL: sess.URL, SessionID: sess.ID, RecordID: rec.ID}, nil
}

// ensureCustomer returns the account's provider customer, creating it on first
// checkout. A concurrent assignment wins and the stored id is used.
func (c *CheckoutInitiator) ensureCustomer(ctx context.Context, account *models.Account) (string, error) {
	if id := account.CustomerID(); id != "" {
		return id, nil
	}

	cust, err := c.provider.CreateCustomer(ctx, CustomerInput{
		Email:     account.Email,
		Name:      account.Name,
		AccountID: account.ID,
	})
	if err != nil {
		return "", providerErr("create customer", err)
	}

	assigned, err := c.accounts.AssignProviderCustomer(ctx, account.ID, cust.ID)
	if err != nil {
		return "", fmt.Errorf("store provider customer: %w", err)
	}
	if assigned {
		return cust.ID, nil
	}

	fresh, err := loadAccount(ctx, c.accounts, account.ID)
	if err != nil {
		return "", err
	}
	if fresh.CustomerID() == "" {
		return "", fmt.Errorf("store provider customer: account %d not updated", account.ID)
	}
	log.Warnf("[Billing] account %d already had customer %s, discarding %s", account.ID, fresh.CustomerID(), cust.ID)
	return fresh.CustomerID(), nil
}

func (c *CheckoutInitiator) successURL(account *models.Account, fromHomePage bool) string {
	if !fromHomePage {
		return c.cfg.SuccessURL
	}
	q := url.Values{}
	q.Set("account_id", strconv.FormatUint(uint64(account.ID), 10))
	q.Set("email", account.Email)
	return c.cfg.SuccessURL + "?" + q.Encode()
}
