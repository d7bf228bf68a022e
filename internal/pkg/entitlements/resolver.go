package entitlements

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/QRFox/app/models"
)

// AccountLookup loads accounts by id.
type AccountLookup interface {
	GetByID(ctx context.Context, id uint) (*models.Account, error)
}

// RecordLister lists every subscription record of an account, retired ones included.
type RecordLister interface {
	ListSubscriptionsByAccount(ctx context.Context, accountID uint) ([]models.SubscriptionRecord, error)
}

// Resolver gathers the Evaluate input for an account in one place so callers
// never look up parent accounts themselves.
type Resolver struct {
	accounts AccountLookup
	records  RecordLister
	now      func() time.Time
}

func NewResolver(accounts AccountLookup, records RecordLister) *Resolver {
	return &Resolver{accounts: accounts, records: records, now: time.Now}
}

// WithClock replaces the time source.
func (r *Resolver) WithClock(now func() time.Time) *Resolver {
	r.now = now
	return r
}

// Resolve never fails: lookup errors are logged and yield no entitlement.
func (r *Resolver) Resolve(ctx context.Context, accountID uint) Entitlement {
	in, ok := r.input(ctx, accountID)
	if !ok {
		return Entitlement{}
	}
	return Evaluate(r.now(), in)
}

func (r *Resolver) input(ctx context.Context, accountID uint) (Input, bool) {
	account, err := r.accounts.GetByID(ctx, accountID)
	if err != nil {
		log.Warnf("[Entitlements] account %d lookup failed: %v", accountID, err)
		return Input{}, false
	}
	in := Input{Account: account}

	if account.IsSubAccount() {
		parent, err := r.accounts.GetByID(ctx, *account.ParentAccountID)
		if err != nil {
			log.Warnf("[Entitlements] parent %d of account %d lookup failed: %v", *account.ParentAccountID, accountID, err)
			return in, true
		}
		in.Parent = parent
		if in.ParentRecords, err = r.records.ListSubscriptionsByAccount(ctx, parent.ID); err != nil {
			log.Warnf("[Entitlements] records of parent %d failed: %v", parent.ID, err)
			in.ParentRecords = nil
		}
		return in, true
	}

	if in.Records, err = r.records.ListSubscriptionsByAccount(ctx, account.ID); err != nil {
		log.Warnf("[Entitlements] records of account %d failed: %v", account.ID, err)
		in.Records = nil
	}
	return in, true
}
