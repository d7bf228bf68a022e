package entitlements

import (
	"strings"
	"time"

	"github.com/ManuelReschke/QRFox/app/models"
)

type Plan string

const (
	PlanFree         Plan = "Free"
	PlanStarter      Plan = "STARTER"
	PlanLite         Plan = "LITE"
	PlanBusiness     Plan = "BUSINESS"
	PlanProfessional Plan = "PROFESSIONAL"
)

// PaidPlans lists the purchasable plans in ascending order.
var PaidPlans = []Plan{PlanStarter, PlanLite, PlanBusiness, PlanProfessional}

// ParsePlan normalises a plan identifier. Unknown values yield false.
func ParsePlan(s string) (Plan, bool) {
	p := Plan(strings.ToUpper(strings.TrimSpace(s)))
	for _, known := range PaidPlans {
		if p == known {
			return p, true
		}
	}
	return "", false
}

// Entitlement is the access decision for one account at one instant.
type Entitlement struct {
	TrialValid               bool   `json:"trialValid"`
	HasPaidAccess            bool   `json:"isValid"`
	HadSubscribed            bool   `json:"hadSubscribed"`
	PlanID                   string `json:"planName"`
	CurrentSubscriptionValid bool   `json:"currentSubscriptionValid"`
	Inherited                bool   `json:"inherited"`
}

// Input carries everything Evaluate looks at. Parent and ParentRecords are only
// consulted when Account is a sub-account.
type Input struct {
	Account       *models.Account
	Records       []models.SubscriptionRecord
	Parent        *models.Account
	ParentRecords []models.SubscriptionRecord
}

// Evaluate computes the entitlement. Sub-accounts derive it from the parent
// exclusively; their own records are ignored.
func Evaluate(now time.Time, in Input) Entitlement {
	if in.Account == nil {
		return Entitlement{}
	}

	source, records := in.Account, in.Records
	inherited := false
	if in.Account.IsSubAccount() {
		if in.Parent == nil || in.Parent.ID != *in.Account.ParentAccountID {
			return Entitlement{Inherited: true}
		}
		source, records, inherited = in.Parent, in.ParentRecords, true
	}

	records = ownedBy(records, source.ID)
	ent := Entitlement{
		TrialValid: source.TrialValid(now),
		Inherited:  inherited,
	}
	if current := CurrentRecord(records); current != nil {
		ent.PlanID = current.PlanID
		ent.CurrentSubscriptionValid = current.PaymentStatus
	}
	for i := range records {
		if records[i].HadSubscribed {
			ent.HadSubscribed = true
			break
		}
	}
	ent.HasPaidAccess = ent.TrialValid || ent.CurrentSubscriptionValid
	return ent
}

// CurrentRecord picks the record that currently represents the account:
// non-retired, paid before unpaid, confirmed before pending, newest first.
// A plan change's unpaid successor therefore never displaces the paid record
// it replaces. Nil when none qualifies.
func CurrentRecord(records []models.SubscriptionRecord) *models.SubscriptionRecord {
	var best *models.SubscriptionRecord
	for i := range records {
		r := &records[i]
		if r.IsRetired() {
			continue
		}
		if best == nil || moreCurrent(r, best) {
			best = r
		}
	}
	return best
}

func ownedBy(records []models.SubscriptionRecord, accountID uint) []models.SubscriptionRecord {
	out := make([]models.SubscriptionRecord, 0, len(records))
	for _, r := range records {
		if r.AccountID == accountID {
			out = append(out, r)
		}
	}
	return out
}

func moreCurrent(a, b *models.SubscriptionRecord) bool {
	if a.PaymentStatus != b.PaymentStatus {
		return a.PaymentStatus
	}
	if a.IsConfirmed() != b.IsConfirmed() {
		return a.IsConfirmed()
	}
	return a.ID > b.ID
}
