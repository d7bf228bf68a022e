package entitlements

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/QRFox/app/models"
)

var now = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func uintPtr(v uint) *uint { return &v }

func timePtr(t time.Time) *time.Time { return &t }

func strPtr(s string) *string { return &s }

func TestParsePlan(t *testing.T) {
	p, ok := ParsePlan(" business ")
	assert.True(t, ok)
	assert.Equal(t, PlanBusiness, p)

	_, ok = ParsePlan("Free")
	assert.False(t, ok, "Free is not purchasable")

	_, ok = ParsePlan("ENTERPRISE")
	assert.False(t, ok)
}

func TestEvaluate_TrialWithoutSubscription(t *testing.T) {
	acc := &models.Account{ID: 1, TrialExpiresAt: timePtr(now.Add(48 * time.Hour))}

	ent := Evaluate(now, Input{Account: acc})

	assert.True(t, ent.TrialValid)
	assert.True(t, ent.HasPaidAccess)
	assert.False(t, ent.CurrentSubscriptionValid)
	assert.False(t, ent.HadSubscribed)
	assert.Empty(t, ent.PlanID)
}

func TestEvaluate_TrialBoundaryIsInclusive(t *testing.T) {
	acc := &models.Account{ID: 1, TrialExpiresAt: timePtr(now)}
	assert.True(t, Evaluate(now, Input{Account: acc}).TrialValid)
	assert.False(t, Evaluate(now.Add(time.Second), Input{Account: acc}).TrialValid)
}

func TestEvaluate_PaidSubscription(t *testing.T) {
	acc := &models.Account{ID: 1, TrialExpiresAt: timePtr(now.Add(-time.Hour))}
	recs := []models.SubscriptionRecord{
		{ID: 1, AccountID: 1, PlanID: "LITE", PaymentStatus: true, HadSubscribed: true, ProviderSubscriptionID: strPtr("sub_1")},
	}

	ent := Evaluate(now, Input{Account: acc, Records: recs})

	assert.False(t, ent.TrialValid)
	assert.True(t, ent.CurrentSubscriptionValid)
	assert.True(t, ent.HasPaidAccess)
	assert.True(t, ent.HadSubscribed)
	assert.Equal(t, "LITE", ent.PlanID)
}

func TestEvaluate_HadSubscribedSurvivesRetiredRecords(t *testing.T) {
	retired := now.Add(-24 * time.Hour)
	acc := &models.Account{ID: 1}
	recs := []models.SubscriptionRecord{
		{ID: 1, AccountID: 1, PlanID: "STARTER", HadSubscribed: true, RetiredAt: &retired, ProviderSubscriptionID: strPtr("sub_1")},
		{ID: 2, AccountID: 1, PlanID: "LITE"},
	}

	ent := Evaluate(now, Input{Account: acc, Records: recs})

	assert.True(t, ent.HadSubscribed)
	assert.False(t, ent.HasPaidAccess)
	assert.Equal(t, "LITE", ent.PlanID)
}

func TestEvaluate_SubAccountUsesParentOnly(t *testing.T) {
	parent := &models.Account{ID: 10}
	child := &models.Account{ID: 11, ParentAccountID: uintPtr(10), TrialExpiresAt: timePtr(now.Add(time.Hour))}
	own := []models.SubscriptionRecord{
		{ID: 5, AccountID: 11, PlanID: "PROFESSIONAL", PaymentStatus: true, ProviderSubscriptionID: strPtr("sub_child")},
	}

	tests := []struct {
		name          string
		parentRecords []models.SubscriptionRecord
		wantAccess    bool
		wantPlan      string
	}{
		{name: "parent unpaid", parentRecords: nil, wantAccess: false, wantPlan: ""},
		{
			name: "parent paid",
			parentRecords: []models.SubscriptionRecord{
				{ID: 1, AccountID: 10, PlanID: "BUSINESS", PaymentStatus: true, ProviderSubscriptionID: strPtr("sub_parent")},
			},
			wantAccess: true,
			wantPlan:   "BUSINESS",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ent := Evaluate(now, Input{Account: child, Records: own, Parent: parent, ParentRecords: tt.parentRecords})
			assert.True(t, ent.Inherited)
			assert.False(t, ent.TrialValid, "the child's own trial is ignored")
			assert.Equal(t, tt.wantAccess, ent.HasPaidAccess)
			assert.Equal(t, tt.wantPlan, ent.PlanID)
		})
	}
}

func TestEvaluate_SubAccountWithoutParent(t *testing.T) {
	child := &models.Account{ID: 11, ParentAccountID: uintPtr(10), TrialExpiresAt: timePtr(now.Add(time.Hour))}

	ent := Evaluate(now, Input{Account: child, Parent: &models.Account{ID: 99}})

	assert.Equal(t, Entitlement{Inherited: true}, ent)
}

func TestCurrentRecord_PrefersConfirmedThenNewest(t *testing.T) {
	recs := []models.SubscriptionRecord{
		{ID: 1, ProviderSubscriptionID: strPtr("sub_old")},
		{ID: 2, ProviderSubscriptionID: strPtr("sub_new")},
		{ID: 3},
	}
	require.NotNil(t, CurrentRecord(recs))
	assert.Equal(t, uint(2), CurrentRecord(recs).ID)

	assert.Nil(t, CurrentRecord(nil))
}

func TestEvaluate_PaidRecordOutranksUnpaidSuccessor(t *testing.T) {
	acc := &models.Account{ID: 1}
	recs := []models.SubscriptionRecord{
		{ID: 1, AccountID: 1, PlanID: "LITE", PaymentStatus: true, HadSubscribed: true, ProviderSubscriptionID: strPtr("sub_old")},
		{ID: 2, AccountID: 1, PlanID: "PROFESSIONAL", HadSubscribed: true, ProviderSubscriptionID: strPtr("sub_new")},
	}

	ent := Evaluate(now, Input{Account: acc, Records: recs})
	assert.True(t, ent.HasPaidAccess)
	assert.Equal(t, "LITE", ent.PlanID)

	recs[1].PaymentStatus = true
	ent = Evaluate(now, Input{Account: acc, Records: recs})
	assert.True(t, ent.HasPaidAccess)
	assert.Equal(t, "PROFESSIONAL", ent.PlanID)
}

func TestDynamicQRCodeLimit(t *testing.T) {
	tests := []struct {
		ent  Entitlement
		want int
	}{
		{Entitlement{}, 0},
		{Entitlement{HasPaidAccess: true, TrialValid: true}, 5},
		{Entitlement{HasPaidAccess: true, PlanID: "LITE"}, 50},
		{Entitlement{HasPaidAccess: true, PlanID: "BUSINESS"}, 250},
		{Entitlement{HasPaidAccess: true, PlanID: "PROFESSIONAL"}, 500},
		{Entitlement{HasPaidAccess: false, PlanID: "PROFESSIONAL"}, 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DynamicQRCodeLimit(tt.ent), "%+v", tt.ent)
	}

	ent := Entitlement{HasPaidAccess: true, PlanID: "STARTER"}
	assert.True(t, AllowsDynamicQRCode(ent, 4))
	assert.False(t, AllowsDynamicQRCode(ent, 5))
	assert.False(t, AllowsPremiumDesign(Entitlement{}))
}

type stubAccounts map[uint]*models.Account

func (s stubAccounts) GetByID(_ context.Context, id uint) (*models.Account, error) {
	if a, ok := s[id]; ok {
		return a, nil
	}
	return nil, errors.New("not found")
}

type stubRecords map[uint][]models.SubscriptionRecord

func (s stubRecords) ListSubscriptionsByAccount(_ context.Context, id uint) ([]models.SubscriptionRecord, error) {
	return s[id], nil
}

func TestResolver_LoadsParent(t *testing.T) {
	accounts := stubAccounts{
		10: {ID: 10},
		11: {ID: 11, ParentAccountID: uintPtr(10)},
	}
	records := stubRecords{
		10: {{ID: 1, AccountID: 10, PlanID: "LITE", PaymentStatus: true, ProviderSubscriptionID: strPtr("sub_1")}},
	}
	r := NewResolver(accounts, records).WithClock(func() time.Time { return now })

	ent := r.Resolve(context.Background(), 11)
	assert.True(t, ent.HasPaidAccess)
	assert.True(t, ent.Inherited)
	assert.Equal(t, "LITE", ent.PlanID)

	assert.Equal(t, Entitlement{}, r.Resolve(context.Background(), 404))
}
