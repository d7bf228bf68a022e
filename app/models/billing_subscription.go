package models

import "time"

// BillingProviderStripe is the only provider currently wired.
const BillingProviderStripe = "stripe"

const (
	BillingStatusActive     = "active"
	BillingStatusTrialing   = "trialing"
	BillingStatusPastDue    = "past_due"
	BillingStatusCanceled   = "canceled"
	BillingStatusIncomplete = "incomplete"
	BillingStatusUnpaid     = "unpaid"
)

// BillingAddress is a snapshot of the address collected during checkout.
type BillingAddress struct {
	City       string `gorm:"type:varchar(120)" json:"city"`
	Country    string `gorm:"type:varchar(2)" json:"country"`
	Line1      string `gorm:"type:varchar(255)" json:"line1"`
	Line2      string `gorm:"type:varchar(255)" json:"line2"`
	PostalCode string `gorm:"type:varchar(32)" json:"postal_code"`
	State      string `gorm:"type:varchar(120)" json:"state"`
}

// IsZero reports whether no address was captured.
func (a BillingAddress) IsZero() bool {
	return a == BillingAddress{}
}

// SubscriptionRecord is the local projection of one billing relationship with
// the provider. It is addressed by CheckoutSessionID while pending and by
// ProviderSubscriptionID once confirmed.
type SubscriptionRecord struct {
	ID                         uint           `gorm:"primaryKey" json:"id"`
	AccountID                  uint           `gorm:"not null;index:idx_billing_subscriptions_account,priority:1" json:"account_id"`
	Provider                   string         `gorm:"type:varchar(20);not null;default:'stripe'" json:"provider"`
	ProviderCustomerID         string         `gorm:"type:varchar(191);not null;default:'';index" json:"provider_customer_id"`
	ProviderSubscriptionID     *string        `gorm:"type:varchar(191);uniqueIndex:ux_billing_subscriptions_provider_subid" json:"provider_subscription_id,omitempty"`
	CheckoutSessionID          *string        `gorm:"type:varchar(191);uniqueIndex:ux_billing_subscriptions_session" json:"checkout_session_id,omitempty"`
	PlanID                     string         `gorm:"type:varchar(50);not null;default:''" json:"plan_id"`
	IsAnnual                   bool           `gorm:"default:false" json:"is_annual"`
	PriceID                    string         `gorm:"type:varchar(191);not null;default:''" json:"price_id"`
	Amount                     int64          `gorm:"default:0" json:"amount"`
	PaidAmount                 int64          `gorm:"default:0" json:"paid_amount"`
	PaymentStatus              bool           `gorm:"default:false" json:"payment_status"`
	ProviderSubscriptionStatus string         `gorm:"type:varchar(32);not null;default:''" json:"provider_subscription_status"`
	HadSubscribed              bool           `gorm:"default:false" json:"had_subscribed"`
	CancelRequested            bool           `gorm:"default:false" json:"cancel_requested"`
	CardBrand                  string         `gorm:"type:varchar(32);not null;default:''" json:"card_brand"`
	CardLast4                  string         `gorm:"type:varchar(4);not null;default:''" json:"card_last4"`
	BillingAddress             BillingAddress `gorm:"embedded;embeddedPrefix:billing_" json:"billing_address"`
	RetiredAt                  *time.Time     `gorm:"type:timestamp;default:null;index:idx_billing_subscriptions_account,priority:2" json:"retired_at,omitempty"`
	CreatedAt                  time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt                  time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

func (SubscriptionRecord) TableName() string {
	return "billing_subscriptions"
}

// SubscriptionID returns the provider subscription id or an empty string.
func (s *SubscriptionRecord) SubscriptionID() string {
	if s.ProviderSubscriptionID == nil {
		return ""
	}
	return *s.ProviderSubscriptionID
}

// SessionID returns the checkout session id or an empty string.
func (s *SubscriptionRecord) SessionID() string {
	if s.CheckoutSessionID == nil {
		return ""
	}
	return *s.CheckoutSessionID
}

// IsConfirmed reports whether the provider has confirmed the subscription.
func (s *SubscriptionRecord) IsConfirmed() bool {
	return s.SubscriptionID() != ""
}

func (s *SubscriptionRecord) IsRetired() bool {
	return s.RetiredAt != nil
}

// AttachSubscriptionID sets the provider subscription id if none is set yet.
// It reports whether the record changed.
func (s *SubscriptionRecord) AttachSubscriptionID(id string) bool {
	if id == "" || s.IsConfirmed() {
		return false
	}
	s.ProviderSubscriptionID = &id
	return true
}

// MarkSubscribed sets HadSubscribed. The flag is never cleared.
func (s *SubscriptionRecord) MarkSubscribed() bool {
	if s.HadSubscribed {
		return false
	}
	s.HadSubscribed = true
	return true
}
