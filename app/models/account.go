package models

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	ROLE_ADMIN       = "admin"
	ROLE_EDITOR      = "editor"
	ROLE_VIEWER      = "viewer"
	ROLE_WHITE_LABEL = "white_label"
)

// Account is a tenant. An account with ParentAccountID set is a sub-account and
// never holds billing of its own.
type Account struct {
	ID                   uint       `gorm:"primaryKey" json:"id"`
	Name                 string     `gorm:"type:varchar(150)" json:"name" validate:"max=150"`
	Email                string     `gorm:"uniqueIndex;type:varchar(200)" json:"email" validate:"required,email,max=200"`
	Role                 string     `gorm:"type:varchar(50);default:'admin'" json:"role" validate:"oneof=admin editor viewer white_label"`
	ParentAccountID      *uint      `gorm:"index" json:"parent_account_id,omitempty"`
	TrialExpiresAt       *time.Time `gorm:"type:timestamp;default:null" json:"trial_expires_at,omitempty"`
	ProviderCustomerID   *string    `gorm:"type:varchar(191);uniqueIndex" json:"provider_customer_id,omitempty"`
	SubscriptionRecordID *uint      `gorm:"default:null" json:"subscription_record_id,omitempty"`
	APIKeyHash           string     `gorm:"type:varchar(64);index" json:"-"`
	CreatedAt            time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (a *Account) Validate() error {
	v := validator.New()

	return v.Struct(a)
}

// IsSubAccount reports whether billing is inherited from a parent account.
func (a *Account) IsSubAccount() bool {
	return a.ParentAccountID != nil && *a.ParentAccountID != 0
}

// TrialValid reports whether now falls inside the trial window.
func (a *Account) TrialValid(now time.Time) bool {
	if a.TrialExpiresAt == nil {
		return false
	}
	return !now.After(*a.TrialExpiresAt)
}

// CustomerID returns the provider customer id or an empty string.
func (a *Account) CustomerID() string {
	if a.ProviderCustomerID == nil {
		return ""
	}
	return *a.ProviderCustomerID
}

// IssueAPIKey generates a new raw key, stores its hash and returns the raw value once.
func (a *Account) IssueAPIKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	raw := "qrk_" + hex.EncodeToString(b)
	a.APIKeyHash = HashAPIKey(raw)
	return raw, nil
}

func HashAPIKey(raw string) string {
	sum := sha256.Sum256([]byte(strings.TrimSpace(raw)))
	return hex.EncodeToString(sum[:])
}
