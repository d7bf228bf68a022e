package billing

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/QRFox/app/models"
)

type lookupKind int

const (
	lookupSession lookupKind = iota + 1
	lookupSubscription
	lookupCustomer
	lookupPendingCustomer
	lookupAccount
)

// Lookup selects one subscription record by a correlation key.
type Lookup struct {
	kind      lookupKind
	key       string
	accountID uint
}

// BySession matches the pending record opened for a checkout session.
func BySession(sessionID string) Lookup { return Lookup{kind: lookupSession, key: sessionID} }

// BySubscription matches the record confirmed for a provider subscription.
func BySubscription(subscriptionID string) Lookup {
	return Lookup{kind: lookupSubscription, key: subscriptionID}
}

// ByCustomer matches the most relevant non-retired record of a provider customer.
func ByCustomer(customerID string) Lookup { return Lookup{kind: lookupCustomer, key: customerID} }

// PendingByCustomer matches the newest non-retired record of a customer that is
// not yet attached to a provider subscription.
func PendingByCustomer(customerID string) Lookup {
	return Lookup{kind: lookupPendingCustomer, key: customerID}
}

// CurrentForAccount matches the record that currently represents an account.
func CurrentForAccount(accountID uint) Lookup {
	return Lookup{kind: lookupAccount, accountID: accountID}
}

// Valid reports whether the lookup carries a usable key.
func (l Lookup) Valid() bool {
	if l.kind == lookupAccount {
		return l.accountID != 0
	}
	return l.kind != 0 && l.key != ""
}

// Matches reports whether rec satisfies the lookup filter, ignoring ordering.
func (l Lookup) Matches(rec *models.SubscriptionRecord) bool {
	switch l.kind {
	case lookupSession:
		return rec.SessionID() == l.key
	case lookupSubscription:
		return rec.SubscriptionID() == l.key
	case lookupCustomer:
		return !rec.IsRetired() && rec.ProviderCustomerID == l.key
	case lookupPendingCustomer:
		return !rec.IsRetired() && rec.ProviderCustomerID == l.key && !rec.IsConfirmed()
	case lookupAccount:
		return !rec.IsRetired() && rec.AccountID == l.accountID
	}
	return false
}

func (l Lookup) scope(db *gorm.DB) *gorm.DB {
	switch l.kind {
	case lookupSession:
		return db.Where("checkout_session_id = ?", l.key)
	case lookupSubscription:
		return db.Where("provider_subscription_id = ?", l.key)
	case lookupCustomer:
		return db.Where("provider_customer_id = ? AND retired_at IS NULL", l.key).
			Order("payment_status DESC").Order("provider_subscription_id IS NULL").Order("id DESC")
	case lookupPendingCustomer:
		return db.Where("provider_customer_id = ? AND provider_subscription_id IS NULL AND retired_at IS NULL", l.key).
			Order("id DESC")
	default:
		return db.Where("account_id = ? AND retired_at IS NULL", l.accountID).
			Order("payment_status DESC").Order("provider_subscription_id IS NULL").Order("id DESC")
	}
}

// Store owns the persisted subscription records. Every webhook mutation goes
// through FindOneAndUpdate.
type Store interface {
	CreateSubscription(ctx context.Context, rec *models.SubscriptionRecord) error
	FindSubscription(ctx context.Context, l Lookup) (*models.SubscriptionRecord, error)
	// FindOneAndUpdate locks the matching record, lets apply mutate it and writes
	// it back when apply reports a change. Lock and write share one transaction.
	FindOneAndUpdate(ctx context.Context, l Lookup, apply func(rec *models.SubscriptionRecord) bool) (*models.SubscriptionRecord, error)
	ListSubscriptionsByAccount(ctx context.Context, accountID uint) ([]models.SubscriptionRecord, error)
	RetireSuperseded(ctx context.Context, accountID, keepID uint, at time.Time) (int64, error)
}

// WebhookLedger records provider deliveries for deduplication and audit.
type WebhookLedger interface {
	CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error
}

// Repository is the gorm-backed persistence of the billing subsystem.
type Repository interface {
	Store
	WebhookLedger
	ListActivePlanMappings(ctx context.Context, provider string) ([]models.BillingPlanMapping, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateSubscription(ctx context.Context, rec *models.SubscriptionRecord) error {
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *gormRepository) FindSubscription(ctx context.Context, l Lookup) (*models.SubscriptionRecord, error) {
	if !l.Valid() {
		return nil, ErrRecordNotFound
	}
	var rec models.SubscriptionRecord
	if err := l.scope(r.db.WithContext(ctx)).Take(&rec).Error; err != nil {
		return nil, translateNotFound(err)
	}
	return &rec, nil
}

func (r *gormRepository) FindOneAndUpdate(ctx context.Context, l Lookup, apply func(rec *models.SubscriptionRecord) bool) (*models.SubscriptionRecord, error) {
	if !l.Valid() {
		return nil, ErrRecordNotFound
	}
	var rec models.SubscriptionRecord
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := l.scope(tx.Clauses(clause.Locking{Strength: "UPDATE"})).Take(&rec).Error; err != nil {
			return err
		}
		if !apply(&rec) {
			return nil
		}
		return tx.Save(&rec).Error
	})
	if err != nil {
		return nil, translateNotFound(err)
	}
	return &rec, nil
}

func (r *gormRepository) ListSubscriptionsByAccount(ctx context.Context, accountID uint) ([]models.SubscriptionRecord, error) {
	var recs []models.SubscriptionRecord
	err := r.db.WithContext(ctx).Where("account_id = ?", accountID).Order("id").Find(&recs).Error
	return recs, err
}

func (r *gormRepository) RetireSuperseded(ctx context.Context, accountID, keepID uint, at time.Time) (int64, error) {
	tx := r.db.WithContext(ctx).Model(&models.SubscriptionRecord{}).
		Where("account_id = ? AND id <> ? AND retired_at IS NULL", accountID, keepID).
		Update("retired_at", at)
	return tx.RowsAffected, tx.Error
}

func (r *gormRepository) ListActivePlanMappings(ctx context.Context, provider string) ([]models.BillingPlanMapping, error) {
	var mappings []models.BillingPlanMapping
	err := r.db.WithContext(ctx).Where("provider = ? AND is_active = ?", provider, true).Find(&mappings).Error
	return mappings, err
}

func (r *gormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	db := r.db.WithContext(ctx)
	tx := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
		"attempts":         gorm.Expr("attempts + 1"),
	}
	return r.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

func translateNotFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrRecordNotFound
	}
	return err
}
