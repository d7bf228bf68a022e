package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/ManuelReschke/QRFox/app/models"
)

// accountRepository implements the AccountRepository interface
type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new account repository instance
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

// Create creates a new account in the database
func (r *accountRepository) Create(ctx context.Context, account *models.Account) error {
	return r.db.WithContext(ctx).Create(account).Error
}

// GetByID retrieves an account by its ID
func (r *accountRepository) GetByID(ctx context.Context, id uint) (*models.Account, error) {
	var account models.Account
	err := r.db.WithContext(ctx).First(&account, id).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// GetByEmail retrieves an account by its email address
func (r *accountRepository) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	var account models.Account
	err := r.db.WithContext(ctx).Where("email = ?", email).First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// GetByAPIKeyHash resolves an API key hash to its account.
func (r *accountRepository) GetByAPIKeyHash(ctx context.Context, hash string) (*models.Account, error) {
	trimmed := strings.TrimSpace(hash)
	if trimmed == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var account models.Account
	err := r.db.WithContext(ctx).Where("api_key_hash = ? AND api_key_hash <> ''", trimmed).First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// ListSubAccounts returns the accounts billed through parentID.
func (r *accountRepository) ListSubAccounts(ctx context.Context, parentID uint) ([]models.Account, error) {
	var accounts []models.Account
	err := r.db.WithContext(ctx).Where("parent_account_id = ?", parentID).Order("id").Find(&accounts).Error
	return accounts, err
}

func (r *accountRepository) AssignProviderCustomer(ctx context.Context, accountID uint, customerID string) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ? AND (provider_customer_id IS NULL OR provider_customer_id = '')", accountID).
		Update("provider_customer_id", customerID)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

// LinkSubscriptionRecord points the account at its current subscription record.
// gorm.ErrRecordNotFound is returned when the account does not exist.
func (r *accountRepository) LinkSubscriptionRecord(ctx context.Context, accountID, recordID uint) error {
	db := r.db.WithContext(ctx)
	tx := db.Model(&models.Account{}).Where("id = ?", accountID).Update("subscription_record_id", recordID)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected > 0 {
		return nil
	}
	// MySQL reports zero affected rows when the value is unchanged.
	var count int64
	if err := db.Model(&models.Account{}).Where("id = ?", accountID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
