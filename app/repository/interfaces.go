package repository

import (
	"context"

	"gorm.io/gorm"

	"github.com/ManuelReschke/QRFox/app/models"
	"github.com/ManuelReschke/QRFox/internal/pkg/billing"
)

// AccountRepository defines the interface for account-related database operations
type AccountRepository interface {
	Create(ctx context.Context, account *models.Account) error
	GetByID(ctx context.Context, id uint) (*models.Account, error)
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByAPIKeyHash(ctx context.Context, hash string) (*models.Account, error)
	ListSubAccounts(ctx context.Context, parentID uint) ([]models.Account, error)
	// AssignProviderCustomer sets the provider customer id only when none is
	// stored yet and reports whether this call set it.
	AssignProviderCustomer(ctx context.Context, accountID uint, customerID string) (bool, error)
	LinkSubscriptionRecord(ctx context.Context, accountID, recordID uint) error
}

// Repositories struct holds all repository instances
type Repositories struct {
	Account AccountRepository
	Billing billing.Repository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Account: NewAccountRepository(db),
		Billing: billing.NewRepository(db),
	}
}
