package billingtest

import (
	"context"
	"sync"

	"gorm.io/gorm"

	"github.com/ManuelReschke/QRFox/app/models"
)

// MemoryAccounts implements billing.Accounts and entitlements.AccountLookup.
type MemoryAccounts struct {
	mu       sync.Mutex
	accounts map[uint]models.Account
}

func NewMemoryAccounts(accounts ...models.Account) *MemoryAccounts {
	m := &MemoryAccounts{accounts: make(map[uint]models.Account)}
	for _, a := range accounts {
		m.Put(a)
	}
	return m
}

func (m *MemoryAccounts) Put(a models.Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.ID] = a
}

func (m *MemoryAccounts) Delete(id uint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.accounts, id)
}

func (m *MemoryAccounts) GetByID(_ context.Context, id uint) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &a, nil
}

func (m *MemoryAccounts) AssignProviderCustomer(_ context.Context, accountID uint, customerID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return false, gorm.ErrRecordNotFound
	}
	if a.CustomerID() != "" {
		return false, nil
	}
	a.ProviderCustomerID = &customerID
	m.accounts[accountID] = a
	return true, nil
}

func (m *MemoryAccounts) LinkSubscriptionRecord(_ context.Context, accountID, recordID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	a.SubscriptionRecordID = &recordID
	m.accounts[accountID] = a
	return nil
}
