// Package billingtest provides in-memory doubles for the billing components.
package billingtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/ManuelReschke/QRFox/app/models"
	"github.com/ManuelReschke/QRFox/internal/pkg/billing"
)

var _ billing.Repository = (*MemoryStore)(nil)

// MemoryStore is a billing.Repository held in memory. The single mutex gives
// FindOneAndUpdate the same isolation as the row lock in MySQL.
type MemoryStore struct {
	mu       sync.Mutex
	records  []models.SubscriptionRecord
	events   []models.BillingWebhookEvent
	mappings []models.BillingPlanMapping
	nextID   uint
	nextEvID uint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Seed inserts records as-is, assigning ids where missing.
func (s *MemoryStore) Seed(recs ...models.SubscriptionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recs {
		if r.ID == 0 {
			s.nextID++
			r.ID = s.nextID
		} else if r.ID > s.nextID {
			s.nextID = r.ID
		}
		s.records = append(s.records, r)
	}
}

func (s *MemoryStore) AddMapping(m models.BillingPlanMapping) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mappings = append(s.mappings, m)
}

// All returns a copy of every record ordered by id.
func (s *MemoryStore) All() []models.SubscriptionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.SubscriptionRecord, len(s.records))
	copy(out, s.records)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *MemoryStore) Events() []models.BillingWebhookEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.BillingWebhookEvent, len(s.events))
	copy(out, s.events)
	return out
}

func (s *MemoryStore) CreateSubscription(_ context.Context, rec *models.SubscriptionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conflicts(rec, -1) {
		return gorm.ErrDuplicatedKey
	}
	s.nextID++
	rec.ID = s.nextID
	now := time.Now()
	rec.CreatedAt, rec.UpdatedAt = now, now
	s.records = append(s.records, *rec)
	return nil
}

func (s *MemoryStore) FindSubscription(_ context.Context, l billing.Lookup) (*models.SubscriptionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.find(l)
	if i < 0 {
		return nil, billing.ErrRecordNotFound
	}
	rec := s.records[i]
	return &rec, nil
}

func (s *MemoryStore) FindOneAndUpdate(_ context.Context, l billing.Lookup, apply func(rec *models.SubscriptionRecord) bool) (*models.SubscriptionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.find(l)
	if i < 0 {
		return nil, billing.ErrRecordNotFound
	}
	rec := s.records[i]
	if !apply(&rec) {
		out := s.records[i]
		return &out, nil
	}
	if s.conflicts(&rec, i) {
		return nil, gorm.ErrDuplicatedKey
	}
	rec.UpdatedAt = time.Now()
	s.records[i] = rec
	return &rec, nil
}

func (s *MemoryStore) ListSubscriptionsByAccount(_ context.Context, accountID uint) ([]models.SubscriptionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SubscriptionRecord
	for _, r := range s.records {
		if r.AccountID == accountID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) RetireSuperseded(_ context.Context, accountID, keepID uint, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.records {
		r := &s.records[i]
		if r.AccountID == accountID && r.ID != keepID && r.RetiredAt == nil {
			t := at
			r.RetiredAt = &t
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListActivePlanMappings(_ context.Context, provider string) ([]models.BillingPlanMapping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.BillingPlanMapping
	for _, m := range s.mappings {
		if m.Provider == provider && m.IsActive {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *MemoryStore) CreateWebhookEventIfNotExists(_ context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e.Provider == event.Provider && e.ProviderEventID == event.ProviderEventID {
			stored := e
			return false, &stored, nil
		}
	}
	s.nextEvID++
	event.ID = s.nextEvID
	s.events = append(s.events, *event)
	stored := *event
	return true, &stored, nil
}

func (s *MemoryStore) MarkWebhookProcessed(_ context.Context, id uint, processingError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].ID == id {
			now := time.Now()
			s.events[i].ProcessedAt = &now
			s.events[i].ProcessingError = processingError
			s.events[i].Attempts++
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

// find returns the index of the record the lookup selects, using the same
// precedence as the SQL scopes: paid first, confirmed before pending, then newest.
func (s *MemoryStore) find(l billing.Lookup) int {
	if !l.Valid() {
		return -1
	}
	best := -1
	for i := range s.records {
		r := &s.records[i]
		if !l.Matches(r) {
			continue
		}
		if best < 0 {
			best = i
			continue
		}
		b := &s.records[best]
		if r.PaymentStatus != b.PaymentStatus {
			if r.PaymentStatus {
				best = i
			}
			continue
		}
		if r.IsConfirmed() != b.IsConfirmed() {
			if r.IsConfirmed() {
				best = i
			}
			continue
		}
		if r.ID > b.ID {
			best = i
		}
	}
	return best
}

func (s *MemoryStore) conflicts(rec *models.SubscriptionRecord, self int) bool {
	for i := range s.records {
		if i == self {
			continue
		}
		r := &s.records[i]
		if rec.IsConfirmed() && r.SubscriptionID() == rec.SubscriptionID() {
			return true
		}
		if rec.SessionID() != "" && r.SessionID() == rec.SessionID() {
			return true
		}
	}
	return false
}
