package billingtest

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/ManuelReschke/QRFox/internal/pkg/billing"
)

var _ billing.DeadLetterQueue = (*MemoryDeadLetterQueue)(nil)

type MemoryDeadLetterQueue struct {
	mu        sync.Mutex
	pending   []billing.DeadLetter
	exhausted []billing.DeadLetter
}

func NewMemoryDeadLetterQueue() *MemoryDeadLetterQueue {
	return &MemoryDeadLetterQueue{}
}

func (q *MemoryDeadLetterQueue) Push(_ context.Context, dl billing.DeadLetter) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if dl.ID == "" {
		dl.ID = uuid.NewString()
	}
	q.pending = append(q.pending, dl)
	return nil
}

func (q *MemoryDeadLetterQueue) Pop(_ context.Context) (*billing.DeadLetter, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, nil
	}
	dl := q.pending[0]
	q.pending = q.pending[1:]
	return &dl, nil
}

func (q *MemoryDeadLetterQueue) Exhaust(_ context.Context, dl billing.DeadLetter) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.exhausted = append(q.exhausted, dl)
	return nil
}

func (q *MemoryDeadLetterQueue) Len(_ context.Context) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.pending)), nil
}

func (q *MemoryDeadLetterQueue) List(_ context.Context, exhausted bool, limit int64) ([]billing.DeadLetter, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	src := q.pending
	if exhausted {
		src = q.exhausted
	}
	if limit > 0 && int64(len(src)) > limit {
		src = src[:limit]
	}
	return append([]billing.DeadLetter(nil), src...), nil
}
