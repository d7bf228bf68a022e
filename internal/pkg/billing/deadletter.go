package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/QRFox/internal/pkg/metrics"
)

const (
	DeadLetterKey          = "billing:webhook:deadletter"
	DeadLetterExhaustedKey = "billing:webhook:deadletter:exhausted"

	DefaultDeadLetterMaxAttempts = 5
	DefaultReplayInterval        = time.Minute
)

// DeadLetter is a provider event whose reconciliation failed.
type DeadLetter struct {
	ID        string    `json:"id"`
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Payload   string    `json:"payload"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error"`
	QueuedAt  time.Time `json:"queued_at"`
}

// DeadLetterQueue stores failed events until they are replayed.
type DeadLetterQueue interface {
	Push(ctx context.Context, dl DeadLetter) error
	// Pop removes the oldest entry. It returns nil without error when empty.
	Pop(ctx context.Context) (*DeadLetter, error)
	Exhaust(ctx context.Context, dl DeadLetter) error
	Len(ctx context.Context) (int64, error)
	List(ctx context.Context, exhausted bool, limit int64) ([]DeadLetter, error)
}

// RedisDeadLetterQueue keeps entries in two redis lists, oldest at the tail.
type RedisDeadLetterQueue struct {
	client *redis.Client
}

func NewRedisDeadLetterQueue(client *redis.Client) *RedisDeadLetterQueue {
	return &RedisDeadLetterQueue{client: client}
}

func (q *RedisDeadLetterQueue) Push(ctx context.Context, dl DeadLetter) error {
	if dl.ID == "" {
		dl.ID = uuid.NewString()
	}
	if dl.QueuedAt.IsZero() {
		dl.QueuedAt = time.Now().UTC()
	}
	data, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	return q.client.LPush(ctx, DeadLetterKey, data).Err()
}

func (q *RedisDeadLetterQueue) Pop(ctx context.Context) (*DeadLetter, error) {
	data, err := q.client.RPop(ctx, DeadLetterKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var dl DeadLetter
	if err := json.Unmarshal([]byte(data), &dl); err != nil {
		return nil, fmt.Errorf("unmarshal dead letter: %w", err)
	}
	return &dl, nil
}

func (q *RedisDeadLetterQueue) Exhaust(ctx context.Context, dl DeadLetter) error {
	data, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	return q.client.LPush(ctx, DeadLetterExhaustedKey, data).Err()
}

func (q *RedisDeadLetterQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, DeadLetterKey).Result()
}

// List returns up to limit entries, oldest first. A limit <= 0 returns all.
func (q *RedisDeadLetterQueue) List(ctx context.Context, exhausted bool, limit int64) ([]DeadLetter, error) {
	key := DeadLetterKey
	if exhausted {
		key = DeadLetterExhaustedKey
	}
	start := int64(0)
	if limit > 0 {
		start = -limit
	}
	items, err := q.client.LRange(ctx, key, start, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]DeadLetter, 0, len(items))
	for i := len(items) - 1; i >= 0; i-- {
		var dl DeadLetter
		if err := json.Unmarshal([]byte(items[i]), &dl); err != nil {
			log.Warnf("[DeadLetter] skipping unreadable entry: %v", err)
			continue
		}
		out = append(out, dl)
	}
	return out, nil
}

// Redeliverer re-runs reconciliation for a stored event payload.
type Redeliverer interface {
	Redeliver(ctx context.Context, payload []byte) error
}

type ReplayStats struct {
	Replayed  int `json:"replayed"`
	Requeued  int `json:"requeued"`
	Exhausted int `json:"exhausted"`
}

// DeadLetterReplayer drains the dead-letter queue, either periodically as a
// background worker or once on demand.
type DeadLetterReplayer struct {
	queue       DeadLetterQueue
	target      Redeliverer
	maxAttempts int
	interval    time.Duration

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

func NewDeadLetterReplayer(queue DeadLetterQueue, target Redeliverer, maxAttempts int, interval time.Duration) *DeadLetterReplayer {
	if maxAttempts <= 0 {
		maxAttempts = DefaultDeadLetterMaxAttempts
	}
	if interval <= 0 {
		interval = DefaultReplayInterval
	}
	return &DeadLetterReplayer{
		queue:       queue,
		target:      target,
		maxAttempts: maxAttempts,
		interval:    interval,
	}
}

// DrainOnce replays every entry queued when it started. Entries that fail again
// are requeued behind them, so one call never loops on the same entry.
func (r *DeadLetterReplayer) DrainOnce(ctx context.Context) (ReplayStats, error) {
	var stats ReplayStats
	n, err := r.queue.Len(ctx)
	if err != nil {
		return stats, err
	}
	for i := int64(0); i < n; i++ {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		dl, err := r.queue.Pop(ctx)
		if err != nil {
			return stats, err
		}
		if dl == nil {
			break
		}

		rerr := r.target.Redeliver(ctx, []byte(dl.Payload))
		if rerr == nil {
			stats.Replayed++
			metrics.DeadLetterTotal.WithLabelValues("replayed").Inc()
			log.Infof("[DeadLetter] replayed %s %s after %d attempts", dl.EventType, dl.EventID, dl.Attempts)
			continue
		}

		dl.Attempts++
		dl.LastError = rerr.Error()
		if dl.Attempts >= r.maxAttempts {
			if err := r.queue.Exhaust(ctx, *dl); err != nil {
				return stats, err
			}
			stats.Exhausted++
			metrics.DeadLetterTotal.WithLabelValues("exhausted").Inc()
			log.Errorf("[DeadLetter] giving up on %s %s after %d attempts: %v", dl.EventType, dl.EventID, dl.Attempts, rerr)
			continue
		}
		if err := r.queue.Push(ctx, *dl); err != nil {
			return stats, err
		}
		stats.Requeued++
		metrics.DeadLetterTotal.WithLabelValues("requeued").Inc()
		log.Warnf("[DeadLetter] %s %s failed again (attempt %d): %v", dl.EventType, dl.EventID, dl.Attempts, rerr)
	}
	return stats, nil
}

func (r *DeadLetterReplayer) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return
	}
	r.running = true
	r.stopCh = make(chan struct{})
	log.Infof("[DeadLetter] Replayer running every %s (max attempts %d)", r.interval, r.maxAttempts)

	r.wg.Add(1)
	go r.loop()
}

func (r *DeadLetterReplayer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}
	close(r.stopCh)
	r.running = false
	r.wg.Wait()
	log.Info("[DeadLetter] Replayer stopped")
}

func (r *DeadLetterReplayer) loop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-r.stopCh
		cancel()
	}()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			stats, err := r.DrainOnce(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Errorf("[DeadLetter] drain failed: %v", err)
			}
			if stats.Replayed+stats.Requeued+stats.Exhausted > 0 {
				log.Infof("[DeadLetter] drain: %d replayed, %d requeued, %d exhausted", stats.Replayed, stats.Requeued, stats.Exhausted)
			}
		}
	}
}
