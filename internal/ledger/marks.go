package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/dcastellanos/ordergate-backend/pkg/redis"
)

const settledScope = "evt:settled"

// Marks is a Redis fast path over the durable ledger: settled idempotency
// keys are marked with a TTL so redeliveries of old messages skip the
// database read. The ledger stays the source of truth; a missing mark only
// means the slow path runs.
type Marks struct {
	store redis.MarkStore
	ttl   time.Duration
}

// NewMarks builds the fast-path mark helper.
func NewMarks(store redis.MarkStore, ttl time.Duration) (*Marks, error) {
	if store == nil {
		return nil, errors.New("mark store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	return &Marks{store: store, ttl: ttl}, nil
}

// IsSettled reports whether the key carries a settled mark.
func (m *Marks) IsSettled(ctx context.Context, idempotencyKey string) (bool, error) {
	if idempotencyKey == "" {
		return false, errors.New("idempotency key is required")
	}
	return m.store.Exists(ctx, m.store.IdempotencyKey(settledScope, idempotencyKey))
}

// MarkSettled records that the key reached a settled ledger status. Marks are
// only written after the durable row is stamped, so a crash between the two
// never claims work that did not happen.
func (m *Marks) MarkSettled(ctx context.Context, idempotencyKey string) error {
	if idempotencyKey == "" {
		return errors.New("idempotency key is required")
	}
	_, err := m.store.SetNX(ctx, m.store.IdempotencyKey(settledScope, idempotencyKey), "1", m.ttl)
	return err
}
