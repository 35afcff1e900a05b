package lock

import (
	"context"
	"errors"
	"time"

	"github.com/dcastellanos/ordergate-backend/pkg/redis"
)

// Manager serializes concurrent workers on a per-message key using Redis
// SETNX with a TTL. Acquisition never blocks: a held lock means the message
// is in flight elsewhere and the caller should requeue. Release is
// unconditional and best-effort; losing a lock to TTL expiry is tolerated
// because the ledger re-check makes reprocessing idempotent.
type Manager struct {
	store redis.LockStore
	ttl   time.Duration
	owner string
}

// NewManager builds a lock manager holding locks for the given TTL.
func NewManager(store redis.LockStore, ttl time.Duration, owner string) (*Manager, error) {
	if store == nil {
		return nil, errors.New("lock store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("lock ttl must be positive")
	}
	if owner == "" {
		owner = "ordergate"
	}
	return &Manager{
		store: store,
		ttl:   ttl,
		owner: owner,
	}, nil
}

// TryAcquire attempts to take the lock for the given id. It returns false
// without blocking when another holder already owns it.
func (m *Manager) TryAcquire(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, errors.New("lock id is required")
	}
	return m.store.SetNX(ctx, m.store.LockKey(id), m.owner, m.ttl)
}

// Release drops the lock for the given id regardless of holder.
func (m *Manager) Release(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("lock id is required")
	}
	return m.store.Del(ctx, m.store.LockKey(id))
}

// TTL exposes the configured hold duration.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}
