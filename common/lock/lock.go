// Package lock provides named mutual-exclusion locks with a bounded lease.
//
// A lease expires on its own if the holder crashes, so it must always be
// longer than the worst-case duration of the guarded work. Acquire never
// waits: callers that find the lock held are expected to skip their run.
package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	rediscommon "github.com/superdesk/legalarchive/common/redis"
)

// Locker hands out named leases
type Locker interface {
	// Acquire returns (nil, nil) when the lock is held by someone else.
	Acquire(ctx context.Context, name string, lease time.Duration) (*Lease, error)
}

// ErrLeaseLost is returned by Extend once the lease expired and another
// holder may have taken the lock.
var ErrLeaseLost = errors.New("lock lease lost")

// Lease is a held lock. Release is safe to call more than once.
type Lease struct {
	Name     string
	Owner    string
	Duration time.Duration

	extend  func(ctx context.Context) (bool, error)
	release func(ctx context.Context) error
	once    sync.Once
	err     error
}

// Extend pushes the expiry back by the original lease duration
func (l *Lease) Extend(ctx context.Context) error {
	ok, err := l.extend(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", l.Name, ErrLeaseLost)
	}
	return nil
}

// Release gives the lock back if this lease still owns it
func (l *Lease) Release(ctx context.Context) error {
	l.once.Do(func() {
		l.err = l.release(ctx)
	})
	return l.err
}

// ID builds the lock name for a command, mirroring "<app>:<task>".
func ID(app, task string) string {
	return fmt.Sprintf("%s:%s", app, task)
}

const keyPrefix = "lock:"

// RedisLocker stores leases as Redis keys with a TTL and an owner token
type RedisLocker struct {
	client *rediscommon.Client
}

// NewRedisLocker creates a Redis backed locker
func NewRedisLocker(client *rediscommon.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

// Acquire implements Locker
func (r *RedisLocker) Acquire(ctx context.Context, name string, lease time.Duration) (*Lease, error) {
	owner := uuid.NewString()
	key := keyPrefix + name

	ok, err := r.client.SetNX(ctx, key, owner, lease)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire lock %s: %w", name, err)
	}
	if !ok {
		return nil, nil
	}

	return &Lease{
		Name:     name,
		Owner:    owner,
		Duration: lease,
		extend: func(ctx context.Context) (bool, error) {
			ok, err := r.client.ExpireIfValue(ctx, key, owner, lease)
			if err != nil {
				return false, fmt.Errorf("failed to extend lock %s: %w", name, err)
			}
			return ok, nil
		},
		release: func(ctx context.Context) error {
			// A lease that expired and was taken over is not ours to delete.
			if _, err := r.client.DeleteIfValue(ctx, key, owner); err != nil {
				return fmt.Errorf("failed to release lock %s: %w", name, err)
			}
			return nil
		},
	}, nil
}

// MemoryLocker is a process-local Locker for single-instance deployments
// running on the memory store backend
type MemoryLocker struct {
	mu    sync.Mutex
	held  map[string]memoryLease
	clock func() time.Time
}

type memoryLease struct {
	owner   string
	expires time.Time
}

// NewMemoryLocker creates a process-local locker
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		held:  make(map[string]memoryLease),
		clock: time.Now,
	}
}

// Acquire implements Locker
func (m *MemoryLocker) Acquire(ctx context.Context, name string, lease time.Duration) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock()
	if cur, ok := m.held[name]; ok && now.Before(cur.expires) {
		return nil, nil
	}

	owner := uuid.NewString()
	m.held[name] = memoryLease{owner: owner, expires: now.Add(lease)}

	return &Lease{
		Name:     name,
		Owner:    owner,
		Duration: lease,
		extend: func(context.Context) (bool, error) {
			m.mu.Lock()
			defer m.mu.Unlock()
			now := m.clock()
			cur, ok := m.held[name]
			if !ok || cur.owner != owner || !now.Before(cur.expires) {
				return false, nil
			}
			m.held[name] = memoryLease{owner: owner, expires: now.Add(lease)}
			return true, nil
		},
		release: func(context.Context) error {
			m.mu.Lock()
			defer m.mu.Unlock()
			if cur, ok := m.held[name]; ok && cur.owner == owner {
				delete(m.held, name)
			}
			return nil
		},
	}, nil
}
