// internal/locking/locks.go
package locking

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"github.com/lib/pq"

	"ipzone.io/internal/iperrors"
	"ipzone.io/internal/logging"
	"ipzone.io/internal/pgsqlpool"
)

// Locker serializes multi-step mutations. Domain locks cover allocator
// mutations inside one layer3domain; zone locks cover a sync cycle's full
// diff-and-apply window. Acquisition waits at most the configured timeout
// and surfaces ErrLockTimeout without mutating anything.
type Locker interface {
	WithDomainLock(ctx context.Context, domain string, fn func(ctx context.Context) error) error
	WithZoneLock(ctx context.Context, zone string, fn func(ctx context.Context) error) error
}

// lockKey hashes a scoped name to the 64-bit key space PostgreSQL
// advisory locks use.
func lockKey(scope, name string) int64 {
	h := fnv.New64a()
	h.Write([]byte(scope + ":" + name))
	return int64(h.Sum64())
}

// PostgresLocker implements Locker with PostgreSQL session advisory
// locks. Each acquisition takes a dedicated session so lock and unlock
// are guaranteed to happen on the same backend connection.
type PostgresLocker struct {
	pool           *pgsqlpool.Pool
	connectionName string
	timeout        time.Duration
}

// NewPostgresLocker creates a locker on a named pool connection
func NewPostgresLocker(pool *pgsqlpool.Pool, connectionName string, timeout time.Duration) *PostgresLocker {
	return &PostgresLocker{
		pool:           pool,
		connectionName: connectionName,
		timeout:        timeout,
	}
}

// WithDomainLock runs fn while holding the layer3domain's advisory lock
func (l *PostgresLocker) WithDomainLock(ctx context.Context, domain string, fn func(ctx context.Context) error) error {
	return l.withLock(ctx, "layer3domain", domain, fn)
}

// WithZoneLock runs fn while holding the zone's advisory lock
func (l *PostgresLocker) WithZoneLock(ctx context.Context, zone string, fn func(ctx context.Context) error) error {
	return l.withLock(ctx, "zone", zone, fn)
}

func (l *PostgresLocker) withLock(ctx context.Context, scope, name string, fn func(ctx context.Context) error) error {
	conn, err := l.pool.Conn(ctx, l.connectionName)
	if err != nil {
		return fmt.Errorf("failed to open lock session for %s %s: %w", scope, name, err)
	}
	defer conn.Close()

	// lock_timeout bounds the pg_advisory_lock wait on this session only
	timeoutMS := l.timeout.Milliseconds()
	if _, err := conn.ExecContext(ctx, fmt.Sprintf("SET lock_timeout = %d", timeoutMS)); err != nil {
		return fmt.Errorf("failed to set lock timeout: %w", err)
	}

	key := lockKey(scope, name)
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", key); err != nil {
		if isLockNotAvailable(err) {
			logging.LogLockTimeout(scope, name, l.timeout)
			return fmt.Errorf("%s %s: %w", scope, name, iperrors.ErrLockTimeout)
		}
		return fmt.Errorf("failed to acquire %s lock for %s: %w", scope, name, err)
	}

	// Unlock on every exit path, panics included
	defer func() {
		unlockCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := conn.ExecContext(unlockCtx, "SELECT pg_advisory_unlock($1)", key); err != nil {
			logging.Error("locking", "failed to release advisory lock", err, "scope", scope, "name", name)
		}
	}()

	return fn(ctx)
}

// isLockNotAvailable detects the lock_timeout SQLSTATE (55P03)
func isLockNotAvailable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "55P03"
	}
	return false
}

// MemoryLocker implements Locker with in-process mutexes. Used by the
// test store backend and by dry-run targets where no PostgreSQL session
// is available. Semantics match the PostgreSQL locker: bounded wait,
// ErrLockTimeout on expiry.
type MemoryLocker struct {
	timeout time.Duration
	mu      sync.Mutex
	slots   map[int64]chan struct{}
}

// NewMemoryLocker creates an in-process locker
func NewMemoryLocker(timeout time.Duration) *MemoryLocker {
	return &MemoryLocker{
		timeout: timeout,
		slots:   make(map[int64]chan struct{}),
	}
}

// WithDomainLock runs fn while holding the layer3domain's lock
func (l *MemoryLocker) WithDomainLock(ctx context.Context, domain string, fn func(ctx context.Context) error) error {
	return l.withLock(ctx, "layer3domain", domain, fn)
}

// WithZoneLock runs fn while holding the zone's lock
func (l *MemoryLocker) WithZoneLock(ctx context.Context, zone string, fn func(ctx context.Context) error) error {
	return l.withLock(ctx, "zone", zone, fn)
}

func (l *MemoryLocker) withLock(ctx context.Context, scope, name string, fn func(ctx context.Context) error) error {
	slot := l.slot(lockKey(scope, name))

	timer := time.NewTimer(l.timeout)
	defer timer.Stop()

	select {
	case slot <- struct{}{}:
		defer func() { <-slot }()
		return fn(ctx)
	case <-timer.C:
		logging.LogLockTimeout(scope, name, l.timeout)
		return fmt.Errorf("%s %s: %w", scope, name, iperrors.ErrLockTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// slot returns the single-entry channel acting as the named lock
func (l *MemoryLocker) slot(key int64) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	slot, ok := l.slots[key]
	if !ok {
		slot = make(chan struct{}, 1)
		l.slots[key] = slot
	}
	return slot
}
