package database

import (
	"context"
	"fmt"
	"time"
)

// lockRepo implements LockRepository on top of the routing_locks table.
// The unique primary key on the lock name makes Acquire atomic: the
// INSERT either lands or conflicts.
type lockRepo struct {
	db *DB
}

// NewLockRepository creates a new LockRepository.
func NewLockRepository(db *DB) LockRepository {
	return &lockRepo{db: db}
}

// Acquire tries to take the named lock for the holder. Expired rows
// are reaped first so an abandoned lease does not block forever.
// Returns false without error when the lock is held by someone else.
func (r *lockRepo) Acquire(ctx context.Context, name, holder string, lease time.Duration) (bool, error) {
	// Lazy cleanup of expired leases for this name.
	if _, err := r.db.ExecContext(ctx,
		`DELETE FROM routing_locks WHERE name = $1 AND expires_at < NOW()`, name); err != nil {
		return false, fmt.Errorf("reaping expired lock %q: %w", name, err)
	}

	res, err := r.db.ExecContext(ctx,
		`INSERT INTO routing_locks (name, holder, acquired_at, expires_at)
		 VALUES ($1, $2, NOW(), NOW() + $3 * INTERVAL '1 millisecond')
		 ON CONFLICT (name) DO NOTHING`,
		name, holder, lease.Milliseconds())
	if err != nil {
		return false, fmt.Errorf("inserting lock %q: %w", name, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("checking lock insert %q: %w", name, err)
	}
	return n == 1, nil
}

// Release drops the lock row if it is still held by this holder.
func (r *lockRepo) Release(ctx context.Context, name, holder string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM routing_locks WHERE name = $1 AND holder = $2`, name, holder)
	if err != nil {
		return fmt.Errorf("releasing lock %q: %w", name, err)
	}
	return nil
}
