package data

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"
	"math"

	"github.com/driftwatch/driftwatch/internal/data/pgxutil"
)

// MaintenanceLockRepo serializes maintenance tasks across instances with
// Postgres advisory locks.
type MaintenanceLockRepo struct {
	DB *sql.DB
}

// NewMaintenanceLockRepo creates a new MaintenanceLockRepo instance with the given database connection.
func NewMaintenanceLockRepo(db *sql.DB) *MaintenanceLockRepo {
	return &MaintenanceLockRepo{DB: db}
}

// fnvHash computes FNV-1a 64-bit hash of the given string for use as advisory lock key.
func fnvHash(s string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	// Advisory locks accept BIGINT; constrain the unsigned hash into int64 range before casting.
	u := h.Sum64()
	if u > uint64(math.MaxInt64) {
		u %= uint64(math.MaxInt64)
	}
	return int64(u) // #nosec G115 -- value is explicitly bounded to <= MaxInt64 before casting to int64.
}

// TryWithTaskLock attempts to acquire an advisory lock for the given task name.
// Uses FNV-1a 64-bit hash of the task name for the lock key.
// If the lock is acquired, executes fn within the same transaction.
// Return semantics:
//   - (false, nil): lock not acquired; fn was not executed
//   - (true, nil): lock acquired; fn executed and succeeded
//   - (true, err): lock acquired; fn executed and failed with err
func (r *MaintenanceLockRepo) TryWithTaskLock(
	ctx context.Context,
	taskName string,
	fn func(context.Context, *sql.Tx) error,
) (bool, error) {
	lockKey := fnvHash(taskName)

	var locked bool
	var fnErr error

	err := pgxutil.WithSQLTx(ctx, r.DB, pgxutil.SQLTxConfig{
		Fn: func(tx *sql.Tx) error {
			if err := tx.QueryRowContext(ctx, "SELECT pg_try_advisory_xact_lock($1)", lockKey).Scan(&locked); err != nil {
				return fmt.Errorf("acquire advisory lock for task %s: %w", taskName, err)
			}

			if !locked {
				return nil // Lock not acquired, but no error
			}

			// Lock acquired, execute function with the same transaction.
			// The function error is surfaced separately so the transaction
			// still commits what fn managed to do before failing.
			fnErr = fn(ctx, tx)
			return nil
		},
	})
	if err != nil {
		return false, err
	}

	return locked, fnErr
}
