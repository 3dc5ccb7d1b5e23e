package locks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// PostgresRepository implements the named lock over a db_locks table.
type PostgresRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db, now: time.Now}
}

// Acquire upserts the lock row on the condition that it is free or
// abandoned, then re-reads the stored token. Only a caller whose candidate
// survives the read-back owns the lock; a concurrent winner's token showing
// up instead means the row was taken between our update and somebody else's.
func (r *PostgresRepository) Acquire(ctx context.Context, name string, maxHold time.Duration) (int64, bool, error) {
	candidate := r.now().UnixMilli()

	query := `
		INSERT INTO db_locks (name, token, acquired_at)
		VALUES ($1, $2, now())
		ON CONFLICT (name) DO UPDATE SET token = EXCLUDED.token, acquired_at = now()
		WHERE db_locks.token IS NULL
		   OR db_locks.acquired_at < now() - make_interval(secs => $3)
	`
	if _, err := r.db.ExecContext(ctx, query, name, candidate, maxHold.Seconds()); err != nil {
		return 0, false, fmt.Errorf("failed to update lock %q: %w", name, err)
	}

	var stored sql.NullInt64
	err := r.db.QueryRowContext(ctx,
		`SELECT token FROM db_locks WHERE name = $1`, name).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read back lock %q: %w", name, err)
	}

	if stored.Valid && stored.Int64 == candidate {
		return candidate, true, nil
	}
	return 0, false, nil
}

// Release clears the lock only if the stored token matches. A mismatch
// (lock stolen after abandonment, or double release) silently does nothing.
func (r *PostgresRepository) Release(ctx context.Context, name string, token int64) error {
	query := `
		UPDATE db_locks SET token = NULL, acquired_at = NULL
		WHERE name = $1 AND token = $2
	`
	if _, err := r.db.ExecContext(ctx, query, name, token); err != nil {
		return fmt.Errorf("failed to release lock %q: %w", name, err)
	}
	return nil
}
