package snapshots

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wildgrid/camsync/internal/common"
	"github.com/wildgrid/camsync/internal/dbx"
)

// PostgresRepository implements the snapshot store over Postgres. Replace
// runs delete-then-bulk-insert inside one transaction so a crash mid-write
// leaves either the old set intact or the new one complete.
type PostgresRepository struct {
	db *sql.DB
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) List(ctx context.Context, originID, scope string) ([]Row, error) {
	query := `
		SELECT partition_key, name, payload,
		       EXTRACT(EPOCH FROM (now() - fetched_at))::bigint AS age_sec
		FROM snapshots
		WHERE origin_id = $1 AND scope = $2
		ORDER BY name ASC
	`
	rows, err := r.db.QueryContext(ctx, query, originID, scope)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var result []Row
	for rows.Next() {
		var item Row
		var ageSec int64
		if err := rows.Scan(&item.Key, &item.Name, &item.Payload, &ageSec); err != nil {
			return nil, err
		}
		item.Age = time.Duration(ageSec) * time.Second
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PostgresRepository) Get(ctx context.Context, originID, scope, key string) (*Row, error) {
	query := `
		SELECT partition_key, name, payload,
		       EXTRACT(EPOCH FROM (now() - fetched_at))::bigint AS age_sec
		FROM snapshots
		WHERE origin_id = $1 AND scope = $2 AND partition_key = $3
	`
	var item Row
	var ageSec int64
	err := r.db.QueryRowContext(ctx, query, originID, scope, key).
		Scan(&item.Key, &item.Name, &item.Payload, &ageSec)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	item.Age = time.Duration(ageSec) * time.Second
	return &item, nil
}

func (r *PostgresRepository) Replace(ctx context.Context, originID, scope string, rows []Row) error {
	return dbx.WithTx(ctx, r.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM snapshots WHERE origin_id = $1 AND scope = $2`,
			originID, scope); err != nil {
			return fmt.Errorf("failed to clear snapshot scope: %w", err)
		}
		for _, row := range rows {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO snapshots (origin_id, scope, partition_key, name, payload, fetched_at)
				 VALUES ($1, $2, $3, $4, $5, now())`,
				originID, scope, row.Key, row.Name, row.Payload); err != nil {
				return fmt.Errorf("failed to insert snapshot row %q: %w", row.Key, err)
			}
		}
		return nil
	})
}

func (r *PostgresRepository) Put(ctx context.Context, originID, scope string, row Row) error {
	query := `
		INSERT INTO snapshots (origin_id, scope, partition_key, name, payload, fetched_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (origin_id, scope, partition_key)
		DO UPDATE SET name = EXCLUDED.name, payload = EXCLUDED.payload, fetched_at = now()
	`
	if _, err := r.db.ExecContext(ctx, query, originID, scope, row.Key, row.Name, row.Payload); err != nil {
		return fmt.Errorf("failed to put snapshot row: %w", err)
	}
	return nil
}

// Update patches one row's payload without touching fetched_at, and only if
// the row is younger than maxAge. Returns false when the row is missing or
// already expired.
func (r *PostgresRepository) Update(ctx context.Context, originID, scope, key string, payload []byte, maxAge time.Duration) (bool, error) {
	query := `
		UPDATE snapshots SET payload = $1
		WHERE origin_id = $2 AND scope = $3 AND partition_key = $4
		  AND fetched_at > now() - make_interval(secs => $5)
	`
	res, err := r.db.ExecContext(ctx, query, payload, originID, scope, key, maxAge.Seconds())
	if err != nil {
		return false, fmt.Errorf("failed to update snapshot row: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected error: %w", err)
	}
	return n > 0, nil
}
