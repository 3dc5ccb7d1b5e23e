package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/wildgrid/camsync/internal/store/locks"
	"github.com/wildgrid/camsync/internal/store/migrations"
	"github.com/wildgrid/camsync/internal/store/snapshots"
)

type PostgresManager struct {
	db        *sql.DB
	snapshots snapshots.Repository
	locks     locks.Repository
}

func NewPostgresManager(dsn string) (*PostgresManager, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	return &PostgresManager{
		db:        db,
		snapshots: snapshots.NewPostgresRepository(db),
		locks:     locks.NewPostgresRepository(db),
	}, nil
}

func (m *PostgresManager) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.UpContext(ctx, m.db, "."); err != nil {
		return fmt.Errorf("migration error: %w", err)
	}
	return nil
}

func (m *PostgresManager) Conn() *sql.DB {
	return m.db
}

func (m *PostgresManager) Snapshots() snapshots.Repository {
	return m.snapshots
}

func (m *PostgresManager) Locks() locks.Repository {
	return m.locks
}

func (m *PostgresManager) Close() error {
	return m.db.Close()
}
