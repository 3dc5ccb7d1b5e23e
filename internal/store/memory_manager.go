package store

import (
	"context"
	"database/sql"

	"github.com/wildgrid/camsync/internal/store/locks"
	"github.com/wildgrid/camsync/internal/store/snapshots"
)

// MemoryManager bundles the in-memory repositories behind the Manager
// interface for tests and single-node runs without Postgres.
type MemoryManager struct {
	snapshots *snapshots.MemoryRepository
	locks     *locks.MemoryRepository
}

func NewMemoryManager() *MemoryManager {
	return &MemoryManager{
		snapshots: snapshots.NewMemoryRepository(),
		locks:     locks.NewMemoryRepository(),
	}
}

func (m *MemoryManager) RunMigrations(ctx context.Context) error { return nil }

func (m *MemoryManager) Conn() *sql.DB { return nil }

func (m *MemoryManager) Snapshots() snapshots.Repository { return m.snapshots }

func (m *MemoryManager) Locks() locks.Repository { return m.locks }

func (m *MemoryManager) Close() error { return nil }
