// Package store wires the snapshot and lock repositories to a database and
// owns the connection lifecycle, so tests can run isolated stores in
// parallel instead of sharing a process-wide handle.
package store

import (
	"context"
	"database/sql"

	"github.com/wildgrid/camsync/internal/store/locks"
	"github.com/wildgrid/camsync/internal/store/snapshots"
)

type Manager interface {
	RunMigrations(ctx context.Context) error
	Conn() *sql.DB
	Snapshots() snapshots.Repository
	Locks() locks.Repository
	Close() error
}
