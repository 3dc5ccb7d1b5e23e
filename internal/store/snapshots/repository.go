// Package snapshots provides the keyed, timestamped snapshot store backing
// the sync core. Writers replace the full row set for a scope atomically;
// readers get each row together with its server-computed age.
package snapshots

import (
	"context"
	"time"
)

// Row is one cached snapshot partition. Age is computed by the store at read
// time (now - fetched_at) so freshness checks do not depend on clock skew
// between application nodes.
type Row struct {
	Key     string
	Name    string
	Payload []byte
	Age     time.Duration
}

// Well-known scopes. Upload scopes are per bucket (ScopeUploads).
const (
	ScopeCollections = "collections"
	ScopeStats       = "stats"
	ScopeConfig      = "config"
)

// ScopeUploads returns the snapshot scope holding one bucket's upload rows.
func ScopeUploads(bucket string) string {
	return "uploads/" + bucket
}

// Repository is the snapshot store contract.
//
// Replace is atomic per (origin, scope): a reader never observes a
// half-replaced set. Update patches a single row only while it is still
// fresh, so a slow writer cannot resurrect an expired snapshot.
type Repository interface {
	List(ctx context.Context, originID, scope string) ([]Row, error)
	Get(ctx context.Context, originID, scope, key string) (*Row, error)
	Replace(ctx context.Context, originID, scope string, rows []Row) error
	Put(ctx context.Context, originID, scope string, row Row) error
	Update(ctx context.Context, originID, scope, key string, payload []byte, maxAge time.Duration) (bool, error)
}
