// Package ttl decides whether a set of snapshot rows is still usable.
package ttl

import (
	"time"

	"github.com/wildgrid/camsync/internal/store/snapshots"
)

// Fresh reports whether every row of one logical fetch is younger than the
// timeout. A single stale row invalidates the whole set, forcing a full
// re-fetch instead of a partial patch: the cache never silently serves a
// snapshot that mixes ages. An empty set is never fresh, so the first fetch
// always happens.
func Fresh(rows []snapshots.Row, timeout time.Duration) bool {
	if len(rows) == 0 {
		return false
	}
	for _, row := range rows {
		if row.Age >= timeout {
			return false
		}
	}
	return true
}
