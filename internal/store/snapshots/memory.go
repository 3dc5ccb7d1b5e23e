package snapshots

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/wildgrid/camsync/internal/common"
)

type memoryRow struct {
	name      string
	payload   []byte
	fetchedAt time.Time
}

// MemoryRepository is an in-memory snapshot store with the same semantics as
// the Postgres implementation. Used in tests and single-node deployments.
type MemoryRepository struct {
	mu   sync.Mutex
	data map[string]map[string]memoryRow // originID+scope -> key -> row
	now  func() time.Time
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		data: make(map[string]map[string]memoryRow),
		now:  time.Now,
	}
}

// SetClock replaces the time source, letting tests age rows artificially.
func (r *MemoryRepository) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func scopeKey(originID, scope string) string {
	return originID + "\x00" + scope
}

func (r *MemoryRepository) List(ctx context.Context, originID, scope string) ([]Row, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	partition := r.data[scopeKey(originID, scope)]
	now := r.now()

	result := make([]Row, 0, len(partition))
	for key, row := range partition {
		result = append(result, Row{
			Key:     key,
			Name:    row.name,
			Payload: append([]byte(nil), row.payload...),
			Age:     now.Sub(row.fetchedAt),
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (r *MemoryRepository) Get(ctx context.Context, originID, scope, key string) (*Row, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, ok := r.data[scopeKey(originID, scope)][key]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &Row{
		Key:     key,
		Name:    row.name,
		Payload: append([]byte(nil), row.payload...),
		Age:     r.now().Sub(row.fetchedAt),
	}, nil
}

func (r *MemoryRepository) Replace(ctx context.Context, originID, scope string, rows []Row) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	partition := make(map[string]memoryRow, len(rows))
	now := r.now()
	for _, row := range rows {
		partition[row.Key] = memoryRow{
			name:      row.Name,
			payload:   append([]byte(nil), row.Payload...),
			fetchedAt: now,
		}
	}
	r.data[scopeKey(originID, scope)] = partition
	return nil
}

func (r *MemoryRepository) Put(ctx context.Context, originID, scope string, row Row) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sk := scopeKey(originID, scope)
	if r.data[sk] == nil {
		r.data[sk] = make(map[string]memoryRow)
	}
	r.data[sk][row.Key] = memoryRow{
		name:      row.Name,
		payload:   append([]byte(nil), row.Payload...),
		fetchedAt: r.now(),
	}
	return nil
}

func (r *MemoryRepository) Update(ctx context.Context, originID, scope, key string, payload []byte, maxAge time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	partition := r.data[scopeKey(originID, scope)]
	row, ok := partition[key]
	if !ok {
		return false, nil
	}
	if r.now().Sub(row.fetchedAt) >= maxAge {
		return false, nil
	}
	row.payload = append([]byte(nil), payload...)
	partition[key] = row
	return true, nil
}
