package locks

import (
	"context"
	"sync"
	"time"
)

type memoryLock struct {
	token      int64
	held       bool
	acquiredAt time.Time
}

// MemoryRepository is an in-memory named lock with the same acquire/release
// semantics as the Postgres implementation, including abandonment takeover.
type MemoryRepository struct {
	mu    sync.Mutex
	locks map[string]memoryLock
	now   func() time.Time
	seq   int64
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		locks: make(map[string]memoryLock),
		now:   time.Now,
	}
}

// SetClock replaces the time source so tests can expire a held lock.
func (r *MemoryRepository) SetClock(now func() time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

func (r *MemoryRepository) Acquire(ctx context.Context, name string, maxHold time.Duration) (int64, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	cur, exists := r.locks[name]
	if exists && cur.held && now.Sub(cur.acquiredAt) <= maxHold {
		return 0, false, nil
	}

	// UnixMilli alone collides under test clocks; a sequence keeps candidate
	// tokens distinct within one process.
	r.seq++
	candidate := now.UnixMilli()*1000 + r.seq%1000
	r.locks[name] = memoryLock{token: candidate, held: true, acquiredAt: now}
	return candidate, true, nil
}

func (r *MemoryRepository) Release(ctx context.Context, name string, token int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, exists := r.locks[name]
	if !exists || !cur.held || cur.token != token {
		return nil
	}
	r.locks[name] = memoryLock{}
	return nil
}
