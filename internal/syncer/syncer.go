// Package syncer coordinates snapshot refreshes against the origin store.
//
// Reads go through a TTL-gated cache. On a miss, exactly one process fetches
// (guarded by a persisted named lock) while everyone else polls the cache
// with a linearly growing backoff until the winner lands the fresh snapshot
// or the wait budget runs out.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/sethvargo/go-retry"

	"github.com/wildgrid/camsync/internal/common"
	"github.com/wildgrid/camsync/internal/config"
	"github.com/wildgrid/camsync/internal/logging"
	"github.com/wildgrid/camsync/internal/metrics"
	"github.com/wildgrid/camsync/internal/models"
	"github.com/wildgrid/camsync/internal/origin"
	"github.com/wildgrid/camsync/internal/store/locks"
	"github.com/wildgrid/camsync/internal/store/snapshots"
	"github.com/wildgrid/camsync/internal/ttl"
)

// Lock names shared by every process syncing the same database.
const (
	LockCollections  = "fetch_collections"
	LockSpeciesStats = "species_stats"
)

const statsKey = "species"

// OriginFetcher is the slice of origin.Fetcher the orchestrator needs.
type OriginFetcher interface {
	Collections(ctx context.Context) ([]models.Collection, error)
	FetchUploads(ctx context.Context, buckets []string) map[string]origin.UploadsResult
	GetConfigFile(ctx context.Context, name string) ([]byte, error)
	PutConfigFile(ctx context.Context, name string, body []byte) error
}

// Orchestrator is the sync entry point. All methods are safe for concurrent
// use from multiple goroutines and multiple processes.
type Orchestrator struct {
	snapshots snapshots.Repository
	locks     locks.Repository
	fetcher   OriginFetcher
	cfg       *config.Config
	log       logging.Logger
	metrics   *metrics.Metrics
}

func NewOrchestrator(
	snaps snapshots.Repository,
	lcks locks.Repository,
	fetcher OriginFetcher,
	cfg *config.Config,
	log logging.Logger,
	m *metrics.Metrics,
) *Orchestrator {
	return &Orchestrator{
		snapshots: snaps,
		locks:     lcks,
		fetcher:   fetcher,
		cfg:       cfg,
		log:       log.With("component", "syncer"),
		metrics:   m,
	}
}

// errStale makes the follower poll retry until the winner publishes.
var errStale = errors.New("snapshot still stale")

// pollWait re-runs check on a linearly growing schedule (attempt n sleeps
// n*base) until it reports ready or the attempt budget is spent.
func (o *Orchestrator) pollWait(ctx context.Context, check func(ctx context.Context) (bool, error)) error {
	base := o.cfg.PollBase()
	attempt := 0
	backoff := retry.WithMaxRetries(uint64(o.cfg.PollAttempts), retry.BackoffFunc(func() (time.Duration, bool) {
		attempt++
		return time.Duration(attempt) * base, false
	}))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		ready, err := check(ctx)
		if err != nil {
			return err
		}
		if !ready {
			return retry.RetryableError(errStale)
		}
		return nil
	})
	if errors.Is(err, errStale) {
		o.metrics.WaitExhausted()
		return fmt.Errorf("%w: gave up after %d attempts", common.ErrWaitExhausted, o.cfg.PollAttempts)
	}
	return err
}

// Collections returns the cached collection set, refreshing it from the
// origin when the snapshot has expired. Only one caller across all processes
// performs the refresh.
func (o *Orchestrator) Collections(ctx context.Context) ([]models.Collection, error) {
	originID := o.cfg.Origin()

	if colls, ok, err := o.freshCollections(ctx, originID); err != nil {
		return nil, err
	} else if ok {
		o.metrics.CacheHit("collections")
		return colls, nil
	}
	o.metrics.CacheMiss("collections")

	token, won, err := o.locks.Acquire(ctx, LockCollections, o.cfg.LockMaxHold)
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", LockCollections, err)
	}

	if !won {
		o.metrics.LockContention()
		o.log.Debug(ctx, "collections refresh in progress elsewhere, waiting")
		var colls []models.Collection
		waitErr := o.pollWait(ctx, func(ctx context.Context) (bool, error) {
			c, ok, err := o.freshCollections(ctx, originID)
			if err != nil {
				return false, err
			}
			if ok {
				colls = c
			}
			return ok, nil
		})
		if waitErr != nil {
			return nil, waitErr
		}
		return colls, nil
	}

	defer func() {
		if err := o.locks.Release(ctx, LockCollections, token); err != nil {
			o.log.Warn(ctx, "lock release failed", "lock", LockCollections, "error", err)
		}
	}()

	// Re-check under the lock: a previous holder may have published between
	// our freshness check and the acquire.
	if colls, ok, err := o.freshCollections(ctx, originID); err != nil {
		return nil, err
	} else if ok {
		return colls, nil
	}

	return o.fetchCollections(ctx, originID)
}

// RefreshCollections fetches the collection set from the origin regardless
// of snapshot age, for operator-driven syncs. Unlike Collections it does not
// wait behind a competing refresh: when another process holds the lock it
// returns common.ErrLockNotAcquired immediately.
func (o *Orchestrator) RefreshCollections(ctx context.Context) ([]models.Collection, error) {
	originID := o.cfg.Origin()

	token, won, err := o.locks.Acquire(ctx, LockCollections, o.cfg.LockMaxHold)
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", LockCollections, err)
	}
	if !won {
		o.metrics.LockContention()
		return nil, fmt.Errorf("%w: %s held by another process", common.ErrLockNotAcquired, LockCollections)
	}
	defer func() {
		if err := o.locks.Release(ctx, LockCollections, token); err != nil {
			o.log.Warn(ctx, "lock release failed", "lock", LockCollections, "error", err)
		}
	}()

	return o.fetchCollections(ctx, originID)
}

// fetchCollections performs the origin round trip and publishes the result.
// Callers must hold the fetch lock.
func (o *Orchestrator) fetchCollections(ctx context.Context, originID string) ([]models.Collection, error) {
	o.log.Info(ctx, "refreshing collections snapshot", "origin", originID)
	colls, err := o.fetcher.Collections(ctx)
	o.metrics.FetchDone("collections", err)
	if err != nil {
		return nil, fmt.Errorf("fetch collections: %w", err)
	}

	rows := make([]snapshots.Row, 0, len(colls))
	for i := range colls {
		payload, err := json.Marshal(&colls[i])
		if err != nil {
			return nil, fmt.Errorf("encode collection %s: %w", colls[i].ID, err)
		}
		rows = append(rows, snapshots.Row{Key: colls[i].Bucket, Name: colls[i].Name, Payload: payload})
	}
	if err := o.snapshots.Replace(ctx, originID, snapshots.ScopeCollections, rows); err != nil {
		return nil, fmt.Errorf("store collections: %w", err)
	}
	return colls, nil
}

// freshCollections reports the cached collections when the whole set is both
// younger than the TTL and decodable. A malformed row poisons the set and
// forces a refetch rather than serving partial data.
func (o *Orchestrator) freshCollections(ctx context.Context, originID string) ([]models.Collection, bool, error) {
	rows, err := o.snapshots.List(ctx, originID, snapshots.ScopeCollections)
	if err != nil {
		return nil, false, fmt.Errorf("list collections snapshot: %w", err)
	}
	if !ttl.Fresh(rows, o.cfg.CollectionsTTL) {
		return nil, false, nil
	}

	colls := make([]models.Collection, 0, len(rows))
	for _, row := range rows {
		var c models.Collection
		if err := json.Unmarshal(row.Payload, &c); err != nil {
			o.log.Warn(ctx, "malformed collection snapshot row, forcing refetch", "key", row.Key, "error", err)
			return nil, false, nil
		}
		colls = append(colls, c)
	}
	return colls, true, nil
}

// Uploads returns upload inventories for the requested buckets, refreshing
// only the buckets whose snapshots have expired. Buckets whose refresh fails
// fall back to their stale snapshot when one exists; untouched buckets keep
// their rows byte for byte.
func (o *Orchestrator) Uploads(ctx context.Context, buckets []string) (map[string][]models.Upload, error) {
	originID := o.cfg.Origin()
	result := make(map[string][]models.Upload, len(buckets))
	stale := make(map[string][]models.Upload)

	var toFetch []string
	for _, bucket := range buckets {
		rows, err := o.snapshots.List(ctx, originID, snapshots.ScopeUploads(bucket))
		if err != nil {
			return nil, fmt.Errorf("list uploads snapshot %s: %w", bucket, err)
		}
		uploads, decodable := decodeUploads(rows)
		if ttl.Fresh(rows, o.cfg.UploadsTTL) && decodable {
			o.metrics.CacheHit("uploads")
			result[bucket] = uploads
			continue
		}
		o.metrics.CacheMiss("uploads")
		if decodable && len(rows) > 0 {
			stale[bucket] = uploads
		}
		toFetch = append(toFetch, bucket)
	}

	if len(toFetch) == 0 {
		return result, nil
	}

	o.log.Info(ctx, "refreshing upload snapshots", "origin", originID, "buckets", len(toFetch))
	fetched := o.fetcher.FetchUploads(ctx, toFetch)

	var failed []error
	for _, bucket := range toFetch {
		res := fetched[bucket]
		o.metrics.FetchDone("uploads", res.Err)
		if res.Err != nil {
			o.metrics.PartitionError()
			if uploads, ok := stale[bucket]; ok {
				o.log.Warn(ctx, "bucket refresh failed, serving stale snapshot", "bucket", bucket, "error", res.Err)
				result[bucket] = uploads
				continue
			}
			// No fresh data and no stale copy to fall back on.
			failed = append(failed, fmt.Errorf("bucket %s: %w: %w", bucket, common.ErrUnavailable, res.Err))
			continue
		}

		rows := make([]snapshots.Row, 0, len(res.Uploads))
		for i := range res.Uploads {
			payload, err := json.Marshal(&res.Uploads[i])
			if err != nil {
				return nil, fmt.Errorf("encode upload %s: %w", res.Uploads[i].Name, err)
			}
			rows = append(rows, snapshots.Row{Key: res.Uploads[i].Name, Name: res.Uploads[i].Name, Payload: payload})
		}
		if err := o.snapshots.Replace(ctx, originID, snapshots.ScopeUploads(bucket), rows); err != nil {
			return nil, fmt.Errorf("store uploads %s: %w", bucket, err)
		}
		result[bucket] = res.Uploads
	}

	if len(failed) > 0 {
		return result, errors.Join(failed...)
	}
	return result, nil
}

func decodeUploads(rows []snapshots.Row) ([]models.Upload, bool) {
	uploads := make([]models.Upload, 0, len(rows))
	for _, row := range rows {
		var u models.Upload
		if err := json.Unmarshal(row.Payload, &u); err != nil {
			return nil, false
		}
		uploads = append(uploads, u)
	}
	return uploads, true
}

// SpeciesStats returns image counts per species across every collection,
// cached as a single snapshot row and recomputed under its own lock.
func (o *Orchestrator) SpeciesStats(ctx context.Context) (map[string]int, error) {
	originID := o.cfg.Origin()

	if stats, ok, err := o.freshStats(ctx, originID); err != nil {
		return nil, err
	} else if ok {
		o.metrics.CacheHit("species_stats")
		return stats, nil
	}
	o.metrics.CacheMiss("species_stats")

	token, won, err := o.locks.Acquire(ctx, LockSpeciesStats, o.cfg.LockMaxHold)
	if err != nil {
		return nil, fmt.Errorf("acquire %s: %w", LockSpeciesStats, err)
	}

	if !won {
		o.metrics.LockContention()
		var stats map[string]int
		waitErr := o.pollWait(ctx, func(ctx context.Context) (bool, error) {
			s, ok, err := o.freshStats(ctx, originID)
			if err != nil {
				return false, err
			}
			if ok {
				stats = s
			}
			return ok, nil
		})
		if waitErr != nil {
			return nil, waitErr
		}
		return stats, nil
	}

	defer func() {
		if err := o.locks.Release(ctx, LockSpeciesStats, token); err != nil {
			o.log.Warn(ctx, "lock release failed", "lock", LockSpeciesStats, "error", err)
		}
	}()

	if stats, ok, err := o.freshStats(ctx, originID); err != nil {
		return nil, err
	} else if ok {
		return stats, nil
	}

	o.log.Info(ctx, "recomputing species stats", "origin", originID)
	stats, err := o.computeStats(ctx)
	o.metrics.FetchDone("species_stats", err)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(stats)
	if err != nil {
		return nil, fmt.Errorf("encode stats: %w", err)
	}
	if err := o.snapshots.Put(ctx, originID, snapshots.ScopeStats, snapshots.Row{Key: statsKey, Payload: payload}); err != nil {
		return nil, fmt.Errorf("store stats: %w", err)
	}
	return stats, nil
}

func (o *Orchestrator) freshStats(ctx context.Context, originID string) (map[string]int, bool, error) {
	row, err := o.snapshots.Get(ctx, originID, snapshots.ScopeStats, statsKey)
	if errors.Is(err, common.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get stats snapshot: %w", err)
	}
	if row.Age >= o.cfg.SpeciesStatsTTL {
		return nil, false, nil
	}
	var stats map[string]int
	if err := json.Unmarshal(row.Payload, &stats); err != nil {
		o.log.Warn(ctx, "malformed stats snapshot, forcing recompute", "error", err)
		return nil, false, nil
	}
	return stats, true, nil
}

// computeStats tallies one count per image per species over every upload of
// every collection, going through the cached layers so a fresh cache costs
// no origin traffic.
func (o *Orchestrator) computeStats(ctx context.Context) (map[string]int, error) {
	colls, err := o.Collections(ctx)
	if err != nil {
		return nil, fmt.Errorf("stats collections: %w", err)
	}

	buckets := make([]string, 0, len(colls))
	for i := range colls {
		buckets = append(buckets, colls[i].Bucket)
	}
	uploads, err := o.Uploads(ctx, buckets)
	if err != nil {
		return nil, fmt.Errorf("stats uploads: %w", err)
	}

	stats := make(map[string]int)
	for _, bucketUploads := range uploads {
		for i := range bucketUploads {
			for _, img := range bucketUploads[i].Images {
				for _, sp := range img.Species {
					name := sp.Name
					if name == "" {
						name = sp.ScientificName
					}
					stats[name]++
				}
			}
		}
	}
	return stats, nil
}

// UpdateCollection patches one collection's cached row in place, but only
// while the snapshot is still fresh. Returns false when the row has expired
// or is missing, in which case the caller should go through Collections and
// let the normal refresh path run.
func (o *Orchestrator) UpdateCollection(ctx context.Context, coll *models.Collection) (bool, error) {
	payload, err := json.Marshal(coll)
	if err != nil {
		return false, fmt.Errorf("encode collection %s: %w", coll.ID, err)
	}
	ok, err := o.snapshots.Update(ctx, o.cfg.Origin(), snapshots.ScopeCollections, coll.Bucket, payload, o.cfg.CollectionsTTL)
	if err != nil {
		return false, fmt.Errorf("update collection %s: %w", coll.ID, err)
	}
	if !ok {
		o.log.Debug(ctx, "collection snapshot expired, patch refused", "bucket", coll.Bucket)
	}
	return ok, nil
}

// ConfigFile returns a shared settings file (species list, location list)
// through the snapshot cache. A failed refresh falls back to the stale copy
// when one exists.
func (o *Orchestrator) ConfigFile(ctx context.Context, name string) ([]byte, error) {
	originID := o.cfg.Origin()

	row, err := o.snapshots.Get(ctx, originID, snapshots.ScopeConfig, name)
	if err != nil && !errors.Is(err, common.ErrNotFound) {
		return nil, fmt.Errorf("get config snapshot: %w", err)
	}
	if err == nil && row.Age < o.cfg.ConfigTTL {
		o.metrics.CacheHit("config")
		return row.Payload, nil
	}
	o.metrics.CacheMiss("config")

	data, ferr := o.fetcher.GetConfigFile(ctx, name)
	o.metrics.FetchDone("config", ferr)
	if ferr != nil {
		if row != nil {
			o.log.Warn(ctx, "config refresh failed, serving stale copy", "name", name, "error", ferr)
			return row.Payload, nil
		}
		return nil, fmt.Errorf("fetch config %s: %w", name, ferr)
	}

	if err := o.snapshots.Put(ctx, originID, snapshots.ScopeConfig, snapshots.Row{Key: name, Payload: data}); err != nil {
		return nil, fmt.Errorf("store config %s: %w", name, err)
	}
	return data, nil
}

// SaveConfigFile writes a shared settings file back to the origin and
// refreshes the cached copy, so readers on this node see the new content
// without waiting out the TTL.
func (o *Orchestrator) SaveConfigFile(ctx context.Context, name string, data []byte) error {
	if err := o.fetcher.PutConfigFile(ctx, name, data); err != nil {
		return fmt.Errorf("put config %s: %w", name, err)
	}
	if err := o.snapshots.Put(ctx, o.cfg.Origin(), snapshots.ScopeConfig, snapshots.Row{Key: name, Payload: data}); err != nil {
		return fmt.Errorf("store config %s: %w", name, err)
	}
	o.log.Info(ctx, "config file saved", "name", name, "bytes", len(data))
	return nil
}
