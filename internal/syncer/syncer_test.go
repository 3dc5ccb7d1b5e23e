package syncer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/wildgrid/camsync/internal/common"
	"github.com/wildgrid/camsync/internal/config"
	"github.com/wildgrid/camsync/internal/logging"
	"github.com/wildgrid/camsync/internal/models"
	"github.com/wildgrid/camsync/internal/origin"
	"github.com/wildgrid/camsync/internal/store/locks"
	"github.com/wildgrid/camsync/internal/store/snapshots"
)

// fakeFetcher serves canned data and counts origin round trips.
type fakeFetcher struct {
	mu          sync.Mutex
	collections []models.Collection
	uploads     map[string][]models.Upload
	configFiles map[string][]byte

	collectionsErr error
	uploadsErr     map[string]error
	configErr      error
	fetchDelay     time.Duration

	collectionsCalls atomic.Int64
	uploadsCalls     atomic.Int64
	configCalls      atomic.Int64
}

func (f *fakeFetcher) Collections(ctx context.Context) ([]models.Collection, error) {
	f.collectionsCalls.Add(1)
	if f.fetchDelay > 0 {
		time.Sleep(f.fetchDelay)
	}
	if f.collectionsErr != nil {
		return nil, f.collectionsErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Collection(nil), f.collections...), nil
}

func (f *fakeFetcher) Uploads(ctx context.Context, bucket string) ([]models.Upload, error) {
	f.uploadsCalls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.uploadsErr[bucket]; err != nil {
		return nil, err
	}
	return append([]models.Upload(nil), f.uploads[bucket]...), nil
}

func (f *fakeFetcher) FetchUploads(ctx context.Context, buckets []string) map[string]origin.UploadsResult {
	results := make(map[string]origin.UploadsResult, len(buckets))
	for _, b := range buckets {
		uploads, err := f.Uploads(ctx, b)
		results[b] = origin.UploadsResult{Uploads: uploads, Err: err}
	}
	return results
}

func (f *fakeFetcher) GetConfigFile(ctx context.Context, name string) ([]byte, error) {
	f.configCalls.Add(1)
	if f.configErr != nil {
		return nil, f.configErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.configFiles[name], nil
}

func (f *fakeFetcher) PutConfigFile(ctx context.Context, name string, body []byte) error {
	if f.configErr != nil {
		return f.configErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.configFiles == nil {
		f.configFiles = make(map[string][]byte)
	}
	f.configFiles[name] = body
	return nil
}

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.OriginID = "test-origin"
	cfg.PollBudget = 200 * time.Millisecond
	cfg.PollAttempts = 10
	return cfg
}

func newOrchestrator(t *testing.T, f OriginFetcher, cfg *config.Config) (*Orchestrator, *snapshots.MemoryRepository, *locks.MemoryRepository) {
	t.Helper()
	snaps := snapshots.NewMemoryRepository()
	lcks := locks.NewMemoryRepository()
	o := NewOrchestrator(snaps, lcks, f, cfg, logging.NewNopLogger(), nil)
	return o, snaps, lcks
}

func someCollections() []models.Collection {
	return []models.Collection{
		{ID: "c1", Name: "Alpha", Bucket: "sparcd-b1"},
		{ID: "c2", Name: "Beta", Bucket: "sparcd-b2"},
	}
}

func TestCollections_SingleFlight(t *testing.T) {
	f := &fakeFetcher{collections: someCollections(), fetchDelay: 20 * time.Millisecond}
	o, _, _ := newOrchestrator(t, f, testConfig())

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	results := make([][]models.Collection, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = o.Collections(context.Background())
		}()
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Len(t, results[i], 2)
	}
	require.Equal(t, int64(1), f.collectionsCalls.Load(), "exactly one caller may hit the origin")
}

func TestCollections_FreshCacheSkipsOrigin(t *testing.T) {
	f := &fakeFetcher{collections: someCollections()}
	o, _, _ := newOrchestrator(t, f, testConfig())

	first, err := o.Collections(context.Background())
	require.NoError(t, err)
	second, err := o.Collections(context.Background())
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, int64(1), f.collectionsCalls.Load())
}

func TestCollections_MalformedRowForcesRefetch(t *testing.T) {
	f := &fakeFetcher{collections: someCollections()}
	cfg := testConfig()
	o, snaps, _ := newOrchestrator(t, f, cfg)

	require.NoError(t, snaps.Replace(context.Background(), cfg.Origin(), snapshots.ScopeCollections, []snapshots.Row{
		{Key: "sparcd-b1", Payload: []byte(`{`)},
	}))

	colls, err := o.Collections(context.Background())
	require.NoError(t, err)
	require.Len(t, colls, 2)
	require.Equal(t, int64(1), f.collectionsCalls.Load())
}

func TestCollections_WaitExhausted(t *testing.T) {
	f := &fakeFetcher{collections: someCollections()}
	cfg := testConfig()
	cfg.PollBudget = 20 * time.Millisecond
	cfg.PollAttempts = 3
	o, _, lcks := newOrchestrator(t, f, cfg)

	// Another process holds the lock and never publishes.
	_, won, err := lcks.Acquire(context.Background(), LockCollections, cfg.LockMaxHold)
	require.NoError(t, err)
	require.True(t, won)

	_, err = o.Collections(context.Background())
	require.ErrorIs(t, err, common.ErrWaitExhausted)
	require.Zero(t, f.collectionsCalls.Load())
}

func TestCollections_LockReleasedAfterFetchError(t *testing.T) {
	boom := errors.New("origin down")
	f := &fakeFetcher{collections: someCollections(), collectionsErr: boom}
	o, _, _ := newOrchestrator(t, f, testConfig())

	_, err := o.Collections(context.Background())
	require.ErrorIs(t, err, boom)

	// The lock must not stay held: a retry wins it again immediately.
	f.collectionsErr = nil
	colls, err := o.Collections(context.Background())
	require.NoError(t, err)
	require.Len(t, colls, 2)
	require.Equal(t, int64(2), f.collectionsCalls.Load())
}

func TestRefreshCollections_DeclinesWhenLockHeld(t *testing.T) {
	f := &fakeFetcher{collections: someCollections()}
	cfg := testConfig()
	o, _, lcks := newOrchestrator(t, f, cfg)

	_, won, err := lcks.Acquire(context.Background(), LockCollections, cfg.LockMaxHold)
	require.NoError(t, err)
	require.True(t, won)

	_, err = o.RefreshCollections(context.Background())
	require.ErrorIs(t, err, common.ErrLockNotAcquired)
	require.Zero(t, f.collectionsCalls.Load())
}

func TestRefreshCollections_IgnoresSnapshotAge(t *testing.T) {
	f := &fakeFetcher{collections: someCollections()}
	o, _, _ := newOrchestrator(t, f, testConfig())

	_, err := o.Collections(context.Background())
	require.NoError(t, err)

	// A fresh snapshot does not stop the forced refresh.
	colls, err := o.RefreshCollections(context.Background())
	require.NoError(t, err)
	require.Len(t, colls, 2)
	require.Equal(t, int64(2), f.collectionsCalls.Load())
}

func seedUploads(t *testing.T, snaps *snapshots.MemoryRepository, originID, bucket string, uploads []models.Upload) {
	t.Helper()
	rows := make([]snapshots.Row, 0, len(uploads))
	for i := range uploads {
		payload, err := json.Marshal(&uploads[i])
		require.NoError(t, err)
		rows = append(rows, snapshots.Row{Key: uploads[i].Name, Name: uploads[i].Name, Payload: payload})
	}
	require.NoError(t, snaps.Replace(context.Background(), originID, snapshots.ScopeUploads(bucket), rows))
}

func TestUploads_RefreshesOnlyStaleBuckets(t *testing.T) {
	f := &fakeFetcher{uploads: map[string][]models.Upload{
		"sparcd-b1": {{Bucket: "sparcd-b1", Name: "u1-new"}},
		"sparcd-b2": {{Bucket: "sparcd-b2", Name: "u2-new"}},
	}}
	cfg := testConfig()
	o, snaps, _ := newOrchestrator(t, f, cfg)

	// b1 fresh in cache, b2 absent.
	seedUploads(t, snaps, cfg.Origin(), "sparcd-b1", []models.Upload{{Bucket: "sparcd-b1", Name: "u1-cached"}})

	got, err := o.Uploads(context.Background(), []string{"sparcd-b1", "sparcd-b2"})
	require.NoError(t, err)
	require.Equal(t, "u1-cached", got["sparcd-b1"][0].Name)
	require.Equal(t, "u2-new", got["sparcd-b2"][0].Name)
	require.Equal(t, int64(1), f.uploadsCalls.Load())
}

func TestUploads_PartitionErrorFallsBackToStale(t *testing.T) {
	boom := errors.New("bucket gone")
	f := &fakeFetcher{
		uploads:    map[string][]models.Upload{"sparcd-ok": {{Bucket: "sparcd-ok", Name: "fresh"}}},
		uploadsErr: map[string]error{"sparcd-bad": boom},
	}
	cfg := testConfig()
	o, snaps, _ := newOrchestrator(t, f, cfg)

	clock := time.Now()
	snaps.SetClock(func() time.Time { return clock })
	seedUploads(t, snaps, cfg.Origin(), "sparcd-bad", []models.Upload{{Bucket: "sparcd-bad", Name: "old"}})
	clock = clock.Add(cfg.UploadsTTL + time.Minute)

	got, err := o.Uploads(context.Background(), []string{"sparcd-ok", "sparcd-bad"})
	require.NoError(t, err)
	require.Equal(t, "fresh", got["sparcd-ok"][0].Name)
	require.Equal(t, "old", got["sparcd-bad"][0].Name, "stale data beats no data")
}

func TestUploads_PartitionErrorWithoutStaleIsReported(t *testing.T) {
	boom := errors.New("bucket gone")
	f := &fakeFetcher{
		uploads:    map[string][]models.Upload{"sparcd-ok": {{Bucket: "sparcd-ok", Name: "fresh"}}},
		uploadsErr: map[string]error{"sparcd-bad": boom},
	}
	o, _, _ := newOrchestrator(t, f, testConfig())

	got, err := o.Uploads(context.Background(), []string{"sparcd-ok", "sparcd-bad"})
	require.ErrorIs(t, err, boom)
	require.ErrorIs(t, err, common.ErrUnavailable)
	require.Equal(t, "fresh", got["sparcd-ok"][0].Name, "healthy partitions still come back")
	require.NotContains(t, got, "sparcd-bad")
}

func TestSpeciesStats_ComputesAndCaches(t *testing.T) {
	f := &fakeFetcher{
		collections: []models.Collection{{ID: "c1", Name: "Alpha", Bucket: "sparcd-b1"}},
		uploads: map[string][]models.Upload{
			"sparcd-b1": {{
				Bucket: "sparcd-b1", Name: "u1",
				Images: []models.Image{
					{Name: "a.jpg", Species: []models.Species{
						{Name: "Coyote", ScientificName: "Canis latrans", Count: "1"},
						{Name: "Mule Deer", ScientificName: "Odocoileus hemionus", Count: "2"},
					}},
					{Name: "b.jpg", Species: []models.Species{
						{Name: "Coyote", ScientificName: "Canis latrans", Count: "1"},
					}},
					{Name: "c.jpg", Species: []models.Species{
						{ScientificName: "Lynx rufus", Count: "1"},
					}},
				},
			}},
		},
	}
	o, _, _ := newOrchestrator(t, f, testConfig())

	stats, err := o.SpeciesStats(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[string]int{"Coyote": 2, "Mule Deer": 1, "Lynx rufus": 1}, stats)

	again, err := o.SpeciesStats(context.Background())
	require.NoError(t, err)
	require.Equal(t, stats, again)
	require.Equal(t, int64(1), f.collectionsCalls.Load())
	require.Equal(t, int64(1), f.uploadsCalls.Load())
}

func TestUpdateCollection_RefusesExpiredSnapshot(t *testing.T) {
	f := &fakeFetcher{collections: someCollections()}
	cfg := testConfig()
	o, snaps, _ := newOrchestrator(t, f, cfg)

	clock := time.Now()
	snaps.SetClock(func() time.Time { return clock })

	colls, err := o.Collections(context.Background())
	require.NoError(t, err)

	patched := colls[0]
	patched.Description = "renamed"
	ok, err := o.UpdateCollection(context.Background(), &patched)
	require.NoError(t, err)
	require.True(t, ok)

	got, err := o.Collections(context.Background())
	require.NoError(t, err)
	require.Equal(t, "renamed", got[0].Description)

	clock = clock.Add(cfg.CollectionsTTL + time.Minute)
	ok, err = o.UpdateCollection(context.Background(), &patched)
	require.NoError(t, err)
	require.False(t, ok, "an expired snapshot must not be patched")
}

func TestConfigFile_CachesAndFallsBack(t *testing.T) {
	f := &fakeFetcher{configFiles: map[string][]byte{"species.json": []byte(`["Coyote"]`)}}
	cfg := testConfig()
	o, snaps, _ := newOrchestrator(t, f, cfg)

	clock := time.Now()
	snaps.SetClock(func() time.Time { return clock })

	data, err := o.ConfigFile(context.Background(), "species.json")
	require.NoError(t, err)
	require.Equal(t, []byte(`["Coyote"]`), data)

	data, err = o.ConfigFile(context.Background(), "species.json")
	require.NoError(t, err)
	require.Equal(t, []byte(`["Coyote"]`), data)
	require.Equal(t, int64(1), f.configCalls.Load())

	// Expired copy plus unreachable origin still serves the stale bytes.
	clock = clock.Add(cfg.ConfigTTL + time.Minute)
	f.configErr = errors.New("origin down")
	data, err = o.ConfigFile(context.Background(), "species.json")
	require.NoError(t, err)
	require.Equal(t, []byte(`["Coyote"]`), data)
}

func TestSaveConfigFile_WritesOriginAndCache(t *testing.T) {
	f := &fakeFetcher{}
	o, _, _ := newOrchestrator(t, f, testConfig())

	body := []byte(`["Coyote","Mule Deer"]`)
	require.NoError(t, o.SaveConfigFile(context.Background(), "species.json", body))

	f.mu.Lock()
	require.Equal(t, body, f.configFiles["species.json"])
	f.mu.Unlock()

	// The cache was refreshed by the write, so a read needs no fetch.
	data, err := o.ConfigFile(context.Background(), "species.json")
	require.NoError(t, err)
	require.Equal(t, body, data)
	require.Zero(t, f.configCalls.Load())
}
