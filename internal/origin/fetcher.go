package origin

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/wildgrid/camsync/internal/common"
	"github.com/wildgrid/camsync/internal/logging"
	"github.com/wildgrid/camsync/internal/models"
)

// Fetcher assembles snapshot records from the raw object layout of the
// origin. It never caches; callers decide what to persist and for how long.
type Fetcher struct {
	store   Store
	log     logging.Logger
	workers int
}

func NewFetcher(store Store, log logging.Logger, workers int) *Fetcher {
	if workers < 1 {
		workers = 1
	}
	return &Fetcher{store: store, log: log.With("component", "fetcher"), workers: workers}
}

// UploadsResult is the outcome of one bucket's upload fetch. A failed
// partition carries its error without affecting sibling buckets.
type UploadsResult struct {
	Uploads []models.Upload
	Err     error
}

// collectionBuckets lists origin buckets that hold collections, skipping the
// settings bucket.
func (f *Fetcher) collectionBuckets(ctx context.Context) ([]string, error) {
	all, err := f.store.ListBuckets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list collection buckets: %w", err)
	}

	var buckets []string
	for _, b := range all {
		if !strings.HasPrefix(b, BucketPrefix) {
			continue
		}
		if strings.HasPrefix(b, settingsBucketPrefix) || b == legacySettingsBucket {
			continue
		}
		buckets = append(buckets, b)
	}
	sort.Strings(buckets)
	return buckets, nil
}

// collectionRoot locates the single collection folder inside a bucket,
// e.g. "Collections/<uuid>".
func (f *Fetcher) collectionRoot(ctx context.Context, bucket string) (string, error) {
	refs, err := f.store.List(ctx, bucket, collectionsRoot+"/")
	if err != nil {
		return "", fmt.Errorf("list collection root: %w", err)
	}
	for _, ref := range refs {
		if ref.IsPrefix {
			return strings.TrimSuffix(ref.Key, "/"), nil
		}
	}
	return "", fmt.Errorf("bucket %s: %w", bucket, common.ErrNotFound)
}

// Collections fetches every collection visible on the origin. Buckets with a
// missing or malformed manifest are logged and skipped; a bucket whose upload
// listing fails still yields its collection, with an empty upload list.
func (f *Fetcher) Collections(ctx context.Context) ([]models.Collection, error) {
	buckets, err := f.collectionBuckets(ctx)
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	collections := make([]models.Collection, 0, len(buckets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)

	for _, bucket := range buckets {
		g.Go(func() error {
			coll, err := f.collection(gctx, bucket)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				f.log.Warn(gctx, "skipping collection bucket", "bucket", bucket, "error", err)
				return nil
			}
			mu.Lock()
			collections = append(collections, *coll)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(collections, func(i, j int) bool { return collections[i].Bucket < collections[j].Bucket })
	return collections, nil
}

func (f *Fetcher) collection(ctx context.Context, bucket string) (*models.Collection, error) {
	root, err := f.collectionRoot(ctx, bucket)
	if err != nil {
		return nil, err
	}

	data, err := f.store.Get(ctx, bucket, joinPath(root, collectionJSONName))
	if err != nil {
		return nil, fmt.Errorf("collection manifest: %w", err)
	}
	manifest, err := parseCollectionManifest(data)
	if err != nil {
		return nil, err
	}

	coll := &models.Collection{
		ID:           manifest.ID,
		Name:         manifest.Name,
		Bucket:       bucket,
		Organization: manifest.Organization,
		Email:        manifest.ContactInfo,
		Description:  manifest.Description,
	}

	// An unreadable permissions manifest means nobody is granted access,
	// not that the collection disappears.
	if data, err := f.store.Get(ctx, bucket, joinPath(root, permissionsJSONName)); err == nil {
		perms, err := parsePermissions(data)
		if err != nil {
			f.log.Warn(ctx, "ignoring malformed permissions", "bucket", bucket, "error", err)
		} else {
			coll.AllPermissions = perms
		}
	} else if !errors.Is(err, common.ErrNotFound) {
		f.log.Warn(ctx, "permissions fetch failed", "bucket", bucket, "error", err)
	}

	summaries, err := f.uploadSummaries(ctx, bucket, root)
	if err != nil {
		f.log.Warn(ctx, "upload listing failed", "bucket", bucket, "error", err)
		return coll, nil
	}
	coll.Uploads = summaries
	return coll, nil
}

func (f *Fetcher) uploadSummaries(ctx context.Context, bucket, root string) ([]models.UploadSummary, error) {
	refs, err := f.store.List(ctx, bucket, joinPath(root, uploadsPart)+"/")
	if err != nil {
		return nil, err
	}

	var summaries []models.UploadSummary
	for _, ref := range refs {
		if !ref.IsPrefix {
			continue
		}
		key := strings.TrimSuffix(ref.Key, "/")
		summary := models.UploadSummary{Name: baseName(key), Key: key}

		if data, err := f.store.Get(ctx, bucket, joinPath(key, uploadMetaJSONName)); err == nil {
			if meta, err := parseUploadMeta(data); err == nil {
				summary.Description = meta.Description
				summary.ImagesCount = meta.ImageCount
				summary.ImagesWithSpecies = meta.ImagesWithSpecies
			} else {
				f.log.Warn(ctx, "ignoring malformed upload metadata", "bucket", bucket, "upload", summary.Name, "error", err)
			}
		}
		if data, err := f.store.Get(ctx, bucket, joinPath(key, deploymentsCSVName)); err == nil {
			if location, _, err := parseDeployments(data); err == nil {
				summary.Location = location
			}
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// Uploads fetches one bucket's full upload inventory, image observations
// included.
func (f *Fetcher) Uploads(ctx context.Context, bucket string) ([]models.Upload, error) {
	root, err := f.collectionRoot(ctx, bucket)
	if err != nil {
		return nil, err
	}

	refs, err := f.store.List(ctx, bucket, joinPath(root, uploadsPart)+"/")
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}

	var keys []string
	for _, ref := range refs {
		if ref.IsPrefix {
			keys = append(keys, strings.TrimSuffix(ref.Key, "/"))
		}
	}

	uploads := make([]models.Upload, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(f.workers)
	for i, key := range keys {
		g.Go(func() error {
			u, err := f.upload(gctx, bucket, key)
			if err != nil {
				return fmt.Errorf("upload %s: %w", key, err)
			}
			uploads[i] = *u
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return uploads, nil
}

func (f *Fetcher) upload(ctx context.Context, bucket, key string) (*models.Upload, error) {
	u := &models.Upload{Bucket: bucket, Name: baseName(key)}

	if data, err := f.store.Get(ctx, bucket, joinPath(key, uploadMetaJSONName)); err == nil {
		meta, err := parseUploadMeta(data)
		if err != nil {
			return nil, err
		}
		u.Description = meta.Description
		u.ImagesCount = meta.ImageCount
	} else if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	if data, err := f.store.Get(ctx, bucket, joinPath(key, deploymentsCSVName)); err == nil {
		location, elevation, err := parseDeployments(data)
		if err != nil {
			return nil, err
		}
		u.Location = location
		u.Elevation = elevation
	} else if !errors.Is(err, common.ErrNotFound) {
		return nil, err
	}

	// Uploads without observations are still real uploads, just empty.
	data, err := f.store.Get(ctx, bucket, joinPath(key, observationsCSVName))
	if errors.Is(err, common.ErrNotFound) {
		return u, nil
	}
	if err != nil {
		return nil, err
	}
	images, err := parseObservations(data, bucket)
	if err != nil {
		return nil, err
	}
	u.Images = images
	return u, nil
}

// FetchUploads fetches several buckets concurrently. Each bucket is an
// independent partition: one failing bucket never cancels or taints the
// others, it just carries its error in the result map.
func (f *Fetcher) FetchUploads(ctx context.Context, buckets []string) map[string]UploadsResult {
	results := make(map[string]UploadsResult, len(buckets))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(f.workers)
	for _, bucket := range buckets {
		g.Go(func() error {
			uploads, err := f.Uploads(ctx, bucket)
			mu.Lock()
			results[bucket] = UploadsResult{Uploads: uploads, Err: err}
			mu.Unlock()
			return nil
		})
	}
	// Workers never return errors, they record them per bucket.
	_ = g.Wait()

	return results
}

// SettingsBucket locates the bucket holding shared configuration files,
// preferring the current naming over the legacy one.
func (f *Fetcher) SettingsBucket(ctx context.Context) (string, error) {
	all, err := f.store.ListBuckets(ctx)
	if err != nil {
		return "", fmt.Errorf("list buckets: %w", err)
	}
	legacy := ""
	for _, b := range all {
		if strings.HasPrefix(b, settingsBucketPrefix) {
			return b, nil
		}
		if b == legacySettingsBucket {
			legacy = b
		}
	}
	if legacy != "" {
		return legacy, nil
	}
	return "", fmt.Errorf("settings bucket: %w", common.ErrNotFound)
}

// GetConfigFile reads a shared configuration file (for example
// "species.json") from the settings folder.
func (f *Fetcher) GetConfigFile(ctx context.Context, name string) ([]byte, error) {
	bucket, err := f.SettingsBucket(ctx)
	if err != nil {
		return nil, err
	}
	return f.store.Get(ctx, bucket, joinPath(settingsFolder, name))
}

// PutConfigFile writes a shared configuration file back to the settings
// folder.
func (f *Fetcher) PutConfigFile(ctx context.Context, name string, body []byte) error {
	bucket, err := f.SettingsBucket(ctx)
	if err != nil {
		return err
	}
	return f.store.Put(ctx, bucket, joinPath(settingsFolder, name), body)
}
