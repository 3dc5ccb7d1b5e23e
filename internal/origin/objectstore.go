// Package origin talks to the remote object store that is the system of
// record for collections, uploads and observations. The rest of the core
// depends only on the narrow Store contract; the S3 implementation is one
// choice of transport.
package origin

import "context"

// ObjectRef identifies one listed object. IsPrefix marks a "directory"
// entry returned by a delimited listing.
type ObjectRef struct {
	Bucket   string
	Key      string
	IsPrefix bool
}

// Store is the minimal origin contract: list, get, put.
//
// Get returns common.ErrNotFound for missing objects.
type Store interface {
	ListBuckets(ctx context.Context) ([]string, error)
	List(ctx context.Context, bucket, prefix string) ([]ObjectRef, error)
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key string, body []byte) error
}
