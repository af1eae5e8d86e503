package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"bucketview/internal/endpoint"
	"bucketview/internal/profile"
)

// BucketInfo describes one bucket or container.
type BucketInfo struct {
	Name      string
	CreatedAt time.Time
}

// ObjectEntry is one listing row. Versioned listings return every version
// and delete marker, ordered latest-first per key; grouping into a
// latest/older display tree is a read-time projection left to callers.
type ObjectEntry struct {
	Key            string
	Size           int64
	ETag           string
	LastModified   time.Time
	StorageClass   string
	VersionID      string
	IsLatest       bool
	IsDeleteMarker bool
}

// ObjectPage is one page of a listing. An empty NextToken means the listing
// is exhausted.
type ObjectPage struct {
	Entries   []ObjectEntry
	NextToken string
}

// ObjectMeta is the result of a head request.
type ObjectMeta struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
	StorageClass string
	Metadata     map[string]string
}

// PutOptions carries optional attributes for uploads.
type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// Backend is the uniform capability interface over heterogeneous object
// stores. Implementations classify provider-native errors into the shared
// taxonomy at this boundary and bound every call with a timeout.
type Backend interface {
	// ListBuckets returns all buckets/containers visible to the credentials.
	ListBuckets(ctx context.Context) ([]BucketInfo, error)

	// ListObjects returns one page under prefix. When includeVersions is
	// set every version and delete marker is returned.
	ListObjects(ctx context.Context, bucket, prefix, token string, includeVersions bool) (ObjectPage, error)

	// HeadObject returns metadata, failing with KindNotFound when absent.
	HeadObject(ctx context.Context, bucket, key string) (ObjectMeta, error)

	// GetObject opens a finite byte stream, optionally starting at offset.
	// The stream is not restartable; a new call restarts the read.
	GetObject(ctx context.Context, bucket, key string, offset int64) (io.ReadCloser, error)

	// PutObject streams the reader to the store without buffering the whole
	// object, switching to multipart above the configured threshold. A
	// failed part is retried alone before the upload fails. Returns the
	// resulting etag.
	PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts PutOptions) (string, error)

	// DeleteObject removes an object, or one version when versionID is set.
	DeleteObject(ctx context.Context, bucket, key, versionID string) error

	// Undelete reactivates a soft-deleted object. Providers without soft
	// delete fail with KindUnsupported.
	Undelete(ctx context.Context, bucket, key string) error

	// ShareURL generates a time-limited shareable URL for the object.
	ShareURL(ctx context.Context, bucket, key string, expiry time.Duration) (string, error)

	// SupportsRangeReads reports whether GetObject honors a nonzero offset,
	// enabling partial-transfer resume.
	SupportsRangeReads() bool

	// Provider identifies the backing API family.
	Provider() endpoint.Provider
}

// TransferTuning bounds upload behavior shared by both implementations.
type TransferTuning struct {
	MultipartThreshold int64
	PartSize           int64
	PartRetries        int
	CallTimeout        time.Duration
}

// DefaultTuning mirrors the defaults used by the migration config.
func DefaultTuning() TransferTuning {
	return TransferTuning{
		MultipartThreshold: 100 * 1024 * 1024,
		PartSize:           64 * 1024 * 1024,
		PartRetries:        3,
		CallTimeout:        5 * time.Minute,
	}
}

// New selects the implementation matching the profile's endpoint provider.
func New(p profile.Profile, ep endpoint.StorageEndpoint, tuning TransferTuning) (Backend, error) {
	switch ep.Provider {
	case endpoint.ProviderS3:
		return NewS3Backend(p, ep, tuning)
	case endpoint.ProviderAzureBlob:
		return NewAzureBackend(p, ep, tuning)
	default:
		return nil, NewError(KindConfiguration, "storage.New",
			fmt.Errorf("unknown provider %q", ep.Provider))
	}
}
