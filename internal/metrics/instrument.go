package metrics

import (
	"context"
	"io"
	"time"

	"bucketview/internal/storage"
)

// Recorder receives one classified count per attempted backend call.
type Recorder interface {
	Record(profileName string, rt RequestType) error
}

// InstrumentBackend wraps a backend so every call increments exactly one
// ledger counter and one collector counter, classified by the operation
// attempted regardless of outcome.
func InstrumentBackend(b storage.Backend, profileName string, ledger Recorder, collector *Collector) storage.Backend {
	return &instrumentedBackend{
		Backend:   b,
		profile:   profileName,
		ledger:    ledger,
		collector: collector,
	}
}

type instrumentedBackend struct {
	storage.Backend
	profile   string
	ledger    Recorder
	collector *Collector
}

func (b *instrumentedBackend) record(rt RequestType) {
	if b.ledger != nil {
		// Ledger write failures must not fail the storage call itself.
		_ = b.ledger.Record(b.profile, rt)
	}
	if b.collector != nil {
		b.collector.IncRequest(b.profile, rt)
	}
}

func (b *instrumentedBackend) ListBuckets(ctx context.Context) ([]storage.BucketInfo, error) {
	b.record(RequestList)
	return b.Backend.ListBuckets(ctx)
}

func (b *instrumentedBackend) ListObjects(ctx context.Context, bucket, prefix, token string, includeVersions bool) (storage.ObjectPage, error) {
	b.record(RequestList)
	return b.Backend.ListObjects(ctx, bucket, prefix, token, includeVersions)
}

func (b *instrumentedBackend) HeadObject(ctx context.Context, bucket, key string) (storage.ObjectMeta, error) {
	b.record(RequestHead)
	return b.Backend.HeadObject(ctx, bucket, key)
}

func (b *instrumentedBackend) GetObject(ctx context.Context, bucket, key string, offset int64) (io.ReadCloser, error) {
	b.record(RequestGet)
	return b.Backend.GetObject(ctx, bucket, key, offset)
}

func (b *instrumentedBackend) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts storage.PutOptions) (string, error) {
	b.record(RequestPut)
	return b.Backend.PutObject(ctx, bucket, key, r, size, opts)
}

func (b *instrumentedBackend) DeleteObject(ctx context.Context, bucket, key, versionID string) error {
	b.record(RequestDelete)
	return b.Backend.DeleteObject(ctx, bucket, key, versionID)
}

func (b *instrumentedBackend) Undelete(ctx context.Context, bucket, key string) error {
	b.record(RequestPut)
	return b.Backend.Undelete(ctx, bucket, key)
}

func (b *instrumentedBackend) ShareURL(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	b.record(RequestGet)
	return b.Backend.ShareURL(ctx, bucket, key, expiry)
}

// Provider and SupportsRangeReads pass through via embedding.

var _ storage.Backend = (*instrumentedBackend)(nil)
