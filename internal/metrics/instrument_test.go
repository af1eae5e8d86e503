package metrics

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bucketview/internal/endpoint"
	"bucketview/internal/storage"
)

// failingBackend errors on every call; instrumentation must still count
// each attempt.
type failingBackend struct{}

var errBoom = errors.New("boom")

func (failingBackend) ListBuckets(context.Context) ([]storage.BucketInfo, error) {
	return nil, errBoom
}

func (failingBackend) ListObjects(context.Context, string, string, string, bool) (storage.ObjectPage, error) {
	return storage.ObjectPage{}, errBoom
}

func (failingBackend) HeadObject(context.Context, string, string) (storage.ObjectMeta, error) {
	return storage.ObjectMeta{}, errBoom
}

func (failingBackend) GetObject(context.Context, string, string, int64) (io.ReadCloser, error) {
	return nil, errBoom
}

func (failingBackend) PutObject(context.Context, string, string, io.Reader, int64, storage.PutOptions) (string, error) {
	return "", errBoom
}

func (failingBackend) DeleteObject(context.Context, string, string, string) error { return errBoom }
func (failingBackend) Undelete(context.Context, string, string) error             { return errBoom }

func (failingBackend) ShareURL(context.Context, string, string, time.Duration) (string, error) {
	return "", errBoom
}

func (failingBackend) SupportsRangeReads() bool    { return true }
func (failingBackend) Provider() endpoint.Provider { return endpoint.ProviderS3 }

type captureRecorder struct {
	events []RequestType
	err    error
}

func (r *captureRecorder) Record(_ string, rt RequestType) error {
	r.events = append(r.events, rt)
	return r.err
}

func TestInstrumentBackendCountsEveryAttempt(t *testing.T) {
	rec := &captureRecorder{}
	b := InstrumentBackend(failingBackend{}, "minio", rec, NewCollector())
	ctx := context.Background()

	_, _ = b.ListBuckets(ctx)
	_, _ = b.ListObjects(ctx, "bucket", "", "", false)
	_, _ = b.HeadObject(ctx, "bucket", "k")
	_, _ = b.GetObject(ctx, "bucket", "k", 0)
	_, _ = b.PutObject(ctx, "bucket", "k", nil, 0, storage.PutOptions{})
	_ = b.DeleteObject(ctx, "bucket", "k", "")
	_ = b.Undelete(ctx, "bucket", "k")
	_, _ = b.ShareURL(ctx, "bucket", "k", time.Hour)

	assert.Equal(t, []RequestType{
		RequestList, RequestList, RequestHead, RequestGet,
		RequestPut, RequestDelete, RequestPut, RequestGet,
	}, rec.events)
}

func TestInstrumentBackendSwallowsLedgerErrors(t *testing.T) {
	rec := &captureRecorder{err: errors.New("disk full")}
	b := InstrumentBackend(failingBackend{}, "minio", rec, nil)

	_, err := b.ListBuckets(context.Background())
	require.ErrorIs(t, err, errBoom)
	assert.Len(t, rec.events, 1)
}

func TestInstrumentBackendPassesThroughCapabilities(t *testing.T) {
	b := InstrumentBackend(failingBackend{}, "minio", &captureRecorder{}, nil)
	assert.True(t, b.SupportsRangeReads())
	assert.Equal(t, endpoint.ProviderS3, b.Provider())
}
