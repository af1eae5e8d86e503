package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/url"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"bucketview/internal/endpoint"
	"bucketview/internal/profile"
	"bucketview/internal/signer"
)

const s3ListPageSize = 1000

// S3Backend implements Backend for S3-compatible services using minio-go.
type S3Backend struct {
	client *minio.Client
	core   *minio.Core
	signer signer.V4Signer
	ep     endpoint.StorageEndpoint
	tuning TransferTuning
}

// NewS3Backend creates a backend for the profile's S3-compatible endpoint.
func NewS3Backend(p profile.Profile, ep endpoint.StorageEndpoint, tuning TransferTuning) (*S3Backend, error) {
	lookup := minio.BucketLookupDNS
	if ep.PathStyle {
		lookup = minio.BucketLookupPath
	}

	client, err := minio.New(ep.Host, &minio.Options{
		Creds:        credentials.NewStaticV4(p.AccessKey, p.SecretKey, ""),
		Secure:       ep.Secure(),
		Region:       ep.Region,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, NewError(KindConfiguration, "s3.New", err)
	}

	return &S3Backend{
		client: client,
		core:   &minio.Core{Client: client},
		signer: signer.NewV4Signer(p.AccessKey, p.SecretKey, ep.Region),
		ep:     ep,
		tuning: tuning,
	}, nil
}

func (b *S3Backend) Provider() endpoint.Provider { return endpoint.ProviderS3 }

func (b *S3Backend) SupportsRangeReads() bool { return true }

// ListBuckets returns all buckets visible to the credentials.
func (b *S3Backend) ListBuckets(ctx context.Context) ([]BucketInfo, error) {
	ctx, cancel := b.callContext(ctx)
	defer cancel()

	buckets, err := b.client.ListBuckets(ctx)
	if err != nil {
		return nil, classifyS3(err, "s3.ListBuckets")
	}

	infos := make([]BucketInfo, 0, len(buckets))
	for _, bkt := range buckets {
		infos = append(infos, BucketInfo{Name: bkt.Name, CreatedAt: bkt.CreationDate})
	}
	return infos, nil
}

// versionToken carries the (key, version) cursor of a versioned listing.
type versionToken struct {
	KeyMarker       string `json:"k"`
	VersionIDMarker string `json:"v"`
}

// ListObjects returns one page of the listing. Versioned listings use the
// provider's key/version marker pair, opaquely encoded into the token.
func (b *S3Backend) ListObjects(ctx context.Context, bucket, prefix, token string, includeVersions bool) (ObjectPage, error) {
	ctx, cancel := b.callContext(ctx)
	defer cancel()

	if includeVersions {
		return b.listVersions(ctx, bucket, prefix, token)
	}

	result, err := b.core.ListObjectsV2(bucket, prefix, "", token, "", s3ListPageSize)
	if err != nil {
		return ObjectPage{}, classifyS3(err, "s3.ListObjects")
	}

	page := ObjectPage{Entries: make([]ObjectEntry, 0, len(result.Contents))}
	for _, obj := range result.Contents {
		page.Entries = append(page.Entries, ObjectEntry{
			Key:          obj.Key,
			Size:         obj.Size,
			ETag:         obj.ETag,
			LastModified: obj.LastModified,
			StorageClass: obj.StorageClass,
			IsLatest:     true,
		})
	}
	if result.IsTruncated {
		page.NextToken = result.NextContinuationToken
	}
	return page, nil
}

func (b *S3Backend) listVersions(ctx context.Context, bucket, prefix, token string) (ObjectPage, error) {
	_ = ctx

	var cursor versionToken
	if token != "" {
		if err := decodeToken(token, &cursor); err != nil {
			return ObjectPage{}, NewError(KindConfiguration, "s3.ListObjects", err)
		}
	}

	result, err := b.core.ListObjectVersions(bucket, prefix, cursor.KeyMarker, cursor.VersionIDMarker, "", s3ListPageSize)
	if err != nil {
		return ObjectPage{}, classifyS3(err, "s3.ListObjects")
	}

	page := ObjectPage{Entries: make([]ObjectEntry, 0, len(result.Versions))}
	for _, v := range result.Versions {
		page.Entries = append(page.Entries, ObjectEntry{
			Key:            v.Key,
			Size:           v.Size,
			ETag:           v.ETag,
			LastModified:   v.LastModified,
			StorageClass:   v.StorageClass,
			VersionID:      v.VersionID,
			IsLatest:       v.IsLatest,
			IsDeleteMarker: v.IsDeleteMarker,
		})
	}
	if result.IsTruncated {
		page.NextToken = encodeToken(versionToken{
			KeyMarker:       result.NextKeyMarker,
			VersionIDMarker: result.NextVersionIDMarker,
		})
	}
	return page, nil
}

// HeadObject fetches metadata for a single key.
func (b *S3Backend) HeadObject(ctx context.Context, bucket, key string) (ObjectMeta, error) {
	ctx, cancel := b.callContext(ctx)
	defer cancel()

	info, err := b.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return ObjectMeta{}, classifyS3(err, "s3.HeadObject")
	}

	return ObjectMeta{
		Key:          info.Key,
		Size:         info.Size,
		ETag:         info.ETag,
		ContentType:  info.ContentType,
		LastModified: info.LastModified,
		StorageClass: info.StorageClass,
		Metadata:     info.UserMetadata,
	}, nil
}

// GetObject opens a streamed read, resuming from offset when nonzero.
func (b *S3Backend) GetObject(ctx context.Context, bucket, key string, offset int64) (io.ReadCloser, error) {
	opts := minio.GetObjectOptions{}
	if offset > 0 {
		if err := opts.SetRange(offset, 0); err != nil {
			return nil, NewError(KindConfiguration, "s3.GetObject", err)
		}
	}

	reader, _, _, err := b.core.GetObject(ctx, bucket, key, opts)
	if err != nil {
		return nil, classifyS3(err, "s3.GetObject")
	}
	return reader, nil
}

// PutObject uploads the stream, switching to multipart above the threshold.
func (b *S3Backend) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts PutOptions) (string, error) {
	putOpts := minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		UserMetadata: opts.Metadata,
	}
	if putOpts.ContentType == "" {
		putOpts.ContentType = "application/octet-stream"
	}

	if size < b.tuning.MultipartThreshold {
		info, err := b.client.PutObject(ctx, bucket, key, r, size, putOpts)
		if err != nil {
			return "", classifyS3(err, "s3.PutObject")
		}
		return info.ETag, nil
	}
	return b.putMultipart(ctx, bucket, key, r, size, putOpts)
}

func (b *S3Backend) putMultipart(ctx context.Context, bucket, key string, r io.Reader, size int64, opts minio.PutObjectOptions) (string, error) {
	uploadID, err := b.core.NewMultipartUpload(ctx, bucket, key, opts)
	if err != nil {
		return "", classifyS3(err, "s3.PutObject")
	}

	partCount := int(math.Ceil(float64(size) / float64(b.tuning.PartSize)))
	parts := make([]minio.CompletePart, 0, partCount)

	for partNum := 1; partNum <= partCount; partNum++ {
		partSize := b.tuning.PartSize
		if remaining := size - int64(partNum-1)*b.tuning.PartSize; remaining < partSize {
			partSize = remaining
		}

		// One part is held in memory at a time so a failed part can be
		// retried without rewinding the source stream.
		buf := make([]byte, partSize)
		n, err := io.ReadFull(r, buf)
		if err != nil && err != io.ErrUnexpectedEOF {
			b.core.AbortMultipartUpload(ctx, bucket, key, uploadID)
			return "", classifyS3(fmt.Errorf("read part %d: %w", partNum, err), "s3.PutObject")
		}
		buf = buf[:n]

		etag, err := b.uploadPartWithRetry(ctx, bucket, key, uploadID, partNum, buf)
		if err != nil {
			b.core.AbortMultipartUpload(ctx, bucket, key, uploadID)
			return "", err
		}
		parts = append(parts, minio.CompletePart{PartNumber: partNum, ETag: etag})
	}

	info, err := b.core.CompleteMultipartUpload(ctx, bucket, key, uploadID, parts, opts)
	if err != nil {
		return "", classifyS3(err, "s3.PutObject")
	}
	return info.ETag, nil
}

// uploadPartWithRetry retries a single failed part before giving up on the
// whole upload.
func (b *S3Backend) uploadPartWithRetry(ctx context.Context, bucket, key, uploadID string, partNum int, data []byte) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= b.tuning.PartRetries; attempt++ {
		part, err := b.core.PutObjectPart(ctx, bucket, key, uploadID, partNum,
			bytes.NewReader(data), int64(len(data)), minio.PutObjectPartOptions{})
		if err == nil {
			return part.ETag, nil
		}
		lastErr = classifyS3(err, "s3.PutObject")
		if !IsRetryable(lastErr) {
			return "", lastErr
		}
	}
	return "", lastErr
}

// DeleteObject removes the object or, when versionID is set, one version.
func (b *S3Backend) DeleteObject(ctx context.Context, bucket, key, versionID string) error {
	ctx, cancel := b.callContext(ctx)
	defer cancel()

	err := b.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{VersionID: versionID})
	if err != nil {
		return classifyS3(err, "s3.DeleteObject")
	}
	return nil
}

// Undelete is an Azure soft-delete capability; S3 delete markers are removed
// through versioned DeleteObject instead.
func (b *S3Backend) Undelete(ctx context.Context, bucket, key string) error {
	return NewError(KindUnsupported, "s3.Undelete",
		fmt.Errorf("provider has no soft delete; remove the delete marker version instead"))
}

// ShareURL presigns a GET for the object using the in-repo SigV4 signer.
func (b *S3Backend) ShareURL(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	u := &url.URL{
		Scheme: b.ep.Scheme,
		Host:   b.ep.Host,
		Path:   "/" + bucket + "/" + key,
	}
	if !b.ep.PathStyle {
		u.Host = bucket + "." + b.ep.Host
		u.Path = "/" + key
	}

	signed, err := b.signer.Presign("GET", u, expiry, time.Now())
	if err != nil {
		return "", NewError(KindConfiguration, "s3.ShareURL", err)
	}
	return signed.String(), nil
}

func (b *S3Backend) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, b.tuning.CallTimeout)
}

// classifyS3 maps minio error responses into the shared taxonomy.
func classifyS3(err error, op string) error {
	if err == nil {
		return nil
	}

	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchKey", "NoSuchBucket", "NoSuchVersion", "NotFound", "NoSuchUpload":
		return NewError(KindNotFound, op, err)
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch",
		"ExpiredToken", "TokenRefreshRequired", "AccountProblem":
		return NewError(KindAuth, op, err)
	case "SlowDown", "Throttling", "ThrottlingException", "RequestLimitExceeded":
		return NewError(KindThrottled, op, err)
	}

	switch {
	case resp.StatusCode == 404:
		return NewError(KindNotFound, op, err)
	case resp.StatusCode == 401 || resp.StatusCode == 403:
		return NewError(KindAuth, op, err)
	case resp.StatusCode == 429 || resp.StatusCode == 503:
		return NewError(KindThrottled, op, err)
	case resp.StatusCode >= 500:
		return NewError(KindThrottled, op, err)
	}

	return NewError(KindNetwork, op, err)
}

func encodeToken(v any) string {
	data, _ := json.Marshal(v)
	return base64.URLEncoding.EncodeToString(data)
}

func decodeToken(token string, v any) error {
	data, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return fmt.Errorf("malformed continuation token: %w", err)
	}
	return json.Unmarshal(data, v)
}
