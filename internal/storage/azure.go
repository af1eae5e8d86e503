package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"

	"bucketview/internal/endpoint"
	"bucketview/internal/profile"
	"bucketview/internal/signer"
)

const azureListPageSize = 1000

// AzureBackend implements Backend for Azure Blob Storage over a SAS service
// URL. No signing happens here; the SAS token embedded in the endpoint
// authorizes every request and is validated for expiry up front.
type AzureBackend struct {
	client *azblob.Client
	sas    signer.SASToken
	ep     endpoint.StorageEndpoint
	tuning TransferTuning
}

// NewAzureBackend creates a backend for the profile's SAS endpoint.
func NewAzureBackend(p profile.Profile, ep endpoint.StorageEndpoint, tuning TransferTuning) (*AzureBackend, error) {
	sas, err := signer.ParseSAS(ep.RawQuery)
	if err != nil {
		return nil, NewError(KindConfiguration, "azure.New", err)
	}
	if err := sas.Validate(time.Now()); err != nil {
		return nil, NewError(KindAuth, "azure.New", err)
	}

	serviceURL := fmt.Sprintf("%s://%s/?%s", ep.Scheme, ep.Host, sas.Encode())
	client, err := azblob.NewClientWithNoCredential(serviceURL, nil)
	if err != nil {
		return nil, NewError(KindConfiguration, "azure.New", err)
	}

	return &AzureBackend{client: client, sas: sas, ep: ep, tuning: tuning}, nil
}

func (b *AzureBackend) Provider() endpoint.Provider { return endpoint.ProviderAzureBlob }

func (b *AzureBackend) SupportsRangeReads() bool { return true }

// ListBuckets lists containers visible to the SAS token.
func (b *AzureBackend) ListBuckets(ctx context.Context) ([]BucketInfo, error) {
	ctx, cancel := b.callContext(ctx)
	defer cancel()

	var infos []BucketInfo
	pager := b.client.NewListContainersPager(nil)
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, classifyAzure(err, "azure.ListBuckets")
		}
		for _, item := range resp.ContainerItems {
			info := BucketInfo{Name: deref(item.Name)}
			if item.Properties != nil && item.Properties.LastModified != nil {
				info.CreatedAt = *item.Properties.LastModified
			}
			infos = append(infos, info)
		}
	}
	return infos, nil
}

// ListObjects returns one page of blobs. With includeVersions the listing
// carries every version and soft-deleted blob; the service orders versions
// oldest-last per key, so entries are re-emitted latest-first.
func (b *AzureBackend) ListObjects(ctx context.Context, bucket, prefix, token string, includeVersions bool) (ObjectPage, error) {
	ctx, cancel := b.callContext(ctx)
	defer cancel()

	opts := &container.ListBlobsFlatOptions{
		MaxResults: to.Ptr(int32(azureListPageSize)),
	}
	if prefix != "" {
		opts.Prefix = to.Ptr(prefix)
	}
	if token != "" {
		opts.Marker = to.Ptr(token)
	}
	if includeVersions {
		opts.Include = container.ListBlobsInclude{Versions: true, Deleted: true}
	}

	pager := b.client.ServiceClient().NewContainerClient(bucket).NewListBlobsFlatPager(opts)
	resp, err := pager.NextPage(ctx)
	if err != nil {
		return ObjectPage{}, classifyAzure(err, "azure.ListObjects")
	}

	page := ObjectPage{}
	if resp.Segment != nil {
		page.Entries = make([]ObjectEntry, 0, len(resp.Segment.BlobItems))
		for _, item := range resp.Segment.BlobItems {
			page.Entries = append(page.Entries, blobEntry(item))
		}
	}
	if resp.NextMarker != nil && *resp.NextMarker != "" {
		page.NextToken = *resp.NextMarker
	}
	sortLatestFirst(page.Entries)
	return page, nil
}

func blobEntry(item *container.BlobItem) ObjectEntry {
	entry := ObjectEntry{
		Key:      deref(item.Name),
		IsLatest: item.IsCurrentVersion != nil && *item.IsCurrentVersion,
	}
	if item.VersionID != nil {
		entry.VersionID = *item.VersionID
	} else {
		// Unversioned listings return only current blobs.
		entry.IsLatest = true
	}
	// A soft-deleted blob plays the role of a delete marker in the shared
	// model: the key is logically gone but recoverable.
	if item.Deleted != nil && *item.Deleted {
		entry.IsDeleteMarker = true
		entry.IsLatest = false
	}
	if p := item.Properties; p != nil {
		if p.ContentLength != nil {
			entry.Size = *p.ContentLength
		}
		if p.LastModified != nil {
			entry.LastModified = *p.LastModified
		}
		if p.ETag != nil {
			entry.ETag = string(*p.ETag)
		}
		if p.AccessTier != nil {
			entry.StorageClass = string(*p.AccessTier)
		}
	}
	return entry
}

// HeadObject fetches blob properties.
func (b *AzureBackend) HeadObject(ctx context.Context, bucket, key string) (ObjectMeta, error) {
	ctx, cancel := b.callContext(ctx)
	defer cancel()

	resp, err := b.blobClient(bucket, key).GetProperties(ctx, nil)
	if err != nil {
		return ObjectMeta{}, classifyAzure(err, "azure.HeadObject")
	}

	meta := ObjectMeta{Key: key}
	if resp.ContentLength != nil {
		meta.Size = *resp.ContentLength
	}
	if resp.ETag != nil {
		meta.ETag = string(*resp.ETag)
	}
	if resp.ContentType != nil {
		meta.ContentType = *resp.ContentType
	}
	if resp.LastModified != nil {
		meta.LastModified = *resp.LastModified
	}
	if resp.AccessTier != nil {
		meta.StorageClass = *resp.AccessTier
	}
	if len(resp.Metadata) > 0 {
		meta.Metadata = make(map[string]string, len(resp.Metadata))
		for k, v := range resp.Metadata {
			meta.Metadata[k] = deref(v)
		}
	}
	return meta, nil
}

// GetObject opens a ranged download stream.
func (b *AzureBackend) GetObject(ctx context.Context, bucket, key string, offset int64) (io.ReadCloser, error) {
	opts := &blob.DownloadStreamOptions{}
	if offset > 0 {
		opts.Range = blob.HTTPRange{Offset: offset}
	}

	resp, err := b.blobClient(bucket, key).DownloadStream(ctx, opts)
	if err != nil {
		return nil, classifyAzure(err, "azure.GetObject")
	}
	return resp.Body, nil
}

// PutObject streams the reader as a block blob. The SDK stages bounded
// blocks internally and retries failed blocks before the upload fails.
func (b *AzureBackend) PutObject(ctx context.Context, bucket, key string, r io.Reader, size int64, opts PutOptions) (string, error) {
	contentType := opts.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	blockSize := b.tuning.PartSize
	if size > 0 && size < b.tuning.MultipartThreshold {
		// Below the threshold a single block covers the object.
		blockSize = b.tuning.MultipartThreshold
	}

	uploadOpts := &blockblob.UploadStreamOptions{
		BlockSize:   blockSize,
		Concurrency: 1,
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	}
	if len(opts.Metadata) > 0 {
		uploadOpts.Metadata = make(map[string]*string, len(opts.Metadata))
		for k, v := range opts.Metadata {
			uploadOpts.Metadata[k] = to.Ptr(v)
		}
	}

	blockClient := b.client.ServiceClient().NewContainerClient(bucket).NewBlockBlobClient(key)
	resp, err := blockClient.UploadStream(ctx, r, uploadOpts)
	if err != nil {
		return "", classifyAzure(err, "azure.PutObject")
	}
	if resp.ETag != nil {
		return string(*resp.ETag), nil
	}
	return "", nil
}

// DeleteObject soft-deletes the blob, or one version when versionID is set.
func (b *AzureBackend) DeleteObject(ctx context.Context, bucket, key, versionID string) error {
	ctx, cancel := b.callContext(ctx)
	defer cancel()

	client := b.blobClient(bucket, key)
	if versionID != "" {
		versioned, err := client.WithVersionID(versionID)
		if err != nil {
			return NewError(KindConfiguration, "azure.DeleteObject", err)
		}
		client = versioned
	}

	if _, err := client.Delete(ctx, nil); err != nil {
		return classifyAzure(err, "azure.DeleteObject")
	}
	return nil
}

// Undelete reactivates a soft-deleted blob.
func (b *AzureBackend) Undelete(ctx context.Context, bucket, key string) error {
	ctx, cancel := b.callContext(ctx)
	defer cancel()

	if _, err := b.blobClient(bucket, key).Undelete(ctx, nil); err != nil {
		return classifyAzure(err, "azure.Undelete")
	}
	return nil
}

// ShareURL reuses the endpoint's SAS token; the link is scoped to the
// token's own expiry, which must cover the requested duration.
func (b *AzureBackend) ShareURL(ctx context.Context, bucket, key string, expiry time.Duration) (string, error) {
	now := time.Now()
	if err := b.sas.Validate(now); err != nil {
		return "", NewError(KindAuth, "azure.ShareURL", err)
	}
	if expiry > 0 && now.Add(expiry).After(b.sas.ExpiresAt) {
		return "", NewError(KindConfiguration, "azure.ShareURL",
			fmt.Errorf("requested expiry %s outlives the SAS token (%s)", expiry, b.sas.ExpiresAt.Format(time.RFC3339)))
	}

	u := url.URL{
		Scheme:   b.ep.Scheme,
		Host:     b.ep.Host,
		Path:     "/" + bucket + "/" + key,
		RawQuery: b.sas.Encode(),
	}
	return u.String(), nil
}

func (b *AzureBackend) blobClient(bucket, key string) *blob.Client {
	return b.client.ServiceClient().NewContainerClient(bucket).NewBlobClient(key)
}

func (b *AzureBackend) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, b.tuning.CallTimeout)
}

// sortLatestFirst keeps the latest version ahead of older versions for each
// key while preserving key order.
func sortLatestFirst(entries []ObjectEntry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 &&
			entries[j].Key == entries[j-1].Key &&
			entries[j].IsLatest && !entries[j-1].IsLatest; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

// classifyAzure maps blob service errors into the shared taxonomy.
func classifyAzure(err error, op string) error {
	if err == nil {
		return nil
	}

	switch {
	case bloberror.HasCode(err, bloberror.BlobNotFound, bloberror.ContainerNotFound, bloberror.ResourceNotFound):
		return NewError(KindNotFound, op, err)
	case bloberror.HasCode(err, bloberror.AuthenticationFailed, bloberror.AuthorizationFailure,
		bloberror.InsufficientAccountPermissions, bloberror.InvalidAuthenticationInfo):
		return NewError(KindAuth, op, err)
	case bloberror.HasCode(err, bloberror.ServerBusy):
		return NewError(KindThrottled, op, err)
	}

	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch {
		case respErr.StatusCode == 404:
			return NewError(KindNotFound, op, err)
		case respErr.StatusCode == 401 || respErr.StatusCode == 403:
			return NewError(KindAuth, op, err)
		case respErr.StatusCode == 429 || respErr.StatusCode == 503:
			return NewError(KindThrottled, op, err)
		case respErr.StatusCode >= 500:
			return NewError(KindThrottled, op, err)
		}
	}

	return NewError(KindNetwork, op, err)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
