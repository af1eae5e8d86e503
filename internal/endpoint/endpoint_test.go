package endpoint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		hints   Hints
		want    StorageEndpoint
		wantErr bool
	}{
		{
			name: "https S3 endpoint",
			raw:  "https://s3.us-west-2.amazonaws.com",
			hints: Hints{
				Region: "us-west-2",
			},
			want: StorageEndpoint{
				Provider: ProviderS3,
				Host:     "s3.us-west-2.amazonaws.com",
				Scheme:   "https",
				Region:   "us-west-2",
			},
		},
		{
			name:  "bare host:port defaults to https",
			raw:   "minio.internal:9000",
			hints: Hints{PathStyle: true},
			want: StorageEndpoint{
				Provider:  ProviderS3,
				Host:      "minio.internal:9000",
				Scheme:    "https",
				PathStyle: true,
			},
		},
		{
			name:  "bare host with insecure hint uses http",
			raw:   "localhost:9000",
			hints: Hints{Insecure: true, PathStyle: true},
			want: StorageEndpoint{
				Provider:  ProviderS3,
				Host:      "localhost:9000",
				Scheme:    "http",
				PathStyle: true,
			},
		},
		{
			name: "azure blob host",
			raw:  "https://myaccount.blob.core.windows.net",
			want: StorageEndpoint{
				Provider: ProviderAzureBlob,
				Host:     "myaccount.blob.core.windows.net",
				Scheme:   "https",
			},
		},
		{
			name: "SAS query routes to azure even on custom host",
			raw:  "https://storage.example.com?sv=2022-11-02&se=2027-01-01T00%3A00Z&sig=abc123",
			want: StorageEndpoint{
				Provider: ProviderAzureBlob,
				Host:     "storage.example.com",
				Scheme:   "https",
				RawQuery: "sv=2022-11-02&se=2027-01-01T00%3A00Z&sig=abc123",
			},
		},
		{
			name: "azure path style hint is ignored",
			raw:  "https://myaccount.blob.core.windows.net",
			hints: Hints{
				PathStyle: true,
			},
			want: StorageEndpoint{
				Provider: ProviderAzureBlob,
				Host:     "myaccount.blob.core.windows.net",
				Scheme:   "https",
			},
		},
		{
			name:    "empty string",
			raw:     "",
			wantErr: true,
		},
		{
			name:    "host with path but no scheme",
			raw:     "minio.internal:9000/api",
			wantErr: true,
		},
		{
			name:    "unsupported scheme",
			raw:     "ftp://files.example.com",
			wantErr: true,
		},
		{
			name:    "scheme without host",
			raw:     "https://",
			wantErr: true,
		},
		{
			name:    "plain http without insecure flag",
			raw:     "http://minio.internal:9000",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.raw, tt.hints)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseIsDeterministic(t *testing.T) {
	raw := "https://acct.blob.core.windows.net?sv=2022-11-02&se=2027-06-01&sig=s1gn"
	hints := Hints{Region: "westeurope"}

	first, err := Parse(raw, hints)
	require.NoError(t, err)
	second, err := Parse(raw, hints)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestEndpointURL(t *testing.T) {
	ep, err := Parse("https://minio.internal:9000", Hints{PathStyle: true})
	require.NoError(t, err)
	assert.Equal(t, "https://minio.internal:9000", ep.URL())
	assert.True(t, ep.Secure())
}
