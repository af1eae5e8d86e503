package signer

import (
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var signTime = time.Date(2026, 3, 15, 12, 30, 0, 0, time.UTC)

func newTestSigner() V4Signer {
	return NewV4Signer("AKIAEXAMPLE", "secretkey", "us-east-1")
}

func signedRequest(t *testing.T, s V4Signer, rawURL string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, rawURL, nil)
	require.NoError(t, err)
	require.NoError(t, s.Sign(req, "", signTime))
	return req
}

func TestSignIsDeterministic(t *testing.T) {
	s := newTestSigner()
	first := signedRequest(t, s, "https://minio.internal:9000/bucket/key")
	second := signedRequest(t, s, "https://minio.internal:9000/bucket/key")

	auth := first.Header.Get("Authorization")
	assert.Equal(t, auth, second.Header.Get("Authorization"))
	assert.True(t, strings.HasPrefix(auth, "AWS4-HMAC-SHA256 Credential=AKIAEXAMPLE/20260315/us-east-1/s3/aws4_request"))
	assert.Contains(t, auth, "SignedHeaders=host;x-amz-content-sha256;x-amz-date")
	assert.Equal(t, "20260315T123000Z", first.Header.Get("X-Amz-Date"))
	assert.Equal(t, "UNSIGNED-PAYLOAD", first.Header.Get("X-Amz-Content-Sha256"))
}

func TestSignComponentSensitivity(t *testing.T) {
	base := signedRequest(t, newTestSigner(), "https://minio.internal:9000/bucket/key")
	baseAuth := base.Header.Get("Authorization")

	variants := []struct {
		name string
		req  *http.Request
	}{
		{"different key", signedRequest(t, newTestSigner(), "https://minio.internal:9000/bucket/other")},
		{"different query", signedRequest(t, newTestSigner(), "https://minio.internal:9000/bucket/key?versionId=abc")},
		{"different secret", signedRequest(t, NewV4Signer("AKIAEXAMPLE", "otherkey", "us-east-1"), "https://minio.internal:9000/bucket/key")},
		{"different region", signedRequest(t, NewV4Signer("AKIAEXAMPLE", "secretkey", "eu-west-1"), "https://minio.internal:9000/bucket/key")},
	}
	for _, v := range variants {
		assert.NotEqual(t, baseAuth, v.req.Header.Get("Authorization"), v.name)
	}
}

func TestSignRequiresCredentials(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://s3.amazonaws.com/b/k", nil)
	require.NoError(t, err)
	err = V4Signer{Region: "us-east-1"}.Sign(req, "", signTime)
	require.Error(t, err)
}

func TestPresign(t *testing.T) {
	s := newTestSigner()
	u, err := url.Parse("https://minio.internal:9000/bucket/path/to%20file.txt")
	require.NoError(t, err)

	signed, err := s.Presign(http.MethodGet, u, time.Hour, signTime)
	require.NoError(t, err)

	q := signed.Query()
	assert.Equal(t, "AWS4-HMAC-SHA256", q.Get("X-Amz-Algorithm"))
	assert.Equal(t, "AKIAEXAMPLE/20260315/us-east-1/s3/aws4_request", q.Get("X-Amz-Credential"))
	assert.Equal(t, "20260315T123000Z", q.Get("X-Amz-Date"))
	assert.Equal(t, "3600", q.Get("X-Amz-Expires"))
	assert.Equal(t, "host", q.Get("X-Amz-SignedHeaders"))
	assert.Len(t, q.Get("X-Amz-Signature"), 64)

	// Signing must not mutate the input URL.
	assert.Empty(t, u.Query().Get("X-Amz-Signature"))

	again, err := s.Presign(http.MethodGet, u, time.Hour, signTime)
	require.NoError(t, err)
	assert.Equal(t, signed.String(), again.String())
}

func TestPresignExpiryBounds(t *testing.T) {
	s := newTestSigner()
	u, err := url.Parse("https://minio.internal:9000/bucket/key")
	require.NoError(t, err)

	_, err = s.Presign(http.MethodGet, u, 8*24*time.Hour, signTime)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "7 days")

	signed, err := s.Presign(http.MethodGet, u, 0, signTime)
	require.NoError(t, err)
	assert.Equal(t, "1", signed.Query().Get("X-Amz-Expires"))
}

func TestURIEncode(t *testing.T) {
	assert.Equal(t, "a%20b", uriEncode("a b"))
	assert.Equal(t, "a%2Fb", uriEncode("a/b"))
	assert.Equal(t, "plain-key_1.txt", uriEncode("plain-key_1.txt"))
}

func TestSortedQueryString(t *testing.T) {
	params := url.Values{}
	params.Set("prefix", "logs/")
	params.Set("delimiter", "/")
	params.Set("marker", "a b")

	got := sortedQueryString(params)
	assert.Equal(t, "delimiter=%2F&marker=a%20b&prefix=logs%2F", got)
}
