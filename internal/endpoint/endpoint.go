package endpoint

import (
	"fmt"
	"net/url"
	"strings"
)

// Provider identifies the storage API family an endpoint speaks.
type Provider string

const (
	ProviderS3        Provider = "s3"
	ProviderAzureBlob Provider = "azureblob"
)

// StorageEndpoint is the resolved form of a profile's endpoint string.
// Immutable once parsed.
type StorageEndpoint struct {
	Provider  Provider
	Host      string
	Scheme    string
	PathStyle bool
	Region    string

	// RawQuery preserves the original query string. For Azure SAS URLs this
	// carries the authorization token.
	RawQuery string
}

// URL reconstructs the base URL for the endpoint.
func (e StorageEndpoint) URL() string {
	u := url.URL{Scheme: e.Scheme, Host: e.Host, RawQuery: e.RawQuery}
	return u.String()
}

// Secure reports whether the endpoint uses TLS.
func (e StorageEndpoint) Secure() bool {
	return e.Scheme == "https"
}

// Hints carry optional per-profile overrides applied during parsing.
type Hints struct {
	Region    string
	PathStyle bool
	Insecure  bool
}

// Parse resolves a free-form endpoint string into a StorageEndpoint.
// Azure SAS URLs are recognized by their signature query parameters or the
// blob-service host suffix; everything else is treated as S3-compatible.
// Parse performs no I/O and is deterministic for a given input.
func Parse(raw string, hints Hints) (StorageEndpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return StorageEndpoint{}, fmt.Errorf("endpoint cannot be empty")
	}

	// Bare host:port is accepted for S3 endpoints (the common MinIO form).
	if !strings.Contains(raw, "://") {
		if strings.Contains(raw, "/") {
			return StorageEndpoint{}, fmt.Errorf("endpoint %q has a path but no scheme", raw)
		}
		raw = "https://" + raw
		if hints.Insecure {
			raw = "http://" + strings.TrimPrefix(raw, "https://")
		}
	}

	u, err := url.Parse(raw)
	if err != nil {
		return StorageEndpoint{}, fmt.Errorf("invalid endpoint URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return StorageEndpoint{}, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return StorageEndpoint{}, fmt.Errorf("endpoint %q has no host", raw)
	}
	if u.Scheme == "http" && !hints.Insecure {
		return StorageEndpoint{}, fmt.Errorf("plain http endpoint %q requires the insecure flag", u.Host)
	}

	ep := StorageEndpoint{
		Provider:  ProviderS3,
		Host:      u.Host,
		Scheme:    u.Scheme,
		PathStyle: hints.PathStyle,
		Region:    hints.Region,
		RawQuery:  u.RawQuery,
	}

	if isAzureBlob(u) {
		ep.Provider = ProviderAzureBlob
		// Azure addressing is always account-scoped; path style does not apply.
		ep.PathStyle = false
	}

	return ep, nil
}

// isAzureBlob detects the SAS URL shape: a blob-service host, or a query
// string carrying the SAS signature (sig) and version (sv) parameters.
func isAzureBlob(u *url.URL) bool {
	if strings.HasSuffix(strings.ToLower(u.Hostname()), ".blob.core.windows.net") {
		return true
	}
	q := u.Query()
	return q.Get("sig") != "" && q.Get("sv") != ""
}
