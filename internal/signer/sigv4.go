package signer

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	algorithmAWS4HMACSHA256 = "AWS4-HMAC-SHA256"
	serviceS3               = "s3"
	requestTypeAWS4         = "aws4_request"
	unsignedPayload         = "UNSIGNED-PAYLOAD"

	amzDateFormat   = "20060102T150405Z"
	dateStampFormat = "20060102"

	// Presigned URL expiry bounds, in seconds.
	maxPresignExpiry = 7 * 24 * 60 * 60
	minPresignExpiry = 1
)

// V4Signer computes SigV4 signatures for S3-compatible requests.
// All methods are pure given a fixed timestamp.
type V4Signer struct {
	AccessKey string
	SecretKey string
	Region    string
}

// NewV4Signer creates a signer scoped to the given credentials and region.
func NewV4Signer(accessKey, secretKey, region string) V4Signer {
	if region == "" {
		region = "us-east-1"
	}
	return V4Signer{AccessKey: accessKey, SecretKey: secretKey, Region: region}
}

// Sign adds an Authorization header covering method, canonical URI, query,
// host, date and payload hash. The caller supplies the payload hash, or
// empty for an unsigned payload.
func (s V4Signer) Sign(req *http.Request, payloadHash string, now time.Time) error {
	if s.AccessKey == "" || s.SecretKey == "" {
		return errors.New("missing access credentials")
	}
	if payloadHash == "" {
		payloadHash = unsignedPayload
	}

	now = now.UTC()
	amzDate := now.Format(amzDateFormat)
	dateStamp := now.Format(dateStampFormat)

	req.Header.Set("X-Amz-Date", amzDate)
	req.Header.Set("X-Amz-Content-Sha256", payloadHash)

	headers := map[string]string{
		"host":                 req.Host,
		"x-amz-content-sha256": payloadHash,
		"x-amz-date":           amzDate,
	}
	signedHeaders := sortedHeaderNames(headers)

	canonicalRequest := buildCanonicalRequest(
		req.Method,
		canonicalURI(req.URL),
		sortedQueryString(req.URL.Query()),
		headers,
		signedHeaders,
		payloadHash,
	)

	scope := credentialScope(dateStamp, s.Region)
	stringToSign := buildStringToSign(amzDate, scope, canonicalRequest)
	signature := hmacSHA256Hex(signingKey(s.SecretKey, dateStamp, s.Region), []byte(stringToSign))

	req.Header.Set("Authorization", fmt.Sprintf(
		"%s Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		algorithmAWS4HMACSHA256,
		s.AccessKey, scope,
		strings.Join(signedHeaders, ";"),
		signature,
	))
	return nil
}

// Presign embeds a time-scoped signature into the URL query string so the
// link authorizes the request without separate credentials.
func (s V4Signer) Presign(method string, u *url.URL, expiry time.Duration, now time.Time) (*url.URL, error) {
	if s.AccessKey == "" || s.SecretKey == "" {
		return nil, errors.New("missing access credentials")
	}

	expirySeconds := int64(expiry.Seconds())
	if expirySeconds <= 0 {
		expirySeconds = minPresignExpiry
	}
	if expirySeconds > maxPresignExpiry {
		return nil, fmt.Errorf("presign expiry cannot exceed 7 days (%d seconds)", maxPresignExpiry)
	}

	now = now.UTC()
	amzDate := now.Format(amzDateFormat)
	dateStamp := now.Format(dateStampFormat)
	scope := credentialScope(dateStamp, s.Region)

	query := u.Query()
	query.Set("X-Amz-Algorithm", algorithmAWS4HMACSHA256)
	query.Set("X-Amz-Credential", s.AccessKey+"/"+scope)
	query.Set("X-Amz-Date", amzDate)
	query.Set("X-Amz-Expires", strconv.FormatInt(expirySeconds, 10))
	query.Set("X-Amz-SignedHeaders", "host")

	headers := map[string]string{"host": u.Host}

	canonicalRequest := buildCanonicalRequest(
		method,
		canonicalURI(u),
		sortedQueryString(query),
		headers,
		[]string{"host"},
		unsignedPayload,
	)

	stringToSign := buildStringToSign(amzDate, scope, canonicalRequest)
	signature := hmacSHA256Hex(signingKey(s.SecretKey, dateStamp, s.Region), []byte(stringToSign))

	query.Set("X-Amz-Signature", signature)

	signed := *u
	signed.RawQuery = query.Encode()
	return &signed, nil
}

func buildCanonicalRequest(method, uri, queryString string, headers map[string]string, signedHeaders []string, payloadHash string) string {
	var canonicalHeaders strings.Builder
	for _, name := range signedHeaders {
		canonicalHeaders.WriteString(name)
		canonicalHeaders.WriteString(":")
		canonicalHeaders.WriteString(strings.TrimSpace(headers[name]))
		canonicalHeaders.WriteString("\n")
	}

	return strings.Join([]string{
		method,
		uri,
		queryString,
		canonicalHeaders.String(),
		strings.Join(signedHeaders, ";"),
		payloadHash,
	}, "\n")
}

func buildStringToSign(amzDate, scope, canonicalRequest string) string {
	return strings.Join([]string{
		algorithmAWS4HMACSHA256,
		amzDate,
		scope,
		sha256Hex([]byte(canonicalRequest)),
	}, "\n")
}

func credentialScope(dateStamp, region string) string {
	return fmt.Sprintf("%s/%s/%s/%s", dateStamp, region, serviceS3, requestTypeAWS4)
}

func canonicalURI(u *url.URL) string {
	if u.Path == "" {
		return "/"
	}
	return u.EscapedPath()
}

func sortedHeaderNames(headers map[string]string) []string {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, strings.ToLower(name))
	}
	sort.Strings(names)
	return names
}

// sortedQueryString builds the canonical query string: keys sorted, values
// URI-encoded per RFC 3986.
func sortedQueryString(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		for _, v := range params[k] {
			pairs = append(pairs, uriEncode(k)+"="+uriEncode(v))
		}
	}
	return strings.Join(pairs, "&")
}

func uriEncode(s string) string {
	// url.QueryEscape encodes spaces as '+'; SigV4 requires %20.
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// signingKey derives the scoped key: HMAC chain over date, region, service.
func signingKey(secretKey, dateStamp, region string) []byte {
	kDate := hmacSHA256([]byte("AWS4"+secretKey), []byte(dateStamp))
	kRegion := hmacSHA256(kDate, []byte(region))
	kService := hmacSHA256(kRegion, []byte(serviceS3))
	return hmacSHA256(kService, []byte(requestTypeAWS4))
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func hmacSHA256Hex(key, data []byte) string {
	return hex.EncodeToString(hmacSHA256(key, data))
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
