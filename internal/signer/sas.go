package signer

import (
	"fmt"
	"net/url"
	"time"
)

// SAS time formats accepted by the blob service.
var sasTimeFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04Z",
	"2006-01-02",
}

// SASToken is a parsed Azure Shared Access Signature. The core never
// computes SAS signatures; the token embedded in the endpoint URL already
// authorizes requests and is only checked for presence and expiry.
type SASToken struct {
	Raw       url.Values
	Version   string
	ExpiresAt time.Time
	StartsAt  time.Time
}

// ParseSAS extracts the SAS token from an endpoint query string. It fails
// when the signature or expiry parameters are absent.
func ParseSAS(rawQuery string) (SASToken, error) {
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return SASToken{}, fmt.Errorf("invalid SAS query: %w", err)
	}
	if values.Get("sig") == "" {
		return SASToken{}, fmt.Errorf("SAS token missing signature (sig)")
	}

	tok := SASToken{Raw: values, Version: values.Get("sv")}

	expiry := values.Get("se")
	if expiry == "" {
		return SASToken{}, fmt.Errorf("SAS token missing expiry (se)")
	}
	tok.ExpiresAt, err = parseSASTime(expiry)
	if err != nil {
		return SASToken{}, fmt.Errorf("SAS expiry: %w", err)
	}

	if start := values.Get("st"); start != "" {
		tok.StartsAt, err = parseSASTime(start)
		if err != nil {
			return SASToken{}, fmt.Errorf("SAS start time: %w", err)
		}
	}

	return tok, nil
}

// Validate fails fast when the token is expired or not yet valid, so no
// request is attempted with authorization the service would reject.
func (t SASToken) Validate(now time.Time) error {
	if !t.StartsAt.IsZero() && now.Before(t.StartsAt) {
		return fmt.Errorf("SAS token not valid until %s", t.StartsAt.Format(time.RFC3339))
	}
	if !now.Before(t.ExpiresAt) {
		return fmt.Errorf("SAS token expired at %s", t.ExpiresAt.Format(time.RFC3339))
	}
	return nil
}

// Encode returns the token's query-string form for appending to a blob URL.
func (t SASToken) Encode() string {
	return t.Raw.Encode()
}

func parseSASTime(value string) (time.Time, error) {
	for _, format := range sasTimeFormats {
		if ts, err := time.Parse(format, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
}
