package signer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSAS(t *testing.T) {
	tok, err := ParseSAS("sv=2022-11-02&ss=b&srt=co&sp=rl&se=2027-06-01T00:00Z&st=2026-01-01T00:00Z&sig=abc123")
	require.NoError(t, err)

	assert.Equal(t, "2022-11-02", tok.Version)
	assert.Equal(t, time.Date(2027, 6, 1, 0, 0, 0, 0, time.UTC), tok.ExpiresAt)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), tok.StartsAt)
}

func TestParseSASErrors(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		wantErr string
	}{
		{"missing signature", "sv=2022-11-02&se=2027-06-01", "missing signature"},
		{"missing expiry", "sv=2022-11-02&sig=abc", "missing expiry"},
		{"bad expiry format", "sv=2022-11-02&se=notatime&sig=abc", "unrecognized timestamp"},
		{"bad start format", "sv=2022-11-02&se=2027-06-01&st=later&sig=abc", "unrecognized timestamp"},
		{"malformed query", "se=2027-06-01&sig=%zz", "invalid SAS query"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSAS(tt.query)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSASValidate(t *testing.T) {
	tok, err := ParseSAS("sv=2022-11-02&st=2026-01-01T00:00Z&se=2026-12-31T00:00Z&sig=abc")
	require.NoError(t, err)

	assert.NoError(t, tok.Validate(time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)))

	err = tok.Validate(time.Date(2027, 1, 1, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")

	err = tok.Validate(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid until")

	// Expiry instant itself is already invalid.
	assert.Error(t, tok.Validate(tok.ExpiresAt))
}

func TestSASEncodeRoundTrip(t *testing.T) {
	raw := "se=2027-06-01T00%3A00Z&sig=abc123&sv=2022-11-02"
	tok, err := ParseSAS(raw)
	require.NoError(t, err)
	assert.Equal(t, raw, tok.Encode())
}
