package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorWrapping(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewError(KindNetwork, "get_object", cause)

	assert.Equal(t, "get_object: network: connection refused", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindNetwork, KindOf(err))

	wrapped := fmt.Errorf("copying key a/b: %w", err)
	assert.True(t, Is(wrapped, KindNetwork))
	assert.False(t, Is(wrapped, KindAuth))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"network", NewError(KindNetwork, "get", errors.New("reset")), true},
		{"throttled", NewError(KindThrottled, "put", errors.New("slow down")), true},
		{"auth", NewError(KindAuth, "list", errors.New("denied")), false},
		{"not found", NewError(KindNotFound, "head", errors.New("no such key")), false},
		{"checksum", NewError(KindChecksumMismatch, "verify", errors.New("etag differs")), false},
		{"unsupported", NewError(KindUnsupported, "undelete", nil), false},
		{"cancelled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"cancelled wrapped in network", NewError(KindNetwork, "get", context.Canceled), false},
		{"plain error", errors.New("mystery"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "auth", KindAuth.String())
	assert.Equal(t, "throttled", KindThrottled.String())
	assert.Equal(t, "unknown", ErrorKind(99).String())
}
