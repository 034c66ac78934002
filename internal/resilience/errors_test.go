package resilience

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"explicit", NewTransientError(errors.New("busy"), 503), true},
		{"wrapped explicit", fmt.Errorf("call: %w", NewTransientError(errors.New("x"), 429)), true},
		{"deadline", fmt.Errorf("attempt: %w", context.DeadlineExceeded), true},
		{"canceled", context.Canceled, false},
		{"net timeout", &net.DNSError{IsTimeout: true, Err: "timeout"}, true},
		{"reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"rate limit text", errors.New("Rate limit reached for requests"), true},
		{"status 500 text", errors.New("provider returned 500"), true},
		{"status 503 text", errors.New("status 503 service unavailable"), true},
		{"timeout text", errors.New("request timeout"), true},
		{"bad request", errors.New("400 invalid schema"), false},
		{"auth", errors.New("invalid x-api-key"), false},
		{"permanent with 500 in message", NewPermanentError(errors.New("max_tokens must be below 5000"), 400), false},
		{"wrapped permanent", fmt.Errorf("call: %w", NewPermanentError(errors.New("timeout in body"), 422)), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{429, 500, 503} {
		assert.True(t, IsTransientHTTPStatus(code), code)
	}
	for _, code := range []int{200, 400, 401, 403, 404, 408, 422, 502, 504, 529} {
		assert.False(t, IsTransientHTTPStatus(code), code)
	}
}

func TestTransientError_Unwrap(t *testing.T) {
	base := errors.New("base")
	te := NewTransientError(base, 429)
	assert.ErrorIs(t, te, base)
	assert.Equal(t, "base", te.Error())
}

func TestClassifyStatus(t *testing.T) {
	base := errors.New("provider returned 500 tokens over limit")

	err := ClassifyStatus(base, 503)
	assert.True(t, IsTransient(err))
	assert.ErrorIs(t, err, base)

	for _, code := range []int{400, 401, 502} {
		err = ClassifyStatus(base, code)
		assert.False(t, IsTransient(err), code)
		assert.ErrorIs(t, err, base)
	}
}
