package venue

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestNormalize(t *testing.T) {
	rejected := newError("v", "open", ErrRejected, "1", "bad symbol", nil)

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil stays nil", nil, nil},
		{"classified error kept", rejected, ErrRejected},
		{"deadline is unavailable", context.DeadlineExceeded, ErrUnavailable},
		{"net timeout is unavailable", timeoutErr{}, ErrUnavailable},
		{"unknown is unavailable", errors.New("boom"), ErrUnavailable},
		{"wrapped not found kept", fmt.Errorf("wrap: %w", ErrPositionNotFound), ErrPositionNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize("v", "open", tt.err)
			if tt.want == nil {
				assert.NoError(t, got)
				return
			}
			assert.ErrorIs(t, got, tt.want)
		})
	}
}

func TestNormalize_DeadlineDetachedFromContext(t *testing.T) {
	err := Normalize("v", "close", fmt.Errorf("post order: %w", context.DeadlineExceeded))
	assert.True(t, IsUnavailable(err))
	assert.False(t, errors.Is(err, context.DeadlineExceeded))
	assert.Contains(t, err.Error(), "context deadline exceeded")
}

func TestNormalize_CanceledPassesThrough(t *testing.T) {
	err := Normalize("v", "status", context.Canceled)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, IsUnavailable(err))
}

func TestError_MessageAndUnwrap(t *testing.T) {
	orig := errors.New("socket closed")
	err := newError("bybit", "close", ErrUnavailable, "10016", "", orig)

	assert.Equal(t, "bybit close: [10016] socket closed", err.Error())
	assert.ErrorIs(t, err, orig)
	assert.True(t, IsUnavailable(err))
	assert.False(t, IsRejected(err))
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{
		"perpetual":   KindPerpetual,
		" PERP ":      KindPerpetual,
		"spot-margin": KindSpotMargin,
		"derivatives": KindDerivatives,
	} {
		got, err := ParseKind(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseKind("options")
	assert.Error(t, err)
	assert.Equal(t, "unknown", Kind(0).String())
}
