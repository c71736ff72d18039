package errors

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"validation", Validation("access_level out of range"), KindValidation},
		{"transient", Transient("connection reset", stderrors.New("reset")), KindTransient},
		{"wrapped in fmt chain", fmt.Errorf("task failed: %w", Fatal("empty parse output", nil)), KindFatal},
		{"foreign error", stderrors.New("plain"), KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(Transient("5xx from embedder", nil)))
	assert.True(t, IsRetryable(ResourceExhausted("pool borrow timeout", nil)))
	assert.False(t, IsRetryable(Validation("missing access_level")))
	assert.False(t, IsRetryable(Fatal("unsupported extension", nil)))
	assert.False(t, IsRetryable(Corruption("bad cache entry", nil)))
	assert.False(t, IsRetryable(nil))
	// Unclassified errors fall back to the retry policy.
	assert.True(t, IsRetryable(stderrors.New("dial tcp: i/o timeout")))
}

func TestErrorUnwrap(t *testing.T) {
	cause := stderrors.New("dial tcp 127.0.0.1:8000: connect: connection refused")
	err := Transient("vector store unreachable", cause)

	require.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "transient")
	assert.Contains(t, err.Error(), "connection refused")
}

func TestErrorIsMatchesByKind(t *testing.T) {
	err := fmt.Errorf("outer: %w", ResourceExhausted("no handles", nil))
	assert.True(t, stderrors.Is(err, New(KindResourceExhausted, "")))
	assert.False(t, stderrors.Is(err, New(KindFatal, "")))
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, Wrap(KindTransient, "something", nil))
}
