package errors_test

import (
	stderrors "errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SiangbaMM/spacex-data-pipeline/pkg/errors"
)

func TestErrorString(t *testing.T) {
	err := errors.New(errors.ErrorTypeConfig, "missing warehouse.user")
	assert.Equal(t, "config: missing warehouse.user", err.Error())

	wrapped := errors.Wrap(io.EOF, errors.ErrorTypeAPI, "API decode error")
	assert.Equal(t, "api: API decode error: EOF", wrapped.Error())
	assert.True(t, stderrors.Is(wrapped, io.EOF))
}

func TestWrapNil(t *testing.T) {
	assert.Nil(t, errors.Wrap(nil, errors.ErrorTypeLoad, "flush"))
	assert.Nil(t, errors.Wrapf(nil, errors.ErrorTypeLoad, "flush %s", "T"))
}

func TestTypePredicates(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		errType   errors.ErrorType
	}{
		{"rate limit", errors.New(errors.ErrorTypeRateLimit, "429"), true, errors.ErrorTypeRateLimit},
		{"timeout", errors.New(errors.ErrorTypeTimeout, "deadline"), true, errors.ErrorTypeTimeout},
		{"connection", errors.New(errors.ErrorTypeConnection, "reset"), true, errors.ErrorTypeConnection},
		{"api", errors.New(errors.ErrorTypeAPI, "status 500"), false, errors.ErrorTypeAPI},
		{"transform", errors.New(errors.ErrorTypeTransform, "missing id"), false, errors.ErrorTypeTransform},
		{"plain", fmt.Errorf("boom"), false, errors.ErrorTypeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.retryable, errors.IsRetryable(tt.err))
			assert.Equal(t, tt.errType, errors.GetType(tt.err))
		})
	}
}

func TestHasTypeSeesInnerErrors(t *testing.T) {
	inner := errors.New(errors.ErrorTypeValidation, "column set mismatch")
	outer := errors.Wrap(inner, errors.ErrorTypeLoad, "insert")

	assert.True(t, errors.IsType(outer, errors.ErrorTypeLoad))
	assert.False(t, errors.IsType(outer, errors.ErrorTypeValidation))
	assert.True(t, errors.HasType(outer, errors.ErrorTypeValidation))
	assert.False(t, errors.HasType(outer, errors.ErrorTypeAPI))
}

func TestHasTypeSeesJoinedErrors(t *testing.T) {
	joined := errors.Join(
		errors.New(errors.ErrorTypeAPI, "status 500"),
		errors.Wrap(errors.New(errors.ErrorTypeLoad, "flush"), errors.ErrorTypeConnection, "close"),
	)

	assert.True(t, errors.HasType(joined, errors.ErrorTypeAPI))
	assert.True(t, errors.HasType(joined, errors.ErrorTypeLoad))
	assert.False(t, errors.HasType(joined, errors.ErrorTypeConfig))
	assert.False(t, errors.HasType(nil, errors.ErrorTypeAPI))
}

func TestWithDetailAndStack(t *testing.T) {
	err := errors.New(errors.ErrorTypeAPI, "API response error").
		WithDetail("status", 500).
		WithDetail("table", "STG_SPACEX_DATA_CAPSULES")

	require.Len(t, err.Details, 2)
	assert.Equal(t, 500, err.Details["status"])
	assert.NotEmpty(t, err.Stack)

	wrapped := errors.Wrap(err, errors.ErrorTypeLoad, "outer")
	assert.Equal(t, err.Stack, wrapped.Stack)
}
