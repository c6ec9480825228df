package errors

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIngestErrorCodeMatching(t *testing.T) {
	err := DuplicateContent("abc123")

	assert.True(t, errors.Is(err, ErrDuplicateContent))
	assert.False(t, errors.Is(err, ErrEmptyContent))
	assert.True(t, IsDuplicate(err))
	assert.Equal(t, ErrCodeDuplicateContent, GetCode(err))
}

func TestIngestErrorWrappedMatching(t *testing.T) {
	inner := EmbeddingFailed("status 500", nil)
	wrapped := fmt.Errorf("processing job 42: %w", inner)

	assert.True(t, errors.Is(wrapped, ErrEmbeddingFailed))
	assert.True(t, IsRetryable(wrapped))
	assert.Equal(t, ErrCodeEmbeddingFailed, GetCode(wrapped))
}

func TestIngestErrorCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := ExtractionExhausted(cause)

	assert.Equal(t, cause, errors.Unwrap(err))
	assert.Equal(t, CategoryExtraction, err.Category)
	assert.False(t, err.Retryable)
}

func TestCategoryFromCode(t *testing.T) {
	tests := []struct {
		code string
		want Category
	}{
		{ErrCodeUnknownEngine, CategoryConfig},
		{ErrCodeExtractionExhausted, CategoryExtraction},
		{ErrCodeEmbeddingFailed, CategoryNetwork},
		{ErrCodeEmptyContent, CategoryContent},
		{ErrCodeInternal, CategoryInternal},
		{"bogus", CategoryInternal},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, categoryFromCode(tt.code), tt.code)
	}
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 2.0}

	calls := 0
	err := Retry(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 2.0}

	calls := 0
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return fmt.Errorf("attempt %d", calls)
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.EqualError(t, err, "attempt 3")
}

func TestRetryHonorsContextCancellation(t *testing.T) {
	cfg := RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour, Multiplier: 2.0}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Retry(ctx, cfg, func() error {
		return errors.New("always fails")
	})

	assert.ErrorIs(t, err, context.Canceled)
}
