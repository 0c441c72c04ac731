package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorConstructors(t *testing.T) {
	t.Run("NotFound", func(t *testing.T) {
		err := NewNotFound("session", "s-123")
		require.Error(t, err)
		assert.True(t, IsNotFound(err))
		assert.False(t, IsDuplicateTurn(err))
		assert.Contains(t, err.Error(), "s-123")
	})

	t.Run("DuplicateTurn", func(t *testing.T) {
		err := NewDuplicateTurn("s-1", 7)
		assert.True(t, IsDuplicateTurn(err))
		assert.True(t, IsRetryable(err))
		assert.Contains(t, err.Error(), "turn 7")
	})

	t.Run("DimensionMismatch", func(t *testing.T) {
		err := NewDimensionMismatch(1536, 768)
		assert.True(t, IsDimensionMismatch(err))
		assert.Contains(t, err.Error(), "768")
		assert.Contains(t, err.Error(), "1536")
	})

	t.Run("InvalidConfidence", func(t *testing.T) {
		assert.True(t, IsInvalidConfidence(NewInvalidConfidence(101)))
	})

	t.Run("Unavailable", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := NewUnavailable("dynamodb unreachable", cause)
		assert.True(t, IsUnavailable(err))
		assert.True(t, IsRetryable(err))
		assert.ErrorIs(t, err, cause)
	})
}

func TestWrapPreservesType(t *testing.T) {
	err := NewDuplicateTurn("s-1", 3)
	wrapped := Wrap(err, "append message")

	assert.True(t, IsDuplicateTurn(wrapped))
	assert.Contains(t, wrapped.Error(), "append message")

	// Wrapping again through fmt.Errorf still classifies via errors.As.
	deep := fmt.Errorf("outer: %w", wrapped)
	assert.True(t, IsDuplicateTurn(deep))
	assert.Equal(t, ErrorTypeDuplicateTurn, TypeOf(deep))
}

func TestWrapForeignError(t *testing.T) {
	wrapped := Wrap(errors.New("boom"), "context")
	assert.True(t, IsInternal(wrapped))

	assert.Nil(t, Wrap(nil, "ignored"))
}
