package conversation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (sqrt(na) * sqrt(nb))
}

func sqrt(x float64) float64 {
	if x <= 0 {
		return 0
	}
	z := x
	for i := 0; i < 32; i++ {
		z = (z + x/z) / 2
	}
	return z
}

func TestHashingEmbedder(t *testing.T) {
	e := NewHashingEmbedder(64)
	ctx := context.Background()

	t.Run("Deterministic", func(t *testing.T) {
		a, err := e.Embed(ctx, "I love sushi")
		require.NoError(t, err)
		b, err := e.Embed(ctx, "I love sushi")
		require.NoError(t, err)
		assert.Equal(t, a, b)
		assert.Len(t, a, 64)
	})

	t.Run("SharedVocabularyIsCloser", func(t *testing.T) {
		sushi1, err := e.Embed(ctx, "my favorite food is sushi")
		require.NoError(t, err)
		sushi2, err := e.Embed(ctx, "sushi is my favorite dinner")
		require.NoError(t, err)
		weather, err := e.Embed(ctx, "tomorrow will be cloudy with rain")
		require.NoError(t, err)

		assert.Greater(t, cosine(sushi1, sushi2), cosine(sushi1, weather))
	})

	t.Run("EmptyTextIsZeroVector", func(t *testing.T) {
		v, err := e.Embed(ctx, "")
		require.NoError(t, err)
		for _, x := range v {
			assert.Zero(t, x)
		}
	})
}

func TestHeuristicExtractor(t *testing.T) {
	x := NewHeuristicExtractor()
	ctx := context.Background()

	t.Run("EveryExchangeYieldsMemory", func(t *testing.T) {
		out, err := x.Extract(ctx, "hello there", "hi")
		require.NoError(t, err)
		require.Len(t, out.Memories, 1)
		assert.Equal(t, "hello there", out.Memories[0].Text)
		assert.Empty(t, out.Facts)
	})

	t.Run("EmptyUserTextYieldsNothing", func(t *testing.T) {
		out, err := x.Extract(ctx, "  ", "hi")
		require.NoError(t, err)
		assert.Empty(t, out.Memories)
	})

	t.Run("FavoritePattern", func(t *testing.T) {
		out, err := x.Extract(ctx, "My favorite food is sushi and I hate waiting", "")
		require.NoError(t, err)
		require.Len(t, out.Facts, 1)
		assert.Equal(t, "preference", out.Facts[0].Category)
		assert.Equal(t, "food", out.Facts[0].Key)
		assert.Equal(t, "sushi", out.Facts[0].Value["value"])
	})

	t.Run("WorkPattern", func(t *testing.T) {
		out, err := x.Extract(ctx, "I work as a senior developer", "")
		require.NoError(t, err)
		require.Len(t, out.Facts, 1)
		assert.Equal(t, "work", out.Facts[0].Category)
		assert.Equal(t, "title", out.Facts[0].Key)
		assert.Equal(t, "senior developer", out.Facts[0].Value["value"])
	})

	t.Run("AllergyPatternIsHighConfidence", func(t *testing.T) {
		out, err := x.Extract(ctx, "I'm allergic to peanuts", "")
		require.NoError(t, err)
		require.Len(t, out.Facts, 1)
		assert.Equal(t, "health", out.Facts[0].Category)
		assert.Equal(t, "peanuts", out.Facts[0].Value["value"])
		assert.Equal(t, 90, out.Facts[0].Confidence)
	})

	t.Run("MultipleFactsInOneTurn", func(t *testing.T) {
		out, err := x.Extract(ctx, "My favorite food is sushi. I live in Lisbon", "")
		require.NoError(t, err)
		assert.Len(t, out.Facts, 2)
	})
}
