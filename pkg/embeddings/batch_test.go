package embeddings

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockProvider returns {len(text), 1, 2} and counts calls.
type mockProvider struct {
	mu        sync.Mutex
	calls     int
	batchSize []int
	failOn    string
}

func (m *mockProvider) GenerateEmbedding(_ context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.calls++
	m.mu.Unlock()
	if text == m.failOn {
		return nil, errors.New("boom")
	}
	return []float32{float32(len(text)), 1, 2}, nil
}

func (m *mockProvider) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	m.batchSize = append(m.batchSize, len(texts))
	m.mu.Unlock()
	return DefaultGenerateBatchEmbeddings(ctx, m, texts)
}

func (m *mockProvider) GetModel() EmbeddingModel {
	return EmbeddingModel{Name: "mock", Dimensions: 3}
}

func TestBatchProcessing(t *testing.T) {
	t.Run("default sequential implementation", func(t *testing.T) {
		results, err := DefaultGenerateBatchEmbeddings(context.Background(), &mockProvider{}, []string{"one", "three"})
		require.NoError(t, err)
		assert.Equal(t, [][]float32{{3, 1, 2}, {5, 1, 2}}, results)
	})

	t.Run("parallel implementation keeps order", func(t *testing.T) {
		texts := []string{"one", "two", "three", "four", "fives"}
		results, err := ParallelGenerateBatchEmbeddings(context.Background(), &mockProvider{}, texts, 2)
		require.NoError(t, err)
		require.Len(t, results, 5)
		for i, text := range texts {
			assert.Equal(t, float32(len(text)), results[i][0])
		}
	})

	t.Run("parallel implementation reports errors", func(t *testing.T) {
		_, err := ParallelGenerateBatchEmbeddings(context.Background(), &mockProvider{failOn: "two"}, []string{"one", "two"}, 2)
		assert.Error(t, err)
	})

	t.Run("empty input", func(t *testing.T) {
		r1, err := DefaultGenerateBatchEmbeddings(context.Background(), &mockProvider{}, nil)
		require.NoError(t, err)
		assert.Empty(t, r1)
		r2, err := ParallelGenerateBatchEmbeddings(context.Background(), &mockProvider{}, nil, 2)
		require.NoError(t, err)
		assert.Empty(t, r2)
	})
}

func TestCachedProvider(t *testing.T) {
	m := &mockProvider{}
	c := NewCachedProvider(m, 2)

	_, err := c.GenerateEmbedding(context.Background(), "a")
	require.NoError(t, err)
	_, err = c.GenerateEmbedding(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, 1, m.calls)

	out, err := c.GenerateBatchEmbeddings(context.Background(), []string{"a", "bb"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 1, 2}, {2, 1, 2}}, out)
	assert.Equal(t, []int{1}, m.batchSize, "only the uncached text is sent")

	_, err = c.GenerateEmbedding(context.Background(), "ccc")
	require.NoError(t, err)
	assert.Equal(t, 2, c.Size())

	c.ClearCache()
	assert.Equal(t, 0, c.Size())
}

func TestHashProviderSimilarity(t *testing.T) {
	h := NewHashProvider(256)
	ctx := context.Background()
	q, _ := h.GenerateEmbedding(ctx, "headphones won't connect")
	near, _ := h.GenerateEmbedding(ctx, "Troubleshooting headphones that won't connect over bluetooth")
	far, _ := h.GenerateEmbedding(ctx, "Descaling the coffee maker carafe")

	assert.Greater(t, Cosine(q, near), Cosine(q, far))
	again, _ := h.GenerateEmbedding(ctx, "headphones won't connect")
	assert.Equal(t, q, again)
}

func TestTokenize(t *testing.T) {
	assert.Equal(t, []string{"soundwave", "x5", "pro"}, Tokenize("SoundWave X5-Pro!"))
}
