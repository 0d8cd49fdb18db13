package embeddings

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedProvider wraps an embedding provider with an LRU cache keyed by text.
type CachedProvider struct {
	provider Provider
	cache    *lru.Cache[string, []float32]
	maxSize  int
}

var _ Provider = &CachedProvider{}

// NewCachedProvider creates a new cached wrapper around an embedding provider.
// maxSize defaults to 1000.
func NewCachedProvider(provider Provider, maxSize int) *CachedProvider {
	if maxSize <= 0 {
		maxSize = 1000
	}
	cache, _ := lru.New[string, []float32](maxSize)
	return &CachedProvider{
		provider: provider,
		cache:    cache,
		maxSize:  maxSize,
	}
}

func (c *CachedProvider) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	if e, ok := c.cache.Get(text); ok {
		return e, nil
	}
	embedding, err := c.provider.GenerateEmbedding(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, embedding)
	return embedding, nil
}

// GenerateBatchEmbeddings only sends the texts missing from the cache to the
// wrapped provider.
func (c *CachedProvider) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, t := range texts {
		if e, ok := c.cache.Get(t); ok {
			results[i] = e
			continue
		}
		missing = append(missing, t)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return results, nil
	}
	fresh, err := c.provider.GenerateBatchEmbeddings(ctx, missing)
	if err != nil {
		return nil, err
	}
	for j, e := range fresh {
		results[missingIdx[j]] = e
		c.cache.Add(missing[j], e)
	}
	return results, nil
}

func (c *CachedProvider) GetModel() EmbeddingModel {
	return c.provider.GetModel()
}

func (c *CachedProvider) ClearCache() {
	c.cache.Purge()
}

func (c *CachedProvider) Size() int {
	return c.cache.Len()
}

func (c *CachedProvider) MaxSize() int {
	return c.maxSize
}
