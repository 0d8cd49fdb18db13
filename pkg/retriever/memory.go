package retriever

import (
	"context"
	"sort"
	"sync"

	"github.com/go-go-golems/concierge/pkg/embeddings"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

type indexedDoc struct {
	doc    Document
	vector []float32
}

// MemoryRetriever keeps documents and their embeddings in process and ranks
// them by cosine similarity.
type MemoryRetriever struct {
	provider embeddings.Provider

	mu   sync.RWMutex
	docs map[string]indexedDoc
}

var (
	_ Retriever = (*MemoryRetriever)(nil)
	_ Indexer   = (*MemoryRetriever)(nil)
)

func NewMemoryRetriever(provider embeddings.Provider) *MemoryRetriever {
	return &MemoryRetriever{provider: provider, docs: map[string]indexedDoc{}}
}

// Index embeds and stores docs, replacing documents with the same product id.
func (m *MemoryRetriever) Index(ctx context.Context, docs []Document) error {
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.text()
	}
	vectors, err := m.provider.GenerateBatchEmbeddings(ctx, texts)
	if err != nil {
		return errors.Wrap(err, "embed documents")
	}
	if len(vectors) != len(docs) {
		return errors.Errorf("embedding provider returned %d vectors for %d documents", len(vectors), len(docs))
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, d := range docs {
		m.docs[d.ProductID] = indexedDoc{doc: d, vector: vectors[i]}
	}
	log.Debug().Int("documents", len(docs)).Int("total", len(m.docs)).Msg("indexed documents")
	return nil
}

func (m *MemoryRetriever) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

func (m *MemoryRetriever) Search(ctx context.Context, query string, topK int) ([]Passage, error) {
	if topK <= 0 {
		return nil, errors.New("topK must be positive")
	}
	q, err := m.provider.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "embed query")
	}

	m.mu.RLock()
	out := make([]Passage, 0, len(m.docs))
	for _, d := range m.docs {
		out = append(out, d.doc.passage(embeddings.Cosine(q, d.vector)))
	}
	m.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}
