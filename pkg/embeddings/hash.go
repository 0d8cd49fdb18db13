package embeddings

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// HashProvider is a deterministic bag-of-words embedder using feature hashing.
// It needs no network access and is used for development and tests.
type HashProvider struct {
	dimensions int
}

var _ Provider = &HashProvider{}

func NewHashProvider(dimensions int) *HashProvider {
	if dimensions <= 0 {
		dimensions = 256
	}
	return &HashProvider{dimensions: dimensions}
}

func (h *HashProvider) GenerateEmbedding(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, h.dimensions)
	for _, tok := range Tokenize(text) {
		f := fnv.New32a()
		_, _ = f.Write([]byte(tok))
		sum := f.Sum32()
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		v[int(sum>>1)%h.dimensions] += sign
	}
	normalize(v)
	return v, nil
}

func (h *HashProvider) GenerateBatchEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	return DefaultGenerateBatchEmbeddings(ctx, h, texts)
}

func (h *HashProvider) GetModel() EmbeddingModel {
	return EmbeddingModel{Name: "feature-hash", Dimensions: h.dimensions}
}

// Tokenize lowercases text and splits it on anything that is not a letter or digit.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	n := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= n
	}
}

// Cosine returns the cosine similarity of a and b, or 0 when the lengths differ
// or either vector is zero.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
