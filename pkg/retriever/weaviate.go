package retriever

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-go-golems/concierge/pkg/embeddings"
	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/iancoleman/strcase"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/weaviate/weaviate-go-client/v4/weaviate"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/auth"
	"github.com/weaviate/weaviate-go-client/v4/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// productNamespace derives stable object ids from product ids.
var productNamespace = uuid.MustParse("6f1c3c1e-2b1d-4f55-9a57-0c5f3b7f2d10")

var documentFields = []string{
	"product_id",
	"product_category",
	"product_sub_category",
	"product_name",
	"product_doc",
	"indexed_doc",
}

type WeaviateConfig struct {
	Scheme string
	Host   string
	APIKey string
	// Class is the collection holding the documents, e.g. ProductDoc.
	Class string
}

// WeaviateRetriever searches a Weaviate collection. With a provider it sends
// nearVector queries and stores its own vectors; without one it relies on the
// collection's vectorizer through nearText.
type WeaviateRetriever struct {
	client   *weaviate.Client
	class    string
	provider embeddings.Provider
}

var (
	_ Retriever = (*WeaviateRetriever)(nil)
	_ Indexer   = (*WeaviateRetriever)(nil)
)

func NewWeaviateRetriever(cfg WeaviateConfig, provider embeddings.Provider) (*WeaviateRetriever, error) {
	if cfg.Host == "" {
		return nil, errors.New("weaviate host is required")
	}
	if cfg.Class == "" {
		return nil, errors.New("weaviate class is required")
	}
	wc := weaviate.Config{Host: cfg.Host, Scheme: cfg.Scheme}
	if wc.Scheme == "" {
		wc.Scheme = "http"
	}
	if cfg.APIKey != "" {
		wc.AuthConfig = auth.ApiKey{Value: cfg.APIKey}
	}
	client, err := weaviate.NewClient(wc)
	if err != nil {
		return nil, errors.Wrap(err, "create weaviate client")
	}
	return &WeaviateRetriever{client: client, class: className(cfg.Class), provider: provider}, nil
}

// className turns an index name such as "main.agents.product_docs_index" into a
// valid Weaviate class name.
func className(index string) string {
	if i := strings.LastIndex(index, "."); i >= 0 {
		index = index[i+1:]
	}
	return strcase.ToCamel(index)
}

func (w *WeaviateRetriever) Search(ctx context.Context, query string, topK int) ([]Passage, error) {
	if topK <= 0 {
		return nil, errors.New("topK must be positive")
	}
	fields := make([]graphql.Field, 0, len(documentFields)+1)
	for _, f := range documentFields {
		fields = append(fields, graphql.Field{Name: f})
	}
	fields = append(fields, graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "distance"}}})

	get := w.client.GraphQL().Get().
		WithClassName(w.class).
		WithFields(fields...).
		WithLimit(topK)

	if w.provider != nil {
		vec, err := w.provider.GenerateEmbedding(ctx, query)
		if err != nil {
			return nil, errors.Wrap(err, "embed query")
		}
		get = get.WithNearVector(w.client.GraphQL().NearVectorArgBuilder().WithVector(vec))
	} else {
		get = get.WithNearText(w.client.GraphQL().NearTextArgBuilder().WithConcepts([]string{query}))
	}

	resp, err := get.Do(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "weaviate query")
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, 0, len(resp.Errors))
		for _, e := range resp.Errors {
			msgs = append(msgs, e.Message)
		}
		return nil, errors.Errorf("weaviate query: %s", strings.Join(msgs, "; "))
	}

	var data map[string]interface{}
	if resp.Data != nil {
		if g, ok := resp.Data["Get"].(map[string]interface{}); ok {
			data = g
		}
	}
	return parseHits(data, w.class)
}

// parseHits maps the GraphQL Get payload to passages. Weaviate returns objects
// ordered by distance already.
func parseHits(get map[string]interface{}, class string) ([]Passage, error) {
	raw, ok := get[class]
	if !ok || raw == nil {
		return []Passage{}, nil
	}
	items, ok := raw.([]interface{})
	if !ok {
		return nil, errors.Errorf("unexpected weaviate payload for %s", class)
	}
	out := make([]Passage, 0, len(items))
	for _, it := range items {
		obj, ok := it.(map[string]interface{})
		if !ok {
			continue
		}
		doc := Document{
			ProductID:          str(obj["product_id"]),
			ProductCategory:    str(obj["product_category"]),
			ProductSubCategory: str(obj["product_sub_category"]),
			ProductName:        str(obj["product_name"]),
			ProductDoc:         str(obj["product_doc"]),
			IndexedDoc:         str(obj["indexed_doc"]),
		}
		score := 0.0
		if add, ok := obj["_additional"].(map[string]interface{}); ok {
			if d, ok := add["distance"].(float64); ok {
				score = 1 - d
			}
		}
		out = append(out, doc.passage(score))
	}
	return out, nil
}

func str(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

// Index upserts docs in one batch. Object ids are derived from product ids so
// re-indexing replaces earlier versions.
func (w *WeaviateRetriever) Index(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	var vectors [][]float32
	if w.provider != nil {
		texts := make([]string, len(docs))
		for i, d := range docs {
			texts[i] = d.text()
		}
		var err error
		vectors, err = w.provider.GenerateBatchEmbeddings(ctx, texts)
		if err != nil {
			return errors.Wrap(err, "embed documents")
		}
		if len(vectors) != len(docs) {
			return errors.Errorf("embedding provider returned %d vectors for %d documents", len(vectors), len(docs))
		}
	}

	objects := make([]*models.Object, len(docs))
	for i, d := range docs {
		objects[i] = w.object(d)
		if vectors != nil {
			objects[i].Vector = vectors[i]
		}
	}
	resp, err := w.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		return errors.Wrap(err, "batch index documents")
	}
	if err := batchErrors(resp); err != nil {
		return err
	}
	log.Info().Str("class", w.class).Int("documents", len(docs)).Msg("indexed documents in weaviate")
	return nil
}

func objectID(productID string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(productNamespace, []byte(productID)).String())
}

func (w *WeaviateRetriever) object(d Document) *models.Object {
	return &models.Object{
		Class: w.class,
		ID:    objectID(d.ProductID),
		Properties: map[string]interface{}{
			"product_id":           d.ProductID,
			"product_category":     d.ProductCategory,
			"product_sub_category": d.ProductSubCategory,
			"product_name":         d.ProductName,
			"product_doc":          d.ProductDoc,
			"indexed_doc":          d.text(),
		},
	}
}

// batchErrors collects the per-object failures of a batch response.
func batchErrors(resp []models.ObjectsGetResponse) error {
	var failed []string
	for _, r := range resp {
		if r.Result == nil || r.Result.Errors == nil {
			continue
		}
		for _, e := range r.Result.Errors.Error {
			if e != nil {
				failed = append(failed, fmt.Sprintf("%s: %s", r.ID, e.Message))
			}
		}
	}
	if len(failed) == 0 {
		return nil
	}
	return errors.Errorf("weaviate rejected %d objects: %s", len(failed), strings.Join(failed, "; "))
}
