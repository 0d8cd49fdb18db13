// Package retriever searches product documentation by semantic similarity.
package retriever

import (
	"context"
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Document is one product documentation record.
type Document struct {
	ProductID          string `json:"product_id" yaml:"product_id"`
	ProductCategory    string `json:"product_category" yaml:"product_category"`
	ProductSubCategory string `json:"product_sub_category" yaml:"product_sub_category"`
	ProductName        string `json:"product_name" yaml:"product_name"`
	ProductDoc         string `json:"product_doc" yaml:"product_doc"`
	// IndexedDoc is the text that gets embedded and returned to the model.
	IndexedDoc string `json:"indexed_doc" yaml:"indexed_doc"`
}

// Passage is one search hit. ID is the primary key (product_id), Text the
// indexed document and Source the document uri.
type Passage struct {
	ID       string            `json:"id"`
	Text     string            `json:"text"`
	Source   string            `json:"source"`
	Score    float64           `json:"score"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Retriever returns up to topK passages ordered by decreasing relevance.
type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]Passage, error)
}

// Indexer loads documents into a retriever.
type Indexer interface {
	Index(ctx context.Context, docs []Document) error
}

func (d Document) passage(score float64) Passage {
	text := d.IndexedDoc
	if text == "" {
		text = d.ProductDoc
	}
	return Passage{
		ID:     d.ProductID,
		Text:   text,
		Source: d.ProductID,
		Score:  score,
		Metadata: map[string]string{
			"product_name":         d.ProductName,
			"product_category":     d.ProductCategory,
			"product_sub_category": d.ProductSubCategory,
		},
	}
}

func (d Document) text() string {
	if d.IndexedDoc != "" {
		return d.IndexedDoc
	}
	return d.ProductDoc
}

// LoadDocuments reads a YAML list of documents.
func LoadDocuments(path string) ([]Document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read documents %s", path)
	}
	return ParseDocuments(b)
}

func ParseDocuments(b []byte) ([]Document, error) {
	var docs []Document
	if err := yaml.Unmarshal(b, &docs); err != nil {
		return nil, errors.Wrap(err, "decode documents")
	}
	for i, d := range docs {
		if d.ProductID == "" {
			return nil, errors.Errorf("document %d has no product_id", i)
		}
	}
	return docs, nil
}
