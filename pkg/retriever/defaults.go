package retriever

import _ "embed"

//go:embed fixtures/products.yaml
var defaultDocuments []byte

// DefaultDocuments returns the bundled sample product documentation.
func DefaultDocuments() ([]Document, error) {
	return ParseDocuments(defaultDocuments)
}
