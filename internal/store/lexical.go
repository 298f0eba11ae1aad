package store

import "fmt"

// Lexical index backends.
const (
	LexicalBackendMemory = "memory"
	LexicalBackendBleve  = "bleve"
)

// NewLexicalIndex builds an immutable lexical index over docs.
//
// backend options:
//   - "memory" (default): exact BM25 with cfg's k1 and b
//   - "bleve": in-memory bleve index with bleve-native scoring
func NewLexicalIndex(backend string, cfg BM25Config, docs []Document) (LexicalIndex, error) {
	switch backend {
	case LexicalBackendMemory, "":
		return NewMemoryBM25Index(cfg, docs)
	case LexicalBackendBleve:
		return NewBleveLexicalIndex(cfg, docs)
	default:
		return nil, fmt.Errorf("unknown lexical backend: %s (valid options: memory, bleve)", backend)
	}
}
