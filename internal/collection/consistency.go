package collection

import (
	"slices"
	"time"
)

// InconsistencyType categorizes detected issues.
type InconsistencyType int

const (
	// InconsistencyOrphanLexical is a lexical entry without a stored chunk.
	InconsistencyOrphanLexical InconsistencyType = iota
	// InconsistencyOrphanVector is a vector entry without a stored chunk.
	InconsistencyOrphanVector
	// InconsistencyMissingLexical is a stored chunk absent from the lexical index.
	InconsistencyMissingLexical
	// InconsistencyMissingVector is a stored chunk absent from the vector index.
	InconsistencyMissingVector
	// InconsistencyOrphanCatalog is a catalog row without a stored chunk.
	InconsistencyOrphanCatalog
	// InconsistencyMissingCatalog is a stored chunk absent from the durable catalog.
	InconsistencyMissingCatalog
)

// String returns a human-readable description of the inconsistency type.
func (t InconsistencyType) String() string {
	switch t {
	case InconsistencyOrphanLexical:
		return "orphan_lexical"
	case InconsistencyOrphanVector:
		return "orphan_vector"
	case InconsistencyMissingLexical:
		return "missing_lexical"
	case InconsistencyMissingVector:
		return "missing_vector"
	case InconsistencyOrphanCatalog:
		return "orphan_catalog"
	case InconsistencyMissingCatalog:
		return "missing_catalog"
	default:
		return "unknown"
	}
}

// MarshalText lets reports serialize the type by name.
func (t InconsistencyType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Inconsistency represents a detected cross-store issue.
type Inconsistency struct {
	Type    InconsistencyType `json:"type"`
	ChunkID string            `json:"chunk_id"`
}

// ConsistencyReport is the outcome of comparing a collection's id sets.
type ConsistencyReport struct {
	Collection      string          `json:"collection"`
	State           string          `json:"state"`
	Chunks          int             `json:"chunks"`
	LexicalIDs      int             `json:"lexical_ids"`
	VectorIDs       int             `json:"vector_ids"`
	CatalogChecked  bool            `json:"catalog_checked"`
	CatalogIDs      int             `json:"catalog_ids"`
	Inconsistencies []Inconsistency `json:"inconsistencies"`
	Duration        time.Duration   `json:"duration_ns"`
}

// Consistent reports whether no issues were found.
func (r *ConsistencyReport) Consistent() bool {
	return len(r.Inconsistencies) == 0
}

// compareIDs reports ids of other absent from truth as orphan, and ids of
// truth absent from other as missing. Output is sorted by chunk id.
func compareIDs(truth, other []string, orphan, missing InconsistencyType) []Inconsistency {
	truthSet := make(map[string]struct{}, len(truth))
	for _, id := range truth {
		truthSet[id] = struct{}{}
	}
	otherSet := make(map[string]struct{}, len(other))
	for _, id := range other {
		otherSet[id] = struct{}{}
	}

	var issues []Inconsistency
	for _, id := range other {
		if _, ok := truthSet[id]; !ok {
			issues = append(issues, Inconsistency{Type: orphan, ChunkID: id})
		}
	}
	for _, id := range truth {
		if _, ok := otherSet[id]; !ok {
			issues = append(issues, Inconsistency{Type: missing, ChunkID: id})
		}
	}
	slices.SortFunc(issues, func(a, b Inconsistency) int {
		if a.ChunkID != b.ChunkID {
			if a.ChunkID < b.ChunkID {
				return -1
			}
			return 1
		}
		return int(a.Type) - int(b.Type)
	})
	return issues
}

// checkIndexes compares the chunk store's ids against both indexes.
func checkIndexes(chunkIDs, lexicalIDs, vectorIDs []string) []Inconsistency {
	issues := compareIDs(chunkIDs, lexicalIDs, InconsistencyOrphanLexical, InconsistencyMissingLexical)
	return append(issues, compareIDs(chunkIDs, vectorIDs, InconsistencyOrphanVector, InconsistencyMissingVector)...)
}
