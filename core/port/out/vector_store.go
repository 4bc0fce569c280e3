package out

import "context"

// Collection names in the vector store.
const (
	CollectionCorrections = "email_corrections"
	CollectionProfiles    = "recipient_profiles"
	CollectionRules       = "filtering_rules"
	CollectionSuggestions = "filtering_suggestions"
)

// VectorDocument is one stored document with its metadata.
type VectorDocument struct {
	ID       string
	Document string
	Metadata map[string]any
}

// VectorQueryResult is one similarity hit. Smaller distance means more
// similar.
type VectorQueryResult struct {
	VectorDocument
	Distance float64
}

// VectorStore is a nearest-neighbor index with metadata filtering.
// Treated as externally synchronized; the driver's own concurrency
// guarantees are relied upon.
type VectorStore interface {
	// Upsert inserts or replaces a document in the collection.
	Upsert(ctx context.Context, collection, id, document string, metadata map[string]any) error

	// QuerySimilar returns up to k documents most similar to text,
	// ordered by increasing distance. where filters on exact metadata
	// matches; a nil or empty filter matches everything.
	QuerySimilar(ctx context.Context, collection, text string, k int, where map[string]any) ([]VectorQueryResult, error)

	// Get returns documents whose metadata exactly matches where, in
	// insertion order.
	Get(ctx context.Context, collection string, where map[string]any) ([]VectorDocument, error)

	// Count returns the number of documents in the collection.
	Count(ctx context.Context, collection string) (int, error)
}
