// Package graph implements Neo4j adapters for the application.
package graph

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"secretary_server/core/port/out"
	"secretary_server/pkg/logger"
)

// =============================================================================
// Neo4j Vector Store Adapter
// =============================================================================

const (
	vectorIndexName     = "doc_embedding_index"
	embeddingDimensions = 1536

	// Similarity queries over-fetch before metadata filtering so the
	// filter does not starve the result set.
	queryOverfetch = 4
)

// Embedder produces embedding vectors for similarity indexing. An
// unconfigured embedder degrades the store to recency ordering.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorStoreAdapter implements out.VectorStore using Neo4j. Documents
// are (:Doc) nodes keyed by (collection, id); metadata keys are
// flattened onto the node with an m_ prefix so they stay filterable.
type VectorStoreAdapter struct {
	driver   neo4j.DriverWithContext
	dbName   string
	embedder Embedder
}

var _ out.VectorStore = (*VectorStoreAdapter)(nil)

// NewVectorStoreAdapter creates a new Neo4j vector store adapter.
func NewVectorStoreAdapter(driver neo4j.DriverWithContext, dbName string, embedder Embedder) *VectorStoreAdapter {
	return &VectorStoreAdapter{
		driver:   driver,
		dbName:   dbName,
		embedder: embedder,
	}
}

// EnsureIndexes creates necessary indexes and constraints.
func (a *VectorStoreAdapter) EnsureIndexes(ctx context.Context) error {
	session := a.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: a.dbName})
	defer session.Close(ctx)

	queries := []string{
		"CREATE VECTOR INDEX " + vectorIndexName + " IF NOT EXISTS " +
			"FOR (d:Doc) " +
			"ON (d.embedding) " +
			fmt.Sprintf("OPTIONS {indexConfig: {`vector.dimensions`: %d, `vector.similarity_function`: 'cosine'}}", embeddingDimensions),
		`CREATE INDEX doc_collection_idx IF NOT EXISTS FOR (d:Doc) ON (d.collection)`,
		`CREATE CONSTRAINT doc_collection_id IF NOT EXISTS FOR (d:Doc) REQUIRE (d.collection, d.id) IS UNIQUE`,
	}

	for _, query := range queries {
		if _, err := session.Run(ctx, query, nil); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}

// =============================================================================
// Operations
// =============================================================================

// Upsert inserts or replaces a document. The embedding is best-effort:
// without one the document still participates in Get and recency
// queries.
func (a *VectorStoreAdapter) Upsert(ctx context.Context, collection, id, document string, metadata map[string]any) error {
	session := a.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: a.dbName})
	defer session.Close(ctx)

	query := `
		MERGE (d:Doc {collection: $collection, id: $id})
		SET d.document = $document,
			d.created_seq = coalesce(d.created_seq, timestamp()),
			d.updated_at = timestamp()
	`
	params := map[string]any{
		"collection": collection,
		"id":         id,
		"document":   document,
	}

	for key, value := range metadata {
		prop, ok := metaProp(key)
		if !ok {
			logger.Warn("vector store: skipping unsafe metadata key %q", key)
			continue
		}
		query += fmt.Sprintf(", d.%s = $%s", prop, prop)
		params[prop] = value
	}

	if embedding := a.embed(ctx, document); embedding != nil {
		query += ", d.embedding = $embedding"
		params["embedding"] = embedding
	}

	if _, err := session.Run(ctx, query, params); err != nil {
		return fmt.Errorf("failed to upsert document: %w", err)
	}
	return nil
}

// QuerySimilar returns up to k documents most similar to text, nearest
// first. Without an embedding it degrades to newest-first.
func (a *VectorStoreAdapter) QuerySimilar(ctx context.Context, collection, text string, k int, where map[string]any) ([]out.VectorQueryResult, error) {
	embedding := a.embed(ctx, text)
	if embedding == nil {
		return a.queryRecent(ctx, collection, k, where)
	}

	session := a.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: a.dbName})
	defer session.Close(ctx)

	whereClause, params := buildWhere(where, "node")
	params["collection"] = collection
	params["embedding"] = embedding
	params["fetch"] = k * queryOverfetch
	params["k"] = k

	query := `
		CALL db.index.vector.queryNodes('` + vectorIndexName + `', $fetch, $embedding)
		YIELD node, score
		WHERE node.collection = $collection` + whereClause + `
		RETURN node, score
		ORDER BY score DESC
		LIMIT $k
	`

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to query vectors: %w", err)
	}

	var results []out.VectorQueryResult
	for result.Next(ctx) {
		record := result.Record()
		node, ok := record.Get("node")
		if !ok {
			continue
		}
		doc := docFromNode(node.(neo4j.Node))

		score := 0.0
		if s, ok := record.Get("score"); ok {
			if f, ok := s.(float64); ok {
				score = f
			}
		}
		// Cosine similarity in [0,1]; distance is its complement.
		results = append(results, out.VectorQueryResult{
			VectorDocument: doc,
			Distance:       1 - score,
		})
	}
	return results, nil
}

// queryRecent is the no-embedding fallback: newest matching documents
// with a neutral distance.
func (a *VectorStoreAdapter) queryRecent(ctx context.Context, collection string, k int, where map[string]any) ([]out.VectorQueryResult, error) {
	session := a.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: a.dbName})
	defer session.Close(ctx)

	whereClause, params := buildWhere(where, "d")
	params["collection"] = collection
	params["k"] = k

	query := `
		MATCH (d:Doc {collection: $collection})` +
		matchWhere(whereClause) + `
		RETURN d
		ORDER BY d.created_seq DESC
		LIMIT $k
	`

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}

	var results []out.VectorQueryResult
	for result.Next(ctx) {
		if node, ok := result.Record().Get("d"); ok {
			results = append(results, out.VectorQueryResult{
				VectorDocument: docFromNode(node.(neo4j.Node)),
				Distance:       1,
			})
		}
	}
	return results, nil
}

// Get returns documents matching the metadata filter, in insertion
// order.
func (a *VectorStoreAdapter) Get(ctx context.Context, collection string, where map[string]any) ([]out.VectorDocument, error) {
	session := a.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: a.dbName})
	defer session.Close(ctx)

	whereClause, params := buildWhere(where, "d")
	params["collection"] = collection

	query := `
		MATCH (d:Doc {collection: $collection})` +
		matchWhere(whereClause) + `
		RETURN d
		ORDER BY d.created_seq ASC
	`

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("failed to get documents: %w", err)
	}

	var docs []out.VectorDocument
	for result.Next(ctx) {
		if node, ok := result.Record().Get("d"); ok {
			docs = append(docs, docFromNode(node.(neo4j.Node)))
		}
	}
	return docs, nil
}

// Count returns the number of documents in the collection.
func (a *VectorStoreAdapter) Count(ctx context.Context, collection string) (int, error) {
	session := a.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: a.dbName})
	defer session.Close(ctx)

	result, err := session.Run(ctx,
		`MATCH (d:Doc {collection: $collection}) RETURN count(d) AS n`,
		map[string]any{"collection": collection})
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}

	if result.Next(ctx) {
		if n, ok := result.Record().Get("n"); ok {
			if count, ok := n.(int64); ok {
				return int(count), nil
			}
		}
	}
	return 0, nil
}

// =============================================================================
// Helpers
// =============================================================================

func (a *VectorStoreAdapter) embed(ctx context.Context, text string) []float32 {
	if a.embedder == nil {
		return nil
	}
	embedding, err := a.embedder.Embed(ctx, text)
	if err != nil {
		logger.WithError(err).Debug("vector store: embedding unavailable")
		return nil
	}
	return embedding
}

// metaKeyPattern restricts metadata keys to identifier characters so
// they can be interpolated as property names.
var metaKeyPattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*$`)

func metaProp(key string) (string, bool) {
	if !metaKeyPattern.MatchString(key) {
		return "", false
	}
	return "m_" + key, true
}

func buildWhere(where map[string]any, alias string) (string, map[string]any) {
	params := make(map[string]any)
	var conditions []string
	for key, value := range where {
		prop, ok := metaProp(key)
		if !ok {
			continue
		}
		conditions = append(conditions, fmt.Sprintf("%s.%s = $%s", alias, prop, prop))
		params[prop] = value
	}
	if len(conditions) == 0 {
		return "", params
	}
	return " AND " + strings.Join(conditions, " AND "), params
}

// matchWhere rewrites an AND-prefixed clause for use after a bare MATCH.
func matchWhere(clause string) string {
	if clause == "" {
		return ""
	}
	return "\n\t\tWHERE " + strings.TrimPrefix(clause, " AND ")
}

func docFromNode(node neo4j.Node) out.VectorDocument {
	doc := out.VectorDocument{Metadata: make(map[string]any)}
	for key, value := range node.Props {
		switch key {
		case "id":
			doc.ID, _ = value.(string)
		case "document":
			doc.Document, _ = value.(string)
		default:
			if strings.HasPrefix(key, "m_") {
				doc.Metadata[strings.TrimPrefix(key, "m_")] = value
			}
		}
	}
	return doc
}
