package vectorstore

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// maxTopK caps result sizes to prevent resource exhaustion.
const maxTopK = 10000

// Query performs similarity search on one index, restricted to the owner
// scope plus the caller's metadata filter.
//
// Results descend by similarity score. Ties break in the index's native
// order, which is not stable across calls.
func (s *Store) Query(ctx context.Context, index Index, queryVector []float32, topK int, filter *Filter, scope OwnerScope) ([]Match, error) {
	if !index.valid() {
		return nil, fmt.Errorf("%w: unknown index %q", ErrInvalidConfig, index)
	}
	if len(queryVector) != index.Dimension() {
		return nil, fmt.Errorf("%w: index %s expects %d dimensions, got %d",
			ErrDimensionMismatch, index, index.Dimension(), len(queryVector))
	}
	if scope.IsEmpty() {
		return nil, ErrEmptyOwnerScope
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", ErrInvalidRecord, topK)
	}
	if topK > maxTopK {
		topK = maxTopK
	}

	return s.query(ctx, s.collectionFor(index), queryVector, topK, buildFilter(&scope, filter))
}

// QueryByParticipants searches shared-activity records on the semantic index
// whose participants intersect the given identities. The caller filter is
// applied on top of the type and participants constraints.
func (s *Store) QueryByParticipants(ctx context.Context, queryVector []float32, topK int, ownerIdentities []string, filter *Filter) ([]Match, error) {
	if len(queryVector) != IndexSemantic.Dimension() {
		return nil, fmt.Errorf("%w: index %s expects %d dimensions, got %d",
			ErrDimensionMismatch, IndexSemantic, IndexSemantic.Dimension(), len(queryVector))
	}
	if len(ownerIdentities) == 0 {
		return nil, ErrEmptyOwnerScope
	}
	if topK <= 0 {
		return nil, fmt.Errorf("%w: topK must be positive, got %d", ErrInvalidRecord, topK)
	}
	if topK > maxTopK {
		topK = maxTopK
	}

	qdrantFilter := buildFilter(nil, filter,
		keywordCondition(MetadataType, RecordTypeSharedActivity),
		keywordsCondition(MetadataParticipants, ownerIdentities),
	)
	return s.query(ctx, s.config.SemanticCollection, queryVector, topK, qdrantFilter)
}

func (s *Store) query(ctx context.Context, collection string, queryVector []float32, topK int, filter *qdrant.Filter) ([]Match, error) {
	var results []*qdrant.ScoredPoint
	err := s.retryOperation(ctx, "query", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: collection,
			Query:          qdrant.NewQuery(queryVector...),
			Limit:          qdrant.PtrOf(uint64(topK)),
			WithPayload:    qdrant.NewWithPayload(true),
			Filter:         filter,
		})
		if err != nil {
			return err
		}
		results = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("querying collection %s: %w", collection, err)
	}

	matches := make([]Match, len(results))
	for i, point := range results {
		match := Match{Score: point.Score}
		if point.Payload != nil {
			match.Metadata = fromPayload(point.Payload)
			if id, ok := match.Metadata["id"].(string); ok {
				match.ID = id
			}
		}
		matches[i] = match
	}
	return matches, nil
}
