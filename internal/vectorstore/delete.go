package vectorstore

import (
	"context"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
)

// DeleteOne removes a record by its caller-assigned ID.
func (s *Store) DeleteOne(ctx context.Context, index Index, id string) error {
	if !index.valid() {
		return fmt.Errorf("%w: unknown index %q", ErrInvalidConfig, index)
	}
	if id == "" {
		return fmt.Errorf("%w: id required", ErrInvalidRecord)
	}
	return s.deleteByCondition(ctx, index, keywordCondition("id", id))
}

// DeleteAllForOwner removes every record owned by one identity from an index.
func (s *Store) DeleteAllForOwner(ctx context.Context, index Index, ownerID string) error {
	if !index.valid() {
		return fmt.Errorf("%w: unknown index %q", ErrInvalidConfig, index)
	}
	if ownerID == "" {
		return fmt.Errorf("%w: owner id required", ErrInvalidRecord)
	}
	return s.deleteByCondition(ctx, index, keywordCondition(MetadataOwnerID, ownerID))
}

func (s *Store) deleteByCondition(ctx context.Context, index Index, condition *qdrant.Condition) error {
	collection := s.collectionFor(index)
	err := s.retryOperation(ctx, "delete", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: collection,
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Filter{
					Filter: &qdrant.Filter{Must: []*qdrant.Condition{condition}},
				},
			},
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("deleting from collection %s: %w", collection, err)
	}
	return nil
}
