package vectorstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
)

// maxChunkSize is the provider-imposed limit on records per upsert call.
const maxChunkSize = 100

// UpsertOne writes a single record. Idempotent on the record ID.
func (s *Store) UpsertOne(ctx context.Context, index Index, record Record) error {
	if !index.valid() {
		return fmt.Errorf("%w: unknown index %q", ErrInvalidConfig, index)
	}
	if err := record.Validate(index); err != nil {
		return err
	}

	points := []*qdrant.PointStruct{toPoint(record)}
	err := s.retryOperation(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collectionFor(index),
			Points:         points,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("upserting record %s: %w", record.ID, err)
	}
	return nil
}

// UpsertBatch writes records in chunks of at most maxChunkSize, sequentially
// to respect provider rate limits. All records are validated before the
// first remote call.
//
// On a mid-batch failure the returned *PartialBatchError reports how many
// records committed; the committed prefix is not rolled back and unsent
// chunks are not attempted.
func (s *Store) UpsertBatch(ctx context.Context, index Index, records []Record) error {
	if !index.valid() {
		return fmt.Errorf("%w: unknown index %q", ErrInvalidConfig, index)
	}
	if len(records) == 0 {
		return ErrEmptyBatch
	}
	for i, record := range records {
		if err := record.Validate(index); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}

	collection := s.collectionFor(index)
	totalChunks := (len(records) + maxChunkSize - 1) / maxChunkSize

	for chunk := 0; chunk < totalChunks; chunk++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return &PartialBatchError{
				Committed:   chunk * maxChunkSize,
				FailedChunk: chunk,
				TotalChunks: totalChunks,
				Err:         err,
			}
		}

		start := chunk * maxChunkSize
		end := start + maxChunkSize
		if end > len(records) {
			end = len(records)
		}

		points := make([]*qdrant.PointStruct, 0, end-start)
		for _, record := range records[start:end] {
			points = append(points, toPoint(record))
		}

		err := s.retryOperation(ctx, "upsert_batch", func() error {
			_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
				CollectionName: collection,
				Points:         points,
			})
			return err
		})
		if err != nil {
			s.logger.Error("batch upsert failed mid-batch",
				zap.String("collection", collection),
				zap.Int("failed_chunk", chunk),
				zap.Int("committed", start),
				zap.Error(err))
			return &PartialBatchError{
				Committed:   start,
				FailedChunk: chunk,
				TotalChunks: totalChunks,
				Err:         err,
			}
		}
	}
	return nil
}

// toPoint converts a record to a Qdrant point. Qdrant point IDs must be
// UUIDs or integers; non-UUID record IDs get a derived UUID, and the
// original ID is preserved in the payload for retrieval and deletion.
func toPoint(record Record) *qdrant.PointStruct {
	payload := toPayload(record.Metadata)
	payload["id"] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: record.ID}}

	var pointID *qdrant.PointId
	if _, err := uuid.Parse(record.ID); err == nil {
		pointID = qdrant.NewIDUUID(record.ID)
	} else {
		pointID = qdrant.NewIDUUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(record.ID)).String())
	}

	return &qdrant.PointStruct{
		Id:      pointID,
		Vectors: qdrant.NewVectors(record.Values...),
		Payload: payload,
	}
}
