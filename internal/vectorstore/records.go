package vectorstore

import (
	"errors"
	"fmt"
)

// Sentinel errors for vector store operations.
var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionFailed indicates gRPC connection issues.
	ErrConnectionFailed = errors.New("failed to connect to vector index")

	// ErrDimensionMismatch indicates a vector whose length does not match the
	// target index. Rejected before any remote call.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")

	// ErrInvalidRecord indicates a record missing required fields.
	ErrInvalidRecord = errors.New("invalid record")

	// ErrEmptyBatch indicates an empty or nil record batch.
	ErrEmptyBatch = errors.New("empty or nil record batch")

	// ErrEmptyOwnerScope indicates a query with no permitted owners. Queries
	// are always owner-scoped; an empty scope is a caller error, never an
	// implicit "search everything".
	ErrEmptyOwnerScope = errors.New("empty owner scope")
)

// Index identifies one of the two backing indices.
type Index string

const (
	// IndexSemantic is the 1024-dim text-derived index.
	IndexSemantic Index = "semantic"

	// IndexVisual is the 512-dim image-similarity index.
	IndexVisual Index = "visual"
)

// Dimension returns the declared vector dimensionality of the index.
func (i Index) Dimension() int {
	switch i {
	case IndexSemantic:
		return 1024
	case IndexVisual:
		return 512
	default:
		return 0
	}
}

func (i Index) valid() bool {
	return i == IndexSemantic || i == IndexVisual
}

// Metadata keys with store-level meaning.
const (
	// MetadataOwnerID scopes every record to its owning identity.
	MetadataOwnerID = "ownerId"

	// MetadataType carries the record category (health, location, voice,
	// photo, memory, shared_activity).
	MetadataType = "type"

	// MetadataParticipants lists identities taking part in a shared activity.
	MetadataParticipants = "participants"

	// RecordTypeSharedActivity is the type value for shared-activity records.
	RecordTypeSharedActivity = "shared_activity"
)

// Record is a caller-assembled vector record. Identity is immutable after
// creation; updates are full-record re-upserts.
type Record struct {
	// ID is the unique caller-assigned identifier.
	ID string

	// Values is the embedding; length must match the target index dimension.
	Values []float32

	// Metadata holds scalar fields for filtering. Must include ownerId.
	// Participants may be a []string.
	Metadata map[string]interface{}
}

// Validate checks a record against the target index before any remote call.
func (r Record) Validate(index Index) error {
	if r.ID == "" {
		return fmt.Errorf("%w: id required", ErrInvalidRecord)
	}
	if len(r.Values) != index.Dimension() {
		return fmt.Errorf("%w: index %s expects %d dimensions, got %d",
			ErrDimensionMismatch, index, index.Dimension(), len(r.Values))
	}
	owner, ok := r.Metadata[MetadataOwnerID].(string)
	if !ok || owner == "" {
		return fmt.Errorf("%w: metadata %s required", ErrInvalidRecord, MetadataOwnerID)
	}
	return nil
}

// Match is one similarity-search result.
type Match struct {
	// ID is the record identifier.
	ID string

	// Score is the similarity score; higher means more similar.
	Score float32

	// Metadata is the stored record metadata.
	Metadata map[string]interface{}
}

// IndexStats describes one index for the admin surface.
type IndexStats struct {
	Index      Index `json:"index"`
	PointCount int   `json:"point_count"`
	Dimension  int   `json:"dimension"`
}

// PartialBatchError reports a batch upsert that failed after some chunks
// committed. Upserts are not atomic across a batch: the committed prefix
// stays written and is not rolled back.
type PartialBatchError struct {
	// Committed is the number of records successfully written before failure.
	Committed int

	// FailedChunk is the zero-based index of the chunk that failed.
	FailedChunk int

	// TotalChunks is the number of chunks the batch was split into.
	TotalChunks int

	// Err is the underlying remote error.
	Err error
}

func (e *PartialBatchError) Error() string {
	return fmt.Sprintf("batch upsert failed at chunk %d of %d (%d records committed): %v",
		e.FailedChunk+1, e.TotalChunks, e.Committed, e.Err)
}

func (e *PartialBatchError) Unwrap() error {
	return e.Err
}
