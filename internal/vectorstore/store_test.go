package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// fakeClient records calls and returns scripted responses.
type fakeClient struct {
	mu sync.Mutex

	upserts []*qdrant.UpsertPoints
	queries []*qdrant.QueryPoints
	deletes []*qdrant.DeletePoints

	upsertErrs  []error // consumed per call; nil entry means success
	queryResult []*qdrant.ScoredPoint
	queryErr    error
	info        *qdrant.CollectionInfo
	infoErr     error
}

func (f *fakeClient) Upsert(_ context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, req)
	if len(f.upsertErrs) > 0 {
		err := f.upsertErrs[0]
		f.upsertErrs = f.upsertErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeClient) Query(_ context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, req)
	return f.queryResult, f.queryErr
}

func (f *fakeClient) Delete(_ context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, req)
	return &qdrant.UpdateResult{}, nil
}

func (f *fakeClient) CreateCollection(_ context.Context, _ *qdrant.CreateCollection) error {
	return nil
}

func (f *fakeClient) GetCollectionInfo(_ context.Context, _ string) (*qdrant.CollectionInfo, error) {
	return f.info, f.infoErr
}

func (f *fakeClient) HealthCheck(_ context.Context) (*qdrant.HealthCheckReply, error) {
	return &qdrant.HealthCheckReply{}, nil
}

func (f *fakeClient) Close() error { return nil }

func newTestStore(client *fakeClient) *Store {
	cfg := Config{
		Host:                  "localhost",
		Port:                  6334,
		RetryBackoff:          time.Millisecond,
		UpsertChunksPerSecond: 10000, // keep chunk pacing out of test time
	}
	return newStoreWithClient(client, cfg, zap.NewNop())
}

func validRecord(id, owner string, index Index) Record {
	return Record{
		ID:     id,
		Values: make([]float32, index.Dimension()),
		Metadata: map[string]interface{}{
			MetadataOwnerID: owner,
			MetadataType:    "location",
		},
	}
}

func TestUpsertOneDimensionMismatchRejectedBeforeRemoteCall(t *testing.T) {
	client := &fakeClient{}
	store := newTestStore(client)

	rec := validRecord("r1", "user-a", IndexSemantic)
	rec.Values = make([]float32, 512) // visual-sized vector into semantic index

	err := store.UpsertOne(context.Background(), IndexSemantic, rec)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Empty(t, client.upserts, "remote index must not be called")
}

func TestUpsertOneRequiresOwner(t *testing.T) {
	client := &fakeClient{}
	store := newTestStore(client)

	rec := validRecord("r1", "", IndexSemantic)
	delete(rec.Metadata, MetadataOwnerID)

	err := store.UpsertOne(context.Background(), IndexSemantic, rec)
	assert.ErrorIs(t, err, ErrInvalidRecord)
	assert.Empty(t, client.upserts)
}

func TestUpsertOneWritesToCorrectCollection(t *testing.T) {
	client := &fakeClient{}
	store := newTestStore(client)

	require.NoError(t, store.UpsertOne(context.Background(), IndexVisual, validRecord("p1", "user-a", IndexVisual)))
	require.Len(t, client.upserts, 1)
	assert.Equal(t, "visual_records", client.upserts[0].CollectionName)
	require.Len(t, client.upserts[0].Points, 1)
	assert.Equal(t, "p1", client.upserts[0].Points[0].Payload["id"].GetStringValue())
}

func TestUpsertOneIdempotentPointID(t *testing.T) {
	client := &fakeClient{}
	store := newTestStore(client)

	require.NoError(t, store.UpsertOne(context.Background(), IndexSemantic, validRecord("rec-1", "user-a", IndexSemantic)))
	require.NoError(t, store.UpsertOne(context.Background(), IndexSemantic, validRecord("rec-1", "user-a", IndexSemantic)))

	first := client.upserts[0].Points[0].Id
	second := client.upserts[1].Points[0].Id
	assert.Equal(t, first.GetUuid(), second.GetUuid(), "same record id must map to same point id")
}

func TestUpsertBatchChunking(t *testing.T) {
	client := &fakeClient{}
	store := newTestStore(client)

	records := make([]Record, 250)
	for i := range records {
		records[i] = validRecord(fmt.Sprintf("r%03d", i), "user-a", IndexSemantic)
	}

	require.NoError(t, store.UpsertBatch(context.Background(), IndexSemantic, records))

	require.Len(t, client.upserts, 3, "250 records must issue exactly 3 calls")
	assert.Len(t, client.upserts[0].Points, 100)
	assert.Len(t, client.upserts[1].Points, 100)
	assert.Len(t, client.upserts[2].Points, 50)

	// Original order preserved across chunks.
	assert.Equal(t, "r000", client.upserts[0].Points[0].Payload["id"].GetStringValue())
	assert.Equal(t, "r100", client.upserts[1].Points[0].Payload["id"].GetStringValue())
	assert.Equal(t, "r249", client.upserts[2].Points[49].Payload["id"].GetStringValue())
}

func TestUpsertBatchPartialFailure(t *testing.T) {
	permanent := status.Error(grpccodes.InvalidArgument, "bad payload")
	client := &fakeClient{upsertErrs: []error{nil, permanent}}
	store := newTestStore(client)

	records := make([]Record, 250)
	for i := range records {
		records[i] = validRecord(fmt.Sprintf("r%03d", i), "user-a", IndexSemantic)
	}

	err := store.UpsertBatch(context.Background(), IndexSemantic, records)
	require.Error(t, err)

	var batchErr *PartialBatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, 100, batchErr.Committed)
	assert.Equal(t, 1, batchErr.FailedChunk)
	assert.Equal(t, 3, batchErr.TotalChunks)

	// The unsent third chunk must not be attempted.
	assert.Len(t, client.upserts, 2)
}

func TestUpsertBatchValidatesAllBeforeAnyCall(t *testing.T) {
	client := &fakeClient{}
	store := newTestStore(client)

	records := []Record{
		validRecord("ok", "user-a", IndexSemantic),
		{ID: "bad", Values: make([]float32, 3), Metadata: map[string]interface{}{MetadataOwnerID: "user-a"}},
	}

	err := store.UpsertBatch(context.Background(), IndexSemantic, records)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Empty(t, client.upserts)
}

func TestUpsertBatchEmpty(t *testing.T) {
	store := newTestStore(&fakeClient{})
	assert.ErrorIs(t, store.UpsertBatch(context.Background(), IndexSemantic, nil), ErrEmptyBatch)
}

func TestQueryEmptyOwnerScopeFailsClosed(t *testing.T) {
	client := &fakeClient{}
	store := newTestStore(client)

	_, err := store.Query(context.Background(), IndexSemantic, make([]float32, 1024), 10, nil, Owners(nil))
	assert.ErrorIs(t, err, ErrEmptyOwnerScope)
	assert.Empty(t, client.queries)
}

func TestQueryDimensionMismatch(t *testing.T) {
	client := &fakeClient{}
	store := newTestStore(client)

	_, err := store.Query(context.Background(), IndexVisual, make([]float32, 1024), 10, nil, SingleOwner("user-a"))
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Empty(t, client.queries)
}

func TestQueryOwnerScopeConditions(t *testing.T) {
	client := &fakeClient{}
	store := newTestStore(client)
	ctx := context.Background()

	_, err := store.Query(ctx, IndexSemantic, make([]float32, 1024), 5, nil, SingleOwner("user-a"))
	require.NoError(t, err)

	_, err = store.Query(ctx, IndexSemantic, make([]float32, 1024), 5, nil, Owners([]string{"user-a", "user-b"}))
	require.NoError(t, err)

	require.Len(t, client.queries, 2)

	single := client.queries[0].Filter.Must
	require.Len(t, single, 1)
	assert.Equal(t, MetadataOwnerID, single[0].GetField().Key)
	assert.Equal(t, "user-a", single[0].GetField().Match.GetKeyword())

	multi := client.queries[1].Filter.Must
	require.Len(t, multi, 1)
	assert.Equal(t, []string{"user-a", "user-b"}, multi[0].GetField().Match.GetKeywords().Strings)
}

func TestQueryAppliesCallerFilter(t *testing.T) {
	client := &fakeClient{}
	store := newTestStore(client)

	gte := float64(1700000000)
	filter := NewFilter().
		Eq(MetadataType, "location").
		Range("timestamp", &gte, nil)

	_, err := store.Query(context.Background(), IndexSemantic, make([]float32, 1024), 5, filter, SingleOwner("user-a"))
	require.NoError(t, err)

	must := client.queries[0].Filter.Must
	require.Len(t, must, 3) // owner scope + two caller constraints
	assert.Equal(t, "location", must[1].GetField().Match.GetKeyword())
	require.NotNil(t, must[2].GetField().Range)
	assert.Equal(t, gte, *must[2].GetField().Range.Gte)
	assert.Nil(t, must[2].GetField().Range.Lte)
}

func TestQueryConvertsResults(t *testing.T) {
	client := &fakeClient{
		queryResult: []*qdrant.ScoredPoint{
			{
				Score: 0.91,
				Payload: map[string]*qdrant.Value{
					"id":            {Kind: &qdrant.Value_StringValue{StringValue: "rec-7"}},
					MetadataOwnerID: {Kind: &qdrant.Value_StringValue{StringValue: "user-a"}},
					"timestamp":     {Kind: &qdrant.Value_IntegerValue{IntegerValue: 1700000000}},
					MetadataParticipants: {Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{
						Values: []*qdrant.Value{
							{Kind: &qdrant.Value_StringValue{StringValue: "user-a"}},
							{Kind: &qdrant.Value_StringValue{StringValue: "user-b"}},
						},
					}}},
				},
			},
		},
	}
	store := newTestStore(client)

	matches, err := store.Query(context.Background(), IndexSemantic, make([]float32, 1024), 5, nil, SingleOwner("user-a"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	assert.Equal(t, "rec-7", matches[0].ID)
	assert.Equal(t, float32(0.91), matches[0].Score)
	assert.Equal(t, int64(1700000000), matches[0].Metadata["timestamp"])
	assert.Equal(t, []string{"user-a", "user-b"}, matches[0].Metadata[MetadataParticipants])
}

func TestQueryByParticipants(t *testing.T) {
	client := &fakeClient{}
	store := newTestStore(client)

	_, err := store.QueryByParticipants(context.Background(), make([]float32, 1024), 5,
		[]string{"user-a", "user-b"}, NewFilter().Eq("activity", "hiking"))
	require.NoError(t, err)

	require.Len(t, client.queries, 1)
	assert.Equal(t, "semantic_records", client.queries[0].CollectionName)

	must := client.queries[0].Filter.Must
	require.Len(t, must, 3)
	assert.Equal(t, RecordTypeSharedActivity, must[0].GetField().Match.GetKeyword())
	assert.Equal(t, MetadataParticipants, must[1].GetField().Key)
	assert.Equal(t, []string{"user-a", "user-b"}, must[1].GetField().Match.GetKeywords().Strings)
	assert.Equal(t, "hiking", must[2].GetField().Match.GetKeyword())
}

func TestQueryByParticipantsEmptyIdentities(t *testing.T) {
	client := &fakeClient{}
	store := newTestStore(client)

	_, err := store.QueryByParticipants(context.Background(), make([]float32, 1024), 5, nil, nil)
	assert.ErrorIs(t, err, ErrEmptyOwnerScope)
	assert.Empty(t, client.queries)
}

func TestDeleteOne(t *testing.T) {
	client := &fakeClient{}
	store := newTestStore(client)

	require.NoError(t, store.DeleteOne(context.Background(), IndexSemantic, "rec-1"))
	require.Len(t, client.deletes, 1)

	cond := client.deletes[0].Points.GetFilter().Must[0]
	assert.Equal(t, "id", cond.GetField().Key)
	assert.Equal(t, "rec-1", cond.GetField().Match.GetKeyword())
}

func TestDeleteAllForOwner(t *testing.T) {
	client := &fakeClient{}
	store := newTestStore(client)

	require.NoError(t, store.DeleteAllForOwner(context.Background(), IndexVisual, "user-a"))
	require.Len(t, client.deletes, 1)
	assert.Equal(t, "visual_records", client.deletes[0].CollectionName)

	cond := client.deletes[0].Points.GetFilter().Must[0]
	assert.Equal(t, MetadataOwnerID, cond.GetField().Key)
	assert.Equal(t, "user-a", cond.GetField().Match.GetKeyword())
}

func TestRetryTransientThenSucceed(t *testing.T) {
	transient := status.Error(grpccodes.Unavailable, "index restarting")
	client := &fakeClient{upsertErrs: []error{transient, transient, nil}}
	store := newTestStore(client)

	err := store.UpsertOne(context.Background(), IndexSemantic, validRecord("r1", "user-a", IndexSemantic))
	require.NoError(t, err)
	assert.Len(t, client.upserts, 3)
}

func TestRetryPermanentFailsFast(t *testing.T) {
	permanent := status.Error(grpccodes.PermissionDenied, "nope")
	client := &fakeClient{upsertErrs: []error{permanent}}
	store := newTestStore(client)

	err := store.UpsertOne(context.Background(), IndexSemantic, validRecord("r1", "user-a", IndexSemantic))
	require.Error(t, err)
	assert.Len(t, client.upserts, 1, "permanent errors must not retry")
}

func TestIsTransientError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"unavailable", status.Error(grpccodes.Unavailable, "x"), true},
		{"deadline", status.Error(grpccodes.DeadlineExceeded, "x"), true},
		{"resource exhausted", status.Error(grpccodes.ResourceExhausted, "x"), true},
		{"invalid argument", status.Error(grpccodes.InvalidArgument, "x"), false},
		{"not found", status.Error(grpccodes.NotFound, "x"), false},
		{"plain error", errors.New("x"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransientError(tt.err))
		})
	}
}

func TestStats(t *testing.T) {
	count := uint64(42)
	client := &fakeClient{info: &qdrant.CollectionInfo{PointsCount: &count}}
	store := newTestStore(client)

	stats, err := store.Stats(context.Background(), IndexSemantic)
	require.NoError(t, err)
	assert.Equal(t, 42, stats.PointCount)
	assert.Equal(t, 1024, stats.Dimension)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing host", func(c *Config) { c.Host = "" }},
		{"bad port", func(c *Config) { c.Port = -1 }},
		{"bad collection name", func(c *Config) { c.SemanticCollection = "Nope Spaces" }},
		{"identical collections", func(c *Config) { c.VisualCollection = c.SemanticCollection }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Config{Host: "localhost"}
			cfg.ApplyDefaults()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
}
