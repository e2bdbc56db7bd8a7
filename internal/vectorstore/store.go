package vectorstore

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// collectionNamePattern validates collection names.
// Pattern: lowercase letters, numbers, underscores, 1-64 characters.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// Config holds configuration for the Qdrant-backed dual-index store.
type Config struct {
	// Host is the Qdrant server hostname or IP address.
	Host string

	// Port is the Qdrant gRPC port (not the HTTP REST port).
	// Default: 6334
	Port int

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// SemanticCollection names the 1024-dim collection.
	// Default: "semantic_records"
	SemanticCollection string

	// VisualCollection names the 512-dim collection.
	// Default: "visual_records"
	VisualCollection string

	// MaxRetries bounds retry attempts for transient failures. Default: 3.
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled per retry. Default: 1s.
	RetryBackoff time.Duration

	// MaxMessageSize is the maximum gRPC message size in bytes. Default: 50MB.
	MaxMessageSize int

	// UpsertChunksPerSecond paces sequential batch chunks against provider
	// rate limits. Default: 5.
	UpsertChunksPerSecond float64
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	for _, name := range []string{c.SemanticCollection, c.VisualCollection} {
		if !collectionNamePattern.MatchString(name) {
			return fmt.Errorf("%w: collection name must match ^[a-z0-9_]{1,64}$, got %q", ErrInvalidConfig, name)
		}
	}
	if c.SemanticCollection == c.VisualCollection {
		return fmt.Errorf("%w: semantic and visual collections must differ", ErrInvalidConfig)
	}
	return nil
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.SemanticCollection == "" {
		c.SemanticCollection = "semantic_records"
	}
	if c.VisualCollection == "" {
		c.VisualCollection = "visual_records"
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxMessageSize == 0 {
		c.MaxMessageSize = 50 * 1024 * 1024
	}
	if c.UpsertChunksPerSecond == 0 {
		c.UpsertChunksPerSecond = 5
	}
}

// pointsClient is the subset of the Qdrant client the store uses.
// Narrowed to an interface so tests can inject fakes.
type pointsClient interface {
	Upsert(ctx context.Context, req *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, req *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Delete(ctx context.Context, req *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	CreateCollection(ctx context.Context, req *qdrant.CreateCollection) error
	GetCollectionInfo(ctx context.Context, collectionName string) (*qdrant.CollectionInfo, error)
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	Close() error
}

// Store manages upserts, queries, and deletes against the two indices.
type Store struct {
	client  pointsClient
	config  Config
	logger  *zap.Logger
	limiter *rate.Limiter

	// collections caches collection existence to avoid repeated checks.
	collections sync.Map
}

// NewStore connects to Qdrant, verifies health, and ensures both collections
// exist with their declared dimensionality.
func NewStore(ctx context.Context, config Config, logger *zap.Logger) (*Store, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(config.MaxMessageSize),
				grpc.MaxCallSendMsgSize(config.MaxMessageSize),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}

	store := newStoreWithClient(client, config, logger)

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := store.client.HealthCheck(healthCtx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("health check failed: %w", err)
	}

	for _, index := range []Index{IndexSemantic, IndexVisual} {
		if err := store.ensureCollection(ctx, index); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("ensuring %s collection: %w", index, err)
		}
	}

	return store, nil
}

// newStoreWithClient wires a store around an existing client. Used by tests.
func newStoreWithClient(client pointsClient, config Config, logger *zap.Logger) *Store {
	config.ApplyDefaults()
	return &Store{
		client:  client,
		config:  config,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(config.UpsertChunksPerSecond), 1),
	}
}

// Close closes the gRPC connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// collectionFor maps an index to its backing collection name.
func (s *Store) collectionFor(index Index) string {
	if index == IndexVisual {
		return s.config.VisualCollection
	}
	return s.config.SemanticCollection
}

// ensureCollection creates the index's collection if it does not exist.
func (s *Store) ensureCollection(ctx context.Context, index Index) error {
	name := s.collectionFor(index)
	if _, ok := s.collections.Load(name); ok {
		return nil
	}

	_, err := s.client.GetCollectionInfo(ctx, name)
	if err == nil {
		s.collections.Store(name, true)
		return nil
	}
	if st, ok := status.FromError(err); !ok || st.Code() != grpccodes.NotFound {
		return fmt.Errorf("checking collection %s: %w", name, err)
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(index.Dimension()),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", name, err)
	}

	s.logger.Info("created vector collection",
		zap.String("collection", name),
		zap.Int("dimension", index.Dimension()))
	s.collections.Store(name, true)
	return nil
}

// Stats returns point count and dimensionality for an index.
func (s *Store) Stats(ctx context.Context, index Index) (*IndexStats, error) {
	if !index.valid() {
		return nil, fmt.Errorf("%w: unknown index %q", ErrInvalidConfig, index)
	}

	var info *qdrant.CollectionInfo
	err := s.retryOperation(ctx, "get_collection_info", func() error {
		res, err := s.client.GetCollectionInfo(ctx, s.collectionFor(index))
		if err != nil {
			return err
		}
		info = res
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("getting stats for %s: %w", index, err)
	}

	pointCount := 0
	if info.PointsCount != nil {
		pointCount = int(*info.PointsCount)
	}
	return &IndexStats{
		Index:      index,
		PointCount: pointCount,
		Dimension:  index.Dimension(),
	}, nil
}
