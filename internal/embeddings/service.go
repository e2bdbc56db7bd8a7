// Package embeddings provides remote embedding generation with a bounded
// local cache and usage metering.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/metering"
)

var (
	// ErrInvalidConfig indicates invalid or missing configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrEmptyInput indicates empty or nil input texts.
	ErrEmptyInput = errors.New("empty or nil input texts")

	// ErrEmbeddingFailed indicates a remote embedding call failure.
	ErrEmbeddingFailed = errors.New("embedding generation failed")
)

// defaultCacheCapacity bounds the single-item embedding cache.
const defaultCacheCapacity = 1000

// Config holds configuration for the embedding service.
type Config struct {
	// BaseURL is the base URL of the embeddings endpoint.
	BaseURL string

	// APIKey authenticates against the provider. Required; a missing key is
	// a construction-time error, not a per-call one.
	APIKey string

	// Model is the embedding model to use.
	Model string

	// Dimensions is the requested output dimensionality.
	Dimensions int

	// CacheCapacity bounds the local cache. Default: 1000 entries.
	CacheCapacity int

	// Timeout is the per-request HTTP timeout. Default: 30s.
	Timeout time.Duration
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("%w: base URL required", ErrInvalidConfig)
	}
	if c.APIKey == "" {
		return fmt.Errorf("%w: API key required", ErrInvalidConfig)
	}
	if c.Model == "" {
		return fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if c.Dimensions <= 0 {
		return fmt.Errorf("%w: dimensions must be positive", ErrInvalidConfig)
	}
	return nil
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.CacheCapacity == 0 {
		c.CacheCapacity = defaultCacheCapacity
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// Service generates embeddings via a remote model.
//
// Single-item calls are cached by exact text; batch calls bypass the cache
// and preserve input order. Remote failures propagate unmodified; no retry
// happens here — retry policy, if any, belongs to the caller.
type Service struct {
	config   Config
	client   *http.Client
	cache    *vectorCache
	metering *metering.Recorder
	logger   *zap.Logger
}

// NewService creates an embedding service. Missing credentials fail here,
// not on first use.
func NewService(config Config, recorder *metering.Recorder, logger *zap.Logger) (*Service, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		config:   config,
		client:   &http.Client{Timeout: config.Timeout},
		cache:    newVectorCache(config.CacheCapacity),
		metering: recorder,
		logger:   logger,
	}, nil
}

// Dimension returns the configured output dimensionality.
func (s *Service) Dimension() int {
	return s.config.Dimensions
}

// embeddingRequest is the request body for the embeddings endpoint.
type embeddingRequest struct {
	Input      interface{} `json:"input"`
	Model      string      `json:"model"`
	Dimensions int         `json:"dimensions,omitempty"`
	User       string      `json:"user,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		TotalTokens int64 `json:"total_tokens"`
	} `json:"usage"`
}

// Embed generates an embedding for a single text.
//
// The endpoint label attributes usage metering to a feature; it does not
// change behavior. Cache hits return the stored vector and issue no remote
// call and no metering.
func (s *Service) Embed(ctx context.Context, text, userID, endpoint string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("%w: text cannot be empty", ErrEmptyInput)
	}

	key := cacheKey(text)
	if vector, ok := s.cache.get(key); ok {
		return vector, nil
	}

	vectors, usage, err := s.call(ctx, text, userID)
	if err != nil {
		s.metering.RecordError(ctx, "embed", endpoint)
		return nil, err
	}
	if len(vectors) == 0 {
		s.metering.RecordError(ctx, "embed", endpoint)
		return nil, fmt.Errorf("%w: empty response", ErrEmbeddingFailed)
	}

	s.metering.RecordUsage(ctx, userID, "embed", endpoint, usage)
	s.cache.put(key, vectors[0])
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts in input order.
// Batch calls bypass the single-item cache.
func (s *Service) EmbedBatch(ctx context.Context, texts []string, userID, endpoint string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("%w: texts cannot be empty", ErrEmptyInput)
	}
	for i, text := range texts {
		if text == "" {
			return nil, fmt.Errorf("%w: text at index %d is empty", ErrEmptyInput, i)
		}
	}

	vectors, usage, err := s.call(ctx, texts, userID)
	if err != nil {
		s.metering.RecordError(ctx, "embed_batch", endpoint)
		return nil, err
	}
	if len(vectors) != len(texts) {
		s.metering.RecordError(ctx, "embed_batch", endpoint)
		return nil, fmt.Errorf("%w: got %d embeddings for %d texts", ErrEmbeddingFailed, len(vectors), len(texts))
	}

	s.metering.RecordUsage(ctx, userID, "embed_batch", endpoint, usage)
	return vectors, nil
}

// call issues one request against the embeddings endpoint. input is either a
// string or a []string. Results are ordered by the response index field.
func (s *Service) call(ctx context.Context, input interface{}, userID string) ([][]float32, int64, error) {
	req := embeddingRequest{
		Input:      input,
		Model:      s.config.Model,
		Dimensions: s.config.Dimensions,
		User:       userID,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, 0, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", s.config.BaseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, 0, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+s.config.APIKey)

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		// Over-length input surfaces here as the provider's error, never
		// silently truncated.
		return nil, 0, fmt.Errorf("%w: status %d: %s", ErrEmbeddingFailed, resp.StatusCode, string(respBody))
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, 0, fmt.Errorf("decoding response: %w", err)
	}

	vectors := make([][]float32, len(parsed.Data))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(vectors) {
			return nil, 0, fmt.Errorf("%w: embedding index %d out of range", ErrEmbeddingFailed, d.Index)
		}
		vectors[d.Index] = d.Embedding
	}
	return vectors, parsed.Usage.TotalTokens, nil
}
