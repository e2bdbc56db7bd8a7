package embeddings

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:    baseURL,
		APIKey:     "test-key",
		Model:      "test-embedding-model",
		Dimensions: 4,
	}
}

// newEmbedServer returns a server that answers /embeddings with one vector
// per input, and counts requests.
func newEmbedServer(t *testing.T, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		require.Equal(t, "/embeddings", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		var inputs []string
		switch v := req.Input.(type) {
		case string:
			inputs = []string{v}
		case []interface{}:
			for _, s := range v {
				inputs = append(inputs, s.(string))
			}
		}

		resp := map[string]interface{}{
			"usage": map[string]int64{"total_tokens": int64(7 * len(inputs))},
		}
		data := make([]map[string]interface{}, len(inputs))
		for i, text := range inputs {
			data[i] = map[string]interface{}{
				"index":     i,
				"embedding": []float32{float32(len(text)), 1, 2, 3},
			}
		}
		resp["data"] = data
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestNewServiceMissingCredentials(t *testing.T) {
	cfg := testConfig("http://localhost:9999")
	cfg.APIKey = ""

	_, err := NewService(cfg, nil, zap.NewNop())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestNewServiceValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing base URL", func(c *Config) { c.BaseURL = "" }},
		{"missing model", func(c *Config) { c.Model = "" }},
		{"zero dimensions", func(c *Config) { c.Dimensions = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig("http://localhost:9999")
			tt.mutate(&cfg)
			_, err := NewService(cfg, nil, zap.NewNop())
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestEmbedCachesByExactText(t *testing.T) {
	var calls atomic.Int64
	srv := newEmbedServer(t, &calls)
	defer srv.Close()

	svc, err := NewService(testConfig(srv.URL), nil, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	first, err := svc.Embed(ctx, "morning jog", "user-1", "retrieval")
	require.NoError(t, err)

	second, err := svc.Embed(ctx, "morning jog", "user-1", "retrieval")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), calls.Load(), "second call must be served from cache")

	// A different text misses the cache.
	_, err = svc.Embed(ctx, "evening walk", "user-1", "retrieval")
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
}

func TestEmbedEmptyTextRejectedBeforeRemoteCall(t *testing.T) {
	var calls atomic.Int64
	srv := newEmbedServer(t, &calls)
	defer srv.Close()

	svc, err := NewService(testConfig(srv.URL), nil, zap.NewNop())
	require.NoError(t, err)

	_, err = svc.Embed(context.Background(), "", "user-1", "retrieval")
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Equal(t, int64(0), calls.Load())
}

func TestEmbedRemoteErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"input exceeds maximum token limit"}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	svc, err := NewService(testConfig(srv.URL), nil, zap.NewNop())
	require.NoError(t, err)

	_, err = svc.Embed(context.Background(), "some very long text", "user-1", "retrieval")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEmbeddingFailed)
	assert.Contains(t, err.Error(), "token limit")
}

func TestEmbedBatchPreservesInputOrder(t *testing.T) {
	// Server returns results in reverse, keyed by index; the service must
	// reorder them to match inputs.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		inputs := req.Input.([]interface{})

		data := make([]map[string]interface{}, 0, len(inputs))
		for i := len(inputs) - 1; i >= 0; i-- {
			data = append(data, map[string]interface{}{
				"index":     i,
				"embedding": []float32{float32(i), 0, 0, 0},
			})
		}
		resp := map[string]interface{}{
			"data":  data,
			"usage": map[string]int64{"total_tokens": 5},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	svc, err := NewService(testConfig(srv.URL), nil, zap.NewNop())
	require.NoError(t, err)

	texts := []string{"alpha", "beta", "gamma"}
	vectors, err := svc.EmbedBatch(context.Background(), texts, "user-1", "indexing")
	require.NoError(t, err)
	require.Len(t, vectors, 3)
	for i := range texts {
		assert.Equal(t, float32(i), vectors[i][0], "vector %d out of order", i)
	}
}

func TestEmbedBatchBypassesCache(t *testing.T) {
	var calls atomic.Int64
	srv := newEmbedServer(t, &calls)
	defer srv.Close()

	svc, err := NewService(testConfig(srv.URL), nil, zap.NewNop())
	require.NoError(t, err)

	ctx := context.Background()
	_, err = svc.EmbedBatch(ctx, []string{"alpha"}, "user-1", "indexing")
	require.NoError(t, err)
	_, err = svc.EmbedBatch(ctx, []string{"alpha"}, "user-1", "indexing")
	require.NoError(t, err)

	assert.Equal(t, int64(2), calls.Load(), "batch calls must not be cached")
	assert.Equal(t, 0, svc.cache.len(), "batch calls must not populate the cache")
}

func TestEmbedBatchRejectsEmptyElement(t *testing.T) {
	var calls atomic.Int64
	srv := newEmbedServer(t, &calls)
	defer srv.Close()

	svc, err := NewService(testConfig(srv.URL), nil, zap.NewNop())
	require.NoError(t, err)

	_, err = svc.EmbedBatch(context.Background(), []string{"a", ""}, "user-1", "indexing")
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Equal(t, int64(0), calls.Load())
}

func TestEmbedConcurrentAccess(t *testing.T) {
	var calls atomic.Int64
	srv := newEmbedServer(t, &calls)
	defer srv.Close()

	svc, err := NewService(testConfig(srv.URL), nil, zap.NewNop())
	require.NoError(t, err)

	done := make(chan error, 16)
	for i := 0; i < 16; i++ {
		go func(i int) {
			_, err := svc.Embed(context.Background(), fmt.Sprintf("text-%d", i%4), "user-1", "retrieval")
			done <- err
		}(i)
	}
	for i := 0; i < 16; i++ {
		require.NoError(t, <-done)
	}
}
