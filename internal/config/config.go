// Package config provides configuration loading for recalld.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/fyrsmithlabs/recalld/internal/logging"
)

// ErrInvalidConfig indicates invalid configuration.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the root configuration.
type Config struct {
	Logging    logging.Config  `koanf:"logging"`
	Telemetry  TelemetryConfig `koanf:"telemetry"`
	Embeddings EmbeddingConfig `koanf:"embeddings"`
	Qdrant     QdrantConfig    `koanf:"qdrant"`
	Firestore  FirestoreConfig `koanf:"firestore"`
	Retrieval  RetrievalConfig `koanf:"retrieval"`
}

// TelemetryConfig configures the OTEL exporter.
type TelemetryConfig struct {
	Enabled     bool   `koanf:"enabled"`
	Endpoint    string `koanf:"endpoint"`
	ServiceName string `koanf:"service_name"`
}

// EmbeddingConfig configures the remote embedding provider.
type EmbeddingConfig struct {
	BaseURL       string        `koanf:"base_url"`
	APIKey        string        `koanf:"api_key"`
	Model         string        `koanf:"model"`
	Dimensions    int           `koanf:"dimensions"`
	CacheCapacity int           `koanf:"cache_capacity"`
	Timeout       time.Duration `koanf:"timeout"`
}

// QdrantConfig configures the vector index connection.
type QdrantConfig struct {
	Host               string `koanf:"host"`
	Port               int    `koanf:"port"`
	UseTLS             bool   `koanf:"use_tls"`
	SemanticCollection string `koanf:"semantic_collection"`
	VisualCollection   string `koanf:"visual_collection"`
}

// FirestoreConfig configures the relationship settings store.
type FirestoreConfig struct {
	ProjectID  string `koanf:"project_id"`
	Database   string `koanf:"database"`
	Collection string `koanf:"collection"`
}

// RetrievalConfig configures the orchestrator.
type RetrievalConfig struct {
	DefaultTopK int `koanf:"default_top_k"`
	MaxInFlight int `koanf:"max_in_flight"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	c.Logging.ApplyDefaults()
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "recalld"
	}
	if c.Embeddings.Model == "" {
		c.Embeddings.Model = "text-embedding-3-large"
	}
	if c.Embeddings.Dimensions == 0 {
		c.Embeddings.Dimensions = 1024
	}
	if c.Qdrant.Host == "" {
		c.Qdrant.Host = "localhost"
	}
	if c.Qdrant.Port == 0 {
		c.Qdrant.Port = 6334
	}
	if c.Firestore.Database == "" {
		c.Firestore.Database = "(default)"
	}
	if c.Retrieval.DefaultTopK == 0 {
		c.Retrieval.DefaultTopK = 10
	}
	if c.Retrieval.MaxInFlight == 0 {
		c.Retrieval.MaxInFlight = 50
	}
}

// Validate validates cross-section requirements. Per-component configs do
// their own deeper validation at construction.
func (c Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return err
	}
	if c.Embeddings.BaseURL == "" {
		return fmt.Errorf("%w: embeddings.base_url required", ErrInvalidConfig)
	}
	if c.Firestore.ProjectID == "" {
		return fmt.Errorf("%w: firestore.project_id required", ErrInvalidConfig)
	}
	return nil
}

// Load loads configuration from an optional YAML file, then overrides with
// RECALLD_-prefixed environment variables.
//
// Precedence (highest to lowest): environment, YAML file, defaults.
// RECALLD_EMBEDDINGS_API_KEY maps to embeddings.api_key, and so on.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath != "" {
		content, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// Sections are single words, so only the first underscore separates the
	// section from the field: RECALLD_EMBEDDINGS_API_KEY -> embeddings.api_key.
	if err := k.Load(env.Provider("RECALLD_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "RECALLD_")), "_", ".", 1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
