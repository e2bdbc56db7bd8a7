// Package services wires the process's service instances together.
//
// Every remote client is constructed exactly once at process start and
// passed by reference; nothing in the tree reaches for module-level
// singletons.
package services

import (
	"github.com/fyrsmithlabs/recalld/internal/embeddings"
	"github.com/fyrsmithlabs/recalld/internal/metering"
	"github.com/fyrsmithlabs/recalld/internal/relationship"
	"github.com/fyrsmithlabs/recalld/internal/retrieval"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
)

// Registry provides access to all recalld services.
type Registry interface {
	Embeddings() *embeddings.Service
	VectorStore() *vectorstore.Store
	Relationships() *relationship.Gateway
	Retrieval() *retrieval.Orchestrator
	Metering() *metering.Recorder
}

// Options configures the registry with service instances.
type Options struct {
	Embeddings    *embeddings.Service
	VectorStore   *vectorstore.Store
	Relationships *relationship.Gateway
	Retrieval     *retrieval.Orchestrator
	Metering      *metering.Recorder
}

type registry struct {
	embeddings    *embeddings.Service
	vectorStore   *vectorstore.Store
	relationships *relationship.Gateway
	retrieval     *retrieval.Orchestrator
	metering      *metering.Recorder
}

// NewRegistry creates a new service registry.
func NewRegistry(opts Options) Registry {
	return &registry{
		embeddings:    opts.Embeddings,
		vectorStore:   opts.VectorStore,
		relationships: opts.Relationships,
		retrieval:     opts.Retrieval,
		metering:      opts.Metering,
	}
}

func (r *registry) Embeddings() *embeddings.Service { return r.embeddings }

func (r *registry) VectorStore() *vectorstore.Store { return r.vectorStore }

func (r *registry) Relationships() *relationship.Gateway { return r.relationships }

func (r *registry) Retrieval() *retrieval.Orchestrator { return r.retrieval }

func (r *registry) Metering() *metering.Recorder { return r.metering }
