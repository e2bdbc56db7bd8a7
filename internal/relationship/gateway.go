// Package relationship fetches per-relationship privacy settings from the
// document store.
package relationship

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"cloud.google.com/go/firestore"
	"go.uber.org/zap"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/recalld/internal/privacy"
)

// ErrInvalidConfig indicates invalid gateway configuration.
var ErrInvalidConfig = errors.New("invalid configuration")

// defaultMaxInFlight bounds the per-counterpart fetch fan-out. Unbounded
// fan-out is the scaling hazard for very large counterpart sets.
const defaultMaxInFlight = 50

// SettingsFetcher reads one relationship's settings document.
//
// Returns (nil, nil) when no relationship record exists for the pair;
// absence is a distinct outcome from a fetch error.
type SettingsFetcher interface {
	Fetch(ctx context.Context, ownerID, counterpartID string) (*privacy.RelationshipPrivacySettings, error)
}

// Result is the outcome of a batch settings fetch.
//
// Settings holds the counterparts that had a stored relationship document.
// Failed lists counterparts whose fetch errored; they are distinct from
// never-configured counterparts, which are simply absent from Settings.
// Callers must treat both absence and failure as "no permission".
type Result struct {
	Settings map[string]privacy.RelationshipPrivacySettings
	Failed   []string
}

// Gateway batch-fetches relationship privacy settings with bounded fan-out.
type Gateway struct {
	fetcher     SettingsFetcher
	maxInFlight int
	logger      *zap.Logger
}

// Config holds configuration for the Firestore-backed gateway.
type Config struct {
	// Collection is the Firestore collection holding relationship documents.
	// Default: "relationship_privacy"
	Collection string

	// MaxInFlight bounds concurrent fetches. Default: 50.
	MaxInFlight int
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "relationship_privacy"
	}
	if c.MaxInFlight == 0 {
		c.MaxInFlight = defaultMaxInFlight
	}
}

// NewGateway creates a gateway over a Firestore client.
func NewGateway(client *firestore.Client, config Config, logger *zap.Logger) (*Gateway, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: firestore client required", ErrInvalidConfig)
	}
	config.ApplyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gateway{
		fetcher:     &firestoreFetcher{client: client, collection: config.Collection},
		maxInFlight: config.MaxInFlight,
		logger:      logger,
	}, nil
}

// newGatewayWithFetcher wires a gateway around any fetcher. Used by tests.
func newGatewayWithFetcher(fetcher SettingsFetcher, maxInFlight int, logger *zap.Logger) *Gateway {
	if maxInFlight <= 0 {
		maxInFlight = defaultMaxInFlight
	}
	return &Gateway{fetcher: fetcher, maxInFlight: maxInFlight, logger: logger}
}

// FetchSettingsFor fetches settings for each counterpart concurrently and
// joins when all complete. A counterpart with no stored relationship record
// is absent from the returned map. A counterpart whose fetch fails lands in
// Failed and is logged; it is never silently treated as configured.
func (g *Gateway) FetchSettingsFor(ctx context.Context, ownerID string, counterpartIDs []string) (Result, error) {
	result := Result{
		Settings: make(map[string]privacy.RelationshipPrivacySettings, len(counterpartIDs)),
	}
	if ownerID == "" {
		return result, fmt.Errorf("%w: owner id required", ErrInvalidConfig)
	}
	if len(counterpartIDs) == 0 {
		return result, nil
	}

	var (
		mu  sync.Mutex
		wg  sync.WaitGroup
		sem = make(chan struct{}, g.maxInFlight)
	)

	for _, counterpartID := range counterpartIDs {
		wg.Add(1)
		go func(counterpartID string) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				mu.Lock()
				result.Failed = append(result.Failed, counterpartID)
				mu.Unlock()
				return
			}

			settings, err := g.fetcher.Fetch(ctx, ownerID, counterpartID)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				// Excluded from scope either way, but a transient error is
				// not the same as a never-configured relationship.
				g.logger.Warn("relationship settings fetch failed",
					zap.String("owner_id", ownerID),
					zap.String("counterpart_id", counterpartID),
					zap.Error(err))
				result.Failed = append(result.Failed, counterpartID)
			case settings != nil:
				result.Settings[counterpartID] = *settings
			}
		}(counterpartID)
	}

	wg.Wait()
	return result, nil
}

// firestoreFetcher reads relationship documents keyed owner__counterpart.
type firestoreFetcher struct {
	client     *firestore.Client
	collection string
}

func (f *firestoreFetcher) Fetch(ctx context.Context, ownerID, counterpartID string) (*privacy.RelationshipPrivacySettings, error) {
	docID := fmt.Sprintf("%s__%s", ownerID, counterpartID)
	snap, err := f.client.Collection(f.collection).Doc(docID).Get(ctx)
	if err != nil {
		if status.Code(err) == grpccodes.NotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("fetching relationship %s: %w", docID, err)
	}

	var settings privacy.RelationshipPrivacySettings
	if err := snap.DataTo(&settings); err != nil {
		return nil, fmt.Errorf("decoding relationship %s: %w", docID, err)
	}
	return &settings, nil
}
