// Package retrieval answers "find records semantically similar to X that
// identity U is permitted to see".
//
// Privacy is enforced here, before the vector store is ever queried: the
// orchestrator resolves the permitted owner scope per data category and only
// then issues scoped queries. The store itself never widens a scope.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/privacy"
	"github.com/fyrsmithlabs/recalld/internal/relationship"
	"github.com/fyrsmithlabs/recalld/internal/vectorstore"
)

var (
	// ErrInvalidRequest indicates a malformed retrieval request.
	ErrInvalidRequest = errors.New("invalid retrieval request")
)

// defaultTopK is used when a request does not specify a result count.
const defaultTopK = 10

// Embedder turns query text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text, userID, endpoint string) ([]float32, error)
}

// Searcher issues scoped similarity queries.
type Searcher interface {
	Query(ctx context.Context, index vectorstore.Index, queryVector []float32, topK int, filter *vectorstore.Filter, scope vectorstore.OwnerScope) ([]vectorstore.Match, error)
}

// SettingsFetcher batch-fetches per-relationship privacy settings.
type SettingsFetcher interface {
	FetchSettingsFor(ctx context.Context, ownerID string, counterpartIDs []string) (relationship.Result, error)
}

// Request describes one retrieval.
//
// With no counterparts the request searches only the requester's own data.
// With counterparts, Circle must be set; each counterpart's records are
// visible only for categories its effective policy permits.
type Request struct {
	// RequesterID is the identity asking.
	RequesterID string

	// Query is the natural-language query text.
	Query string

	// TopK bounds the merged result count. Default: 10.
	TopK int

	// Categories restricts the search to specific data categories.
	// Empty means all categories.
	Categories []privacy.Category

	// Filter is an extra caller-supplied metadata conjunction.
	Filter *vectorstore.Filter

	// Circle is the group sharing policy; required when Counterparts is set.
	Circle *privacy.CircleSharingPolicy

	// Counterparts are the other identities whose data the requester wants
	// included, subject to policy.
	Counterparts []string

	// Endpoint labels usage metering attribution.
	Endpoint string
}

// Grant explains what one counterpart's effective policy yielded.
type Grant struct {
	// Allowed are the categories the effective policy permits.
	Allowed []privacy.Category

	// Restricted are categories the circle would allow but the relationship
	// setting forbids. Explanatory only.
	Restricted []privacy.Category
}

// Result is a ranked result set plus the policy decisions behind it.
type Result struct {
	// Matches descend by similarity score, truncated to TopK.
	Matches []vectorstore.Match

	// Grants maps counterpart id to its policy outcome. Counterparts with no
	// stored relationship settings are absent.
	Grants map[string]Grant

	// FailedCounterparts lists counterparts whose settings fetch errored.
	// They were excluded from every owner scope.
	FailedCounterparts []string
}

// Orchestrator composes the embedding provider, the privacy engine, the
// settings gateway, and the vector store.
type Orchestrator struct {
	embedder Embedder
	searcher Searcher
	settings SettingsFetcher
	logger   *zap.Logger
}

// NewOrchestrator wires an orchestrator from its collaborators.
func NewOrchestrator(embedder Embedder, searcher Searcher, settings SettingsFetcher, logger *zap.Logger) (*Orchestrator, error) {
	if embedder == nil || searcher == nil || settings == nil {
		return nil, fmt.Errorf("%w: embedder, searcher, and settings fetcher required", ErrInvalidRequest)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		embedder: embedder,
		searcher: searcher,
		settings: settings,
		logger:   logger,
	}, nil
}

func (r Request) validate() error {
	if r.RequesterID == "" {
		return fmt.Errorf("%w: requester id required", ErrInvalidRequest)
	}
	if r.Query == "" {
		return fmt.Errorf("%w: query required", ErrInvalidRequest)
	}
	if len(r.Counterparts) > 0 && r.Circle == nil {
		return fmt.Errorf("%w: circle policy required for multi-owner retrieval", ErrInvalidRequest)
	}
	for _, c := range r.Categories {
		if len(privacy.RecordTypesForCategory(c)) == 0 {
			return fmt.Errorf("%w: unknown category %q", ErrInvalidRequest, c)
		}
	}
	return nil
}

// Retrieve runs one retrieval.
//
// Embedding and vector-query failures abort the retrieval. A failed
// settings fetch only excludes that counterpart (fail-closed); it never
// fails the request and never defaults to inclusion.
func (o *Orchestrator) Retrieve(ctx context.Context, req Request) (*Result, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	topK := req.TopK
	if topK <= 0 {
		topK = defaultTopK
	}

	queryVector, err := o.embedder.Embed(ctx, req.Query, req.RequesterID, req.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	if len(req.Counterparts) == 0 {
		return o.retrieveSingleOwner(ctx, req, queryVector, topK)
	}
	return o.retrieveMultiOwner(ctx, req, queryVector, topK)
}

// retrieveSingleOwner searches only the requester's own records. No policy
// computation is needed.
func (o *Orchestrator) retrieveSingleOwner(ctx context.Context, req Request, queryVector []float32, topK int) (*Result, error) {
	filter := req.Filter
	if len(req.Categories) > 0 {
		filter = cloneFilter(req.Filter).In(vectorstore.MetadataType, recordTypes(req.Categories))
	}

	matches, err := o.searcher.Query(ctx, vectorstore.IndexSemantic, queryVector, topK, filter, vectorstore.SingleOwner(req.RequesterID))
	if err != nil {
		return nil, fmt.Errorf("querying own records: %w", err)
	}
	return &Result{Matches: matches}, nil
}

// retrieveMultiOwner resolves per-category owner scopes from the circle
// policy intersected with each counterpart's relationship settings, then
// issues one scoped query per distinct owner set.
func (o *Orchestrator) retrieveMultiOwner(ctx context.Context, req Request, queryVector []float32, topK int) (*Result, error) {
	fetched, err := o.settings.FetchSettingsFor(ctx, req.RequesterID, req.Counterparts)
	if err != nil {
		return nil, fmt.Errorf("fetching relationship settings: %w", err)
	}

	grants := make(map[string]Grant, len(fetched.Settings))
	effective := make(map[string]privacy.EffectiveSharingPolicy, len(fetched.Settings))
	for counterpartID, settings := range fetched.Settings {
		policy := privacy.EffectiveSharing(*req.Circle, settings)
		effective[counterpartID] = policy
		grants[counterpartID] = Grant{
			Allowed:    policy.AllowedCategories(),
			Restricted: privacy.RestrictedCategories(*req.Circle, settings),
		}
	}

	categories := req.Categories
	if len(categories) == 0 {
		categories = privacy.Categories()
	}

	// Owner set per category: the requester always sees their own data; a
	// counterpart joins only where its effective policy permits. Missing or
	// failed settings mean the counterpart joins nothing.
	ownersByCategory := make(map[privacy.Category][]string, len(categories))
	for _, category := range categories {
		owners := []string{req.RequesterID}
		for _, counterpartID := range req.Counterparts {
			if policy, ok := effective[counterpartID]; ok && policy.Allows(category) {
				owners = append(owners, counterpartID)
			}
		}
		ownersByCategory[category] = owners
	}

	// One query per distinct owner set. Categories whose policies agree
	// collapse into a single call.
	groups := groupByOwnerSet(categories, ownersByCategory)

	var merged []vectorstore.Match
	for _, group := range groups {
		filter := cloneFilter(req.Filter).In(vectorstore.MetadataType, recordTypes(group.categories))
		matches, err := o.searcher.Query(ctx, vectorstore.IndexSemantic, queryVector, topK, filter, vectorstore.Owners(group.owners))
		if err != nil {
			return nil, fmt.Errorf("querying categories %v: %w", group.categories, err)
		}
		merged = append(merged, matches...)
	}

	// Re-rank across groups and truncate.
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})
	if len(merged) > topK {
		merged = merged[:topK]
	}

	if len(fetched.Failed) > 0 {
		o.logger.Warn("counterparts excluded after settings fetch failure",
			zap.String("requester_id", req.RequesterID),
			zap.Strings("counterpart_ids", fetched.Failed))
	}

	return &Result{
		Matches:            merged,
		Grants:             grants,
		FailedCounterparts: fetched.Failed,
	}, nil
}

type categoryGroup struct {
	categories []privacy.Category
	owners     []string
}

// groupByOwnerSet buckets categories whose permitted owner sets are
// identical, preserving category order within each bucket.
func groupByOwnerSet(categories []privacy.Category, ownersByCategory map[privacy.Category][]string) []categoryGroup {
	index := make(map[string]int)
	var groups []categoryGroup
	for _, category := range categories {
		owners := ownersByCategory[category]
		key := strings.Join(owners, "\x00")
		if i, ok := index[key]; ok {
			groups[i].categories = append(groups[i].categories, category)
			continue
		}
		index[key] = len(groups)
		groups = append(groups, categoryGroup{
			categories: []privacy.Category{category},
			owners:     owners,
		})
	}
	return groups
}

// recordTypes flattens categories to their stored record types.
func recordTypes(categories []privacy.Category) []string {
	var types []string
	for _, c := range categories {
		types = append(types, privacy.RecordTypesForCategory(c)...)
	}
	return types
}

// cloneFilter copies a caller filter so per-group constraints do not leak
// between queries. A nil filter clones to an empty one.
func cloneFilter(f *vectorstore.Filter) *vectorstore.Filter {
	clone := vectorstore.NewFilter()
	if f != nil {
		clone.Merge(f)
	}
	return clone
}
