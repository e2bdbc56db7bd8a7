package relationship

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/privacy"
)

// fakeFetcher serves scripted settings per counterpart and tracks
// concurrency.
type fakeFetcher struct {
	mu       sync.Mutex
	settings map[string]*privacy.RelationshipPrivacySettings
	errs     map[string]error

	inFlight    atomic.Int64
	maxObserved atomic.Int64
}

func (f *fakeFetcher) Fetch(ctx context.Context, _, counterpartID string) (*privacy.RelationshipPrivacySettings, error) {
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		max := f.maxObserved.Load()
		if cur <= max || f.maxObserved.CompareAndSwap(max, cur) {
			break
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[counterpartID]; ok {
		return nil, err
	}
	return f.settings[counterpartID], nil
}

func TestFetchSettingsForAbsentVsFailed(t *testing.T) {
	open := privacy.DefaultRelationshipSettings()
	fetcher := &fakeFetcher{
		settings: map[string]*privacy.RelationshipPrivacySettings{
			"alice": &open,
			// "bob" has no stored relationship: absent, not failed.
		},
		errs: map[string]error{
			"carol": errors.New("deadline exceeded"),
		},
	}
	g := newGatewayWithFetcher(fetcher, 10, zap.NewNop())

	result, err := g.FetchSettingsFor(context.Background(), "owner", []string{"alice", "bob", "carol"})
	require.NoError(t, err)

	assert.Contains(t, result.Settings, "alice")
	assert.NotContains(t, result.Settings, "bob", "absent counterpart must not appear")
	assert.NotContains(t, result.Settings, "carol", "failed counterpart must not appear")
	assert.Equal(t, []string{"carol"}, result.Failed)
}

func TestFetchSettingsForEmptyCounterparts(t *testing.T) {
	g := newGatewayWithFetcher(&fakeFetcher{}, 10, zap.NewNop())

	result, err := g.FetchSettingsFor(context.Background(), "owner", nil)
	require.NoError(t, err)
	assert.Empty(t, result.Settings)
	assert.Empty(t, result.Failed)
}

func TestFetchSettingsForRequiresOwner(t *testing.T) {
	g := newGatewayWithFetcher(&fakeFetcher{}, 10, zap.NewNop())

	_, err := g.FetchSettingsFor(context.Background(), "", []string{"alice"})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestFetchSettingsForBoundedFanOut(t *testing.T) {
	fetcher := &fakeFetcher{settings: map[string]*privacy.RelationshipPrivacySettings{}}
	g := newGatewayWithFetcher(fetcher, 4, zap.NewNop())

	counterparts := make([]string, 64)
	for i := range counterparts {
		counterparts[i] = string(rune('a' + i%26))
	}

	_, err := g.FetchSettingsFor(context.Background(), "owner", counterparts)
	require.NoError(t, err)
	assert.LessOrEqual(t, fetcher.maxObserved.Load(), int64(4), "fan-out must stay within bound")
}

func TestFetchSettingsForAllComplete(t *testing.T) {
	settings := make(map[string]*privacy.RelationshipPrivacySettings)
	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, id := range ids {
		s := privacy.RelationshipPrivacySettings{Location: true}
		settings[id] = &s
	}
	g := newGatewayWithFetcher(&fakeFetcher{settings: settings}, 3, zap.NewNop())

	result, err := g.FetchSettingsFor(context.Background(), "owner", ids)
	require.NoError(t, err)
	assert.Len(t, result.Settings, len(ids), "join must wait for every fetch")
}
