package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunGCDryRunLeavesStoreUntouched(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	_, err := store.Add(ctx, AddInput{Content: "transient note about a one-off script", Kind: "note", Importance: 1})
	require.NoError(t, err)

	future := time.Now().Add(60 * 24 * time.Hour)
	store.now = func() time.Time { return future }

	report, err := store.RunGC(ctx, GCConfig{AgeDays: 30, ImportanceMax: 3}, true)
	require.NoError(t, err)
	assert.True(t, report.DryRun)
	assert.GreaterOrEqual(t, report.CandidatesFound, 1)
	assert.Equal(t, 1, report.Deleted)
	assert.Zero(t, report.Merged)

	store.now = time.Now
	page, err := store.List(ctx, ListFilters{}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)
}

func TestRunGCDeletesStaleSingleton(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	_, err := store.Add(ctx, AddInput{Content: "scratch todo nobody followed up on", Kind: "todo", Importance: 1})
	require.NoError(t, err)

	future := time.Now().Add(60 * 24 * time.Hour)
	store.now = func() time.Time { return future }

	report, err := store.RunGC(ctx, GCConfig{AgeDays: 30, ImportanceMax: 3}, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Deleted)

	store.now = time.Now
	page, err := store.List(ctx, ListFilters{}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), page.Total)
}

func TestRunGCNeverTouchesDurableKinds(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	_, err := store.Add(ctx, AddInput{Content: "always use feature flags for risky rollouts", Kind: "preference", Importance: 1})
	require.NoError(t, err)

	future := time.Now().Add(60 * 24 * time.Hour)
	store.now = func() time.Time { return future }

	report, err := store.RunGC(ctx, GCConfig{AgeDays: 30, ImportanceMax: 5}, false)
	require.NoError(t, err)
	assert.Equal(t, 0, report.CandidatesFound)

	store.now = time.Now
	page, err := store.List(ctx, ListFilters{}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)
}
