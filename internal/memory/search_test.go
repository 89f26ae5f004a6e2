package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchFindsLexicalMatch(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	_, err := store.Add(ctx, AddInput{Content: "the payments service retries failed webhooks", Kind: "fact"})
	require.NoError(t, err)
	_, err = store.Add(ctx, AddInput{Content: "prefer tabs over spaces in this repo", Kind: "preference"})
	require.NoError(t, err)

	results, err := store.Search(ctx, "webhooks", 10, SearchFilters{})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Contains(t, results[0].Memory.Content, "webhooks")
}

func TestSearchFiltersByProject(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	projectA := "service-a"
	projectB := "service-b"
	_, err := store.Add(ctx, AddInput{Content: "service-a uses postgres for storage", Kind: "fact", Project: &projectA})
	require.NoError(t, err)
	_, err = store.Add(ctx, AddInput{Content: "service-b uses postgres for storage too", Kind: "fact", Project: &projectB})
	require.NoError(t, err)

	results, err := store.Search(ctx, "postgres", 10, SearchFilters{Project: &projectA})
	require.NoError(t, err)
	for _, r := range results {
		require.NotNil(t, r.Memory.Project)
		assert.Equal(t, projectA, *r.Memory.Project)
	}
}

func TestSearchFiltersByKind(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	_, err := store.Add(ctx, AddInput{Content: "flaky test in the checkout flow", Kind: "bug"})
	require.NoError(t, err)
	_, err = store.Add(ctx, AddInput{Content: "checkout flow redesigned", Kind: "decision"})
	require.NoError(t, err)

	results, err := store.Search(ctx, "checkout", 10, SearchFilters{Kinds: []string{"bug"}})
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, "bug", r.Memory.Kind)
	}
}
