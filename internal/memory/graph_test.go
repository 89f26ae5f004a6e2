package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelatedFindsLinkedMemoryViaSharedEntity(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	decision, err := store.Add(ctx, AddInput{Content: "decided to use postgres for the orders table", Kind: "decision"})
	require.NoError(t, err)

	bug, err := store.Add(ctx, AddInput{Content: "postgres connection pool exhausted under load", Kind: "bug"})
	require.NoError(t, err)

	related, err := store.Related(ctx, decision.Memory.ID, 1)
	require.NoError(t, err)
	require.NotEmpty(t, related)

	var found bool
	for _, r := range related {
		if r.Memory.ID == bug.Memory.ID {
			found = true
			assert.Equal(t, "resolves", r.RelationType)
			assert.Equal(t, 1, r.Depth)
		}
	}
	assert.True(t, found, "expected the bug memory to be linked from the decision")
}

func TestRelatedDropsLinkAfterSharedEntityIsEditedAway(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	decision, err := store.Add(ctx, AddInput{Content: "decided to use postgres for the orders table", Kind: "decision"})
	require.NoError(t, err)

	bug, err := store.Add(ctx, AddInput{Content: "postgres connection pool exhausted under load", Kind: "bug"})
	require.NoError(t, err)

	related, err := store.Related(ctx, decision.Memory.ID, 1)
	require.NoError(t, err)
	require.NotEmpty(t, related)

	newContent := "checkout flow retries too aggressively"
	_, err = store.Update(ctx, bug.Memory.ID, UpdateInput{Content: &newContent})
	require.NoError(t, err)

	related, err = store.Related(ctx, decision.Memory.ID, 1)
	require.NoError(t, err)
	for _, r := range related {
		assert.NotEqual(t, bug.Memory.ID, r.Memory.ID, "stale link to the edited-away entity should have been pruned")
	}
}

func TestRelatedUnknownIDFails(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	_, err := store.Related(ctx, "does-not-exist", 1)
	require.Error(t, err)
}
