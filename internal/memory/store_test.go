package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Soflution1/memory-pilot/internal/memerr"
)

func setupTestStore(t *testing.T) (*Store, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "memorypilot-test-*")
	require.NoError(t, err)

	store, err := Open(filepath.Join(tmpDir, "memory.db"))
	if err != nil {
		os.RemoveAll(tmpDir)
		t.Fatalf("Open: %v", err)
	}

	return store, func() {
		store.Close()
		os.RemoveAll(tmpDir)
	}
}

func TestAddAndGet(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	result, err := store.Add(ctx, AddInput{Content: "use pnpm not npm", Kind: "preference", Importance: 3})
	require.NoError(t, err)
	assert.False(t, result.WasDeduped)
	assert.NotEmpty(t, result.Memory.ID)

	got, err := store.Get(ctx, result.Memory.ID)
	require.NoError(t, err)
	assert.Equal(t, "use pnpm not npm", got.Content)
	assert.Equal(t, "preference", got.Kind)
}

func TestAddRejectsInvalidKind(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	_, err := store.Add(ctx, AddInput{Content: "x", Kind: "not-a-kind"})
	require.Error(t, err)
	assert.Equal(t, memerr.InvalidArgument, memerr.KindOf(err))
}

func TestAddDedupesByContent(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	first, err := store.Add(ctx, AddInput{Content: "the api uses REST, not GraphQL", Kind: "fact"})
	require.NoError(t, err)

	second, err := store.Add(ctx, AddInput{Content: "the api uses REST not GraphQL!", Kind: "fact"})
	require.NoError(t, err)

	assert.True(t, second.WasDeduped)
	assert.Equal(t, first.Memory.ID, second.Memory.ID)
}

func TestUpdateMemory(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	result, err := store.Add(ctx, AddInput{Content: "original content", Kind: "note", Importance: 2})
	require.NoError(t, err)

	newContent := "updated content"
	newImportance := 5
	updated, err := store.Update(ctx, result.Memory.ID, UpdateInput{Content: &newContent, Importance: &newImportance})
	require.NoError(t, err)
	assert.Equal(t, "updated content", updated.Content)
	assert.Equal(t, 5, updated.Importance)
}

func TestDeleteMemory(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	result, err := store.Add(ctx, AddInput{Content: "to be deleted", Kind: "note"})
	require.NoError(t, err)

	deleted, err := store.Delete(ctx, result.Memory.ID)
	require.NoError(t, err)
	assert.True(t, deleted)

	_, err = store.Get(ctx, result.Memory.ID)
	require.Error(t, err)
	assert.Equal(t, memerr.NotFound, memerr.KindOf(err))
}

func TestListMemoriesFiltersByKind(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	_, err := store.Add(ctx, AddInput{Content: "a bug in the parser", Kind: "bug"})
	require.NoError(t, err)
	_, err = store.Add(ctx, AddInput{Content: "prefer tabs over spaces", Kind: "preference"})
	require.NoError(t, err)

	bugKind := "bug"
	page, err := store.List(ctx, ListFilters{Kind: &bugKind}, 10, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)
	assert.Len(t, page.Memories, 1)
	assert.Equal(t, "bug", page.Memories[0].Kind)
}

func TestStats(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	_, err := store.Add(ctx, AddInput{Content: "some fact", Kind: "fact"})
	require.NoError(t, err)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Contains(t, stats, "total")
}

func TestRegisterAndListProjects(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	_, err := store.RegisterProject(ctx, "payments", "/repos/payments", "payment processing service")
	require.NoError(t, err)

	projects, err := store.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, 1)
	assert.Equal(t, "payments", projects[0].Name)
}

func TestCleanupExpired(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	past := store.now().Add(-time.Hour)
	_, err := store.Add(ctx, AddInput{Content: "temporary note", Kind: "note", ExpiresAt: &past})
	require.NoError(t, err)

	n, err := store.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
