package memory

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectBrainAggregatesFields(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	project := "checkout-service"
	_, err := store.Add(ctx, AddInput{
		Content: "we use postgres and redis for checkout-service", Kind: "fact", Project: &project,
	})
	require.NoError(t, err)
	_, err = store.Add(ctx, AddInput{
		Content: "chose an event-driven architecture for order processing", Kind: "decision",
		Project: &project, Tags: []string{"architecture"}, Importance: 4,
	})
	require.NoError(t, err)
	_, err = store.Add(ctx, AddInput{
		Content: "checkout occasionally double-charges on retry", Kind: "bug",
		Project: &project, Importance: 5,
	})
	require.NoError(t, err)
	_, err = store.Add(ctx, AddInput{
		Content: "always validate webhooks signatures before processing", Kind: "preference",
		Project: &project, Importance: 4,
	})
	require.NoError(t, err)

	brain, err := store.ProjectBrain(ctx, &project)
	require.NoError(t, err)
	assert.Equal(t, project, brain.Project)
	assert.Contains(t, brain.TechStack, "postgres")
	assert.Contains(t, brain.TechStack, "redis")
	require.Len(t, brain.CoreArchitecture, 1)
	assert.Contains(t, brain.CoreArchitecture[0], "event-driven")
	require.Len(t, brain.ActiveBugs, 1)
	assert.Contains(t, brain.ActiveBugs[0], "double-charges")
	require.Len(t, brain.PreferencesAndPatterns, 1)
}

func TestRecallBundlesProjectBrainAndCriticalMemories(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	project := "billing"
	_, err := store.Add(ctx, AddInput{
		Content: "billing retries failed charges up to 3 times", Kind: "fact",
		Project: &project, Importance: 5,
	})
	require.NoError(t, err)
	_, err = store.RegisterProject(ctx, project, "/repos/billing", "billing service")
	require.NoError(t, err)

	doc, err := store.Recall(ctx, "/repos/billing", "")
	require.NoError(t, err)
	assert.Equal(t, project, doc.Project)
	require.NotEmpty(t, doc.Critical)
	assert.Contains(t, doc.Stats, "total")
}

func TestExportMemoriesJSON(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	_, err := store.Add(ctx, AddInput{Content: "exported memory content", Kind: "note"})
	require.NoError(t, err)

	data, err := store.ExportMemories(ctx, nil, "json")
	require.NoError(t, err)

	var memories []Memory
	require.NoError(t, json.Unmarshal(data, &memories))
	require.Len(t, memories, 1)
	assert.Equal(t, "exported memory content", memories[0].Content)
}

func TestExportMemoriesMarkdown(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	_, err := store.Add(ctx, AddInput{Content: "markdown export content", Kind: "note", Importance: 4})
	require.NoError(t, err)

	data, err := store.ExportMemories(ctx, nil, "markdown")
	require.NoError(t, err)
	out := string(data)
	assert.True(t, strings.HasPrefix(out, "# MemoryPilot export"))
	assert.Contains(t, out, "markdown export content")
}

func TestMigrateFromV1MissingDirIsNotAnError(t *testing.T) {
	store, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	imported, skipped, err := store.MigrateFromV1(ctx, "/does/not/exist")
	require.NoError(t, err)
	assert.Equal(t, 0, imported)
	assert.Equal(t, 0, skipped)
}
