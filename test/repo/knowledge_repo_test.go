package repo_test

import (
	"context"
	"testing"

	"github.com/evermind-ai/evermind/internal/model"
	appErr "github.com/evermind-ai/evermind/internal/pkg/errors"
	"github.com/evermind-ai/evermind/internal/repo"
	"github.com/evermind-ai/evermind/test/testutil"
	"github.com/stretchr/testify/require"
)

func makeEntry(id, hash string, quality float64, angle float64) *model.KnowledgeEntry {
	return &model.KnowledgeEntry{
		ID:           id,
		Category:     "health",
		PatternType:  "advice",
		Tags:         []string{"conversation_extracted"},
		ExampleText:  "example for " + id,
		QualityScore: quality,
		ContentHash:  hash,
		Embedding:    testutil.Vec(testutil.TestDim, angle),
		Ctime:        100,
	}
}

func TestKnowledgeRepo_SaveDeduplicatesByContentHash(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()
	t.Cleanup(func() {
		_, _ = db.Exec("DELETE FROM knowledge")
	})

	knowledge := repo.NewKnowledgeRepo(db, testutil.TestDim)
	require.NoError(t, knowledge.Save(ctx, makeEntry("k1", "hash-a", 0.7, 0.1)))

	err := knowledge.Save(ctx, makeEntry("k2", "hash-a", 0.7, 0.2))
	require.ErrorIs(t, err, appErr.ErrConflict)
}

func TestKnowledgeRepo_SearchFiltersOnQuality(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()
	t.Cleanup(func() {
		_, _ = db.Exec("DELETE FROM knowledge")
	})

	knowledge := repo.NewKnowledgeRepo(db, testutil.TestDim)
	// The low-quality entry matches the query better but must stay hidden.
	require.NoError(t, knowledge.Save(ctx, makeEntry("kq-high", "hash-h", 0.9, 0.3)))
	require.NoError(t, knowledge.Save(ctx, makeEntry("kq-low", "hash-l", 0.2, 0.0)))

	results, err := knowledge.Search(ctx, testutil.Vec(testutil.TestDim, 0), 10, 0.05, 0.6)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "example for kq-high", results[0].Content)
	require.Equal(t, "health", results[0].Metadata["category"])
	require.Equal(t, "advice", results[0].Metadata["pattern_type"])
}
