package repo_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/evermind-ai/evermind/internal/model"
	"github.com/evermind-ai/evermind/internal/repo"
	"github.com/evermind-ai/evermind/test/testutil"
)

func TestMessageRepo_SearchRanksAndScopes(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()
	t.Cleanup(func() {
		_, _ = db.Exec("DELETE FROM messages")
	})

	messages := repo.NewMessageRepo(db, testutil.TestDim)
	seed := []struct {
		id      string
		userID  string
		angle   float64
		content string
	}{
		{"m1", "u1", 0.1, "close match"},
		{"m2", "u1", 0.8, "far match"},
		{"m3", "u2", 0.1, "other user"},
	}
	for i, item := range seed {
		err := messages.Save(ctx, &model.Message{
			ID:        item.id,
			UserID:    item.userID,
			SessionID: "s1",
			Role:      model.RoleUser,
			Content:   item.content,
			Embedding: testutil.Vec(testutil.TestDim, item.angle),
			Ctime:     int64(100 + i),
		})
		require.NoError(t, err, "save %s", item.id)
	}

	query := testutil.Vec(testutil.TestDim, 0)
	results, err := messages.Search(ctx, query, "u1", "", 10, 0.05)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "close match", results[0].Content, "most similar first")
	require.Greater(t, results[0].Similarity, results[1].Similarity)
	for _, item := range results {
		require.Equal(t, model.SourceConversation, item.Source)
		require.Equal(t, model.RoleUser, item.Metadata["role"])
	}
}

func TestMessageRepo_SaveContentThenSetEmbedding(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()
	t.Cleanup(func() {
		_, _ = db.Exec("DELETE FROM messages")
	})

	messages := repo.NewMessageRepo(db, testutil.TestDim)
	msg := &model.Message{
		ID:        "pending",
		UserID:    "u1",
		SessionID: "s1",
		Role:      model.RoleUser,
		Content:   "not yet embedded",
		Ctime:     100,
	}
	require.NoError(t, messages.SaveContent(ctx, msg))

	query := testutil.Vec(testutil.TestDim, 0)
	results, err := messages.Search(ctx, query, "u1", "", 10, 0.0)
	require.NoError(t, err)
	require.Empty(t, results, "unembedded turn must be invisible")

	require.NoError(t, messages.SetEmbedding(ctx, "pending", testutil.Vec(testutil.TestDim, 0.1)))
	results, err = messages.Search(ctx, query, "u1", "", 10, 0.0)
	require.NoError(t, err)
	require.Len(t, results, 1, "turn surfaces after embedding")
}

func TestMessageRepo_DimensionMismatch(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()

	messages := repo.NewMessageRepo(db, testutil.TestDim)
	_, err := messages.Search(ctx, []float32{1, 2, 3}, "u1", "", 10, 0.05)
	require.Error(t, err, "dimension mismatch")
}
