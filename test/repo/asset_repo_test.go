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

func makeAsset(id, userID, filename string) *model.Asset {
	return &model.Asset{
		ID:       id,
		UserID:   userID,
		Filename: filename,
		MimeType: "text/plain",
		Size:     42,
		StoreKey: id + ".txt",
		State:    model.AssetStateUploaded,
		Ctime:    100,
		Mtime:    100,
	}
}

func TestAssetRepo_StateTransitions(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()
	t.Cleanup(func() {
		_, _ = db.Exec("DELETE FROM assets")
	})

	assets := repo.NewAssetRepo(db)
	require.NoError(t, assets.Create(ctx, makeAsset("a1", "u1", "doc.txt")))
	for _, state := range []string{model.AssetStateExtracting, model.AssetStateChunking, model.AssetStateEmbedding} {
		require.NoError(t, assets.UpdateState(ctx, "a1", state), "advance to %s", state)
	}
	require.NoError(t, assets.SetStored(ctx, "a1", 7))

	asset, err := assets.GetByID(ctx, "u1", "a1")
	require.NoError(t, err)
	require.Equal(t, model.AssetStateStored, asset.State)
	require.Equal(t, 7, asset.ChunkCount)
}

func TestAssetRepo_MarkFailedKeepsReason(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()
	t.Cleanup(func() {
		_, _ = db.Exec("DELETE FROM assets")
	})

	assets := repo.NewAssetRepo(db)
	require.NoError(t, assets.Create(ctx, makeAsset("a1", "u1", "doc.txt")))
	require.NoError(t, assets.MarkFailed(ctx, "a1", "extract: no text content"))

	asset, err := assets.GetByID(ctx, "u1", "a1")
	require.NoError(t, err)
	require.Equal(t, model.AssetStateFailed, asset.State)
	require.Equal(t, "extract: no text content", asset.FailReason)
}

func TestAssetRepo_ResetForIngest(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()
	t.Cleanup(func() {
		_, _ = db.Exec("DELETE FROM assets")
	})

	assets := repo.NewAssetRepo(db)
	require.NoError(t, assets.Create(ctx, makeAsset("a1", "u1", "doc.txt")))
	require.NoError(t, assets.MarkFailed(ctx, "a1", "extract: boom"))

	replacement := makeAsset("a1", "u1", "doc.txt")
	replacement.Size = 99
	require.NoError(t, assets.ResetForIngest(ctx, replacement))

	asset, err := assets.GetByID(ctx, "u1", "a1")
	require.NoError(t, err)
	require.Equal(t, model.AssetStateUploaded, asset.State)
	require.Empty(t, asset.FailReason)
	require.Equal(t, int64(99), asset.Size)
}

func TestAssetRepo_UserScoping(t *testing.T) {
	db, cleanup := testutil.OpenTestDB(t)
	defer cleanup()
	ctx := context.Background()
	t.Cleanup(func() {
		_, _ = db.Exec("DELETE FROM assets")
	})

	assets := repo.NewAssetRepo(db)
	require.NoError(t, assets.Create(ctx, makeAsset("a1", "u1", "doc.txt")))

	_, err := assets.GetByID(ctx, "u2", "a1")
	require.ErrorIs(t, err, appErr.ErrNotFound)
	require.ErrorIs(t, assets.DeleteByID(ctx, "u2", "a1"), appErr.ErrNotFound)

	items, err := assets.ListByUser(ctx, "u1", 10, 0)
	require.NoError(t, err)
	require.Len(t, items, 1)
}
