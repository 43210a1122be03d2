package repo

import (
	"context"
	"database/sql"

	"github.com/didi/gendry/builder"

	"github.com/evermind-ai/evermind/internal/model"
	"github.com/evermind-ai/evermind/internal/pkg/dbutil"
	appErr "github.com/evermind-ai/evermind/internal/pkg/errors"
	"github.com/evermind-ai/evermind/internal/pkg/timeutil"
)

var assetColumns = []string{
	"id", "user_id", "filename", "mime_type", "size", "store_key",
	"state", "fail_reason", "chunk_count", "ctime", "mtime",
}

// AssetRepo tracks uploaded files and their ingestion state. State
// transitions always bump mtime so a stuck asset is visible by age.
type AssetRepo struct {
	db *sql.DB
}

func NewAssetRepo(db *sql.DB) *AssetRepo {
	return &AssetRepo{db: db}
}

func (r *AssetRepo) Create(ctx context.Context, asset *model.Asset) error {
	sqlStr, args, err := builder.BuildInsert("assets", []map[string]interface{}{{
		"id":           asset.ID,
		"user_id":      asset.UserID,
		"filename":     asset.Filename,
		"mime_type":    asset.MimeType,
		"size":         asset.Size,
		"store_key":    asset.StoreKey,
		"state":        asset.State,
		"fail_reason":  asset.FailReason,
		"chunk_count":  asset.ChunkCount,
		"ctime":        asset.Ctime,
		"mtime":        asset.Mtime,
	}})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

// ResetForIngest rewinds an existing asset to the head of the pipeline,
// taking the new upload's file attributes with it.
func (r *AssetRepo) ResetForIngest(ctx context.Context, asset *model.Asset) error {
	return r.update(ctx, asset.ID, map[string]interface{}{
		"filename":    asset.Filename,
		"mime_type":   asset.MimeType,
		"size":        asset.Size,
		"store_key":   asset.StoreKey,
		"state":       model.AssetStateUploaded,
		"fail_reason": "",
		"chunk_count": 0,
		"mtime":       timeutil.NowUnix(),
	})
}

func (r *AssetRepo) UpdateState(ctx context.Context, assetID, state string) error {
	return r.update(ctx, assetID, map[string]interface{}{
		"state": state,
		"mtime": timeutil.NowUnix(),
	})
}

// MarkFailed is terminal for the asset. The reason is stored verbatim so
// the list endpoint can surface it.
func (r *AssetRepo) MarkFailed(ctx context.Context, assetID, reason string) error {
	return r.update(ctx, assetID, map[string]interface{}{
		"state":       model.AssetStateFailed,
		"fail_reason": reason,
		"mtime":       timeutil.NowUnix(),
	})
}

func (r *AssetRepo) SetStored(ctx context.Context, assetID string, chunkCount int) error {
	return r.update(ctx, assetID, map[string]interface{}{
		"state":       model.AssetStateStored,
		"fail_reason": "",
		"chunk_count": chunkCount,
		"mtime":       timeutil.NowUnix(),
	})
}

func (r *AssetRepo) update(ctx context.Context, assetID string, fields map[string]interface{}) error {
	sqlStr, args, err := builder.BuildUpdate("assets", map[string]interface{}{"id": assetID}, fields)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

func (r *AssetRepo) GetByID(ctx context.Context, userID, assetID string) (*model.Asset, error) {
	sqlStr, args, err := builder.BuildSelect("assets", map[string]interface{}{"id": assetID, "user_id": userID}, assetColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		return nil, appErr.ErrNotFound
	}
	item, err := scanAsset(rows)
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (r *AssetRepo) GetByUserAndFilename(ctx context.Context, userID, filename string) (*model.Asset, error) {
	sqlStr, args, err := builder.BuildSelect("assets", map[string]interface{}{"user_id": userID, "filename": filename, "_limit": []uint{1}}, assetColumns)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	if !rows.Next() {
		return nil, appErr.ErrNotFound
	}
	item, err := scanAsset(rows)
	if err != nil {
		return nil, err
	}
	return item, nil
}

func (r *AssetRepo) ListByUser(ctx context.Context, userID string, limit, offset uint) ([]model.Asset, error) {
	sqlStr := `
		SELECT id, user_id, filename, mime_type, size, store_key, state, fail_reason, chunk_count, ctime, mtime
		FROM assets
		WHERE user_id = ?
		ORDER BY ctime DESC
	`
	args := []interface{}{userID}
	if limit > 0 {
		sqlStr += ` LIMIT ? OFFSET ?`
		args = append(args, limit, offset)
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	items := make([]model.Asset, 0)
	for rows.Next() {
		item, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func (r *AssetRepo) DeleteByID(ctx context.Context, userID, assetID string) error {
	sqlStr, args, err := builder.BuildDelete("assets", map[string]interface{}{"id": assetID, "user_id": userID})
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	res, err := r.db.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return appErr.ErrNotFound
	}
	return nil
}

func scanAsset(rows *sql.Rows) (*model.Asset, error) {
	var item model.Asset
	var failReason sql.NullString
	if err := rows.Scan(&item.ID, &item.UserID, &item.Filename, &item.MimeType, &item.Size, &item.StoreKey,
		&item.State, &failReason, &item.ChunkCount, &item.Ctime, &item.Mtime); err != nil {
		return nil, err
	}
	item.FailReason = failReason.String
	return &item, nil
}
