package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"

	"github.com/evermind-ai/evermind/internal/model"
	appErr "github.com/evermind-ai/evermind/internal/pkg/errors"
)

// ChunkRepo is the uploaded-document similarity index. Chunk sets are
// replaced wholesale per asset; individual chunks are never updated.
type ChunkRepo struct {
	db  *sql.DB
	dim int
}

func NewChunkRepo(db *sql.DB, dim int) *ChunkRepo {
	return &ChunkRepo{db: db, dim: dim}
}

// ReplaceAsset swaps the asset's chunk set in one transaction so re-ingested
// documents never leave duplicate chunks behind to double-count in ranking.
func (r *ChunkRepo) ReplaceAsset(ctx context.Context, assetID string, chunks []*model.DocumentChunk) error {
	for _, chunk := range chunks {
		if len(chunk.Embedding) != r.dim {
			return fmt.Errorf("%w: chunk %d has %d, index uses %d", appErr.ErrDimensionMismatch, chunk.ChunkIndex, len(chunk.Embedding), r.dim)
		}
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM document_chunks WHERE asset_id = $1`, assetID); err != nil {
		return err
	}
	const insert = `
		INSERT INTO document_chunks (asset_id, chunk_index, user_id, document_type, content, embedding, metadata, ctime)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	for _, chunk := range chunks {
		meta, err := json.Marshal(chunk.Metadata)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, insert,
			assetID,
			chunk.ChunkIndex,
			chunk.UserID,
			chunk.DocumentType,
			chunk.Content,
			pgvector.NewVector(chunk.Embedding),
			meta,
			chunk.Ctime,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *ChunkRepo) DeleteByAsset(ctx context.Context, assetID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM document_chunks WHERE asset_id = $1`, assetID)
	return err
}

// Search returns chunk rows only; full documents are never reconstructed.
// An optional assetID narrows the scope to one document.
func (r *ChunkRepo) Search(ctx context.Context, qvec []float32, userID, assetID string, matchCount int, threshold float64) ([]model.ScoredResult, error) {
	if len(qvec) != r.dim {
		return nil, fmt.Errorf("%w: got %d, index uses %d", appErr.ErrDimensionMismatch, len(qvec), r.dim)
	}
	query := `
		SELECT asset_id, chunk_index, document_type, content, metadata, 1 - (embedding <=> $1) AS similarity
		FROM document_chunks
		WHERE user_id = $2
		  AND embedding IS NOT NULL
		  AND 1 - (embedding <=> $1) >= $3
	`
	args := []interface{}{pgvector.NewVector(qvec), userID, threshold}
	if assetID != "" {
		query += ` AND asset_id = $4`
		args = append(args, assetID)
	}
	query += fmt.Sprintf(` ORDER BY similarity DESC, ctime DESC, asset_id ASC, chunk_index ASC LIMIT $%d`, len(args)+1)
	args = append(args, matchCount)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: document search: %v", appErr.ErrIndexUnavailable, err)
	}
	defer rows.Close()

	var results []model.ScoredResult
	for rows.Next() {
		var chunkAssetID, documentType, content string
		var chunkIndex int
		var meta []byte
		var similarity float64
		if err := rows.Scan(&chunkAssetID, &chunkIndex, &documentType, &content, &meta, &similarity); err != nil {
			return nil, fmt.Errorf("%w: document scan: %v", appErr.ErrIndexUnavailable, err)
		}
		metadata := map[string]string{
			"asset_id":      chunkAssetID,
			"chunk_index":   fmt.Sprintf("%d", chunkIndex),
			"document_type": documentType,
		}
		decodeMetadata(meta, metadata)
		results = append(results, model.ScoredResult{
			Source:     model.SourceDocument,
			Similarity: similarity,
			Content:    content,
			Metadata:   metadata,
		})
	}
	return results, rows.Err()
}

// CountByAssets reports stored chunk counts for a set of assets.
func (r *ChunkRepo) CountByAssets(ctx context.Context, assetIDs []string) (map[string]int, error) {
	if len(assetIDs) == 0 {
		return map[string]int{}, nil
	}
	query, args, err := sqlx.In(`SELECT asset_id, COUNT(*) FROM document_chunks WHERE asset_id IN (?) GROUP BY asset_id`, assetIDs)
	if err != nil {
		return nil, err
	}
	query = sqlx.Rebind(sqlx.DOLLAR, query)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[string]int, len(assetIDs))
	for rows.Next() {
		var id string
		var count int
		if err := rows.Scan(&id, &count); err != nil {
			return nil, err
		}
		counts[id] = count
	}
	return counts, rows.Err()
}
