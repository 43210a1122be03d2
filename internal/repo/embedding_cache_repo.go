package repo

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/evermind-ai/evermind/internal/model"
	appErr "github.com/evermind-ai/evermind/internal/pkg/errors"
)

// EmbeddingCacheRepo is the durable tier of the embedding cache, keyed by
// (model, task type, content hash) so query and document embeddings of the
// same text never collide.
type EmbeddingCacheRepo struct {
	db  *sql.DB
	dim int
}

func NewEmbeddingCacheRepo(db *sql.DB, dim int) *EmbeddingCacheRepo {
	return &EmbeddingCacheRepo{db: db, dim: dim}
}

func (r *EmbeddingCacheRepo) Get(ctx context.Context, modelName, taskType, contentHash string) ([]float32, bool, error) {
	const query = `
		SELECT embedding
		FROM embedding_cache
		WHERE model_name = $1 AND task_type = $2 AND content_hash = $3
	`
	row := r.db.QueryRowContext(ctx, query, modelName, taskType, contentHash)
	var embedding pgvector.Vector
	if err := row.Scan(&embedding); err != nil {
		if err == sql.ErrNoRows {
			return nil, false, nil
		}
		return nil, false, err
	}
	vec := embedding.Slice()
	if len(vec) != r.dim {
		// Stale row from a previous model configuration. Treat as a miss.
		return nil, false, nil
	}
	return vec, true, nil
}

func (r *EmbeddingCacheRepo) Save(ctx context.Context, item *model.EmbeddingCache) error {
	if len(item.Embedding) != r.dim {
		return fmt.Errorf("%w: got %d, cache uses %d", appErr.ErrDimensionMismatch, len(item.Embedding), r.dim)
	}
	const query = `
		INSERT INTO embedding_cache (model_name, task_type, content_hash, embedding, ctime)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (model_name, task_type, content_hash) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			ctime = EXCLUDED.ctime
	`
	_, err := r.db.ExecContext(ctx, query,
		item.ModelName,
		item.TaskType,
		item.ContentHash,
		pgvector.NewVector(item.Embedding),
		item.Ctime,
	)
	return err
}

func (r *EmbeddingCacheRepo) DeleteBefore(ctx context.Context, cutoff int64) (int64, error) {
	const query = `DELETE FROM embedding_cache WHERE ctime < $1`
	res, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
