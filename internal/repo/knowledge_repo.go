package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/evermind-ai/evermind/internal/model"
	"github.com/evermind-ai/evermind/internal/pkg/dbutil"
	appErr "github.com/evermind-ai/evermind/internal/pkg/errors"
)

// KnowledgeRepo is the curated global knowledge index. Entries carry a
// quality score assigned at write time; searches filter on it independently
// of similarity so low-quality entries never surface no matter how well
// they match.
type KnowledgeRepo struct {
	db  *sql.DB
	dim int
}

func NewKnowledgeRepo(db *sql.DB, dim int) *KnowledgeRepo {
	return &KnowledgeRepo{db: db, dim: dim}
}

// Save inserts one entry. The content hash is unique; re-extracting the
// same snippet reports appErr.ErrConflict instead of duplicating it.
func (r *KnowledgeRepo) Save(ctx context.Context, entry *model.KnowledgeEntry) error {
	if len(entry.Embedding) != r.dim {
		return fmt.Errorf("%w: got %d, index uses %d", appErr.ErrDimensionMismatch, len(entry.Embedding), r.dim)
	}
	tags, err := json.Marshal(entry.Tags)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO knowledge (id, category, pattern_type, tags, example_text, description, quality_score, content_hash, embedding, ctime)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.db.ExecContext(ctx, query,
		entry.ID,
		entry.Category,
		entry.PatternType,
		tags,
		entry.ExampleText,
		entry.Description,
		entry.QualityScore,
		entry.ContentHash,
		pgvector.NewVector(entry.Embedding),
		entry.Ctime,
	)
	if err != nil && dbutil.IsConflict(err) {
		return appErr.ErrConflict
	}
	return err
}

func (r *KnowledgeRepo) Search(ctx context.Context, qvec []float32, matchCount int, threshold, minQuality float64) ([]model.ScoredResult, error) {
	if len(qvec) != r.dim {
		return nil, fmt.Errorf("%w: got %d, index uses %d", appErr.ErrDimensionMismatch, len(qvec), r.dim)
	}
	const query = `
		SELECT category, pattern_type, tags, example_text, description, quality_score, 1 - (embedding <=> $1) AS similarity
		FROM knowledge
		WHERE embedding IS NOT NULL
		  AND quality_score >= $2
		  AND 1 - (embedding <=> $1) >= $3
		ORDER BY similarity DESC, ctime DESC, id ASC
		LIMIT $4
	`
	rows, err := r.db.QueryContext(ctx, query, pgvector.NewVector(qvec), minQuality, threshold, matchCount)
	if err != nil {
		return nil, fmt.Errorf("%w: knowledge search: %v", appErr.ErrIndexUnavailable, err)
	}
	defer rows.Close()

	var results []model.ScoredResult
	for rows.Next() {
		var category, patternType, exampleText string
		var description sql.NullString
		var tagsRaw []byte
		var quality, similarity float64
		if err := rows.Scan(&category, &patternType, &tagsRaw, &exampleText, &description, &quality, &similarity); err != nil {
			return nil, fmt.Errorf("%w: knowledge scan: %v", appErr.ErrIndexUnavailable, err)
		}
		content := exampleText
		if content == "" {
			content = description.String
		}
		var tags []string
		_ = json.Unmarshal(tagsRaw, &tags)
		metadata := map[string]string{
			"category":      category,
			"pattern_type":  patternType,
			"quality_score": fmt.Sprintf("%.2f", quality),
		}
		if len(tags) > 0 {
			joined, _ := json.Marshal(tags)
			metadata["tags"] = string(joined)
		}
		results = append(results, model.ScoredResult{
			Source:     model.SourceKnowledge,
			Similarity: similarity,
			Content:    content,
			Metadata:   metadata,
		})
	}
	return results, rows.Err()
}
