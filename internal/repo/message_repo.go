package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/evermind-ai/evermind/internal/model"
	appErr "github.com/evermind-ai/evermind/internal/pkg/errors"
)

// MessageRepo is the conversation-turn similarity index: per-user message
// rows with their embeddings, searched by cosine similarity.
type MessageRepo struct {
	db  *sql.DB
	dim int
}

func NewMessageRepo(db *sql.DB, dim int) *MessageRepo {
	return &MessageRepo{db: db, dim: dim}
}

func (r *MessageRepo) checkDim(vec []float32) error {
	if len(vec) != r.dim {
		return fmt.Errorf("%w: got %d, index uses %d", appErr.ErrDimensionMismatch, len(vec), r.dim)
	}
	return nil
}

func (r *MessageRepo) Save(ctx context.Context, msg *model.Message) error {
	if err := r.checkDim(msg.Embedding); err != nil {
		return err
	}
	meta, err := json.Marshal(msg.Metadata)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO messages (id, user_id, session_id, role, content, embedding, metadata, ctime)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata
	`
	_, err = r.db.ExecContext(ctx, query,
		msg.ID,
		msg.UserID,
		msg.SessionID,
		msg.Role,
		msg.Content,
		pgvector.NewVector(msg.Embedding),
		meta,
		msg.Ctime,
	)
	return err
}

// SaveContent inserts a turn without an embedding. The row is invisible to
// Search until SetEmbedding fills it in.
func (r *MessageRepo) SaveContent(ctx context.Context, msg *model.Message) error {
	meta, err := json.Marshal(msg.Metadata)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO messages (id, user_id, session_id, role, content, metadata, ctime)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata
	`
	_, err = r.db.ExecContext(ctx, query,
		msg.ID,
		msg.UserID,
		msg.SessionID,
		msg.Role,
		msg.Content,
		meta,
		msg.Ctime,
	)
	return err
}

func (r *MessageRepo) SetEmbedding(ctx context.Context, id string, vec []float32) error {
	if err := r.checkDim(vec); err != nil {
		return err
	}
	const query = `UPDATE messages SET embedding = $2 WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, pgvector.NewVector(vec))
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

// Search returns turns above the similarity threshold, most similar first.
// SessionID narrows the scope; empty means all sessions for the user, which
// maximizes recall across past context. Ties break by recency then id so a
// fixed query against a fixed index is reproducible.
func (r *MessageRepo) Search(ctx context.Context, qvec []float32, userID, sessionID string, matchCount int, threshold float64) ([]model.ScoredResult, error) {
	if err := r.checkDim(qvec); err != nil {
		return nil, err
	}
	query := `
		SELECT role, content, metadata, 1 - (embedding <=> $1) AS similarity
		FROM messages
		WHERE user_id = $2
		  AND embedding IS NOT NULL
		  AND 1 - (embedding <=> $1) >= $3
	`
	args := []interface{}{pgvector.NewVector(qvec), userID, threshold}
	if sessionID != "" {
		query += ` AND session_id = $4`
		args = append(args, sessionID)
	}
	query += fmt.Sprintf(` ORDER BY similarity DESC, ctime DESC, id ASC LIMIT $%d`, len(args)+1)
	args = append(args, matchCount)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: conversation search: %v", appErr.ErrIndexUnavailable, err)
	}
	defer rows.Close()

	var results []model.ScoredResult
	for rows.Next() {
		var role, content string
		var meta []byte
		var similarity float64
		if err := rows.Scan(&role, &content, &meta, &similarity); err != nil {
			return nil, fmt.Errorf("%w: conversation scan: %v", appErr.ErrIndexUnavailable, err)
		}
		metadata := map[string]string{"role": role}
		decodeMetadata(meta, metadata)
		results = append(results, model.ScoredResult{
			Source:     model.SourceConversation,
			Similarity: similarity,
			Content:    content,
			Metadata:   metadata,
		})
	}
	return results, rows.Err()
}

// RecentSince lists turns created at or after the cutoff, oldest first;
// the knowledge worker consumes it as its scan feed.
func (r *MessageRepo) RecentSince(ctx context.Context, sinceUnix int64, limit int) ([]model.Message, error) {
	const query = `
		SELECT id, user_id, session_id, role, content, ctime
		FROM messages
		WHERE ctime >= $1
		ORDER BY ctime ASC, id ASC
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, sinceUnix, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var messages []model.Message
	for rows.Next() {
		var msg model.Message
		if err := rows.Scan(&msg.ID, &msg.UserID, &msg.SessionID, &msg.Role, &msg.Content, &msg.Ctime); err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

func decodeMetadata(raw []byte, into map[string]string) {
	if len(raw) == 0 {
		return
	}
	var decoded map[string]string
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return
	}
	for k, v := range decoded {
		into[k] = v
	}
}
