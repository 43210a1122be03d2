package model

// SourceKind identifies which similarity index produced a scored result.
type SourceKind string

const (
	SourceConversation SourceKind = "conversation"
	SourceDocument     SourceKind = "document"
	SourceKnowledge    SourceKind = "knowledge"
)

// ScoredResult is one retrieval hit, normalized across the three sources.
// Similarity is cosine similarity against the query embedding and is
// comparable across sources because all embeddings share one model and
// dimension.
type ScoredResult struct {
	Source     SourceKind        `json:"source"`
	Similarity float64           `json:"similarity"`
	Content    string            `json:"content"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// AssembledContext is built fresh per chat turn and never persisted.
type AssembledContext struct {
	Rendered string             `json:"rendered_context"`
	Counts   map[SourceKind]int `json:"per_source_counts"`
	Chars    int                `json:"total_chars"`
}

func EmptyContext() *AssembledContext {
	return &AssembledContext{
		Counts: map[SourceKind]int{
			SourceConversation: 0,
			SourceDocument:     0,
			SourceKnowledge:    0,
		},
	}
}
