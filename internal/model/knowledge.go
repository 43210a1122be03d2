package model

// KnowledgeEntry is a curated, quality-scored entry in the global knowledge
// base. QualityScore is assigned at write time and is independent of any
// query similarity.
type KnowledgeEntry struct {
	ID           string    `json:"id"`
	Category     string    `json:"category"`
	PatternType  string    `json:"pattern_type"`
	Tags         []string  `json:"tags"`
	ExampleText  string    `json:"example_text"`
	Description  string    `json:"description"`
	QualityScore float64   `json:"quality_score"`
	ContentHash  string    `json:"-"`
	Embedding    []float32 `json:"-"`
	Ctime        int64     `json:"ctime"`
}
