package model

// DocumentChunk is one retrieval unit of an ingested document. Chunk index
// is 0-based and is the only order relation back to the source document; a
// chunk set is immutable once written and replaced wholesale on re-ingest.
type DocumentChunk struct {
	AssetID      string            `json:"asset_id"`
	ChunkIndex   int               `json:"chunk_index"`
	UserID       string            `json:"user_id"`
	DocumentType string            `json:"document_type"`
	Content      string            `json:"content"`
	Embedding    []float32         `json:"-"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Ctime        int64             `json:"ctime"`
}

// MetaFilename must be present in chunk metadata so rendered context can
// cite the originating file.
const MetaFilename = "filename"
