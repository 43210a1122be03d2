package model

// Ingestion state machine. Every failure state is terminal for the asset
// but never for the upload request that created it.
const (
	AssetStateUploaded   = "uploaded"
	AssetStateExtracting = "extracting"
	AssetStateChunking   = "chunking"
	AssetStateEmbedding  = "embedding"
	AssetStateStored     = "stored"
	AssetStateFailed     = "failed"
)

type Asset struct {
	ID         string `json:"id"`
	UserID     string `json:"user_id"`
	Filename   string `json:"filename"`
	MimeType   string `json:"mime_type"`
	Size       int64  `json:"size"`
	StoreKey   string `json:"-"`
	State      string `json:"state"`
	FailReason string `json:"fail_reason,omitempty"`
	ChunkCount int    `json:"chunk_count"`
	Ctime      int64  `json:"ctime"`
	Mtime      int64  `json:"mtime"`
}
