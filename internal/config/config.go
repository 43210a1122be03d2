package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/xxxsen/common/logger"
)

type Config struct {
	Port          int              `json:"port"`
	JWTSecret     string           `json:"jwt_secret"`
	CORSAllowlist []string         `json:"cors_allowlist"`
	LogConfig     logger.LogConfig `json:"log_config"`
	Database      DatabaseConfig   `json:"database"`
	AI            AIConfig         `json:"ai"`
	RAG           RAGConfig        `json:"rag"`
	Ingest        IngestConfig     `json:"ingest"`
	Knowledge     KnowledgeConfig  `json:"knowledge"`
	FileStore     FileStoreConfig  `json:"file_store"`
	Schedule      ScheduleConfig   `json:"schedule"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
}

// ProviderEntry selects one registered ai provider; Data is passed to the
// provider factory untouched.
type ProviderEntry struct {
	Provider string      `json:"provider"`
	Model    string      `json:"model"`
	Data     interface{} `json:"data"`
}

type AIConfig struct {
	// EmbedDimension is the fixed dimension D shared by the query embedding
	// and all three indexes. Mixing dimensions fails loudly.
	EmbedDimension  int             `json:"embed_dimension"`
	MaxInputChars   int             `json:"max_input_chars"`
	TimeoutSeconds  int             `json:"timeout_seconds"`
	Embedders       []ProviderEntry `json:"embedders"`
	Generators      []ProviderEntry `json:"generators"`
	CacheSize       int             `json:"cache_size"`
	CacheTTLMinutes int             `json:"cache_ttl_minutes"`
}

type SourceTuning struct {
	MatchCount          int     `json:"match_count"`
	SimilarityThreshold float64 `json:"similarity_threshold"`
}

type ExpansionRule struct {
	Triggers []string `json:"triggers"`
	Append   string   `json:"append"`
}

type RAGConfig struct {
	Conversation SourceTuning `json:"conversation"`
	Document     SourceTuning `json:"document"`
	Knowledge    SourceTuning `json:"knowledge"`

	KnowledgeMinQuality     float64 `json:"knowledge_min_quality"`
	MaxDisplayItems         int     `json:"max_display_items"`
	HistoryWindow           int     `json:"history_window"`
	RetrievalTimeoutSeconds int     `json:"retrieval_timeout_seconds"`

	// SourcePriority breaks similarity ties; first entry wins.
	SourcePriority []string `json:"source_priority"`

	PreviewChars             int `json:"preview_chars"`
	ConversationPreviewChars int `json:"conversation_preview_chars"`

	// SuppressKeywords drops retrieved items that duplicate content already
	// fixed in the generation prompt.
	SuppressKeywords []string        `json:"suppress_keywords"`
	Expansions       []ExpansionRule `json:"expansions"`
}

type IngestConfig struct {
	TargetSize       int   `json:"target_size"`
	Overlap          int   `json:"overlap"`
	Lookback         int   `json:"lookback"`
	MaxFileSize      int64 `json:"max_file_size"`
	MaxEmbedFailures int   `json:"max_embed_failures"`
	// UploadRateSeconds throttles upload requests per user+ip; zero disables.
	UploadRateSeconds int `json:"upload_rate_seconds"`
}

type KnowledgePattern struct {
	Category    string   `json:"category"`
	PatternType string   `json:"pattern_type"`
	Keywords    []string `json:"keywords"`
}

type KnowledgeConfig struct {
	Patterns        []KnowledgePattern `json:"patterns"`
	MaxPerRun       int                `json:"max_per_run"`
	DefaultQuality  float64            `json:"default_quality"`
	ScanWindowHours int                `json:"scan_window_hours"`
}

type FileStoreConfig struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type ScheduleConfig struct {
	KnowledgeExtract string `json:"knowledge_extract"`
	CacheCleanup     string `json:"cache_cleanup"`
	CacheKeepDays    int    `json:"cache_keep_days"`
}

func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if cfg.Port == 0 {
		return nil, fmt.Errorf("port is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("jwt_secret is required")
	}
	if cfg.Database.DSN == "" && cfg.Database.Host == "" {
		return nil, fmt.Errorf("database.dsn or database.host is required")
	}
	if cfg.AI.EmbedDimension <= 0 {
		return nil, fmt.Errorf("ai.embed_dimension is required")
	}
	if len(cfg.AI.Embedders) == 0 {
		return nil, fmt.Errorf("ai.embedders requires at least one entry")
	}
	if cfg.LogConfig.Level == "" {
		cfg.LogConfig.Level = "info"
	}
	applyDefaults(&cfg)
	if cfg.Ingest.Overlap >= cfg.Ingest.TargetSize {
		return nil, fmt.Errorf("ingest.overlap must be smaller than ingest.target_size")
	}
	if cfg.FileStore.Type == "" {
		cfg.FileStore.Type = "local"
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	// Retrieval defaults carried over from the production tuning: wide nets
	// per source, one global display cap.
	setIntDefault(&cfg.RAG.Conversation.MatchCount, 30)
	setIntDefault(&cfg.RAG.Document.MatchCount, 20)
	setIntDefault(&cfg.RAG.Knowledge.MatchCount, 50)
	setFloatDefault(&cfg.RAG.Conversation.SimilarityThreshold, 0.05)
	setFloatDefault(&cfg.RAG.Document.SimilarityThreshold, 0.05)
	setFloatDefault(&cfg.RAG.Knowledge.SimilarityThreshold, 0.05)
	setFloatDefault(&cfg.RAG.KnowledgeMinQuality, 0.6)
	setIntDefault(&cfg.RAG.MaxDisplayItems, 40)
	setIntDefault(&cfg.RAG.HistoryWindow, 5)
	setIntDefault(&cfg.RAG.RetrievalTimeoutSeconds, 5)
	setIntDefault(&cfg.RAG.PreviewChars, 250)
	setIntDefault(&cfg.RAG.ConversationPreviewChars, 200)
	if len(cfg.RAG.SourcePriority) == 0 {
		cfg.RAG.SourcePriority = []string{"knowledge", "document", "conversation"}
	}

	setIntDefault(&cfg.Ingest.TargetSize, 1000)
	setIntDefault(&cfg.Ingest.Overlap, 200)
	setIntDefault(&cfg.Ingest.Lookback, 100)
	setIntDefault(&cfg.Ingest.MaxEmbedFailures, 5)
	if cfg.Ingest.MaxFileSize == 0 {
		cfg.Ingest.MaxFileSize = 10 << 20
	}

	setIntDefault(&cfg.AI.MaxInputChars, 20000)
	setIntDefault(&cfg.AI.TimeoutSeconds, 30)
	setIntDefault(&cfg.AI.CacheSize, 10000)
	setIntDefault(&cfg.AI.CacheTTLMinutes, 120)

	setFloatDefault(&cfg.Knowledge.DefaultQuality, 0.7)
	setIntDefault(&cfg.Knowledge.MaxPerRun, 3)
	setIntDefault(&cfg.Knowledge.ScanWindowHours, 24)

	if cfg.Schedule.KnowledgeExtract == "" {
		cfg.Schedule.KnowledgeExtract = "0 */6 * * *"
	}
	if cfg.Schedule.CacheCleanup == "" {
		cfg.Schedule.CacheCleanup = "30 4 * * *"
	}
	setIntDefault(&cfg.Schedule.CacheKeepDays, 30)
}

func setIntDefault(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

func setFloatDefault(v *float64, def float64) {
	if *v == 0 {
		*v = def
	}
}
