package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/evermind-ai/evermind/internal/ai"
	"github.com/evermind-ai/evermind/internal/config"
	"github.com/evermind-ai/evermind/internal/model"
	appErr "github.com/evermind-ai/evermind/internal/pkg/errors"
	"github.com/evermind-ai/evermind/internal/pkg/timeutil"
)

const tagConversationExtracted = "conversation_extracted"

// scanBatchSize bounds one extraction run's read from the message feed.
const scanBatchSize = 500

// describeTimeout bounds one description call; a slow or absent generator
// leaves the description empty without stalling the run.
const describeTimeout = 15 * time.Second

// KnowledgeStore is the writable knowledge index, implemented by
// repo.KnowledgeRepo.
type KnowledgeStore interface {
	Save(ctx context.Context, entry *model.KnowledgeEntry) error
	Search(ctx context.Context, qvec []float32, matchCount int, threshold, minQuality float64) ([]model.ScoredResult, error)
}

// MessageFeed is the scan feed for extraction, implemented by
// repo.MessageRepo.
type MessageFeed interface {
	RecentSince(ctx context.Context, sinceUnix int64, limit int) ([]model.Message, error)
}

// KnowledgeService curates the global knowledge index: direct similarity
// search for callers, plus periodic mining of recent conversations for
// entries matching the configured keyword patterns.
type KnowledgeService struct {
	embedder  ai.IEmbedder
	generator ai.IGenerator
	messages  MessageFeed
	knowledge KnowledgeStore
	cfg       config.KnowledgeConfig
	tuning    config.SourceTuning
	minQual   float64

	mu       sync.Mutex
	lastScan int64
}

// NewKnowledgeService wires the knowledge index. generator may be nil;
// extracted entries then carry no description.
func NewKnowledgeService(embedder ai.IEmbedder, generator ai.IGenerator, messages MessageFeed, knowledge KnowledgeStore, cfg config.KnowledgeConfig, rag config.RAGConfig) *KnowledgeService {
	return &KnowledgeService{
		embedder:  embedder,
		generator: generator,
		messages:  messages,
		knowledge: knowledge,
		cfg:       cfg,
		tuning:    rag.Knowledge,
		minQual:   rag.KnowledgeMinQuality,
	}
}

// Search embeds the query and runs it against the knowledge index. Unlike
// context assembly this is a direct API and does surface errors.
func (s *KnowledgeService) Search(ctx context.Context, query string, topK int) ([]model.ScoredResult, error) {
	if strings.TrimSpace(query) == "" {
		return []model.ScoredResult{}, nil
	}
	if topK <= 0 || topK > s.tuning.MatchCount {
		topK = s.tuning.MatchCount
	}
	qvec, err := s.embedder.Embed(ctx, query, ai.TaskTypeQuery)
	if err != nil {
		return nil, appErr.ErrEmbeddingUnavailable
	}
	results, err := s.knowledge.Search(ctx, qvec, topK, s.tuning.SimilarityThreshold, s.minQual)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []model.ScoredResult{}
	}
	return results, nil
}

// ExtractFromConversations mines recent turns for configured patterns and
// stores the matches as knowledge entries. The high-water mark is held in
// memory; after a restart the scan window config bounds the re-read and the
// content-hash dedup absorbs the overlap.
func (s *KnowledgeService) ExtractFromConversations(ctx context.Context) (int, error) {
	logger := logutil.GetLogger(ctx)
	s.mu.Lock()
	since := s.lastScan
	s.mu.Unlock()
	if since == 0 {
		since = timeutil.NowUnix() - int64(s.cfg.ScanWindowHours)*3600
	}

	msgs, err := s.messages.RecentSince(ctx, since, scanBatchSize)
	if err != nil {
		return 0, err
	}
	stored := 0
	highWater := since
	for _, msg := range msgs {
		if msg.Ctime > highWater {
			highWater = msg.Ctime
		}
		if stored >= s.cfg.MaxPerRun {
			continue
		}
		if msg.Role != model.RoleUser {
			continue
		}
		pattern, ok := s.matchPattern(msg.Content)
		if !ok {
			continue
		}
		entry := &model.KnowledgeEntry{
			ID:           newID(),
			Category:     pattern.Category,
			PatternType:  pattern.PatternType,
			Tags:         []string{tagConversationExtracted},
			ExampleText:  msg.Content,
			Description:  s.describe(ctx, pattern, msg.Content),
			QualityScore: s.cfg.DefaultQuality,
			ContentHash:  contentHash(msg.Content),
			Ctime:        timeutil.NowUnix(),
		}
		vec, err := s.embedder.Embed(ctx, entry.ExampleText, ai.TaskTypeDocument)
		if err != nil {
			logger.Warn("failed to embed knowledge candidate", zap.Error(err))
			continue
		}
		entry.Embedding = vec
		if err := s.knowledge.Save(ctx, entry); err != nil {
			if appErr.IsConflict(err) {
				continue
			}
			logger.Warn("failed to store knowledge entry", zap.Error(err))
			continue
		}
		stored++
		logger.Info("knowledge entry extracted",
			zap.String("category", entry.Category),
			zap.String("pattern_type", entry.PatternType))
	}

	s.mu.Lock()
	if highWater > s.lastScan {
		s.lastScan = highWater
	}
	s.mu.Unlock()
	return stored, nil
}

// describe asks the generator for a one-line description of the extracted
// snippet. Generation is best effort; the entry is stored either way.
func (s *KnowledgeService) describe(ctx context.Context, pattern config.KnowledgePattern, text string) string {
	if s.generator == nil {
		return ""
	}
	ctx, cancel := context.WithTimeout(ctx, describeTimeout)
	defer cancel()
	prompt := fmt.Sprintf(
		"Describe in one short sentence what this user statement reveals about the user's %s. Statement: %q",
		pattern.Category, text)
	out, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		logutil.GetLogger(ctx).Warn("failed to describe knowledge candidate", zap.Error(err))
		return ""
	}
	return strings.TrimSpace(out)
}

func (s *KnowledgeService) matchPattern(content string) (config.KnowledgePattern, bool) {
	lower := strings.ToLower(content)
	for _, pattern := range s.cfg.Patterns {
		for _, keyword := range pattern.Keywords {
			if keyword != "" && strings.Contains(lower, strings.ToLower(keyword)) {
				return pattern, true
			}
		}
	}
	return config.KnowledgePattern{}, false
}

func contentHash(text string) string {
	hash := sha256.Sum256([]byte(text))
	return hex.EncodeToString(hash[:])
}
