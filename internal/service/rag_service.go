package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/evermind-ai/evermind/internal/ai"
	"github.com/evermind-ai/evermind/internal/config"
	"github.com/evermind-ai/evermind/internal/model"
	"github.com/evermind-ai/evermind/internal/pkg/timeutil"
)

// ConversationIndex is the conversation-turn side of the retrieval surface,
// implemented by repo.MessageRepo.
type ConversationIndex interface {
	Search(ctx context.Context, qvec []float32, userID, sessionID string, matchCount int, threshold float64) ([]model.ScoredResult, error)
	SaveContent(ctx context.Context, msg *model.Message) error
	SetEmbedding(ctx context.Context, id string, vec []float32) error
}

// DocumentIndex is implemented by repo.ChunkRepo.
type DocumentIndex interface {
	Search(ctx context.Context, qvec []float32, userID, assetID string, matchCount int, threshold float64) ([]model.ScoredResult, error)
}

// KnowledgeIndex is implemented by repo.KnowledgeRepo.
type KnowledgeIndex interface {
	Search(ctx context.Context, qvec []float32, matchCount int, threshold, minQuality float64) ([]model.ScoredResult, error)
}

// RagService builds the retrieval context for one chat turn. It is strictly
// best-effort: every failure path degrades to an empty context so the chat
// request itself never fails on retrieval.
type RagService struct {
	embedder  ai.IEmbedder
	messages  ConversationIndex
	chunks    DocumentIndex
	knowledge KnowledgeIndex
	cfg       config.RAGConfig
}

func NewRagService(embedder ai.IEmbedder, messages ConversationIndex, chunks DocumentIndex, knowledge KnowledgeIndex, cfg config.RAGConfig) *RagService {
	return &RagService{
		embedder:  embedder,
		messages:  messages,
		chunks:    chunks,
		knowledge: knowledge,
		cfg:       cfg,
	}
}

// GetContext assembles the context block for userMessage. It never returns
// an error: an unavailable embedder, a failed index, or an internal panic
// all collapse to an empty context with a warn log.
func (s *RagService) GetContext(ctx context.Context, userID, userMessage string, history []model.Turn) (result *model.AssembledContext) {
	logger := logutil.GetLogger(ctx).With(zap.String("user_id", userID))
	result = model.EmptyContext()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("context assembly panicked", zap.Any("panic", r))
			result = model.EmptyContext()
		}
	}()
	if strings.TrimSpace(userMessage) == "" {
		return result
	}

	timeout := time.Duration(s.cfg.RetrievalTimeoutSeconds) * time.Second
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	queryText := s.buildQueryText(userMessage, history)
	qvec, err := s.embedder.Embed(ctx, queryText, ai.TaskTypeQuery)
	if err != nil {
		logger.Warn("query embedding failed, returning empty context", zap.Error(err))
		return result
	}

	hits := s.searchAll(ctx, qvec, userID)
	items := s.merge(hits)
	if len(items) == 0 {
		return result
	}

	rendered := s.render(items)
	counts := model.EmptyContext().Counts
	for _, item := range items {
		counts[item.Source]++
	}
	logger.Debug("context assembled",
		zap.Int("items", len(items)),
		zap.Int("chars", len(rendered)))
	return &model.AssembledContext{
		Rendered: rendered,
		Counts:   counts,
		Chars:    len(rendered),
	}
}

// buildQueryText folds the recent history window into the embedding input
// and applies the configured keyword expansions. Expansions only widen the
// embedding input; the stored turn is always the raw message.
func (s *RagService) buildQueryText(userMessage string, history []model.Turn) string {
	var sb strings.Builder
	window := s.cfg.HistoryWindow
	if len(history) > window {
		history = history[len(history)-window:]
	}
	for _, turn := range history {
		role := turn.Role
		if role == "" {
			role = model.RoleUser
		}
		sb.WriteString(role)
		sb.WriteString(": ")
		sb.WriteString(turn.Content)
		sb.WriteString("\n")
	}
	sb.WriteString("User: ")
	sb.WriteString(userMessage)

	lower := strings.ToLower(userMessage)
	for _, rule := range s.cfg.Expansions {
		for _, trigger := range rule.Triggers {
			if trigger != "" && strings.Contains(lower, strings.ToLower(trigger)) {
				sb.WriteString(" ")
				sb.WriteString(rule.Append)
				break
			}
		}
	}
	return sb.String()
}

// searchAll fans out to the three indexes concurrently under the shared
// retrieval deadline. A failed source contributes nothing.
func (s *RagService) searchAll(ctx context.Context, qvec []float32, userID string) map[model.SourceKind][]model.ScoredResult {
	logger := logutil.GetLogger(ctx)
	var mu sync.Mutex
	hits := make(map[model.SourceKind][]model.ScoredResult, 3)
	searches := []struct {
		source model.SourceKind
		run    func() ([]model.ScoredResult, error)
	}{
		{model.SourceConversation, func() ([]model.ScoredResult, error) {
			return s.messages.Search(ctx, qvec, userID, "", s.cfg.Conversation.MatchCount, s.cfg.Conversation.SimilarityThreshold)
		}},
		{model.SourceDocument, func() ([]model.ScoredResult, error) {
			return s.chunks.Search(ctx, qvec, userID, "", s.cfg.Document.MatchCount, s.cfg.Document.SimilarityThreshold)
		}},
		{model.SourceKnowledge, func() ([]model.ScoredResult, error) {
			return s.knowledge.Search(ctx, qvec, s.cfg.Knowledge.MatchCount, s.cfg.Knowledge.SimilarityThreshold, s.cfg.KnowledgeMinQuality)
		}},
	}

	var wg sync.WaitGroup
	for _, item := range searches {
		wg.Add(1)
		go func(source model.SourceKind, run func() ([]model.ScoredResult, error)) {
			defer wg.Done()
			results, err := run()
			if err != nil {
				logger.Warn("source search failed", zap.String("source", string(source)), zap.Error(err))
				return
			}
			mu.Lock()
			hits[source] = results
			mu.Unlock()
		}(item.source, item.run)
	}
	wg.Wait()
	return hits
}

// merge flattens the per-source hits into one ranked list: similarity desc,
// ties broken by configured source priority, then by each source's own
// order. Blank and suppressed items drop before the global cap applies.
func (s *RagService) merge(hits map[model.SourceKind][]model.ScoredResult) []model.ScoredResult {
	merged := make([]model.ScoredResult, 0, len(hits[model.SourceConversation])+len(hits[model.SourceDocument])+len(hits[model.SourceKnowledge]))
	for _, kind := range s.sourceOrder() {
		for _, item := range hits[kind] {
			if strings.TrimSpace(item.Content) == "" {
				continue
			}
			if s.suppressed(item) {
				continue
			}
			merged = append(merged, item)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Similarity > merged[j].Similarity
	})
	if len(merged) > s.cfg.MaxDisplayItems {
		merged = merged[:s.cfg.MaxDisplayItems]
	}
	return merged
}

// sourceOrder returns all three source kinds ordered by the configured
// priority. A source missing from the priority list loses tie-breaks but is
// never excluded from the merge.
func (s *RagService) sourceOrder() []model.SourceKind {
	ordered := make([]model.SourceKind, 0, 3)
	seen := make(map[model.SourceKind]bool, 3)
	for _, name := range s.cfg.SourcePriority {
		kind := model.SourceKind(name)
		switch kind {
		case model.SourceConversation, model.SourceDocument, model.SourceKnowledge:
			if !seen[kind] {
				seen[kind] = true
				ordered = append(ordered, kind)
			}
		}
	}
	for _, kind := range []model.SourceKind{model.SourceKnowledge, model.SourceDocument, model.SourceConversation} {
		if !seen[kind] {
			ordered = append(ordered, kind)
		}
	}
	return ordered
}

// suppressed reports whether the item duplicates content already fixed in
// the generation prompt, matched by the configured keyword list against
// content and tags.
func (s *RagService) suppressed(item model.ScoredResult) bool {
	if len(s.cfg.SuppressKeywords) == 0 {
		return false
	}
	haystack := strings.ToLower(item.Content)
	if tags, ok := item.Metadata["tags"]; ok {
		haystack += " " + strings.ToLower(tags)
	}
	for _, keyword := range s.cfg.SuppressKeywords {
		if keyword != "" && strings.Contains(haystack, strings.ToLower(keyword)) {
			return true
		}
	}
	return false
}

var sourceHeaders = map[model.SourceKind]string{
	model.SourceKnowledge:    "## Relevant Knowledge:",
	model.SourceDocument:     "## Relevant Documents:",
	model.SourceConversation: "## Relevant Conversations:",
}

// render groups items by source, orders the groups by their best hit, and
// formats each line with a source tag, the similarity, and a capped preview.
func (s *RagService) render(items []model.ScoredResult) string {
	type group struct {
		source model.SourceKind
		items  []model.ScoredResult
		maxSim float64
	}
	byKind := map[model.SourceKind]*group{}
	order := make([]*group, 0, 3)
	for _, item := range items {
		g, ok := byKind[item.Source]
		if !ok {
			g = &group{source: item.Source}
			byKind[item.Source] = g
			order = append(order, g)
		}
		g.items = append(g.items, item)
		if item.Similarity > g.maxSim {
			g.maxSim = item.Similarity
		}
	}
	sort.SliceStable(order, func(i, j int) bool {
		return order[i].maxSim > order[j].maxSim
	})

	var sb strings.Builder
	for _, g := range order {
		sb.WriteString(sourceHeaders[g.source])
		sb.WriteString("\n")
		for i, item := range g.items {
			sb.WriteString(fmt.Sprintf("%d. [%s] (relevance: %.2f) %s\n",
				i+1, s.itemTag(item), item.Similarity, s.preview(item)))
		}
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (s *RagService) itemTag(item model.ScoredResult) string {
	switch item.Source {
	case model.SourceKnowledge:
		category := item.Metadata["category"]
		if category == "" {
			category = "general"
		}
		pattern := item.Metadata["pattern_type"]
		if pattern == "" {
			pattern = "unknown"
		}
		return category + "/" + pattern
	case model.SourceDocument:
		docType := item.Metadata["document_type"]
		if docType == "" {
			docType = "unknown"
		}
		return strings.ToUpper(docType)
	default:
		role := item.Metadata["role"]
		if role == "" {
			role = "unknown"
		}
		return strings.ToUpper(role)
	}
}

func (s *RagService) preview(item model.ScoredResult) string {
	limit := s.cfg.PreviewChars
	if item.Source == model.SourceConversation {
		limit = s.cfg.ConversationPreviewChars
	}
	content := strings.TrimSpace(item.Content)
	runes := []rune(content)
	if len(runes) <= limit {
		return content
	}
	return string(runes[:limit]) + "..."
}

// RecordTurn persists one conversation turn and embeds it out of band. The
// returned id is final once the insert lands; a failed background embed
// only keeps the turn out of retrieval.
func (s *RagService) RecordTurn(ctx context.Context, userID, sessionID, role, content string, meta map[string]string) (string, error) {
	msg := &model.Message{
		ID:        newID(),
		UserID:    userID,
		SessionID: sessionID,
		Role:      role,
		Content:   content,
		Metadata:  meta,
		Ctime:     timeutil.NowUnix(),
	}
	if err := s.messages.SaveContent(ctx, msg); err != nil {
		return "", err
	}
	logger := logutil.GetLogger(ctx).With(zap.String("user_id", userID), zap.String("message_id", msg.ID))
	go func() {
		bgCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		vec, err := s.embedder.Embed(bgCtx, content, ai.TaskTypeDocument)
		if err != nil {
			logger.Warn("failed to embed turn", zap.Error(err))
			return
		}
		if err := s.messages.SetEmbedding(bgCtx, msg.ID, vec); err != nil {
			logger.Warn("failed to store turn embedding", zap.Error(err))
			return
		}
		logger.Debug("turn embedded")
	}()
	return msg.ID, nil
}
