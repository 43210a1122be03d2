package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/evermind-ai/evermind/internal/config"
	"github.com/evermind-ai/evermind/internal/model"
	appErr "github.com/evermind-ai/evermind/internal/pkg/errors"
)

type fakeKnowledgeStore struct {
	saved   []*model.KnowledgeEntry
	saveErr error
	results []model.ScoredResult
}

func (f *fakeKnowledgeStore) Save(ctx context.Context, entry *model.KnowledgeEntry) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	for _, existing := range f.saved {
		if existing.ContentHash == entry.ContentHash {
			return appErr.ErrConflict
		}
	}
	f.saved = append(f.saved, entry)
	return nil
}

func (f *fakeKnowledgeStore) Search(ctx context.Context, qvec []float32, matchCount int, threshold, minQuality float64) ([]model.ScoredResult, error) {
	return f.results, nil
}

type fakeMessageFeed struct {
	messages []model.Message
}

func (f *fakeMessageFeed) RecentSince(ctx context.Context, sinceUnix int64, limit int) ([]model.Message, error) {
	return f.messages, nil
}

func testKnowledgeConfig() config.KnowledgeConfig {
	return config.KnowledgeConfig{
		Patterns: []config.KnowledgePattern{
			{Category: "health", PatternType: "goal", Keywords: []string{"lose weight", "diet"}},
			{Category: "schedule", PatternType: "preference", Keywords: []string{"morning"}},
		},
		MaxPerRun:       3,
		DefaultQuality:  0.7,
		ScanWindowHours: 24,
	}
}

func userMessage(id, content string, ctime int64) model.Message {
	return model.Message{ID: id, UserID: "u1", Role: model.RoleUser, Content: content, Ctime: ctime}
}

func TestExtractFromConversations_StoresMatchedPatterns(t *testing.T) {
	store := &fakeKnowledgeStore{}
	feed := &fakeMessageFeed{messages: []model.Message{
		userMessage("m1", "I want to lose weight before summer", 100),
		{ID: "m2", UserID: "u1", Role: model.RoleAssistant, Content: "you could try a diet", Ctime: 101},
		userMessage("m3", "nothing interesting here", 102),
		userMessage("m4", "I prefer training in the MORNING", 103),
	}}
	svc := NewKnowledgeService(&fakeEmbedder{vec: []float32{1, 0}}, nil, feed, store, testKnowledgeConfig(), testRAGConfig())

	stored, err := svc.ExtractFromConversations(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, stored)
	require.Equal(t, "health", store.saved[0].Category)
	require.Equal(t, "goal", store.saved[0].PatternType)
	require.Equal(t, "schedule", store.saved[1].Category)
	for _, entry := range store.saved {
		require.Equal(t, 0.7, entry.QualityScore)
		require.Equal(t, []string{"conversation_extracted"}, entry.Tags)
		require.NotEmpty(t, entry.Embedding)
	}
}

type fakeGenerator struct {
	out string
	err error
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.out, nil
}

func TestExtractFromConversations_GeneratorFillsDescription(t *testing.T) {
	store := &fakeKnowledgeStore{}
	feed := &fakeMessageFeed{messages: []model.Message{
		userMessage("m1", "I want to lose weight", 100),
	}}
	gen := &fakeGenerator{out: " wants to lose weight \n"}
	svc := NewKnowledgeService(&fakeEmbedder{vec: []float32{1, 0}}, gen, feed, store, testKnowledgeConfig(), testRAGConfig())

	stored, err := svc.ExtractFromConversations(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stored)
	require.Equal(t, "wants to lose weight", store.saved[0].Description)
}

func TestExtractFromConversations_GeneratorFailureKeepsEntry(t *testing.T) {
	store := &fakeKnowledgeStore{}
	feed := &fakeMessageFeed{messages: []model.Message{
		userMessage("m1", "I want to lose weight", 100),
	}}
	gen := &fakeGenerator{err: fmt.Errorf("rate limited")}
	svc := NewKnowledgeService(&fakeEmbedder{vec: []float32{1, 0}}, gen, feed, store, testKnowledgeConfig(), testRAGConfig())

	stored, err := svc.ExtractFromConversations(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stored, "entry survives generator failure")
	require.Empty(t, store.saved[0].Description)
}

func TestExtractFromConversations_DedupAcrossRuns(t *testing.T) {
	store := &fakeKnowledgeStore{}
	feed := &fakeMessageFeed{messages: []model.Message{
		userMessage("m1", "I want to lose weight", 100),
	}}
	svc := NewKnowledgeService(&fakeEmbedder{vec: []float32{1, 0}}, nil, feed, store, testKnowledgeConfig(), testRAGConfig())

	stored, err := svc.ExtractFromConversations(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, stored)

	// Same feed again: the content hash collides and nothing new lands.
	svc2 := NewKnowledgeService(&fakeEmbedder{vec: []float32{1, 0}}, nil, feed, store, testKnowledgeConfig(), testRAGConfig())
	stored, err = svc2.ExtractFromConversations(context.Background())
	require.NoError(t, err)
	require.Zero(t, stored, "rerun should dedup")
	require.Len(t, store.saved, 1)
}

func TestExtractFromConversations_CapsPerRun(t *testing.T) {
	store := &fakeKnowledgeStore{}
	var messages []model.Message
	for i := 0; i < 10; i++ {
		messages = append(messages, userMessage(fmt.Sprintf("m%d", i), fmt.Sprintf("diet variant %d", i), int64(100+i)))
	}
	feed := &fakeMessageFeed{messages: messages}
	cfg := testKnowledgeConfig()
	cfg.MaxPerRun = 2
	svc := NewKnowledgeService(&fakeEmbedder{vec: []float32{1, 0}}, nil, feed, store, cfg, testRAGConfig())

	stored, err := svc.ExtractFromConversations(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, stored)
}

func TestKnowledgeSearch_EmptyQuery(t *testing.T) {
	svc := NewKnowledgeService(&fakeEmbedder{vec: []float32{1, 0}}, nil, &fakeMessageFeed{}, &fakeKnowledgeStore{}, testKnowledgeConfig(), testRAGConfig())
	results, err := svc.Search(context.Background(), "  ", 10)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestKnowledgeSearch_EmbedderUnavailable(t *testing.T) {
	svc := NewKnowledgeService(&fakeEmbedder{err: fmt.Errorf("down")}, nil, &fakeMessageFeed{}, &fakeKnowledgeStore{}, testKnowledgeConfig(), testRAGConfig())
	_, err := svc.Search(context.Background(), "query", 10)
	require.ErrorIs(t, err, appErr.ErrEmbeddingUnavailable)
}
