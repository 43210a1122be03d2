package job

import (
	"context"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/evermind-ai/evermind/internal/service"
)

// KnowledgeExtractJob periodically mines recent conversations into the
// knowledge index.
type KnowledgeExtractJob struct {
	knowledge *service.KnowledgeService
}

func NewKnowledgeExtractJob(knowledge *service.KnowledgeService) *KnowledgeExtractJob {
	return &KnowledgeExtractJob{knowledge: knowledge}
}

func (j *KnowledgeExtractJob) Name() string {
	return "knowledge_extract"
}

func (j *KnowledgeExtractJob) Run(ctx context.Context) error {
	if j.knowledge == nil {
		return nil
	}
	stored, err := j.knowledge.ExtractFromConversations(ctx)
	if err != nil {
		return err
	}
	if stored > 0 {
		logutil.GetLogger(ctx).Info("knowledge extraction stored entries", zap.Int("count", stored))
	}
	return nil
}
