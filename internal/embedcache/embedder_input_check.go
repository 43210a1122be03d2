package embedcache

import (
	"context"
	"fmt"
	"strings"

	"github.com/evermind-ai/evermind/internal/ai"
	appErr "github.com/evermind-ai/evermind/internal/pkg/errors"
)

// WrapInputCheckToEmbedder rejects blank and oversize inputs before they
// reach a cache tier or the provider. maxChars <= 0 disables the size check.
func WrapInputCheckToEmbedder(e ai.IEmbedder, maxChars int) ai.IEmbedder {
	if e == nil {
		return e
	}
	return &inputCheckEmbedder{next: e, maxChars: maxChars}
}

type inputCheckEmbedder struct {
	next     ai.IEmbedder
	maxChars int
}

func (i *inputCheckEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty embedding input", appErr.ErrInvalid)
	}
	if i.maxChars > 0 && len(text) > i.maxChars {
		return nil, fmt.Errorf("%w: embedding input %d chars exceeds limit %d",
			appErr.ErrInvalid, len(text), i.maxChars)
	}
	return i.next.Embed(ctx, text, taskType)
}

func (i *inputCheckEmbedder) ModelName() string {
	return i.next.ModelName()
}
