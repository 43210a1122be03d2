package embedcache

import (
	"context"
	"fmt"

	"github.com/evermind-ai/evermind/internal/ai"
	appErr "github.com/evermind-ai/evermind/internal/pkg/errors"
)

// WrapDimCheckToEmbedder rejects embeddings whose width does not match the
// configured vector dimension. Placed outermost it catches a misconfigured
// model before anything reaches an index or a cache.
func WrapDimCheckToEmbedder(e ai.IEmbedder, dim int) ai.IEmbedder {
	if e == nil || dim <= 0 {
		return e
	}
	return &dimCheckEmbedder{next: e, dim: dim}
}

type dimCheckEmbedder struct {
	next ai.IEmbedder
	dim  int
}

func (d *dimCheckEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	res, err := d.next.Embed(ctx, text, taskType)
	if err != nil {
		return nil, err
	}
	if len(res) != d.dim {
		return nil, fmt.Errorf("%w: model %s returned %d values, expected %d",
			appErr.ErrDimensionMismatch, d.next.ModelName(), len(res), d.dim)
	}
	return res, nil
}

func (d *dimCheckEmbedder) ModelName() string {
	return d.next.ModelName()
}
