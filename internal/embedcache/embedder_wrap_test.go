package embedcache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/evermind-ai/evermind/internal/model"
	appErr "github.com/evermind-ai/evermind/internal/pkg/errors"
)

type countingEmbedder struct {
	vec   []float32
	calls int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	c.calls++
	return c.vec, nil
}

func (c *countingEmbedder) ModelName() string {
	return "test-model"
}

func TestLruEmbedder_SecondCallHitsCache(t *testing.T) {
	inner := &countingEmbedder{vec: []float32{1, 2, 3}}
	e := WrapLruCacheToEmbedder(inner, 10, time.Minute)

	first, err := e.Embed(context.Background(), "hello", "RETRIEVAL_QUERY")
	require.NoError(t, err)
	second, err := e.Embed(context.Background(), "hello", "RETRIEVAL_QUERY")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, inner.calls)

	// Mutating a returned vector must not poison the cached copy.
	second[0] = 99
	third, err := e.Embed(context.Background(), "hello", "RETRIEVAL_QUERY")
	require.NoError(t, err)
	require.Equal(t, float32(1), third[0])
}

func TestLruEmbedder_TaskTypeSeparatesKeys(t *testing.T) {
	inner := &countingEmbedder{vec: []float32{1}}
	e := WrapLruCacheToEmbedder(inner, 10, time.Minute)

	_, err := e.Embed(context.Background(), "hello", "RETRIEVAL_QUERY")
	require.NoError(t, err)
	_, err = e.Embed(context.Background(), "hello", "RETRIEVAL_DOCUMENT")
	require.NoError(t, err)
	require.Equal(t, 2, inner.calls)
}

type fakeCacheStore struct {
	getErr  error
	saveErr error
	stored  map[string][]float32
}

func (f *fakeCacheStore) Get(ctx context.Context, modelName, taskType, contentHash string) ([]float32, bool, error) {
	if f.getErr != nil {
		return nil, false, f.getErr
	}
	values, ok := f.stored[taskType+":"+contentHash]
	return values, ok, nil
}

func (f *fakeCacheStore) Save(ctx context.Context, entry *model.EmbeddingCache) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	if f.stored == nil {
		f.stored = make(map[string][]float32)
	}
	f.stored[entry.TaskType+":"+entry.ContentHash] = entry.Embedding
	return nil
}

func TestDBCacheEmbedder_SecondCallHitsCache(t *testing.T) {
	inner := &countingEmbedder{vec: []float32{1, 2}}
	e := WrapDBCacheToEmbedder(inner, &fakeCacheStore{})

	first, err := e.Embed(context.Background(), "hello", "RETRIEVAL_QUERY")
	require.NoError(t, err)
	second, err := e.Embed(context.Background(), "hello", "RETRIEVAL_QUERY")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, inner.calls)
}

func TestDBCacheEmbedder_ReadFailureFallsThroughToProvider(t *testing.T) {
	inner := &countingEmbedder{vec: []float32{1, 2}}
	e := WrapDBCacheToEmbedder(inner, &fakeCacheStore{getErr: fmt.Errorf("connection refused")})

	vec, err := e.Embed(context.Background(), "hello", "RETRIEVAL_QUERY")
	require.NoError(t, err)
	require.Equal(t, []float32{1, 2}, vec)
	require.Equal(t, 1, inner.calls)
}

func TestDBCacheEmbedder_SaveFailureSwallowed(t *testing.T) {
	inner := &countingEmbedder{vec: []float32{1, 2}}
	e := WrapDBCacheToEmbedder(inner, &fakeCacheStore{saveErr: fmt.Errorf("disk full")})

	vec, err := e.Embed(context.Background(), "hello", "RETRIEVAL_QUERY")
	require.NoError(t, err)
	require.Equal(t, []float32{1, 2}, vec)
}

func TestDimCheckEmbedder_RejectsWrongWidth(t *testing.T) {
	inner := &countingEmbedder{vec: []float32{1, 2, 3}}
	e := WrapDimCheckToEmbedder(inner, 4)

	_, err := e.Embed(context.Background(), "hello", "RETRIEVAL_QUERY")
	require.ErrorIs(t, err, appErr.ErrDimensionMismatch)

	e = WrapDimCheckToEmbedder(inner, 3)
	vec, err := e.Embed(context.Background(), "hello", "RETRIEVAL_QUERY")
	require.NoError(t, err)
	require.Len(t, vec, 3)
}

func TestInputCheckEmbedder_RejectsBlankAndOversize(t *testing.T) {
	inner := &countingEmbedder{vec: []float32{1}}
	e := WrapInputCheckToEmbedder(inner, 10)

	_, err := e.Embed(context.Background(), "   \n", "RETRIEVAL_QUERY")
	require.True(t, errors.Is(err, appErr.ErrInvalid))

	_, err = e.Embed(context.Background(), strings.Repeat("a", 11), "RETRIEVAL_QUERY")
	require.True(t, errors.Is(err, appErr.ErrInvalid))
	require.Equal(t, 0, inner.calls)

	_, err = e.Embed(context.Background(), strings.Repeat("a", 10), "RETRIEVAL_QUERY")
	require.NoError(t, err)
	require.Equal(t, 1, inner.calls)
}
