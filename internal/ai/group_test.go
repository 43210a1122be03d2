package ai

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type scriptedEmbedder struct {
	name string
	vec  []float32
	err  error
}

func (s *scriptedEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	return s.vec, s.err
}

func (s *scriptedEmbedder) ModelName() string {
	return s.name
}

func TestGroupEmbedder_FallsThroughInOrder(t *testing.T) {
	primary := &scriptedEmbedder{name: "primary", err: fmt.Errorf("quota exhausted")}
	backup := &scriptedEmbedder{name: "backup", vec: []float32{1, 2}}
	group := NewGroupEmbedder([]EmbedderEntry{
		{Name: "primary", Embedder: primary},
		{Name: "backup", Embedder: backup},
	})

	vec, err := group.Embed(context.Background(), "hello", TaskTypeQuery)
	require.NoError(t, err)
	require.Equal(t, []float32{1, 2}, vec)
	require.Equal(t, "primary|backup", group.ModelName())
}

func TestGroupEmbedder_AllFailReturnsLastError(t *testing.T) {
	group := NewGroupEmbedder([]EmbedderEntry{
		{Name: "a", Embedder: &scriptedEmbedder{err: fmt.Errorf("first down")}},
		{Name: "b", Embedder: &scriptedEmbedder{err: fmt.Errorf("second down")}},
	})

	_, err := group.Embed(context.Background(), "hello", TaskTypeQuery)
	require.ErrorContains(t, err, "second down")
}

func TestGroupEmbedder_Empty(t *testing.T) {
	require.Nil(t, NewGroupEmbedder(nil))
}

type scriptedGenerator struct {
	out string
	err error
}

func (s *scriptedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return s.out, s.err
}

func TestGroupGenerator_FallsThroughInOrder(t *testing.T) {
	group := NewGroupGenerator([]GeneratorEntry{
		{Name: "a", Generator: &scriptedGenerator{err: fmt.Errorf("down")}},
		{Name: "b", Generator: &scriptedGenerator{out: "answer"}},
	})

	out, err := group.Generate(context.Background(), "prompt")
	require.NoError(t, err)
	require.Equal(t, "answer", out)
}
