package service

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/evermind-ai/evermind/internal/config"
	"github.com/evermind-ai/evermind/internal/model"
	appErr "github.com/evermind-ai/evermind/internal/pkg/errors"
)

// selectiveEmbedder fails for any text containing the poison marker.
type selectiveEmbedder struct {
	poison string
}

func (s *selectiveEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	if s.poison != "" && strings.Contains(text, s.poison) {
		return nil, fmt.Errorf("embed failed")
	}
	return []float32{1, 0}, nil
}

func (s *selectiveEmbedder) ModelName() string {
	return "selective"
}

func testIngestConfig() config.IngestConfig {
	return config.IngestConfig{
		TargetSize:       1000,
		Overlap:          200,
		Lookback:         100,
		MaxFileSize:      1 << 20,
		MaxEmbedFailures: 2,
	}
}

func TestNewIngestService_RejectsBadChunkerSettings(t *testing.T) {
	cfg := testIngestConfig()
	cfg.Overlap = cfg.TargetSize
	_, err := NewIngestService(nil, nil, nil, &selectiveEmbedder{}, cfg)
	require.Error(t, err, "overlap >= target size")
}

func TestUpload_RejectsOversizedFile(t *testing.T) {
	cfg := testIngestConfig()
	cfg.MaxFileSize = 10
	svc, err := NewIngestService(nil, nil, nil, &selectiveEmbedder{}, cfg)
	require.NoError(t, err)
	_, err = svc.Upload(context.Background(), "u1", "big.txt", "text/plain", []byte(strings.Repeat("x", 11)))
	require.ErrorIs(t, err, appErr.ErrUploadTooLarge)
}

func TestUpload_RejectsUnsupportedType(t *testing.T) {
	svc, err := NewIngestService(nil, nil, nil, &selectiveEmbedder{}, testIngestConfig())
	require.NoError(t, err)
	_, err = svc.Upload(context.Background(), "u1", "image.png", "image/png", []byte{1, 2, 3})
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestUpload_RejectsEmptyFile(t *testing.T) {
	svc, err := NewIngestService(nil, nil, nil, &selectiveEmbedder{}, testIngestConfig())
	require.NoError(t, err)
	_, err = svc.Upload(context.Background(), "u1", "empty.txt", "text/plain", nil)
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestEmbedChunks_SkipsFailuresKeepsIndexes(t *testing.T) {
	svc, err := NewIngestService(nil, nil, nil, &selectiveEmbedder{poison: "POISON"}, testIngestConfig())
	require.NoError(t, err)
	asset := &model.Asset{ID: "a1", UserID: "u1", Filename: "doc.txt"}
	parts := []string{"part zero", "POISON part", "part two"}
	chunks, failures := svc.embedChunks(context.Background(), zap.NewNop(), asset, "text", parts)
	require.Equal(t, 1, failures)
	require.Len(t, chunks, 2)
	require.Equal(t, 0, chunks[0].ChunkIndex)
	require.Equal(t, 2, chunks[1].ChunkIndex, "surviving chunks keep their split positions")
	for _, chunk := range chunks {
		require.Equal(t, "doc.txt", chunk.Metadata[model.MetaFilename])
		require.Equal(t, "a1", chunk.AssetID)
		require.Equal(t, "u1", chunk.UserID)
		require.Equal(t, "text", chunk.DocumentType)
	}
}

func TestEmbedChunks_StopsPastFailureThreshold(t *testing.T) {
	cfg := testIngestConfig()
	cfg.MaxEmbedFailures = 1
	svc, err := NewIngestService(nil, nil, nil, &selectiveEmbedder{poison: "part"}, cfg)
	require.NoError(t, err)
	asset := &model.Asset{ID: "a1", UserID: "u1", Filename: "doc.txt"}
	parts := []string{"part 0", "part 1", "part 2", "part 3"}
	chunks, failures := svc.embedChunks(context.Background(), zap.NewNop(), asset, "text", parts)
	require.Empty(t, chunks)
	require.Equal(t, 2, failures, "stops as soon as the threshold is crossed")
}
