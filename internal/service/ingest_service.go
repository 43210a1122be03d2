package service

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/evermind-ai/evermind/internal/ai"
	"github.com/evermind-ai/evermind/internal/config"
	"github.com/evermind-ai/evermind/internal/extract"
	"github.com/evermind-ai/evermind/internal/filestore"
	"github.com/evermind-ai/evermind/internal/model"
	appErr "github.com/evermind-ai/evermind/internal/pkg/errors"
	"github.com/evermind-ai/evermind/internal/pkg/timeutil"
	"github.com/evermind-ai/evermind/internal/repo"
)

// IngestService runs uploads through the pipeline
// uploaded -> extracting -> chunking -> embedding -> stored | failed.
// Upload acks as soon as the raw bytes and the asset row land; everything
// after runs detached and reports through the asset state.
type IngestService struct {
	store    filestore.Store
	assets   *repo.AssetRepo
	chunks   *repo.ChunkRepo
	embedder ai.IEmbedder
	chunker  *ai.Chunker
	cfg      config.IngestConfig
}

func NewIngestService(store filestore.Store, assets *repo.AssetRepo, chunks *repo.ChunkRepo, embedder ai.IEmbedder, cfg config.IngestConfig) (*IngestService, error) {
	chunker, err := ai.NewChunker(cfg.TargetSize, cfg.Overlap, cfg.Lookback)
	if err != nil {
		return nil, err
	}
	return &IngestService{
		store:    store,
		assets:   assets,
		chunks:   chunks,
		embedder: embedder,
		chunker:  chunker,
		cfg:      cfg,
	}, nil
}

// Upload validates and stores the file, then kicks off processing. Uploading
// a filename the user already ingested reuses the existing asset id, so the
// new chunk set replaces the old one instead of piling up next to it.
func (s *IngestService) Upload(ctx context.Context, userID, filename, mimeType string, data []byte) (*model.Asset, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", appErr.ErrInvalid)
	}
	if int64(len(data)) > s.cfg.MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", appErr.ErrUploadTooLarge, len(data), s.cfg.MaxFileSize)
	}
	if !extract.Supported(filename, mimeType) {
		return nil, fmt.Errorf("%w: unsupported file type %q", appErr.ErrInvalid, filename)
	}

	assetID := newID()
	reingest := false
	if existing, err := s.assets.GetByUserAndFilename(ctx, userID, filename); err == nil {
		assetID = existing.ID
		reingest = true
	}
	asset := &model.Asset{
		ID:       assetID,
		UserID:   userID,
		Filename: filename,
		MimeType: mimeType,
		Size:     int64(len(data)),
		StoreKey: assetID + strings.ToLower(filepath.Ext(filename)),
		State:    model.AssetStateUploaded,
		Ctime:    timeutil.NowUnix(),
		Mtime:    timeutil.NowUnix(),
	}
	if err := s.store.Save(ctx, asset.StoreKey, bytes.NewReader(data), asset.Size); err != nil {
		return nil, fmt.Errorf("store upload: %w", err)
	}
	if reingest {
		// Processing replaces the chunk set under the kept asset id.
		if err := s.assets.ResetForIngest(ctx, asset); err != nil {
			return nil, fmt.Errorf("reset asset: %w", err)
		}
	} else if err := s.assets.Create(ctx, asset); err != nil {
		return nil, fmt.Errorf("create asset: %w", err)
	}

	go s.process(asset, data)
	return asset, nil
}

// process is the detached pipeline body. The parent request context is gone
// by the time it runs, so it budgets its own deadline.
func (s *IngestService) process(asset *model.Asset, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	logger := logutil.GetLogger(ctx).With(
		zap.String("asset_id", asset.ID),
		zap.String("user_id", asset.UserID),
		zap.String("filename", asset.Filename))

	fail := func(stage string, err error) {
		logger.Error("ingestion failed", zap.String("stage", stage), zap.Error(err))
		if markErr := s.assets.MarkFailed(ctx, asset.ID, fmt.Sprintf("%s: %v", stage, err)); markErr != nil {
			logger.Error("failed to mark asset failed", zap.Error(markErr))
		}
	}

	if err := s.assets.UpdateState(ctx, asset.ID, model.AssetStateExtracting); err != nil {
		logger.Error("failed to advance state", zap.Error(err))
		return
	}
	text, docType, err := extract.Text(data, asset.Filename, asset.MimeType)
	if err != nil {
		fail("extract", err)
		return
	}
	if strings.TrimSpace(text) == "" {
		fail("extract", fmt.Errorf("no text content"))
		return
	}
	logger.Info("text extracted", zap.String("document_type", docType), zap.Int("chars", len(text)))

	if err := s.assets.UpdateState(ctx, asset.ID, model.AssetStateChunking); err != nil {
		logger.Error("failed to advance state", zap.Error(err))
		return
	}
	parts := s.chunker.Split(ctx, text)
	if len(parts) == 0 {
		fail("chunk", fmt.Errorf("no chunks produced"))
		return
	}

	if err := s.assets.UpdateState(ctx, asset.ID, model.AssetStateEmbedding); err != nil {
		logger.Error("failed to advance state", zap.Error(err))
		return
	}
	chunks, embedFailures := s.embedChunks(ctx, logger, asset, docType, parts)
	if embedFailures > s.cfg.MaxEmbedFailures {
		fail("embed", fmt.Errorf("%d of %d chunks failed to embed", embedFailures, len(parts)))
		return
	}
	if len(chunks) == 0 {
		fail("embed", fmt.Errorf("no chunks embedded"))
		return
	}

	if err := s.chunks.ReplaceAsset(ctx, asset.ID, chunks); err != nil {
		fail("store", err)
		return
	}
	if err := s.assets.SetStored(ctx, asset.ID, len(chunks)); err != nil {
		logger.Error("failed to mark asset stored", zap.Error(err))
		return
	}
	logger.Info("asset ingested", zap.Int("chunks", len(chunks)), zap.Int("embed_failures", embedFailures))
}

// embedChunks embeds each part, skipping individual failures. Chunk indexes
// stay aligned with the split order even when a part is skipped, so the
// order relation back into the document survives.
func (s *IngestService) embedChunks(ctx context.Context, logger *zap.Logger, asset *model.Asset, docType string, parts []string) ([]*model.DocumentChunk, int) {
	chunks := make([]*model.DocumentChunk, 0, len(parts))
	failures := 0
	for i, part := range parts {
		if failures > s.cfg.MaxEmbedFailures {
			break
		}
		vec, err := s.embedder.Embed(ctx, part, ai.TaskTypeDocument)
		if err != nil {
			failures++
			logger.Warn("chunk embedding failed", zap.Int("chunk_index", i), zap.Error(err))
			continue
		}
		chunks = append(chunks, &model.DocumentChunk{
			AssetID:      asset.ID,
			ChunkIndex:   i,
			UserID:       asset.UserID,
			DocumentType: docType,
			Content:      part,
			Embedding:    vec,
			Metadata: map[string]string{
				model.MetaFilename: asset.Filename,
			},
			Ctime: timeutil.NowUnix(),
		})
	}
	return chunks, failures
}

func (s *IngestService) GetAsset(ctx context.Context, userID, assetID string) (*model.Asset, error) {
	return s.assets.GetByID(ctx, userID, assetID)
}

func (s *IngestService) ListAssets(ctx context.Context, userID string, limit, offset uint) ([]model.Asset, error) {
	return s.assets.ListByUser(ctx, userID, limit, offset)
}

// DeleteAsset removes the chunk set first so a half-finished delete can
// never leave orphaned chunks behind a missing asset row.
func (s *IngestService) DeleteAsset(ctx context.Context, userID, assetID string) error {
	if _, err := s.assets.GetByID(ctx, userID, assetID); err != nil {
		return err
	}
	if err := s.chunks.DeleteByAsset(ctx, assetID); err != nil {
		return err
	}
	return s.assets.DeleteByID(ctx, userID, assetID)
}
