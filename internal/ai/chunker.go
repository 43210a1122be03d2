package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

// Chunker splits extracted document text into overlapping windows sized for
// embedding. Boundaries prefer the nearest sentence terminator within the
// lookback span so sentences are not severed mid-way. Splitting is
// deterministic: identical input and settings always produce the identical
// chunk sequence.
type Chunker struct {
	targetSize int
	overlap    int
	lookback   int
}

func NewChunker(targetSize, overlap, lookback int) (*Chunker, error) {
	if targetSize <= 0 {
		return nil, fmt.Errorf("chunker target size must be positive, got %d", targetSize)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("chunker overlap must not be negative, got %d", overlap)
	}
	if overlap >= targetSize {
		return nil, fmt.Errorf("chunker overlap %d must be smaller than target size %d", overlap, targetSize)
	}
	if lookback <= 0 || lookback > targetSize {
		lookback = targetSize / 10
	}
	return &Chunker{targetSize: targetSize, overlap: overlap, lookback: lookback}, nil
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

// Split walks text in windows of targetSize characters, breaking each window
// at the latest sentence terminator within lookback of the window end, then
// advances by targetSize-overlap so consecutive chunks share context. Windows
// are measured in runes, never bytes, so multi-byte text is never severed
// mid-character.
func (c *Chunker) Split(ctx context.Context, text string) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= c.targetSize {
		return []string{text}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + c.targetSize
		if end >= len(runes) {
			end = len(runes)
		} else {
			searchStart := end - c.lookback
			if searchStart < start {
				searchStart = start
			}
			for i := end - 1; i > searchStart; i-- {
				if isSentenceEnd(runes[i]) {
					end = i + 1
					break
				}
			}
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		if end >= len(runes) {
			break
		}
		next := end - c.overlap
		if next <= start {
			// Overlap swallowed the whole advance (dense terminators near the
			// window start); force forward progress.
			next = start + 1
		}
		start = next
	}

	logutil.GetLogger(ctx).Debug("text chunked",
		zap.Int("input_chars", len(runes)),
		zap.Int("chunks", len(chunks)),
		zap.Int("target_size", c.targetSize),
		zap.Int("overlap", c.overlap),
	)
	return chunks
}
