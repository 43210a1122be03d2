// Package extract turns uploaded file bytes into plain text for chunking.
// One extractor per document family, selected by extension first and
// declared MIME second; unsupported or corrupt input yields
// errors.ErrExtractionFailed so the caller can keep the asset without text.
package extract

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	appErr "github.com/evermind-ai/evermind/internal/pkg/errors"
)

type Extractor interface {
	Name() string
	Extract(data []byte) (string, error)
}

var (
	registryMu sync.RWMutex
	byExt      = map[string]Extractor{}
	byMIME     = map[string]Extractor{}
)

func register(e Extractor, exts []string, mimes []string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	for _, ext := range exts {
		byExt[strings.ToLower(ext)] = e
	}
	for _, m := range mimes {
		byMIME[strings.ToLower(m)] = e
	}
}

func lookup(filename, declaredMIME string) Extractor {
	registryMu.RLock()
	defer registryMu.RUnlock()
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if e, ok := byExt[ext]; ok {
		return e
	}
	mimeKey := strings.ToLower(strings.TrimSpace(declaredMIME))
	if i := strings.Index(mimeKey, ";"); i >= 0 {
		mimeKey = strings.TrimSpace(mimeKey[:i])
	}
	if e, ok := byMIME[mimeKey]; ok {
		return e
	}
	return nil
}

// Text extracts plain text from raw upload bytes. DocumentType reports
// which extractor handled the input, for the chunk rows' type tag.
func Text(data []byte, filename, declaredMIME string) (text string, documentType string, err error) {
	if len(data) == 0 {
		return "", "", fmt.Errorf("%w: empty file %q", appErr.ErrExtractionFailed, filename)
	}
	e := lookup(filename, declaredMIME)
	if e == nil {
		return "", "", fmt.Errorf("%w: unsupported document %q (%s)", appErr.ErrExtractionFailed, filename, declaredMIME)
	}
	out, err := e.Extract(data)
	if err != nil {
		return "", "", fmt.Errorf("%w: %s: %v", appErr.ErrExtractionFailed, e.Name(), err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", "", fmt.Errorf("%w: no text in %q", appErr.ErrExtractionFailed, filename)
	}
	return out, e.Name(), nil
}

// Supported reports whether any extractor claims the file; used by the
// upload handler to reject unprocessable documents early.
func Supported(filename, declaredMIME string) bool {
	return lookup(filename, declaredMIME) != nil
}
