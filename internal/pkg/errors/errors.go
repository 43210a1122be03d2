package errors

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalid      = errors.New("invalid")
	ErrConflict     = errors.New("conflict")
	ErrTooMany      = errors.New("too many requests")
	ErrInternal     = errors.New("internal")

	// Retrieval degradation taxonomy. All of these are recovered inside the
	// assembler or the ingestion orchestrator and shrink to fewer or zero
	// results; none of them may surface as a chat failure.
	ErrEmbeddingUnavailable = errors.New("embedding provider unavailable")
	ErrExtractionFailed     = errors.New("extraction failed")
	ErrIndexUnavailable     = errors.New("similarity index unavailable")
	ErrDimensionMismatch    = errors.New("embedding dimension mismatch")

	ErrUploadTooLarge = errors.New("upload too large")
)

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}
