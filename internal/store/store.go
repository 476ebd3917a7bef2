package store

import "github.com/cwbudde/axialfit/internal/document"

// Store defines the interface for result document persistence.
// Implementations must be thread-safe and handle concurrent access gracefully.
//
// Error handling conventions:
//   - Return nil error on success
//   - Return ErrNotFound if the document doesn't exist (for Load/Delete)
//   - Return *ValidationError for records that fail Validate
//   - Wrap underlying errors with context using fmt.Errorf("context: %w", err)
type Store interface {
	// SaveDocument atomically saves the record under id, overwriting any
	// existing document with the same id. The document is written to a
	// temporary file and renamed into place.
	SaveDocument(id string, rec *Record) error

	// LoadDocument retrieves the document stored under id.
	// Returns ErrNotFound if no document exists for id.
	LoadDocument(id string) (*Record, error)

	// ListDocuments returns a summary of every stored document.
	// The returned slice may be empty if no documents exist.
	ListDocuments() ([]RecordInfo, error)

	// SaveTrace writes the per-iteration history of every start next to
	// the document, replacing any earlier trace.
	SaveTrace(id string, traces []document.Trace) error

	// LoadTrace returns the stored trace of id in the order it was written:
	// start by start, iteration by iteration.
	// Returns ErrNotFound if no trace exists for id.
	LoadTrace(id string) ([]TraceEntry, error)

	// DeleteDocument removes the document and all associated artifacts:
	//   - document.json
	//   - trace.jsonl
	//
	// Returns ErrNotFound if no document exists for id.
	DeleteDocument(id string) error
}

// ErrNotFound is returned when a requested document does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing document error.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return "document not found: " + e.ID
	}
	return "document not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
