package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/cwbudde/axialfit/internal/document"
)

// FSStore implements the Store interface using filesystem-based persistence.
// Documents are stored in a directory structure: <baseDir>/documents/<id>/
//
// Thread-safety: This implementation uses atomic file operations (rename)
// and does not require locks. Multiple goroutines can safely call methods
// concurrently.
type FSStore struct {
	baseDir string // Root directory for all document data (e.g., "./data")
}

var _ Store = (*FSStore)(nil)

// NewFSStore creates a new filesystem-based store.
// The baseDir will be created if it doesn't exist.
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}

	return &FSStore{
		baseDir: baseDir,
	}, nil
}

// BaseDir returns the root directory of the store.
func (fs *FSStore) BaseDir() string {
	return fs.baseDir
}

// documentDir returns the directory path for a given document ID.
func (fs *FSStore) documentDir(id string) string {
	return documentDir(fs.baseDir, id)
}

func documentDir(baseDir, id string) string {
	return filepath.Join(baseDir, "documents", id)
}

// documentPath returns the path to the document.json file.
func (fs *FSStore) documentPath(id string) string {
	return filepath.Join(fs.documentDir(id), "document.json")
}

// SaveDocument atomically saves a document.
// Uses temp file + rename pattern to ensure atomicity.
func (fs *FSStore) SaveDocument(id string, rec *Record) error {
	if id == "" {
		return fmt.Errorf("document id cannot be empty")
	}
	if rec == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if rec.ID == "" {
		rec.ID = id
	}
	if err := rec.Validate(); err != nil {
		return err
	}

	dir := fs.documentDir(id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create document directory: %w", err)
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize document: %w", err)
	}

	// Write to temporary file first (atomic pattern)
	tempPath := fs.documentPath(id) + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp document file: %w", err)
	}

	finalPath := fs.documentPath(id)
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename document file: %w", err)
	}

	slog.Debug("Document saved", "id", id, "kind", rec.Kind(), "path", finalPath)
	return nil
}

// LoadDocument retrieves the document stored under id.
func (fs *FSStore) LoadDocument(id string) (*Record, error) {
	if id == "" {
		return nil, fmt.Errorf("document id cannot be empty")
	}

	path := fs.documentPath(id)

	stat, err := os.Stat(path)
	if os.IsNotExist(err) {
		return nil, &NotFoundError{ID: id}
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat document file: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read document file: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to deserialize document: %w", err)
	}
	rec.ID = id
	rec.Created = stat.ModTime()

	slog.Debug("Document loaded", "id", id, "kind", rec.Kind(), "path", path)
	return &rec, nil
}

// ListDocuments returns a summary of every stored document, oldest first.
func (fs *FSStore) ListDocuments() ([]RecordInfo, error) {
	docsDir := filepath.Join(fs.baseDir, "documents")

	if _, err := os.Stat(docsDir); os.IsNotExist(err) {
		return []RecordInfo{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to stat documents directory: %w", err)
	}

	entries, err := os.ReadDir(docsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read documents directory: %w", err)
	}

	infos := []RecordInfo{}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		id := entry.Name()
		if _, err := os.Stat(fs.documentPath(id)); os.IsNotExist(err) {
			continue // Skip directories without document.json
		}

		rec, err := fs.LoadDocument(id)
		if err != nil {
			slog.Warn("Failed to load document for listing", "id", id, "error", err)
			continue // Skip corrupted documents
		}

		infos = append(infos, rec.Info())
	}

	sort.Slice(infos, func(i, j int) bool {
		if infos[i].Created.Equal(infos[j].Created) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].Created.Before(infos[j].Created)
	})

	slog.Debug("Listed documents", "count", len(infos))
	return infos, nil
}

// SaveTrace writes trace.jsonl for the document.
func (fs *FSStore) SaveTrace(id string, traces []document.Trace) error {
	if id == "" {
		return fmt.Errorf("document id cannot be empty")
	}
	if err := WriteTraces(fs.baseDir, id, traces); err != nil {
		return err
	}
	slog.Debug("Trace saved", "id", id, "starts", len(traces))
	return nil
}

// LoadTrace reads back the trace written by SaveTrace.
func (fs *FSStore) LoadTrace(id string) ([]TraceEntry, error) {
	if id == "" {
		return nil, fmt.Errorf("document id cannot be empty")
	}

	r, err := NewTraceReader(fs.baseDir, id)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	entries, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read trace %s: %w", id, err)
	}
	return entries, nil
}

// DeleteDocument removes the document and all associated artifacts.
func (fs *FSStore) DeleteDocument(id string) error {
	if id == "" {
		return fmt.Errorf("document id cannot be empty")
	}

	dir := fs.documentDir(id)

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return &NotFoundError{ID: id}
	} else if err != nil {
		return fmt.Errorf("failed to stat document directory: %w", err)
	}

	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove document directory: %w", err)
	}

	slog.Debug("Document deleted", "id", id, "path", dir)
	return nil
}
