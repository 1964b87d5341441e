// Package feedback stores call-quality ratings submitted by farmers and
// traders after a negotiation. Ratings are appended as JSON lines to a
// local file, which field teams collect when tuning providers for a new
// mandi region.
//
// Deployments that need to query feedback at scale can bulk-load the
// file into the main PostgreSQL database.
package feedback

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Record is a single call-quality rating. Rating fields run 1 (poor) to
// 5 (excellent); zero means the caller skipped the question.
type Record struct {
	Timestamp           time.Time `json:"timestamp"`
	SessionID           string    `json:"session_id"`
	Owner               string    `json:"owner"`
	AudioQuality        int       `json:"audio_quality"`
	TranslationAccuracy int       `json:"translation_accuracy"`
	ResponseSpeed       int       `json:"response_speed"`
	Comments            string    `json:"comments,omitempty"`
}

// Validate reports whether every rating is in range.
func (r Record) Validate() error {
	for _, f := range []struct {
		name  string
		value int
	}{
		{"audio_quality", r.AudioQuality},
		{"translation_accuracy", r.TranslationAccuracy},
		{"response_speed", r.ResponseSpeed},
	} {
		if f.value < 0 || f.value > 5 {
			return fmt.Errorf("feedback: %s must be between 0 and 5, got %d", f.name, f.value)
		}
	}
	return nil
}

// FileStore persists feedback as JSON lines in a local file.
// Safe for concurrent use.
type FileStore struct {
	mu   sync.Mutex
	path string
}

// NewFileStore creates a FileStore that writes to the given path.
// The file is created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Save appends a record to the file. The timestamp is stamped here so
// callers never have to set it.
func (fs *FileStore) Save(rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	rec.Timestamp = time.Now().UTC()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("feedback: marshal: %w", err)
	}
	data = append(data, '\n')

	fs.mu.Lock()
	defer fs.mu.Unlock()

	f, err := os.OpenFile(fs.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("feedback: open file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("feedback: write: %w", err)
	}
	return nil
}
