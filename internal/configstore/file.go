package configstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore is a JSON object on disk. Every write reads the whole document,
// sets one key and rewrites the file with two-space indentation. Values of
// unrelated keys are kept as raw JSON, whatever their type.
type FileStore struct {
	path string
}

// NewFileStore creates a store for the JSON document at path
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the document path
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) String() string {
	return s.path
}

// Ensure creates the parent directories and the file as {} when missing.
func (s *FileStore) Ensure(_ context.Context) (bool, error) {
	if _, err := os.Stat(s.path); err == nil {
		return false, nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("failed to stat %s: %w", s.path, err)
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return false, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	if err := os.WriteFile(s.path, []byte("{}"), 0644); err != nil {
		return false, fmt.Errorf("failed to create %s: %w", s.path, err)
	}
	return true, nil
}

// Get returns the value of key. Non-string values are returned as their
// JSON text.
func (s *FileStore) Get(_ context.Context, key string) (string, bool, error) {
	doc, err := s.read()
	if err != nil {
		return "", false, err
	}
	raw, ok := doc[key]
	if !ok {
		return "", false, nil
	}
	var str string
	if err := json.Unmarshal(raw, &str); err == nil {
		return str, true, nil
	}
	return string(raw), true, nil
}

// Set stores value under key as a JSON string.
func (s *FileStore) Set(_ context.Context, key, value string) error {
	doc, err := s.read()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	doc[key] = raw
	return s.write(doc)
}

func (s *FileStore) read() (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	if doc == nil {
		doc = map[string]json.RawMessage{}
	}
	return doc, nil
}

func (s *FileStore) write(doc map[string]json.RawMessage) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", s.path, err)
	}
	if err := os.WriteFile(s.path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.path, err)
	}
	return nil
}
