package suggest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Store persists search histories, one per scope.
type Store interface {
	Load(ctx context.Context, scope string) ([]Entry, error)
	// Update applies fn to the scope's history and persists the result.
	Update(ctx context.Context, scope string, fn func(h *History)) ([]Entry, error)
}

// Record adds query to the scope's history in store.
func Record(ctx context.Context, store Store, scope, query string) ([]Entry, error) {
	return store.Update(ctx, scope, func(h *History) {
		h.Record(query)
	})
}

var ErrHistoryCorrupted = errors.New("search history file corrupted")

const fileStoreVersion = 1

type fileStoreData struct {
	Version int                `json:"version"`
	Scopes  map[string][]Entry `json:"scopes"`
}

// FileStore keeps histories in a single JSON file. It survives restarts of
// the process and is never synced anywhere.
type FileStore struct {
	mu   sync.Mutex
	path string
	cap  int
}

// NewFileStore returns a store at path, defaulting to history.json in the
// user config directory.
func NewFileStore(path string, cap int) (*FileStore, error) {
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("determining config directory: %w", err)
		}
		path = filepath.Join(dir, "healthdesk", "history.json")
	}
	return &FileStore{path: path, cap: cap}, nil
}

func (s *FileStore) Path() string { return s.path }

func (s *FileStore) Load(ctx context.Context, scope string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.read()
	if err != nil {
		return nil, err
	}
	return NewHistory(s.cap, data.Scopes[scope]).Entries(), nil
}

func (s *FileStore) Update(ctx context.Context, scope string, fn func(h *History)) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.read()
	if err != nil {
		return nil, err
	}

	h := NewHistory(s.cap, data.Scopes[scope])
	fn(h)
	data.Scopes[scope] = h.Entries()

	if err := s.write(data); err != nil {
		return nil, err
	}
	return h.Entries(), nil
}

func (s *FileStore) read() (*fileStoreData, error) {
	data := &fileStoreData{Version: fileStoreVersion, Scopes: map[string][]Entry{}}

	b, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return data, nil
		}
		return nil, fmt.Errorf("reading search history: %w", err)
	}

	if err := json.Unmarshal(b, data); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHistoryCorrupted, err)
	}
	if data.Version != fileStoreVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrHistoryCorrupted, data.Version)
	}
	if data.Scopes == nil {
		data.Scopes = map[string][]Entry{}
	}
	return data, nil
}

func (s *FileStore) write(data *fileStoreData) error {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling search history: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("creating search history directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return fmt.Errorf("writing search history: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming search history: %w", err)
	}
	return nil
}
