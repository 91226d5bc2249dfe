package guestbook

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
)

// StoredState is everything the client keeps between runs.
type StoredState struct {
	Session *Session `json:"session,omitempty"`
	// LastPostAt is the time of the last successful post in epoch milliseconds.
	LastPostAt int64 `json:"lastPostAt,omitempty"`
}

// SessionStore persists StoredState.
type SessionStore interface {
	Load() (StoredState, error)
	Save(state StoredState) error
}

// MemoryStore keeps state for the lifetime of the process.
type MemoryStore struct {
	mu    sync.Mutex
	state StoredState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Load() (StoredState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyState(s.state), nil
}

func (s *MemoryStore) Save(state StoredState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = copyState(state)
	return nil
}

func copyState(state StoredState) StoredState {
	if state.Session != nil {
		session := *state.Session
		state.Session = &session
	}
	return state
}

// FileStore keeps state in a JSON file readable only by the owner.
// An unreadable or corrupt file is treated as empty.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("guestbook: session file path is required")
	}
	return &FileStore{path: path}, nil
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load() (StoredState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return StoredState{}, nil
	}
	if err != nil {
		return StoredState{}, err
	}
	var state StoredState
	if err := json.Unmarshal(data, &state); err != nil {
		return StoredState{}, nil
	}
	return state, nil
}

func (s *FileStore) Save(state StoredState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	temp, err := os.CreateTemp(filepath.Dir(s.path), ".session-*")
	if err != nil {
		return err
	}
	tempPath := temp.Name()
	if _, err := temp.Write(data); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return err
	}
	if err := temp.Chmod(0o600); err != nil {
		_ = temp.Close()
		_ = os.Remove(tempPath)
		return err
	}
	if err := temp.Close(); err != nil {
		_ = os.Remove(tempPath)
		return err
	}
	return os.Rename(tempPath, s.path)
}
