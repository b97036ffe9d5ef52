package haul

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Record is the durable per-task progress state. It is the only state that
// must survive a process restart: a percentage, not a byte offset, which the
// engine multiplies by the task's total size to reconstruct an approximate
// offset on resume.
type Record struct {
	Paused  bool `json:"paused"`
	Percent int  `json:"percent"`
}

// ProgressStore is a durable key/value record of paused progress per task.
// Implementations must support concurrent access by distinct keys; no
// multi-key transactional guarantees are required (last writer wins).
type ProgressStore interface {
	Get(id string) (Record, bool, error)
	Put(id string, rec Record) error
	Remove(id string) error
}

// MemStore is an in-process ProgressStore. It does not survive restarts and
// exists for tests and embedding scenarios where persistence is external.
type MemStore struct {
	mu   sync.RWMutex
	recs map[string]Record
}

func NewMemStore() *MemStore {
	return &MemStore{recs: make(map[string]Record)}
}

func (s *MemStore) Get(id string) (Record, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.recs[id]
	return rec, ok, nil
}

func (s *MemStore) Put(id string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[id] = rec
	return nil
}

func (s *MemStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.recs, id)
	return nil
}

// FileStore persists records as a single JSON file, rewritten through a
// temporary file and an atomic rename on every mutation.
type FileStore struct {
	path string

	mu   sync.Mutex
	recs map[string]Record
}

// OpenFileStore loads (or initializes) the store at path.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path: path,
		recs: make(map[string]Record),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, fmt.Errorf("reading progress store: %w", err)
	}

	if err := json.Unmarshal(data, &s.recs); err != nil {
		return nil, fmt.Errorf("decoding progress store: %w", err)
	}

	return s, nil
}

func (s *FileStore) Get(id string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.recs[id]
	return rec, ok, nil
}

func (s *FileStore) Put(id string, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs[id] = rec
	return s.flush()
}

func (s *FileStore) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.recs[id]; !ok {
		return nil
	}
	delete(s.recs, id)
	return s.flush()
}

// flush writes the full record map. Caller holds the lock.
func (s *FileStore) flush() error {
	data, err := json.MarshalIndent(s.recs, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding progress store: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating progress store directory: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing progress store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replacing progress store: %w", err)
	}
	return nil
}
