package backfill

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/quantfeed/corpus-data/internal/model"
)

// CheckpointStore persists backfill progress. One store instance maps
// to one run; runs never share checkpoint state.
type CheckpointStore interface {
	// Load returns the stored checkpoint, or found=false when none exists.
	Load() (cp model.Checkpoint, found bool, err error)

	// Save persists the checkpoint, replacing any previous one.
	Save(cp model.Checkpoint) error

	// Delete removes the checkpoint. Deleting a missing checkpoint is
	// not an error.
	Delete() error
}

// FileCheckpointStore keeps the checkpoint as a JSON file named after
// the run id, giving single-writer semantics per run.
type FileCheckpointStore struct {
	path string
}

// NewFileCheckpointStore builds a store at dir/backfill-<runID>.json.
func NewFileCheckpointStore(dir, runID string) *FileCheckpointStore {
	return &FileCheckpointStore{
		path: filepath.Join(dir, fmt.Sprintf("backfill-%s.json", runID)),
	}
}

// Path returns the checkpoint file location.
func (f *FileCheckpointStore) Path() string {
	return f.path
}

func (f *FileCheckpointStore) Load() (model.Checkpoint, bool, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return model.Checkpoint{}, false, nil
	}
	if err != nil {
		return model.Checkpoint{}, false, fmt.Errorf("read checkpoint: %w", err)
	}

	var cp model.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return model.Checkpoint{}, false, fmt.Errorf("parse checkpoint: %w", err)
	}
	return cp, true, nil
}

func (f *FileCheckpointStore) Save(cp model.Checkpoint) error {
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	// Write-then-rename so a crash never leaves a torn checkpoint.
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write checkpoint: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace checkpoint: %w", err)
	}
	return nil
}

func (f *FileCheckpointStore) Delete() error {
	err := os.Remove(f.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// MemoryCheckpointStore is an in-memory CheckpointStore for tests.
type MemoryCheckpointStore struct {
	mu    sync.Mutex
	cp    model.Checkpoint
	saved bool
	saves int
}

// NewMemoryCheckpointStore creates an empty in-memory store.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{}
}

func (m *MemoryCheckpointStore) Load() (model.Checkpoint, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cp, m.saved, nil
}

func (m *MemoryCheckpointStore) Save(cp model.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cp = cp
	m.saved = true
	m.saves++
	return nil
}

// SaveCount returns how many times Save has been called.
func (m *MemoryCheckpointStore) SaveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func (m *MemoryCheckpointStore) Delete() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cp = model.Checkpoint{}
	m.saved = false
	return nil
}
