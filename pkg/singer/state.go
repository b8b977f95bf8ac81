package singer

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/SiangbaMM/spacex-data-pipeline/pkg/errors"
	"github.com/SiangbaMM/spacex-data-pipeline/pkg/json"
)

// StateStore holds bookmarks and persists them to a JSON file. An empty
// path keeps the state in memory only. Bookmarks are written, never used to
// filter requests.
type StateStore struct {
	path string

	mu    sync.Mutex
	state State
}

// NewStateStore creates a store backed by path
func NewStateStore(path string) *StateStore {
	return &StateStore{path: path, state: NewState()}
}

// Load reads the state file. A missing file yields an empty state.
func (s *StateStore) Load() (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return s.state.Clone(), nil
	}

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.state = NewState()
		return s.state.Clone(), nil
	}
	if err != nil {
		return State{}, errors.Wrapf(err, errors.ErrorTypeState, "failed to read state file %s", s.path)
	}

	loaded := NewState()
	if len(data) > 0 {
		if err := json.Unmarshal(data, &loaded); err != nil {
			return State{}, errors.Wrapf(err, errors.ErrorTypeState, "failed to parse state file %s", s.path)
		}
		if loaded.Bookmarks == nil {
			loaded.Bookmarks = make(map[string]Bookmark)
		}
	}
	s.state = loaded
	return s.state.Clone(), nil
}

// Merge records lastSync for entity and returns the resulting state
func (s *StateStore) Merge(entity string, lastSync time.Time) State {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Bookmarks[entity] = Bookmark{LastSync: lastSync.UTC().Format(time.RFC3339)}
	return s.state.Clone()
}

// Snapshot returns a copy of the current state
func (s *StateStore) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Save writes the state to a temporary file and renames it over the
// state file
func (s *StateStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return nil
	}

	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeState, "failed to encode state")
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return errors.Wrapf(err, errors.ErrorTypeState, "failed to create temp state file in %s", dir)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrap(err, errors.ErrorTypeState, "failed to write state")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, errors.ErrorTypeState, "failed to write state")
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, errors.ErrorTypeState, "failed to replace state file %s", s.path)
	}
	return nil
}
