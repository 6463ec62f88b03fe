package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	appLog "calshift/internal/log"
)

// StateError reports a missing or unreadable seen-set file. Callers of Load
// never see it: the run continues with empty state.
type StateError struct {
	Path string
	Err  error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("seen-set %s: %v", e.Path, e.Err)
}

func (e *StateError) Unwrap() error {
	return e.Err
}

// SeenSet is the set of event ids that were already notified.
// Ids are only ever added.
type SeenSet struct {
	ids map[string]struct{}
}

// NewSeenSet returns a set holding ids.
func NewSeenSet(ids ...string) *SeenSet {
	s := &SeenSet{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

func (s *SeenSet) Has(id string) bool {
	_, ok := s.ids[id]
	return ok
}

// Add records id and reports whether it was new.
func (s *SeenSet) Add(id string) bool {
	if id == "" || s.Has(id) {
		return false
	}
	s.ids[id] = struct{}{}
	return true
}

func (s *SeenSet) Len() int {
	return len(s.ids)
}

// IDs returns the ids in sorted order.
func (s *SeenSet) IDs() []string {
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// fileFormat is the on-disk shape: a mapping with one field.
type fileFormat struct {
	Seen []string `json:"seen"`
}

// Store persists a SeenSet as a single JSON file.
type Store struct {
	Path string
}

// Read loads the seen-set strictly. Any problem is a *StateError.
func (st Store) Read() (*SeenSet, error) {
	data, err := os.ReadFile(st.Path)
	if err != nil {
		return nil, &StateError{Path: st.Path, Err: err}
	}

	var f fileFormat
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, &StateError{Path: st.Path, Err: err}
	}
	return NewSeenSet(f.Seen...), nil
}

// Load reads the seen-set, treating a missing or corrupt file as empty state.
func (st Store) Load() *SeenSet {
	set, err := st.Read()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			appLog.Info("seen-set not found, starting empty", "path", st.Path)
		} else {
			appLog.Error("seen-set unreadable, starting empty", err, "path", st.Path)
		}
		return NewSeenSet()
	}
	appLog.Debug("seen-set loaded", "path", st.Path, "ids", set.Len())
	return set
}

// Save replaces the state file with set via temp file + rename, so a
// crashed run leaves the previous file intact.
func (st Store) Save(set *SeenSet) error {
	if st.Path == "" {
		return errors.New("state path is empty")
	}

	dir := filepath.Dir(st.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(fileFormat{Seen: set.IDs()}, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".seen-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpName, st.Path)
}
