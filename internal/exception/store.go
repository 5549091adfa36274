package exception

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// storeVersion is the on-disk schema version.
const storeVersion = 1

// storeFile is the JSON layout of an exception store.
type storeFile struct {
	Version    int         `json:"version"`
	Exceptions []Exception `json:"exceptions"`
}

// Store is a JSON-on-disk exception store. A missing file reads as empty; a
// corrupt file is renamed aside once and replaced with an empty store.
type Store struct {
	path string
}

// NewStore returns a store backed by path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file path.
func (s *Store) Path() string { return s.path }

// Load reads the store, pruning entries expired at now. Corrupt files are
// backed up as <path>.bak-YYYYMMDD and treated as empty.
func (s *Store) Load(now time.Time) ([]Exception, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading exception store: %w", err)
	}

	var f storeFile
	if err := json.Unmarshal(data, &f); err != nil {
		backup := s.path + ".bak-" + now.Format("20060102")
		if renameErr := os.Rename(s.path, backup); renameErr == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("exception store is corrupt and could not be backed up: %w", err)
	}

	var live []Exception
	for _, e := range f.Exceptions {
		if e.Active(now) {
			live = append(live, e)
		}
	}
	return live, nil
}

// Save writes the store atomically, dropping entries expired at now.
func (s *Store) Save(excs []Exception, now time.Time) error {
	live := make([]Exception, 0, len(excs))
	for _, e := range excs {
		if e.Active(now) {
			live = append(live, e)
		}
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating exception store directory: %w", err)
	}

	data, err := json.MarshalIndent(storeFile{Version: storeVersion, Exceptions: live}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling exception store: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing exception store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming exception store: %w", err)
	}
	return nil
}

// Add validates and appends an exception.
func (s *Store) Add(e Exception, now time.Time) error {
	if err := e.Validate(); err != nil {
		return err
	}
	excs, err := s.Load(now)
	if err != nil {
		return err
	}
	return s.Save(append(excs, e), now)
}

// Remove deletes an exception by ID. Removing an unknown ID is an error so
// typos surface.
func (s *Store) Remove(excID string, now time.Time) error {
	excs, err := s.Load(now)
	if err != nil {
		return err
	}
	kept := excs[:0]
	found := false
	for _, e := range excs {
		if e.ID == excID {
			found = true
			continue
		}
		kept = append(kept, e)
	}
	if !found {
		return fmt.Errorf("exception not found: %s", excID)
	}
	return s.Save(kept, now)
}

// LoadAll merges the exceptions from multiple stores (user- and repo-scope
// files). Missing stores contribute nothing.
func LoadAll(now time.Time, stores ...*Store) ([]Exception, error) {
	var all []Exception
	for _, s := range stores {
		if s == nil {
			continue
		}
		excs, err := s.Load(now)
		if err != nil {
			return nil, err
		}
		all = append(all, excs...)
	}
	return all, nil
}
