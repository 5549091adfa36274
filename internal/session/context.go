package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// maxContexts caps the work-context list; the oldest unpinned entries are
// evicted first.
const maxContexts = 50

// WorkContext is one remembered (workspace, branch) slot shown by the
// context picker.
type WorkContext struct {
	Workspace  string    `json:"workspace"`
	Branch     string    `json:"branch"`
	Team       string    `json:"team,omitempty"`
	Label      string    `json:"label,omitempty"`
	Pinned     bool      `json:"pinned,omitempty"`
	LastUsedAt time.Time `json:"last_used_at"`
}

func (c WorkContext) key() string { return c.Workspace + "\x00" + c.Branch }

// ContextStore persists the work-context list as a single JSON file.
type ContextStore struct {
	path string
}

// NewContextStore returns a store backed by path.
func NewContextStore(path string) *ContextStore {
	return &ContextStore{path: path}
}

// Load reads the list, already sorted pinned-first then most recently used.
func (s *ContextStore) Load() ([]WorkContext, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading work contexts: %w", err)
	}
	var list []WorkContext
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("parsing work contexts: %w", err)
	}
	sortContexts(list)
	return list, nil
}

// Touch records a use of the (workspace, branch) slot, inserting it if new,
// and enforces the list cap.
func (s *ContextStore) Touch(ctx WorkContext, now time.Time) error {
	list, err := s.Load()
	if err != nil {
		return err
	}
	ctx.LastUsedAt = now.UTC()

	found := false
	for i := range list {
		if list[i].key() == ctx.key() {
			// Preserve the pin and label unless the caller set new ones.
			if !ctx.Pinned {
				ctx.Pinned = list[i].Pinned
			}
			if ctx.Label == "" {
				ctx.Label = list[i].Label
			}
			list[i] = ctx
			found = true
			break
		}
	}
	if !found {
		list = append(list, ctx)
	}

	sortContexts(list)
	for len(list) > maxContexts {
		if i := lastUnpinned(list); i >= 0 {
			list = append(list[:i], list[i+1:]...)
		} else {
			list = list[:maxContexts]
		}
	}
	return s.save(list)
}

// Pin sets or clears the pin on a slot.
func (s *ContextStore) Pin(workspace, branch string, pinned bool) error {
	list, err := s.Load()
	if err != nil {
		return err
	}
	target := WorkContext{Workspace: workspace, Branch: branch}
	for i := range list {
		if list[i].key() == target.key() {
			list[i].Pinned = pinned
			sortContexts(list)
			return s.save(list)
		}
	}
	return fmt.Errorf("no work context for %s on %s", workspace, branch)
}

func (s *ContextStore) save(list []WorkContext) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating context store directory: %w", err)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling work contexts: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing work contexts: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming work contexts: %w", err)
	}
	return nil
}

// sortContexts orders pinned entries first, then by recency.
func sortContexts(list []WorkContext) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Pinned != list[j].Pinned {
			return list[i].Pinned
		}
		return list[i].LastUsedAt.After(list[j].LastUsedAt)
	})
}

// lastUnpinned returns the index of the least recently used unpinned entry.
func lastUnpinned(list []WorkContext) int {
	for i := len(list) - 1; i >= 0; i-- {
		if !list[i].Pinned {
			return i
		}
	}
	return -1
}
