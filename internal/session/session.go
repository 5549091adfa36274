// Package session tracks sandbox sessions in an append-only JSONL log keyed
// by (workspace, branch). Status changes are appended as new records for the
// same session ID; the last record for an ID wins. Appends take an advisory
// lock so concurrent launches never interleave partial lines, and readers
// skip records they cannot parse, so a torn final line from a crash never
// poisons the log.
package session

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/scc-tools/scc/internal/id"
	"github.com/scc-tools/scc/internal/lockfile"
	"github.com/scc-tools/scc/internal/log"
)

// Status is the lifecycle state of a session.
type Status string

const (
	// StatusRunning means a container is (or was last known to be) live.
	StatusRunning Status = "running"
	// StatusStopped means the session ended cleanly and can be resumed.
	StatusStopped Status = "stopped"
	// StatusIncomplete marks sessions that exceeded their timeout without a
	// clean stop, usually a crashed host or killed daemon.
	StatusIncomplete Status = "incomplete"
)

// Record is one session log entry.
type Record struct {
	ID                    string     `json:"id"`
	Workspace             string     `json:"workspace"`
	Branch                string     `json:"branch"`
	Team                  string     `json:"team,omitempty"`
	StartedAt             time.Time  `json:"started_at"`
	EndedAt               *time.Time `json:"ended_at,omitempty"`
	ContainerHandle       string     `json:"container_handle,omitempty"`
	Status                Status     `json:"status"`
	ExpectedDurationHours int        `json:"expected_duration_hours,omitempty"`
}

// Key identifies the session's workspace slot.
func (r Record) Key() string { return r.Workspace + "\x00" + r.Branch }

// Store reads and appends the session log.
type Store struct {
	path     string
	lockPath string
}

// NewStore returns a store over the JSONL file at path.
func NewStore(path string) *Store {
	return &Store{path: path, lockPath: path + ".lock"}
}

// NewRecord builds a running-session record with a fresh ID.
func NewRecord(workspace, branch, team, containerHandle string, expectedHours int) Record {
	return Record{
		ID:                    id.Session(),
		Workspace:             workspace,
		Branch:                branch,
		Team:                  team,
		StartedAt:             time.Now().UTC(),
		ContainerHandle:       containerHandle,
		Status:                StatusRunning,
		ExpectedDurationHours: expectedHours,
	}
}

// Append writes a record under the store lock.
func (s *Store) Append(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		return fmt.Errorf("session record is missing an id")
	}
	lock, err := lockfile.Acquire(ctx, s.lockPath, lockfile.DefaultTimeout)
	if err != nil {
		return fmt.Errorf("locking session log: %w", err)
	}
	defer lock.Release()

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("creating session log directory: %w", err)
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling session record: %w", err)
	}
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening session log: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("appending session record: %w", err)
	}
	return f.Sync()
}

// List returns the latest record per session ID, newest first.
func (s *Store) List() ([]Record, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening session log: %w", err)
	}
	defer f.Close()

	latest := map[string]Record{}
	var order []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(line, &rec); err != nil {
			// Torn or corrupt line, most likely a crash mid-append.
			log.Debug("skipping unparseable session record", "error", err)
			continue
		}
		if rec.ID == "" {
			continue
		}
		if _, seen := latest[rec.ID]; !seen {
			order = append(order, rec.ID)
		}
		latest[rec.ID] = rec
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading session log: %w", err)
	}

	out := make([]Record, 0, len(latest))
	for _, sid := range order {
		out = append(out, latest[sid])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out, nil
}

// Latest returns the most recent session for a workspace slot, or false.
func (s *Store) Latest(workspace, branch string) (Record, bool, error) {
	recs, err := s.List()
	if err != nil {
		return Record{}, false, err
	}
	key := Record{Workspace: workspace, Branch: branch}.Key()
	for _, rec := range recs {
		if rec.Key() == key {
			return rec, true, nil
		}
	}
	return Record{}, false, nil
}

// Resumable returns the latest stopped session for a workspace slot, if any.
func (s *Store) Resumable(workspace, branch string) (Record, bool, error) {
	rec, ok, err := s.Latest(workspace, branch)
	if err != nil || !ok {
		return Record{}, false, err
	}
	if rec.Status != StatusStopped {
		return Record{}, false, nil
	}
	return rec, true, nil
}

// Running returns all sessions currently in the running state.
func (s *Store) Running() ([]Record, error) {
	recs, err := s.List()
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, rec := range recs {
		if rec.Status == StatusRunning {
			out = append(out, rec)
		}
	}
	return out, nil
}

// End appends a terminal record for the session.
func (s *Store) End(ctx context.Context, rec Record, status Status, endedAt time.Time) error {
	t := endedAt.UTC()
	rec.Status = status
	rec.EndedAt = &t
	return s.Append(ctx, rec)
}

// MarkStale transitions running sessions that exceeded their timeout to
// incomplete. Returns the sessions it transitioned.
func (s *Store) MarkStale(ctx context.Context, now time.Time, defaultTimeout time.Duration) ([]Record, error) {
	running, err := s.Running()
	if err != nil {
		return nil, err
	}
	var stale []Record
	for _, rec := range running {
		timeout := defaultTimeout
		if rec.ExpectedDurationHours > 0 {
			timeout = time.Duration(rec.ExpectedDurationHours) * time.Hour
		}
		if timeout <= 0 || now.Sub(rec.StartedAt) <= timeout {
			continue
		}
		if err := s.End(ctx, rec, StatusIncomplete, now); err != nil {
			return stale, err
		}
		rec.Status = StatusIncomplete
		stale = append(stale, rec)
	}
	return stale, nil
}
