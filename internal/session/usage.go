package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Usage event kinds.
const (
	UsageStart  = "start"
	UsageStop   = "stop"
	UsageResume = "resume"
)

// UsageEvent is one line in the append-only usage log. The log exists for
// lightweight local accounting; nothing reads it on the launch path.
type UsageEvent struct {
	Time      time.Time `json:"time"`
	Kind      string    `json:"kind"`
	SessionID string    `json:"session_id"`
	Team      string    `json:"team,omitempty"`
	Workspace string    `json:"workspace,omitempty"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	Seconds   int64     `json:"seconds,omitempty"`
}

// AppendUsage writes an event to the usage log. Failures are returned but
// callers treat them as non-fatal; accounting must never break a launch.
func AppendUsage(path string, ev UsageEvent) error {
	if ev.Time.IsZero() {
		ev.Time = time.Now().UTC()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating usage log directory: %w", err)
	}
	line, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling usage event: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening usage log: %w", err)
	}
	defer f.Close()
	_, err = f.Write(append(line, '\n'))
	return err
}
