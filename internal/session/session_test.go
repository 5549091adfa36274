package session

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "sessions.jsonl"))
}

func TestListEmptyOnMissingFile(t *testing.T) {
	recs, err := testStore(t).List()
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestAppendAndList(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rec := NewRecord("/ws", "main", "app-team", "scc-abc", 8)
	require.NoError(t, s.Append(ctx, rec))

	recs, err := s.List()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, rec.ID, recs[0].ID)
	assert.Equal(t, StatusRunning, recs[0].Status)
	assert.Equal(t, 8, recs[0].ExpectedDurationHours)
}

func TestLastRecordPerIDWins(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rec := NewRecord("/ws", "main", "", "", 0)
	require.NoError(t, s.Append(ctx, rec))
	require.NoError(t, s.End(ctx, rec, StatusStopped, time.Now()))

	recs, err := s.List()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, StatusStopped, recs[0].Status)
	require.NotNil(t, recs[0].EndedAt)
}

func TestReadersSkipCorruptLines(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	rec := NewRecord("/ws", "main", "", "", 0)
	require.NoError(t, s.Append(ctx, rec))

	// Simulate a crash mid-append: a torn trailing line.
	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"id":"sess_trunc","works`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	recs, err := s.List()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, rec.ID, recs[0].ID)

	// The log still accepts appends after the torn line.
	rec2 := NewRecord("/ws", "dev", "", "", 0)
	require.NoError(t, s.Append(ctx, rec2))
	recs, err = s.List()
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestLatestPerWorkspaceSlot(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	older := NewRecord("/ws", "main", "", "", 0)
	older.StartedAt = time.Now().Add(-time.Hour)
	newer := NewRecord("/ws", "main", "", "", 0)
	other := NewRecord("/ws", "feature", "", "", 0)
	require.NoError(t, s.Append(ctx, older))
	require.NoError(t, s.Append(ctx, newer))
	require.NoError(t, s.Append(ctx, other))

	got, ok, err := s.Latest("/ws", "main")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, newer.ID, got.ID)

	_, ok, err = s.Latest("/ws", "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResumableRequiresStoppedStatus(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rec := NewRecord("/ws", "main", "", "scc-abc", 0)
	require.NoError(t, s.Append(ctx, rec))

	_, ok, err := s.Resumable("/ws", "main")
	require.NoError(t, err)
	assert.False(t, ok, "running sessions are not resumable")

	require.NoError(t, s.End(ctx, rec, StatusStopped, time.Now()))
	got, ok, err := s.Resumable("/ws", "main")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec.ID, got.ID)
}

func TestMarkStale(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	now := time.Now()

	fresh := NewRecord("/ws", "main", "", "", 0)
	fresh.StartedAt = now.Add(-time.Hour)
	expired := NewRecord("/ws", "old", "", "", 2)
	expired.StartedAt = now.Add(-3 * time.Hour)
	require.NoError(t, s.Append(ctx, fresh))
	require.NoError(t, s.Append(ctx, expired))

	stale, err := s.MarkStale(ctx, now, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, expired.ID, stale[0].ID)

	got, ok, err := s.Latest("/ws", "old")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, StatusIncomplete, got.Status)

	got, _, err = s.Latest("/ws", "main")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, got.Status)
}

func TestContextStoreTouchAndOrder(t *testing.T) {
	cs := NewContextStore(filepath.Join(t.TempDir(), "contexts.json"))
	now := time.Now()

	require.NoError(t, cs.Touch(WorkContext{Workspace: "/a", Branch: "main"}, now.Add(-2*time.Hour)))
	require.NoError(t, cs.Touch(WorkContext{Workspace: "/b", Branch: "main"}, now.Add(-time.Hour)))
	require.NoError(t, cs.Touch(WorkContext{Workspace: "/c", Branch: "dev"}, now))

	list, err := cs.Load()
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "/c", list[0].Workspace, "most recently used first")

	require.NoError(t, cs.Pin("/a", "main", true))
	list, err = cs.Load()
	require.NoError(t, err)
	assert.Equal(t, "/a", list[0].Workspace, "pinned entries sort first")
	assert.True(t, list[0].Pinned)
}

func TestContextStoreCapEvictsUnpinnedOldest(t *testing.T) {
	cs := NewContextStore(filepath.Join(t.TempDir(), "contexts.json"))
	base := time.Now().Add(-time.Duration(maxContexts+10) * time.Minute)

	require.NoError(t, cs.Touch(WorkContext{Workspace: "/pinned", Branch: "main", Pinned: true}, base))
	for i := 0; i < maxContexts; i++ {
		ctx := WorkContext{Workspace: filepath.Join("/ws", string(rune('a'+i%26))+string(rune('0'+i/26))), Branch: "main"}
		require.NoError(t, cs.Touch(ctx, base.Add(time.Duration(i+1)*time.Minute)))
	}

	list, err := cs.Load()
	require.NoError(t, err)
	assert.Len(t, list, maxContexts)
	assert.Equal(t, "/pinned", list[0].Workspace, "pinned entries are never evicted")
}

func TestContextTouchPreservesPinAndLabel(t *testing.T) {
	cs := NewContextStore(filepath.Join(t.TempDir(), "contexts.json"))
	now := time.Now()

	require.NoError(t, cs.Touch(WorkContext{Workspace: "/a", Branch: "main", Pinned: true, Label: "payments"}, now))
	require.NoError(t, cs.Touch(WorkContext{Workspace: "/a", Branch: "main"}, now.Add(time.Minute)))

	list, err := cs.Load()
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Pinned)
	assert.Equal(t, "payments", list[0].Label)
}

func TestAppendUsage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.jsonl")
	code := 0
	require.NoError(t, AppendUsage(path, UsageEvent{Kind: UsageStart, SessionID: "sess_1"}))
	require.NoError(t, AppendUsage(path, UsageEvent{Kind: UsageStop, SessionID: "sess_1", ExitCode: &code, Seconds: 90}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, len(splitLines(data)))
}

func splitLines(data []byte) [][]byte {
	var lines [][]byte
	start := 0
	for i, b := range data {
		if b == '\n' {
			if i > start {
				lines = append(lines, data[start:i])
			}
			start = i + 1
		}
	}
	return lines
}
