package log

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitStderrLevels(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(Options{Stderr: &buf}))

	Debug("hidden")
	Warn("visible", "key", "value")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
	assert.Contains(t, out, "key=value")
}

func TestVerboseEnablesDebug(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(Options{Verbose: true, Stderr: &buf}))

	Debug("now shown")
	assert.Contains(t, buf.String(), "now shown")
}

func TestInteractiveSuppressesVerbose(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(Options{Verbose: true, Interactive: true, Stderr: &buf}))

	Info("suppressed")
	assert.NotContains(t, buf.String(), "suppressed")
}

func TestFileHandlerWritesJSON(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	require.NoError(t, Init(Options{Stderr: &buf, DebugDir: dir}))
	defer Close()

	Debug("file only", "n", 1)
	Close()

	name := debugFileName(time.Now().Format(debugDayFormat))
	data, err := os.ReadFile(filepath.Join(dir, name))
	require.NoError(t, err)

	var rec map[string]any
	line := strings.TrimSpace(string(data))
	require.NoError(t, json.Unmarshal([]byte(line), &rec))
	assert.Equal(t, "file only", rec["msg"])
}

func TestCleanupRemovesOldFiles(t *testing.T) {
	dir := t.TempDir()
	old := filepath.Join(dir, debugFileName("2020-01-01"))
	recent := filepath.Join(dir, debugFileName(time.Now().Format(debugDayFormat)))
	unprefixed := filepath.Join(dir, "2020-01-01.jsonl")
	other := filepath.Join(dir, "notes.txt")
	for _, p := range []string{old, recent, unprefixed, other} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}

	Cleanup(dir, 7)

	assert.NoFileExists(t, old)
	assert.FileExists(t, recent)
	assert.FileExists(t, unprefixed, "files without the scc prefix are never removed")
	assert.FileExists(t, other, "non-log files are never removed")
}

func TestLatestSymlinkTracksCurrentFile(t *testing.T) {
	dir := t.TempDir()
	fw, err := NewFileWriter(dir)
	require.NoError(t, err)
	defer fw.Close()

	target, err := os.Readlink(filepath.Join(dir, "latest.jsonl"))
	require.NoError(t, err)
	assert.Equal(t, debugFileName(time.Now().Format(debugDayFormat)), target)
}
