package log

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"
)

// debugDayFormat is the date portion of a debug file name.
const debugDayFormat = "2006-01-02"

// debugFileName is the file debug records for one day land in.
func debugFileName(day string) string { return "scc-" + day + ".jsonl" }

// debugFilePattern matches the names debugFileName produces; Cleanup never
// touches anything else in the directory.
var debugFilePattern = regexp.MustCompile(`^scc-(\d{4}-\d{2}-\d{2})\.jsonl$`)

// FileWriter appends JSONL debug records to a per-day file under dir and
// keeps a latest.jsonl symlink pointing at the current one.
type FileWriter struct {
	dir string

	mu   sync.Mutex
	file *os.File
	day  string
}

// NewFileWriter opens today's debug file under dir, creating dir if needed.
func NewFileWriter(dir string) (*FileWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating debug log dir: %w", err)
	}
	fw := &FileWriter{dir: dir}
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if err := fw.openDay(time.Now().Format(debugDayFormat)); err != nil {
		return nil, err
	}
	return fw, nil
}

// Write appends one record, switching files when the day rolls over.
func (fw *FileWriter) Write(p []byte) (int, error) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if day := time.Now().Format(debugDayFormat); day != fw.day {
		if err := fw.openDay(day); err != nil {
			return 0, err
		}
	}
	return fw.file.Write(p)
}

// Close closes the current debug file.
func (fw *FileWriter) Close() error {
	fw.mu.Lock()
	defer fw.mu.Unlock()
	if fw.file == nil {
		return nil
	}
	err := fw.file.Close()
	fw.file = nil
	return err
}

// openDay opens the named day's file and repoints latest.jsonl at it.
// Callers hold fw.mu.
func (fw *FileWriter) openDay(day string) error {
	name := debugFileName(day)
	f, err := os.OpenFile(filepath.Join(fw.dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening debug log file: %w", err)
	}
	if fw.file != nil {
		fw.file.Close()
	}
	fw.file = f
	fw.day = day

	// Symlink updates are best effort; some filesystems refuse them.
	link := filepath.Join(fw.dir, "latest.jsonl")
	tmp := link + ".tmp"
	os.Remove(tmp)
	if os.Symlink(name, tmp) == nil {
		_ = os.Rename(tmp, link)
	}
	return nil
}

// Cleanup deletes debug files older than retentionDays. Anything that does
// not look like a debug file is left alone.
func Cleanup(dir string, retentionDays int) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := debugFilePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		day, err := time.Parse(debugDayFormat, m[1])
		if err != nil {
			continue
		}
		if day.Before(cutoff) {
			os.Remove(filepath.Join(dir, entry.Name()))
		}
	}
}
