package marketplace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/scc-tools/scc/internal/orgconfig"
	"github.com/scc-tools/scc/internal/paths"
)

const recordVersion = 1

// Record is the .manifest.json sidecar written next to every materialized
// marketplace. It carries enough source identity to decide whether an
// existing materialization can be reused.
type Record struct {
	Version        int       `json:"version"`
	Name           string    `json:"name"`
	SourceType     string    `json:"source_type"`
	SourceIdentity string    `json:"source_identity"`
	Ref            string    `json:"ref,omitempty"`
	Commit         string    `json:"commit,omitempty"`
	ETag           string    `json:"etag,omitempty"`
	Mode           string    `json:"mode,omitempty"`
	MaterializedAt time.Time `json:"materialized_at"`
	Plugins        []string  `json:"plugins_included,omitempty"`
}

// sourceIdentity reduces a source to the string that must match for an
// existing materialization to be reusable.
func sourceIdentity(src orgconfig.MarketplaceSource) string {
	switch src.Type {
	case orgconfig.SourceGitHub:
		return src.Repo + "#" + src.Path
	case orgconfig.SourceGit:
		return src.URL + "#" + src.Path
	case orgconfig.SourceURL:
		return src.URL
	case orgconfig.SourceDirectory, orgconfig.SourceFile:
		return src.Path
	case orgconfig.SourceNPM:
		return src.Package + "@" + src.Version
	default:
		return ""
	}
}

func recordPath(dir string) string {
	return filepath.Join(dir, paths.ManifestFileName)
}

// readRecord loads the sidecar for a materialized directory. Any failure
// reads as absent, which forces re-materialization.
func readRecord(dir string) (Record, bool) {
	data, err := os.ReadFile(recordPath(dir))
	if err != nil {
		return Record{}, false
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false
	}
	return rec, true
}

func writeRecord(dir string, rec Record) error {
	rec.Version = recordVersion
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling materialization record: %w", err)
	}
	return os.WriteFile(recordPath(dir), append(data, '\n'), 0o644)
}

// fresh reports whether an existing materialization matches the source and
// pins the same ref. Remote refs that float (branches) are still considered
// fresh; refresh=force is the escape hatch.
func fresh(dir string, src orgconfig.MarketplaceSource) bool {
	rec, ok := readRecord(dir)
	if !ok {
		return false
	}
	if rec.SourceType != src.Type || rec.SourceIdentity != sourceIdentity(src) {
		return false
	}
	if rec.Ref != src.Ref {
		return false
	}
	if src.Type == orgconfig.SourceURL && rec.Mode != src.MaterializationMode() {
		return false
	}
	// Local sources are cheap to copy and may drift silently; never reuse.
	if src.Type == orgconfig.SourceDirectory || src.Type == orgconfig.SourceFile {
		return false
	}
	return true
}
