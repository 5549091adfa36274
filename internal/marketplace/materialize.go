package marketplace

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/scc-tools/scc/internal/cmderr"
	"github.com/scc-tools/scc/internal/lockfile"
	"github.com/scc-tools/scc/internal/log"
	"github.com/scc-tools/scc/internal/orgconfig"
	"github.com/scc-tools/scc/internal/paths"
)

// maxConcurrent bounds parallel materializations.
const maxConcurrent = 4

// Materializer fetches marketplaces into a workspace.
type Materializer struct {
	Client *http.Client
	// Refresh forces re-materialization even when the cached copy matches.
	Refresh bool
	Now     func() time.Time
}

// NewMaterializer returns a materializer with sane defaults.
func NewMaterializer() *Materializer {
	return &Materializer{
		Client: &http.Client{Timeout: 60 * time.Second},
		Now:    time.Now,
	}
}

// Result reports one marketplace's materialization outcome.
type Result struct {
	Name   string
	Dir    string
	Reused bool
	Record Record
}

// MaterializeAll fetches every required marketplace into
// <workspace>/.claude/.scc-marketplaces. An advisory lock on the directory
// keeps concurrent launches from clobbering each other; within the lock,
// marketplaces materialize in parallel with bounded concurrency. Any
// failure fails the whole operation: a sandbox must never start with a
// partially satisfied plugin set.
func (m *Materializer) MaterializeAll(ctx context.Context, workspace string, org *orgconfig.Config, required []string) ([]Result, error) {
	if len(required) == 0 {
		return nil, nil
	}
	root := paths.MarketplacesDir(workspace)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating marketplace directory: %w", err)
	}

	lock, err := lockfile.Acquire(ctx, filepath.Join(root, ".lock"), lockfile.DefaultTimeout)
	if err != nil {
		return nil, cmderr.Wrap(cmderr.KindState, err, "another launch is materializing marketplaces")
	}
	defer lock.Release()

	// Validate the full set before fetching anything.
	entries := make(map[string]orgconfig.MarketplaceEntry, len(required))
	for _, name := range required {
		entry, ok := org.Marketplaces[name]
		if !ok {
			return nil, cmderr.Newf(cmderr.KindConfig,
				"marketplace %q is required but not declared in the org config", name)
		}
		entries[name] = entry
	}

	results := make([]Result, len(required))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(len(required), maxConcurrent))
	for i, name := range required {
		g.Go(func() error {
			res, err := m.materializeOne(gctx, root, name, entries[name].Source)
			if err != nil {
				return fmt.Errorf("materializing marketplace %q: %w", name, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// materializeOne fetches a single marketplace into <root>/<name>, building
// it in a temp directory and renaming into place so readers never observe a
// half-written marketplace.
func (m *Materializer) materializeOne(ctx context.Context, root, name string, src orgconfig.MarketplaceSource) (Result, error) {
	dir := filepath.Join(root, name)

	if !m.Refresh && fresh(dir, src) {
		rec, _ := readRecord(dir)
		log.Debug("reusing materialized marketplace", "name", name, "source", src.Type)
		return Result{Name: name, Dir: dir, Reused: true, Record: rec}, nil
	}

	tmp, err := os.MkdirTemp(root, "."+name+".tmp-")
	if err != nil {
		return Result{}, fmt.Errorf("creating staging directory: %w", err)
	}
	defer os.RemoveAll(tmp)

	rec := Record{
		Name:           name,
		SourceType:     src.Type,
		SourceIdentity: sourceIdentity(src),
		Ref:            src.Ref,
		MaterializedAt: m.Now().UTC(),
	}

	switch src.Type {
	case orgconfig.SourceGitHub, orgconfig.SourceGit:
		rec.Commit, err = m.fetchGit(ctx, tmp, src)
	case orgconfig.SourceURL:
		rec.Mode = src.MaterializationMode()
		rec.ETag, err = m.fetchURL(ctx, tmp, src)
	case orgconfig.SourceDirectory:
		err = copyDirSource(tmp, src.Path)
	case orgconfig.SourceFile:
		err = copyFileSource(tmp, src.Path)
	case orgconfig.SourceNPM:
		err = m.fetchNPM(ctx, tmp, src)
	default:
		err = fmt.Errorf("unsupported source type %q", src.Type)
	}
	if err != nil {
		return Result{}, err
	}

	manifest, err := ValidateLayout(tmp)
	if err != nil {
		return Result{}, err
	}
	rec.Plugins = manifest.PluginNames()

	if err := writeRecord(tmp, rec); err != nil {
		return Result{}, err
	}

	if err := os.RemoveAll(dir); err != nil {
		return Result{}, fmt.Errorf("replacing previous materialization: %w", err)
	}
	if err := os.Rename(tmp, dir); err != nil {
		return Result{}, fmt.Errorf("installing materialization: %w", err)
	}
	log.Info("materialized marketplace", "name", name, "source", src.Type, "plugins", len(rec.Plugins))
	return Result{Name: name, Dir: dir, Record: rec}, nil
}
