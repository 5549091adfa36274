// Package worktree manages git worktrees for branch-per-sandbox workflows.
// Each branch gets its own checkout under the worktree base directory, so
// switching branches never disturbs a running session's workspace.
package worktree

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/scc-tools/scc/internal/cmderr"
)

// Manager operates on one repository's worktrees.
type Manager struct {
	// RepoRoot is the primary checkout.
	RepoRoot string
	// BaseDir is where linked worktrees are created.
	BaseDir string
	// BranchPrefix, when set, is prepended to new branch names that do not
	// already carry it.
	BranchPrefix string
}

// NewManager returns a manager rooted at repoRoot with worktrees under
// <repoRoot>/../<repo>-worktrees.
func NewManager(repoRoot string) *Manager {
	base := filepath.Join(filepath.Dir(repoRoot), filepath.Base(repoRoot)+"-worktrees")
	return &Manager{RepoRoot: repoRoot, BaseDir: base}
}

// Info describes one worktree.
type Info struct {
	Path   string
	Branch string
	Head   string
	Dirty  bool
	// Main marks the primary checkout.
	Main bool
}

// SanitizeName converts a branch name to a filesystem-safe directory name.
// Path separators become hyphens; the mapping is idempotent, so a sanitized
// name sanitizes to itself.
func SanitizeName(branch string) string {
	s := strings.ReplaceAll(branch, "/", "-")
	s = strings.ReplaceAll(s, "\\", "-")
	return s
}

// QualifyBranch applies the branch prefix to names that lack it. Existing
// branches and already-prefixed names pass through unchanged.
func (m *Manager) QualifyBranch(branch string) string {
	if m.BranchPrefix == "" || strings.HasPrefix(branch, m.BranchPrefix) {
		return branch
	}
	if m.branchExists(branch) {
		return branch
	}
	return m.BranchPrefix + branch
}

// Create ensures a branch and its worktree exist, reusing an existing
// worktree for the branch.
func (m *Manager) Create(branch string) (*Info, error) {
	branch = m.QualifyBranch(branch)
	path := filepath.Join(m.BaseDir, SanitizeName(branch))

	if _, err := os.Stat(path); err == nil {
		return &Info{Path: path, Branch: branch}, nil
	}

	if !m.branchExists(branch) {
		if out, err := m.git("branch", branch); err != nil {
			return nil, fmt.Errorf("creating branch %q: %w\n%s", branch, err, out)
		}
	}
	if err := os.MkdirAll(m.BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating worktree base directory: %w", err)
	}
	if out, err := m.git("worktree", "add", path, branch); err != nil {
		return nil, fmt.Errorf("creating worktree: %w\n%s", err, out)
	}
	return &Info{Path: path, Branch: branch}, nil
}

// List returns all worktrees of the repository, main checkout first, each
// annotated with whether its tree is dirty.
func (m *Manager) List() ([]Info, error) {
	out, err := m.git("worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("listing worktrees: %w\n%s", err, out)
	}

	var infos []Info
	var cur *Info
	flush := func() {
		if cur != nil {
			infos = append(infos, *cur)
			cur = nil
		}
	}
	for _, line := range strings.Split(string(out), "\n") {
		switch {
		case strings.HasPrefix(line, "worktree "):
			flush()
			cur = &Info{Path: strings.TrimPrefix(line, "worktree ")}
		case strings.HasPrefix(line, "HEAD ") && cur != nil:
			cur.Head = strings.TrimPrefix(line, "HEAD ")
		case strings.HasPrefix(line, "branch ") && cur != nil:
			cur.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		}
	}
	flush()

	for i := range infos {
		infos[i].Main = sameDir(infos[i].Path, m.RepoRoot)
		infos[i].Dirty = m.isDirty(infos[i].Path)
	}
	sort.SliceStable(infos, func(i, j int) bool { return infos[i].Main && !infos[j].Main })
	return infos, nil
}

// Switch resolves a target worktree from a query:
//
//	"-"     the previously used worktree
//	"^"     the main checkout
//	other   exact branch match, then unique substring match
//
// The previous-worktree marker is updated on success.
func (m *Manager) Switch(query, current string) (*Info, error) {
	infos, err := m.List()
	if err != nil {
		return nil, err
	}

	var target *Info
	switch query {
	case "-":
		prev := m.readPrevious()
		if prev == "" {
			return nil, cmderr.New(cmderr.KindUsage, "no previous worktree recorded")
		}
		target = findBranch(infos, prev)
		if target == nil {
			return nil, cmderr.Newf(cmderr.KindUsage, "previous worktree branch %q no longer exists", prev)
		}
	case "^":
		for i := range infos {
			if infos[i].Main {
				target = &infos[i]
				break
			}
		}
		if target == nil {
			return nil, cmderr.New(cmderr.KindState, "repository has no main worktree")
		}
	default:
		if target = findBranch(infos, query); target == nil {
			var matches []*Info
			for i := range infos {
				if strings.Contains(infos[i].Branch, query) {
					matches = append(matches, &infos[i])
				}
			}
			switch len(matches) {
			case 1:
				target = matches[0]
			case 0:
				return nil, cmderr.Newf(cmderr.KindUsage, "no worktree matches %q", query)
			default:
				names := make([]string, len(matches))
				for i, mt := range matches {
					names[i] = mt.Branch
				}
				return nil, cmderr.Newf(cmderr.KindUsage,
					"%q is ambiguous: matches %s", query, strings.Join(names, ", ")).
					WithAction("use a longer prefix or the full branch name")
			}
		}
	}

	if current != "" && current != target.Branch {
		m.writePrevious(current)
	}
	return target, nil
}

// Remove deletes a worktree. A dirty tree requires force.
func (m *Manager) Remove(branch string, force bool) error {
	infos, err := m.List()
	if err != nil {
		return err
	}
	target := findBranch(infos, branch)
	if target == nil {
		return cmderr.Newf(cmderr.KindUsage, "no worktree for branch %q", branch)
	}
	if target.Main {
		return cmderr.New(cmderr.KindUsage, "refusing to remove the main checkout")
	}
	if target.Dirty && !force {
		return cmderr.Newf(cmderr.KindUsage,
			"worktree for %q has uncommitted changes", branch).
			WithAction("commit or stash the changes, or pass --force")
	}
	args := []string{"worktree", "remove", target.Path}
	if force {
		args = append(args, "--force")
	}
	if out, err := m.git(args...); err != nil {
		return fmt.Errorf("removing worktree: %w\n%s", err, out)
	}
	return nil
}

// Prune drops stale worktree bookkeeping for checkouts deleted out-of-band.
func (m *Manager) Prune() error {
	if out, err := m.git("worktree", "prune"); err != nil {
		return fmt.Errorf("pruning worktrees: %w\n%s", err, out)
	}
	return nil
}

// CurrentBranch returns the branch checked out in dir.
func CurrentBranch(dir string) (string, error) {
	cmd := exec.Command("git", "rev-parse", "--abbrev-ref", "HEAD")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("reading current branch: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

func findBranch(infos []Info, branch string) *Info {
	for i := range infos {
		if infos[i].Branch == branch {
			return &infos[i]
		}
	}
	return nil
}

func (m *Manager) git(args ...string) ([]byte, error) {
	cmd := exec.Command("git", args...)
	cmd.Dir = m.RepoRoot
	return cmd.CombinedOutput()
}

func (m *Manager) branchExists(branch string) bool {
	_, err := m.git("rev-parse", "--verify", "refs/heads/"+branch)
	return err == nil
}

func (m *Manager) isDirty(dir string) bool {
	cmd := exec.Command("git", "status", "--porcelain")
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return false
	}
	return len(strings.TrimSpace(string(out))) > 0
}

// previousFile lives in the git common dir so all worktrees share it.
func (m *Manager) previousFile() string {
	out, err := m.git("rev-parse", "--git-common-dir")
	if err != nil {
		return ""
	}
	dir := strings.TrimSpace(string(out))
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(m.RepoRoot, dir)
	}
	return filepath.Join(dir, "scc-previous-worktree")
}

func (m *Manager) readPrevious() string {
	path := m.previousFile()
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

func (m *Manager) writePrevious(branch string) {
	path := m.previousFile()
	if path == "" {
		return
	}
	_ = os.WriteFile(path, []byte(branch+"\n"), 0o644)
}

func sameDir(a, b string) bool {
	ra, err1 := filepath.EvalSymlinks(a)
	rb, err2 := filepath.EvalSymlinks(b)
	if err1 != nil || err2 != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return ra == rb
}
