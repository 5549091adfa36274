// Package workspace resolves which directory becomes the sandbox workspace.
// Resolution is pure and never prompts: suspicious or slow locations produce
// warnings on the decision, and the caller decides how loudly to surface
// them.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/scc-tools/scc/internal/cmderr"
	"github.com/scc-tools/scc/internal/paths"
)

// Marker values explain what identified the workspace root.
const (
	MarkerExplicit = "explicit"
	MarkerGit      = ".git"
	MarkerManifest = ".scc.yaml"
	MarkerCwd      = "cwd"
)

// ContainerRoot is where the workspace is mounted inside the sandbox.
const ContainerRoot = "/workspace"

// Decision is the result of workspace resolution.
type Decision struct {
	// Root is the host directory mounted at ContainerRoot.
	Root string
	// Entry is the directory the command was invoked from; always Root or a
	// descendant of it.
	Entry string
	// Marker names what identified Root.
	Marker string
	// ContainerWorkdir is Entry translated into the container mount.
	ContainerWorkdir string
	AutoDetected     bool
	Suspicious       bool
	Slow             bool
	Warnings         []string
}

// Resolve determines the workspace root. With an explicit path the path
// itself is the root. Otherwise the ancestors of cwd are searched for a
// .git entry (directory or worktree gitdir file) or a .scc.yaml manifest;
// the nearest directory carrying either marker wins. With no marker at all
// the cwd itself becomes the root, flagged auto-detected.
func Resolve(explicit, cwd string) (*Decision, error) {
	entry, err := filepath.Abs(cwd)
	if err != nil {
		return nil, fmt.Errorf("resolving working directory: %w", err)
	}

	var d *Decision
	if explicit != "" {
		root, err := filepath.Abs(explicit)
		if err != nil {
			return nil, fmt.Errorf("resolving workspace path: %w", err)
		}
		info, err := os.Stat(root)
		if err != nil {
			return nil, cmderr.Wrap(cmderr.KindUsage, err, "workspace path does not exist: "+explicit)
		}
		if !info.IsDir() {
			return nil, cmderr.New(cmderr.KindUsage, "workspace path is not a directory: "+explicit)
		}
		if !within(entry, root) {
			entry = root
		}
		d = &Decision{Root: root, Entry: entry, Marker: MarkerExplicit}
	} else {
		root, marker := findRoot(entry)
		d = &Decision{Root: root, Entry: entry, Marker: marker, AutoDetected: true}
		if marker == MarkerCwd {
			d.warn("no repository or " + paths.ProjectConfigName + " found; using the current directory as the workspace")
		}
	}

	rel, err := filepath.Rel(d.Root, d.Entry)
	if err != nil {
		return nil, fmt.Errorf("computing workspace-relative path: %w", err)
	}
	d.ContainerWorkdir = ContainerRoot
	if rel != "." {
		d.ContainerWorkdir = ContainerRoot + "/" + filepath.ToSlash(rel)
	}

	d.classify()
	return d, nil
}

// findRoot walks from dir toward the filesystem root looking for markers.
func findRoot(dir string) (root, marker string) {
	for cur := dir; ; {
		if isGitRoot(cur) {
			return cur, MarkerGit
		}
		if fileExists(filepath.Join(cur, paths.ProjectConfigName)) {
			return cur, MarkerManifest
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return dir, MarkerCwd
		}
		cur = parent
	}
}

// isGitRoot accepts both a .git directory and the .git file a linked
// worktree carries ("gitdir: <path>").
func isGitRoot(dir string) bool {
	info, err := os.Stat(filepath.Join(dir, ".git"))
	if err != nil {
		return false
	}
	if info.IsDir() {
		return true
	}
	data, err := os.ReadFile(filepath.Join(dir, ".git"))
	if err != nil {
		return false
	}
	return strings.HasPrefix(strings.TrimSpace(string(data)), "gitdir:")
}

// classify flags workspace roots that are almost certainly mistakes
// (mounting all of $HOME or a system directory into the sandbox) and roots
// on mounts where bind-mount IO is known to crawl.
func (d *Decision) classify() {
	root := d.Root

	if home, err := os.UserHomeDir(); err == nil && root == home {
		d.Suspicious = true
		d.warn("workspace is your entire home directory; the sandbox will see everything in it")
	}
	for _, sys := range []string{"/", "/etc", "/usr", "/var", "/bin", "/opt"} {
		if root == sys {
			d.Suspicious = true
			d.warn("workspace is the system directory " + root)
			break
		}
	}

	if strings.HasPrefix(root, "/mnt/") {
		d.Slow = true
		d.warn("workspace is under /mnt; bind-mount file IO may be slow")
	}
}

func (d *Decision) warn(msg string) {
	d.Warnings = append(d.Warnings, msg)
}

func within(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel == "." || (!strings.HasPrefix(rel, "..") && !filepath.IsAbs(rel))
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
