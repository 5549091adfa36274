package worktree

import (
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scc-tools/scc/internal/interact"
)

// initRepo creates a git repository with one commit on main.
func initRepo(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "repo")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command(args[0], args[1:]...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "%v: %s", args, out)
	}
	run("git", "init", "-b", "main")
	run("git", "config", "user.email", "test@example.com")
	run("git", "config", "user.name", "Test")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hi\n"), 0o644))
	run("git", "add", ".")
	run("git", "commit", "-m", "initial")
	return dir
}

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
}

func TestSanitizeNameIdempotent(t *testing.T) {
	cases := map[string]string{
		"feature/login":      "feature-login",
		"a/b/c":              "a-b-c",
		"plain":              "plain",
		`windows\sep`:        "windows-sep",
		"already-sanitized":  "already-sanitized",
		"feature-login":      "feature-login",
	}
	for in, want := range cases {
		got := SanitizeName(in)
		assert.Equal(t, want, got)
		assert.Equal(t, got, SanitizeName(got), "sanitizing twice must be a no-op")
	}
}

func TestQualifyBranchPrefix(t *testing.T) {
	requireGit(t)
	m := NewManager(initRepo(t))
	m.BranchPrefix = "work/"

	assert.Equal(t, "work/login", m.QualifyBranch("login"))
	assert.Equal(t, "work/login", m.QualifyBranch("work/login"), "prefixed names pass through")
	assert.Equal(t, "main", m.QualifyBranch("main"), "existing branches are never re-prefixed")
}

func TestCreateAndList(t *testing.T) {
	requireGit(t)
	m := NewManager(initRepo(t))

	info, err := m.Create("feature/login")
	require.NoError(t, err)
	assert.Equal(t, "feature/login", info.Branch)
	assert.DirExists(t, info.Path)
	assert.Equal(t, "feature-login", filepath.Base(info.Path))

	// Creating again reuses the existing worktree.
	again, err := m.Create("feature/login")
	require.NoError(t, err)
	assert.Equal(t, info.Path, again.Path)

	infos, err := m.List()
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.True(t, infos[0].Main, "main checkout sorts first")
	assert.Equal(t, "main", infos[0].Branch)
	assert.Equal(t, "feature/login", infos[1].Branch)
}

func TestListMarksDirty(t *testing.T) {
	requireGit(t)
	m := NewManager(initRepo(t))
	info, err := m.Create("wip")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(info.Path, "scratch.txt"), []byte("x"), 0o644))

	infos, err := m.List()
	require.NoError(t, err)
	for _, i := range infos {
		if i.Branch == "wip" {
			assert.True(t, i.Dirty)
		} else {
			assert.False(t, i.Dirty)
		}
	}
}

func TestSwitch(t *testing.T) {
	requireGit(t)
	m := NewManager(initRepo(t))
	_, err := m.Create("feature/login")
	require.NoError(t, err)
	_, err = m.Create("feature/logout")
	require.NoError(t, err)

	// Exact branch match.
	got, err := m.Switch("feature/login", "main")
	require.NoError(t, err)
	assert.Equal(t, "feature/login", got.Branch)

	// "-" returns to where we came from.
	got, err = m.Switch("-", "feature/login")
	require.NoError(t, err)
	assert.Equal(t, "main", got.Branch)

	// "^" always means the main checkout.
	got, err = m.Switch("^", "feature/login")
	require.NoError(t, err)
	assert.True(t, got.Main)

	// Unique substring.
	got, err = m.Switch("logout", "main")
	require.NoError(t, err)
	assert.Equal(t, "feature/logout", got.Branch)

	// Ambiguous substring errors with the candidates.
	_, err = m.Switch("feature", "main")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "feature/login")
	assert.Contains(t, err.Error(), "feature/logout")

	// Unknown query.
	_, err = m.Switch("nonexistent", "main")
	assert.Error(t, err)
}

func TestRemove(t *testing.T) {
	requireGit(t)
	m := NewManager(initRepo(t))
	info, err := m.Create("doomed")
	require.NoError(t, err)

	// Dirty tree refuses without force.
	require.NoError(t, os.WriteFile(filepath.Join(info.Path, "x"), []byte("x"), 0o644))
	err = m.Remove("doomed", false)
	require.Error(t, err)

	require.NoError(t, m.Remove("doomed", true))
	assert.NoDirExists(t, info.Path)

	assert.Error(t, m.Remove("main", true), "the main checkout is never removable")
}

func TestPrune(t *testing.T) {
	requireGit(t)
	m := NewManager(initRepo(t))
	info, err := m.Create("gone")
	require.NoError(t, err)

	// Delete the checkout behind git's back, then prune the bookkeeping.
	require.NoError(t, os.RemoveAll(info.Path))
	require.NoError(t, m.Prune())

	infos, err := m.List()
	require.NoError(t, err)
	assert.Len(t, infos, 1)
}

func TestIsProtected(t *testing.T) {
	assert.True(t, IsProtected("main", nil))
	assert.True(t, IsProtected("production", nil))
	assert.False(t, IsProtected("feature/login", nil))

	assert.True(t, IsProtected("release/1.2", []string{"release/*"}))
	assert.False(t, IsProtected("main", []string{"release/*"}),
		"an explicit protected list replaces the defaults")
}

func TestGuardBranch(t *testing.T) {
	req := GuardBranch("main", nil)
	require.NotNil(t, req)
	assert.Equal(t, interact.ProtectedBranchID, req.ID)
	assert.Equal(t, interact.ChoiceCreateBranch, req.Default)

	assert.Nil(t, GuardBranch("feature/login", nil))
}
