package worktree

import (
	"github.com/scc-tools/scc/internal/interact"
	"github.com/scc-tools/scc/internal/pluginref"
)

// defaultProtectedBranches are guarded when the config lists none.
var defaultProtectedBranches = []string{"main", "master", "develop", "production", "staging"}

// IsProtected reports whether a branch matches the protected set. Patterns
// use the same casefolded glob matching as the rest of policy.
func IsProtected(branch string, configured []string) bool {
	patterns := configured
	if len(patterns) == 0 {
		patterns = defaultProtectedBranches
	}
	_, ok := pluginref.MatchStringAny(branch, patterns)
	return ok
}

// GuardBranch returns the interaction to run before starting a session on a
// protected branch, or nil when the branch is fine.
func GuardBranch(branch string, configured []string) *interact.Request {
	if !IsProtected(branch, configured) {
		return nil
	}
	req := interact.ProtectedBranch(branch)
	return &req
}
