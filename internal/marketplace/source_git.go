package marketplace

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/scc-tools/scc/internal/orgconfig"
)

// fetchGit clones a github or git source at the pinned ref and copies the
// subtree path into dst. Returns the resolved commit SHA.
func (m *Materializer) fetchGit(ctx context.Context, dst string, src orgconfig.MarketplaceSource) (string, error) {
	url := src.URL
	if src.Type == orgconfig.SourceGitHub {
		url = "https://github.com/" + src.Repo
	}

	cloneDir, err := os.MkdirTemp("", "scc-clone-")
	if err != nil {
		return "", fmt.Errorf("creating clone directory: %w", err)
	}
	defer os.RemoveAll(cloneDir)

	repo, err := cloneSource(ctx, cloneDir, url, src.Ref)
	if err != nil {
		return "", err
	}

	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("reading clone head: %w", err)
	}

	subtree := cloneDir
	if src.Path != "" {
		subtree = filepath.Join(cloneDir, filepath.FromSlash(src.Path))
		if info, err := os.Stat(subtree); err != nil || !info.IsDir() {
			return "", fmt.Errorf("path %q does not exist in %s", src.Path, url)
		}
	}

	if err := copyTree(subtree, dst, func(rel string) bool { return rel == ".git" }); err != nil {
		return "", fmt.Errorf("copying marketplace content: %w", err)
	}
	return head.Hash().String(), nil
}

// cloneSource prefers depth-1 clones; a full history buys nothing here. A
// pinned ref is tried shallow as a branch and then as a tag. Commit SHAs
// cannot be fetched shallow, so they fall back to a full clone plus a
// detached checkout.
func cloneSource(ctx context.Context, dir, url, ref string) (*git.Repository, error) {
	if ref == "" {
		repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{URL: url, Depth: 1})
		if err != nil {
			return nil, fmt.Errorf("cloning %s: %w", url, err)
		}
		return repo, nil
	}

	for _, name := range []plumbing.ReferenceName{
		plumbing.NewBranchReferenceName(ref),
		plumbing.NewTagReferenceName(ref),
	} {
		repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
			URL:           url,
			Depth:         1,
			SingleBranch:  true,
			ReferenceName: name,
		})
		if err == nil {
			return repo, nil
		}
		if err := resetCloneDir(dir); err != nil {
			return nil, err
		}
	}

	repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{URL: url})
	if err != nil {
		return nil, fmt.Errorf("cloning %s: %w", url, err)
	}
	hash, err := repo.ResolveRevision(plumbing.Revision(ref))
	if err != nil {
		return nil, fmt.Errorf("resolving ref %q in %s: %w", ref, url, err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("opening worktree: %w", err)
	}
	if err := wt.Checkout(&git.CheckoutOptions{Hash: *hash}); err != nil {
		return nil, fmt.Errorf("checking out %s: %w", ref, err)
	}
	return repo, nil
}

// resetCloneDir empties dir between clone attempts; PlainClone needs an
// empty target.
func resetCloneDir(dir string) error {
	if err := os.RemoveAll(dir); err != nil {
		return err
	}
	return os.MkdirAll(dir, 0o755)
}
