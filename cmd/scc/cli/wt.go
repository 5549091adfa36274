package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scc-tools/scc/internal/cmderr"
	"github.com/scc-tools/scc/internal/interact"
	"github.com/scc-tools/scc/internal/workspace"
	"github.com/scc-tools/scc/internal/worktree"
)

var wtCmd = &cobra.Command{
	Use:   "wt",
	Short: "Manage work branches and their worktrees",
}

// worktreeManager resolves the workspace and returns a manager rooted at it.
func worktreeManager() (*worktree.Manager, *workspace.Decision, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, nil, cmderr.Wrap(cmderr.KindState, err, "determining working directory")
	}
	decision, err := workspace.Resolve("", cwd)
	if err != nil {
		return nil, nil, err
	}
	mgr := worktree.NewManager(decision.Root)
	mgr.BranchPrefix = "work/"
	return mgr, decision, nil
}

var wtCreateCmd = &cobra.Command{
	Use:   "create <branch>",
	Short: "Create a work branch and its worktree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, _, err := worktreeManager()
		if err != nil {
			return err
		}
		info, err := mgr.Create(args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", info.Branch, info.Path)
		return nil
	},
}

var wtListCmd = &cobra.Command{
	Use:   "list",
	Short: "List worktrees with status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, _, err := worktreeManager()
		if err != nil {
			return err
		}
		infos, err := mgr.List()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, info := range infos {
			marks := ""
			if info.Main {
				marks += " (main)"
			}
			if info.Dirty {
				marks += " (dirty)"
			}
			fmt.Fprintf(out, "%-30s %s%s\n", info.Branch, info.Path, marks)
		}
		return nil
	},
}

var wtSwitchCmd = &cobra.Command{
	Use:   "switch [query]",
	Short: "Switch to a worktree (fuzzy match, - for previous, ^ for main)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, decision, err := worktreeManager()
		if err != nil {
			return err
		}
		current, err := worktree.CurrentBranch(decision.Entry)
		if err != nil {
			current = ""
		}

		var target *worktree.Info
		if len(args) == 1 {
			target, err = mgr.Switch(args[0], current)
		} else {
			target, err = selectWorktree(mgr, current)
		}
		if err != nil {
			return err
		}
		// The process cannot change its parent shell's directory; print the
		// path for a shell wrapper to cd into.
		fmt.Fprintln(cmd.OutOrStdout(), target.Path)
		return nil
	},
}

// selectWorktree renders an interactive picker over the repository's
// worktrees.
func selectWorktree(mgr *worktree.Manager, current string) (*worktree.Info, error) {
	infos, err := mgr.List()
	if err != nil {
		return nil, err
	}
	req := interact.Request{
		Kind:  interact.Select,
		ID:    interact.WorktreeSelectID,
		Label: "switch to which worktree?",
	}
	for _, info := range infos {
		label := info.Branch
		if info.Dirty {
			label += " (dirty)"
		}
		req.Options = append(req.Options, interact.Option{ID: info.Branch, Label: label})
		if info.Branch == current {
			req.Default = info.Branch
		}
	}
	choice, err := answer(req)
	if err != nil {
		return nil, err
	}
	return mgr.Switch(choice, current)
}

var wtForce bool

var wtRemoveCmd = &cobra.Command{
	Use:   "remove <branch>",
	Short: "Remove a worktree",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, _, err := worktreeManager()
		if err != nil {
			return err
		}
		return mgr.Remove(args[0], wtForce)
	},
}

var wtPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove stale worktree records",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, _, err := worktreeManager()
		if err != nil {
			return err
		}
		return mgr.Prune()
	},
}

func init() {
	wtRemoveCmd.Flags().BoolVarP(&wtForce, "force", "f", false, "remove even when the worktree has uncommitted work")
	wtCmd.AddCommand(wtCreateCmd, wtListCmd, wtSwitchCmd, wtRemoveCmd, wtPruneCmd)
	rootCmd.AddCommand(wtCmd)
}
