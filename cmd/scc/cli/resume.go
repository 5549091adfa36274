package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/scc-tools/scc/internal/cmderr"
	"github.com/scc-tools/scc/internal/interact"
	"github.com/scc-tools/scc/internal/paths"
	"github.com/scc-tools/scc/internal/sandbox"
	"github.com/scc-tools/scc/internal/session"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume the most recent work context",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return runResume(ctx)
	},
}

func init() {
	rootCmd.AddCommand(resumeCmd)
}

func runResume(ctx context.Context) error {
	contexts, err := session.NewContextStore(paths.ContextsFile()).Load()
	if err != nil {
		return err
	}
	target, ok := pickContext(contexts)
	if !ok {
		return cmderr.New(cmderr.KindUsage, "no resumable work context").
			WithAction("run: scc start")
	}

	store := session.NewStore(paths.SessionsFile())
	prev, ok, err := store.Resumable(target.Workspace, target.Branch)
	if err != nil {
		return err
	}
	if !ok {
		return cmderr.Newf(cmderr.KindState, "no stopped session for %s on %s", target.Workspace, target.Branch).
			WithAction("run: scc start")
	}

	orch, err := sandbox.New()
	if err != nil {
		return err
	}
	defer orch.Close()
	if err := orch.Ping(ctx); err != nil {
		return err
	}

	resumed, err := resumeSession(ctx, orch, store, prev)
	if err != nil {
		return err
	}
	if !resumed {
		return cmderr.Newf(cmderr.KindState, "session container for %s no longer exists", prev.ID).
			WithAction("run: scc start")
	}
	return nil
}

// pickContext selects the most recent context whose workspace still exists.
// With several candidates on an interactive terminal the user chooses.
func pickContext(contexts []session.WorkContext) (session.WorkContext, bool) {
	live := contexts[:0:0]
	for _, c := range contexts {
		if _, err := os.Stat(c.Workspace); err == nil {
			live = append(live, c)
		}
	}
	if len(live) == 0 {
		return session.WorkContext{}, false
	}
	if len(live) == 1 || !interactive() {
		return live[0], true
	}

	req := interact.Request{
		Kind:    interact.Select,
		ID:      interact.WorktreeSelectID,
		Label:   "resume which context?",
		Default: contextKey(live[0]),
	}
	byKey := make(map[string]session.WorkContext, len(live))
	for _, c := range live {
		key := contextKey(c)
		byKey[key] = c
		label := fmt.Sprintf("%s (%s)", c.Workspace, c.Branch)
		if c.Label != "" {
			label = c.Label + ": " + label
		}
		req.Options = append(req.Options, interact.Option{ID: key, Label: label})
	}
	choice, err := answer(req)
	if err != nil {
		return session.WorkContext{}, false
	}
	c, ok := byKey[choice]
	return c, ok
}

func contextKey(c session.WorkContext) string {
	return c.Workspace + "\x00" + c.Branch
}
