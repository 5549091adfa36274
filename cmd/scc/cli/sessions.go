package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/scc-tools/scc/internal/paths"
	"github.com/scc-tools/scc/internal/session"
)

// defaultSessionTimeout marks running sessions incomplete when no expected
// duration is configured.
const defaultSessionTimeout = 8 * time.Hour

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recorded sessions and work contexts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store := session.NewStore(paths.SessionsFile())

		// Sessions whose process was replaced never recorded an end; sweep
		// them before listing.
		stale, err := store.MarkStale(cmd.Context(), time.Now(), defaultSessionTimeout)
		if err != nil {
			return err
		}
		for _, rec := range stale {
			fmt.Fprintf(cmd.ErrOrStderr(), "marked stale session %s incomplete\n", rec.ID)
		}

		records, err := store.List()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(records) == 0 {
			fmt.Fprintln(out, "no sessions recorded")
		}
		for _, rec := range records {
			ended := "-"
			if rec.EndedAt != nil {
				ended = rec.EndedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(out, "%-10s %-36s %-20s %s  started %s  ended %s\n",
				rec.Status, rec.ID, rec.Branch, rec.Workspace,
				rec.StartedAt.Format(time.RFC3339), ended)
		}

		contexts, err := session.NewContextStore(paths.ContextsFile()).Load()
		if err != nil {
			return err
		}
		if len(contexts) > 0 {
			fmt.Fprintln(out, "\ncontexts:")
			for _, c := range contexts {
				pin := " "
				if c.Pinned {
					pin = "*"
				}
				fmt.Fprintf(out, "%s %s (%s) last used %s\n",
					pin, c.Workspace, c.Branch, c.LastUsedAt.Format(time.RFC3339))
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sessionsCmd)
}
