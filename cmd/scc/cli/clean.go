package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/scc-tools/scc/internal/paths"
	"github.com/scc-tools/scc/internal/sandbox"
	"github.com/scc-tools/scc/internal/session"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove stopped session containers and mark stale sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		orch, err := sandbox.New()
		if err != nil {
			return err
		}
		defer orch.Close()
		if err := orch.Ping(cmd.Context()); err != nil {
			return err
		}

		removed, err := orch.Prune(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, name := range removed {
			fmt.Fprintf(out, "removed %s\n", name)
		}
		if len(removed) == 0 {
			fmt.Fprintln(out, "no stopped session containers")
		}

		store := session.NewStore(paths.SessionsFile())
		stale, err := store.MarkStale(cmd.Context(), time.Now(), defaultSessionTimeout)
		if err != nil {
			return err
		}
		for _, rec := range stale {
			fmt.Fprintf(out, "marked stale session %s incomplete\n", rec.ID)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cleanCmd)
}
