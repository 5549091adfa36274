package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/scc-tools/scc/internal/cmderr"
	"github.com/scc-tools/scc/internal/exception"
	"github.com/scc-tools/scc/internal/paths"
)

var exceptionsCmd = &cobra.Command{
	Use:   "exceptions",
	Short: "Manage time-bounded policy exceptions",
}

var excRepo bool

// exceptionStore picks the user- or repo-scope store.
func exceptionStore() (*exception.Store, error) {
	if !excRepo {
		return exception.NewStore(paths.UserExceptionsFile()), nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, cmderr.Wrap(cmderr.KindState, err, "determining working directory")
	}
	return exception.NewStore(paths.RepoExceptionsFile(cwd)), nil
}

var exceptionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active exceptions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := exceptionStore()
		if err != nil {
			return err
		}
		excs, err := store.Load(time.Now())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if len(excs) == 0 {
			fmt.Fprintln(out, "no active exceptions")
			return nil
		}
		for _, e := range excs {
			fmt.Fprintf(out, "%-14s %-6s expires %s  %s\n",
				e.ID, e.Scope, e.ExpiresAt.Format(time.RFC3339), e.Reason)
			for _, p := range e.Allow.Plugins {
				fmt.Fprintf(out, "  plugin: %s\n", p)
			}
			for _, s := range e.Allow.MCPServers {
				fmt.Fprintf(out, "  mcp:    %s\n", s)
			}
			for _, img := range e.Allow.BaseImages {
				fmt.Fprintf(out, "  image:  %s\n", img)
			}
		}
		return nil
	},
}

var (
	excTTL     time.Duration
	excScope   string
	excReason  string
	excPlugins []string
	excServers []string
	excImages  []string
)

var exceptionsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a time-bounded exception",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(excPlugins)+len(excServers)+len(excImages) == 0 {
			return cmderr.New(cmderr.KindUsage, "exception must allow at least one plugin, MCP server, or image").
				WithAction("pass --plugin, --mcp-server, or --image")
		}
		if excReason == "" {
			return cmderr.New(cmderr.KindUsage, "exception requires a reason").
				WithAction("pass --reason")
		}
		scope := exception.Scope(excScope)
		e, err := exception.New(scope, excTTL, excReason, exception.AllowList{
			Plugins:    excPlugins,
			MCPServers: excServers,
			BaseImages: excImages,
		})
		if err != nil {
			return cmderr.Wrap(cmderr.KindUsage, err, "invalid exception")
		}
		store, err := exceptionStore()
		if err != nil {
			return err
		}
		if err := store.Add(e, time.Now()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "added exception %s (expires %s)\n",
			e.ID, e.ExpiresAt.Format(time.RFC3339))
		return nil
	},
}

var exceptionsRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove an exception by ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := exceptionStore()
		if err != nil {
			return err
		}
		if err := store.Remove(args[0], time.Now()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed exception %s\n", args[0])
		return nil
	},
}

func init() {
	exceptionsCmd.PersistentFlags().BoolVar(&excRepo, "repo", false, "operate on the repo-scope store (.scc/exceptions.json)")
	exceptionsAddCmd.Flags().DurationVar(&excTTL, "ttl", 7*24*time.Hour, "how long the exception lasts")
	exceptionsAddCmd.Flags().StringVar(&excScope, "scope", string(exception.ScopeLocal), "exception scope: local or policy")
	exceptionsAddCmd.Flags().StringVar(&excReason, "reason", "", "why the exception exists")
	exceptionsAddCmd.Flags().StringSliceVar(&excPlugins, "plugin", nil, "plugin pattern to allow (repeatable)")
	exceptionsAddCmd.Flags().StringSliceVar(&excServers, "mcp-server", nil, "MCP server pattern to allow (repeatable)")
	exceptionsAddCmd.Flags().StringSliceVar(&excImages, "image", nil, "base image pattern to allow (repeatable)")
	exceptionsCmd.AddCommand(exceptionsListCmd, exceptionsAddCmd, exceptionsRemoveCmd)
	rootCmd.AddCommand(exceptionsCmd)
}
