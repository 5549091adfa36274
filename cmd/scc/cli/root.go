// Package cli implements the scc command-line interface using Cobra. It
// wires the policy pipeline, marketplace materializer, and sandbox
// orchestrator into the commands a developer actually runs.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/scc-tools/scc/internal/log"
	"github.com/scc-tools/scc/internal/paths"
)

var (
	verbose bool
	jsonOut bool
)

var rootCmd = &cobra.Command{
	Use:   "scc",
	Short: "Sandboxed coding sessions under org policy",
	Long: `scc runs an interactive AI coding agent inside a per-workspace
container sandbox. The org config decides which plugins, marketplaces, and
MCP servers the agent gets; scc materializes them into the workspace and
launches the session.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := log.Init(log.Options{
			Verbose:     verbose,
			JSONFormat:  jsonOut,
			Interactive: interactive(),
			DebugDir:    paths.DebugLogDir(),
		}); err != nil {
			cmd.PrintErrf("warning: debug logging unavailable: %v\n", err)
		}
		return nil
	},
}

// Execute runs the root command and returns the process exit code carried
// by the session, if any.
func Execute() error {
	return rootCmd.Execute()
}

// agentExitCode holds the agent's exit code when a session ran; the
// process exits with it.
var agentExitCode int

// AgentExitCode returns the exit code of the last agent session.
func AgentExitCode() int { return agentExitCode }

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "output logs in JSON format")
}

// interactive reports whether prompts can be rendered.
func interactive() bool {
	return isTerminal(os.Stdin) && isTerminal(os.Stderr)
}
