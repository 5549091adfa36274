package main

import (
	"fmt"
	"os"

	"github.com/scc-tools/scc/cmd/scc/cli"
	"github.com/scc-tools/scc/internal/cmderr"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "scc: %v\n", err)
		if action := cmderr.ActionOf(err); action != "" {
			fmt.Fprintf(os.Stderr, "  -> %s\n", action)
		}
		os.Exit(cmderr.ExitCodeFor(err))
	}
	os.Exit(cli.AgentExitCode())
}
