package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/scc-tools/scc/internal/cmderr"
	"github.com/scc-tools/scc/internal/doctor"
	"github.com/scc-tools/scc/internal/sandbox"
	"github.com/scc-tools/scc/internal/userconfig"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check that the environment can run sandboxed sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		reg := doctor.NewRegistry()
		reg.Register(doctor.GitCheck())

		orch, connectErr := sandbox.New()
		if orch != nil {
			defer orch.Close()
		}
		reg.Register(doctor.DockerCheck(orch, connectErr))
		reg.Register(doctor.ConfigDirCheck())
		reg.Register(doctor.OrgConfigCheck(func(ctx context.Context) error {
			user, err := userconfig.Load()
			if err != nil {
				return err
			}
			_, _, err = loadOrg(ctx, user, false)
			return err
		}))

		results := reg.RunAll(cmd.Context())
		doctor.Print(cmd.OutOrStdout(), results)
		if !doctor.Healthy(results) {
			return cmderr.New(cmderr.KindPrerequisite, "environment checks failed")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
