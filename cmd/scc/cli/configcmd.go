package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/scc-tools/scc/internal/cmderr"
	"github.com/scc-tools/scc/internal/userconfig"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage org config source and inspect the effective config",
}

var configSetOrgAuth string

var configSetOrgCmd = &cobra.Command{
	Use:   "set-org <source>",
	Short: "Set the org config source (HTTPS URL or local path)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := userconfig.Load()
		if err != nil {
			return err
		}
		cfg.OrgSource = args[0]
		if configSetOrgAuth != "" {
			cfg.AuthSpec = configSetOrgAuth
		}
		if err := userconfig.Save(cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "org config source set to %s\n", args[0])
		return nil
	},
}

var configSetTeamCmd = &cobra.Command{
	Use:   "set-team <team>",
	Short: "Select the team profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := userconfig.Load()
		if err != nil {
			return err
		}
		team := args[0]
		org, _, err := loadOrg(cmd.Context(), cfg, false)
		if err != nil {
			return err
		}
		if _, ok := org.Profile(team); !ok {
			return cmderr.Newf(cmderr.KindUsage, "team %q is not defined in the org config", team)
		}
		cfg.Team = team
		if err := userconfig.Save(cfg); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "team set to %s\n", team)
		return nil
	},
}

var configRefreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Re-fetch the org config, bypassing the cache",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := userconfig.Load()
		if err != nil {
			return err
		}
		org, _, err := loadOrg(cmd.Context(), cfg, true)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "refreshed org config for %s\n", org.Organization.Name)
		return nil
	},
}

var explainImage string

var configExplainCmd = &cobra.Command{
	Use:   "explain",
	Short: "Show the effective config with per-decision provenance",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return cmderr.Wrap(cmderr.KindState, err, "determining working directory")
		}
		in, err := gatherInputs(cmd.Context(), "", cwd, false)
		if err != nil {
			return err
		}
		image := explainImage
		if image == "" {
			image = in.User.Image
		}
		if image == "" {
			image = defaultImage
		}
		eff, err := in.computeEffective(image)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "organization: %s\n", in.Org.Organization.Name)
		fmt.Fprintf(out, "team:         %s\n", eff.Team)
		fmt.Fprintf(out, "workspace:    %s (%s)\n", in.Decision.Root, in.Decision.Marker)

		fmt.Fprintln(out, "\nenabled plugins:")
		if len(eff.Enabled) == 0 {
			fmt.Fprintln(out, "  (none)")
		}
		for _, ref := range eff.Enabled {
			fmt.Fprintf(out, "  %s\n", ref.String())
		}

		if len(eff.Blocked) > 0 {
			fmt.Fprintln(out, "\nblocked:")
			for _, b := range eff.Blocked {
				fmt.Fprintf(out, "  %s (pattern %q, layer %s)\n", b.Ref, b.Pattern, b.Layer)
			}
		}
		if len(eff.Denied) > 0 {
			fmt.Fprintln(out, "\ndenied:")
			for _, d := range eff.Denied {
				fmt.Fprintf(out, "  %s: %s\n", d.Ref, d.Reason)
			}
		}
		if eff.ImageBlock != nil {
			fmt.Fprintf(out, "\nimage %s BLOCKED by pattern %q\n", eff.ImageBlock.Ref, eff.ImageBlock.Pattern)
		}

		fmt.Fprintln(out, "\ndecisions:")
		for _, d := range eff.Decisions {
			fmt.Fprintf(out, "  %-28s = %-30s (%s)\n", d.Field, d.Value, d.Source)
		}
		if len(eff.ExceptionsApplied) > 0 {
			fmt.Fprintln(out, "\nexceptions applied:")
			for _, id := range eff.ExceptionsApplied {
				fmt.Fprintf(out, "  %s\n", id)
			}
		}
		for _, w := range eff.Warnings {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: %s\n", w)
		}
		return nil
	},
}

func init() {
	configSetOrgCmd.Flags().StringVar(&configSetOrgAuth, "auth", "", "auth spec for the fetch (env:VAR or command:...)")
	configExplainCmd.Flags().StringVar(&explainImage, "image", "", "image reference to check against policy")
	configCmd.AddCommand(configSetOrgCmd, configSetTeamCmd, configRefreshCmd, configExplainCmd)
	rootCmd.AddCommand(configCmd)
}
