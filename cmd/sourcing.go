package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var sourcingCmd = &cobra.Command{
	Use:   "sourcing",
	Short: "Provider sourcing",
}

var sourcingStartCmd = &cobra.Command{
	Use:   "start <project-id>",
	Short: "Move a draft project to sourcing and find candidate providers",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		if _, err := env.Lifecycle.StartSourcing(cmd.Context(), args[0]); err != nil {
			return err
		}

		// Inline dispatch has already finished; with asynq the job is queued.
		p, err := env.Store.GetProject(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "project %s is %s\n", p.ID, p.Status)
		return nil
	},
}

func init() {
	sourcingCmd.AddCommand(sourcingStartCmd)
	rootCmd.AddCommand(sourcingCmd)
}
