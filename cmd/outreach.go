package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var outreachCmd = &cobra.Command{
	Use:   "outreach",
	Short: "Provider outreach",
}

var outreachStartCmd = &cobra.Command{
	Use:   "start <project-id>",
	Short: "Send quote requests to every provider of an approved project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		batch, err := env.Lifecycle.StartOutreach(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "providers: %d dispatched: %d failed: %d\n",
			batch.Providers, batch.Dispatched, batch.Failed)
		return nil
	},
}

var outreachInitCmd = &cobra.Command{
	Use:   "init <provider-id>",
	Short: "Send the initial quote request to a single provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Outreach.Initiate(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		verb := "opened"
		if res.Reused {
			verb = "reused"
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s thread %s\n", verb, res.Thread.Channel, res.Thread.ID)
		return nil
	},
}

var outreachCounterCmd = &cobra.Command{
	Use:   "counter <thread-id>",
	Short: "Send a counter-offer on a thread with a recorded quote",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Outreach.SendCounterOffer(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sent %s counter on thread %s\n", res.Strategy, res.Thread.ID)
		return nil
	},
}

func init() {
	outreachCmd.AddCommand(outreachStartCmd, outreachInitCmd, outreachCounterCmd)
	rootCmd.AddCommand(outreachCmd)
}
