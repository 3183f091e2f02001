package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/opsline/switchyard/pkg/client"
	"github.com/opsline/switchyard/pkg/events"
)

var rolloutCmd = &cobra.Command{
	Use:   "rollout",
	Short: "Manage progressive rollouts",
}

var rolloutListCmd = &cobra.Command{
	Use:   "list",
	Short: "List active rollouts",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromFlags(cmd)
		rollouts, err := c.ListRollouts(cmd.Context())
		if err != nil {
			return err
		}
		if len(rollouts) == 0 {
			fmt.Println("No active rollouts.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ROLLOUT ID\tSERVICE\tSTRATEGY\tPHASE\tTRAFFIC\tAGE")
		for _, r := range rollouts {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d%%\t%s\n",
				r.RolloutID,
				r.Config.ServiceName,
				r.Config.Strategy,
				r.CurrentPhase,
				r.CurrentTrafficPercentage,
				time.Since(r.StartTime).Round(time.Second),
			)
		}
		return w.Flush()
	},
}

var rolloutStatusCmd = &cobra.Command{
	Use:   "status <rollout-id>",
	Short: "Show the full state of a rollout",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromFlags(cmd)
		state, err := c.GetRollout(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Printf("Rollout:   %s\n", state.RolloutID)
		fmt.Printf("Service:   %s\n", state.Config.ServiceName)
		fmt.Printf("Strategy:  %s\n", state.Config.Strategy)
		fmt.Printf("Phase:     %s\n", state.CurrentPhase)
		fmt.Printf("Traffic:   %d%%\n", state.CurrentTrafficPercentage)
		fmt.Printf("Started:   %s\n", state.StartTime.Format(time.RFC3339))
		if !state.EndTime.IsZero() {
			fmt.Printf("Ended:     %s\n", state.EndTime.Format(time.RFC3339))
		}
		if state.RollbackReason != "" {
			fmt.Printf("Rollback:  %s\n", state.RollbackReason)
		}
		if len(state.DeploymentIDs) > 0 {
			fmt.Println("Deployments:")
			for label, id := range state.DeploymentIDs {
				fmt.Printf("  %s: %s\n", label, id)
			}
		}
		if len(state.Errors) > 0 {
			fmt.Println("Errors:")
			for _, e := range state.Errors {
				fmt.Printf("  - %s\n", e)
			}
		}
		if n := len(state.MetricsHistory); n > 0 {
			latest := state.MetricsHistory[n-1]
			fmt.Printf("Latest metrics (%s, %d snapshots):\n",
				latest.Timestamp.Format(time.RFC3339), n)
			for name, value := range latest.NewVersion {
				fmt.Printf("  %s: %.4f\n", name, value)
			}
		}
		return nil
	},
}

var rolloutAbortCmd = &cobra.Command{
	Use:   "abort <rollout-id>",
	Short: "Abort a running rollout and roll it back",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		c := clientFromFlags(cmd)
		if err := c.AbortRollout(cmd.Context(), args[0], reason); err != nil {
			return err
		}
		fmt.Printf("✓ Rollout aborted: %s\n", args[0])
		return nil
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Stream deployment and rollout events",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := clientFromFlags(cmd)
		return c.StreamEvents(cmd.Context(), func(event *events.Event) error {
			fmt.Printf("%s  %-28s %s %s\n",
				event.Timestamp.Format(time.RFC3339),
				event.Type,
				event.Service,
				event.Message,
			)
			return nil
		})
	},
}

func clientFromFlags(cmd *cobra.Command) *client.Client {
	serverAddr, _ := cmd.Flags().GetString("server")
	return client.New(serverAddr)
}

func init() {
	rolloutAbortCmd.Flags().String("reason", "manual abort", "Reason recorded on the rollback")

	rolloutCmd.AddCommand(rolloutListCmd)
	rolloutCmd.AddCommand(rolloutStatusCmd)
	rolloutCmd.AddCommand(rolloutAbortCmd)

	rootCmd.AddCommand(rolloutCmd)
	rootCmd.AddCommand(eventsCmd)
}
