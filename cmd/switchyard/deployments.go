package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/opsline/switchyard/pkg/types"
)

var deploymentsCmd = &cobra.Command{
	Use:   "deployments",
	Short: "List deployment history",
	RunE: func(cmd *cobra.Command, args []string) error {
		service, _ := cmd.Flags().GetString("service")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		c := clientFromFlags(cmd)
		results, err := c.ListDeployments(cmd.Context(), types.DeploymentFilter{
			ServiceName: service,
			Status:      types.DeploymentStatus(status),
			Limit:       limit,
		})
		if err != nil {
			return err
		}
		if len(results) == 0 {
			fmt.Println("No deployments.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "DEPLOYMENT ID\tSERVICE\tSTATUS\tSTARTED\tDURATION")
		for _, r := range results {
			duration := "-"
			if !r.EndTime.IsZero() {
				duration = r.EndTime.Sub(r.StartTime).Round(time.Millisecond).String()
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				r.DeploymentID,
				r.ServiceName,
				r.Status,
				r.StartTime.Format(time.RFC3339),
				duration,
			)
		}
		return w.Flush()
	},
}

var rollbackCmd = &cobra.Command{
	Use:   "rollback <deployment-id>",
	Short: "Roll a deployment back to the previous version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reason, _ := cmd.Flags().GetString("reason")
		c := clientFromFlags(cmd)

		ok, err := c.RollbackDeployment(cmd.Context(), args[0], reason)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("no previous succeeded deployment to restore")
		}
		fmt.Printf("✓ Deployment rolled back: %s\n", args[0])
		return nil
	},
}

func init() {
	deploymentsCmd.Flags().String("service", "", "Filter by service name")
	deploymentsCmd.Flags().String("status", "", "Filter by status")
	deploymentsCmd.Flags().Int("limit", 50, "Maximum entries to show")

	rollbackCmd.Flags().String("reason", "manual rollback", "Reason recorded on the rollback")

	rootCmd.AddCommand(deploymentsCmd)
	rootCmd.AddCommand(rollbackCmd)
}
