package cmd

import (
	"fmt"

	"seclog/core"

	"github.com/spf13/cobra"
)

// newAlertsCmd creates the 'alerts' command group
func newAlertsCmd() *cobra.Command {
	alertsCmd := &cobra.Command{
		Use:   "alerts",
		Short: "Evaluate detection rules",
	}
	alertsCmd.AddCommand(newAlertsEvaluateCmd())
	return alertsCmd
}

func newAlertsEvaluateCmd() *cobra.Command {
	var promote bool

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Run one evaluation pass over stored records",
		Long: `Run the threshold and correlation engines once against the stored
records and print the alerts they raise. With --promote every alert is
turned into an open incident.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext()
			defer cancel()

			app, cleanup, err := initApp()
			if err != nil {
				return err
			}
			defer cleanup()

			alerts, err := app.Service.Evaluate(ctx)
			if err != nil {
				return fmt.Errorf("failed to evaluate rules: %w", err)
			}

			var incidents []core.Incident
			if promote {
				for _, alert := range alerts {
					inc, err := app.Service.PromoteAlert(ctx, alert)
					if err != nil {
						return fmt.Errorf("failed to promote alert %q: %w", alert.RuleName, err)
					}
					incidents = append(incidents, inc)
				}
			}

			if outputJSON {
				return outputAsJSON(map[string]interface{}{
					"alerts":    alerts,
					"incidents": incidents,
				})
			}

			renderAlertsTable(alerts)
			for _, inc := range incidents {
				successColor.Printf("✓ Incident #%d opened for %s\n", inc.ID, inc.RuleName)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&promote, "promote", false, "Open an incident for every alert raised")
	return cmd
}
