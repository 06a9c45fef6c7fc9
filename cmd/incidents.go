package cmd

import (
	"fmt"
	"strconv"

	"seclog/core"

	"github.com/spf13/cobra"
)

// newIncidentsCmd creates the 'incidents' command group
func newIncidentsCmd() *cobra.Command {
	incidentsCmd := &cobra.Command{
		Use:   "incidents",
		Short: "Track incidents",
	}
	incidentsCmd.AddCommand(newIncidentsListCmd())
	incidentsCmd.AddCommand(newIncidentsSetStatusCmd())
	return incidentsCmd
}

func newIncidentsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List incidents, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext()
			defer cancel()

			app, cleanup, err := initApp()
			if err != nil {
				return err
			}
			defer cleanup()

			incidents, err := app.Service.ListIncidents(ctx)
			if err != nil {
				return fmt.Errorf("failed to list incidents: %w", err)
			}

			if outputJSON {
				return outputAsJSON(incidents)
			}
			renderIncidentsTable(incidents)
			return nil
		},
	}
}

func newIncidentsSetStatusCmd() *cobra.Command {
	var notes string

	cmd := &cobra.Command{
		Use:   "set-status <id> <Open|Acknowledged|Closed>",
		Short: "Change an incident's status",
		Long: `Change an incident's status. Incidents move forward only:
Open to Acknowledged or Closed, Acknowledged to Closed. --notes replaces
the stored notes.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, status, err := parseStatusArgs(args)
			if err != nil {
				return err
			}

			ctx, cancel := commandContext()
			defer cancel()

			app, cleanup, err := initApp()
			if err != nil {
				return err
			}
			defer cleanup()

			var notesPtr *string
			if cmd.Flags().Changed("notes") {
				notesPtr = &notes
			}

			inc, err := app.Service.UpdateIncidentStatus(ctx, id, status, notesPtr)
			if err != nil {
				return fmt.Errorf("failed to update incident %d: %w", id, err)
			}

			if outputJSON {
				return outputAsJSON(inc)
			}
			successColor.Printf("✓ Incident #%d is now %s\n", inc.ID, inc.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&notes, "notes", "", "Replace the incident notes")
	return cmd
}

func parseStatusArgs(args []string) (int64, core.IncidentStatus, error) {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, "", fmt.Errorf("invalid incident id %q", args[0])
	}
	status, ok := core.ParseIncidentStatus(args[1])
	if !ok {
		return 0, "", fmt.Errorf("invalid status %q: must be Open, Acknowledged or Closed", args[1])
	}
	return id, status, nil
}
