package cmd

import (
	"fmt"
	"os"
	"time"

	"seclog/core"
	"seclog/service"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

// newLogsCmd creates the 'logs' subcommand
func newLogsCmd() *cobra.Command {
	var (
		flags filterFlags
		sync  bool
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Query stored log records",
		Long: `Query stored log records, newest first.

With --sync the configured event logs are read first and new records are
stored before the query runs. A source that cannot be read is reported and
does not stop the others.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := flags.filter()
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

			if !sync {
				qr, err := app.Service.Query(ctx, filter)
				if err != nil {
					return fmt.Errorf("failed to query logs: %w", err)
				}
				if outputJSON {
					return outputAsJSON(qr)
				}
				renderRecordsTable(qr.Records, qr.SourceCounts)
				return nil
			}

			var s *spinner.Spinner
			if !outputJSON && !quiet {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				s.Suffix = " Reading event logs..."
				s.Start()
			}

			res, err := app.Service.SyncAndQuery(ctx, filter)

			if s != nil {
				s.Stop()
			}
			if err != nil {
				return fmt.Errorf("failed to sync logs: %w", err)
			}

			if outputJSON {
				return outputAsJSON(syncOutput{SyncResult: res, Errors: res.ErrorMessages()})
			}
			renderSyncResult(res)
			renderRecordsTable(res.Records, res.SourceCounts)
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().BoolVar(&sync, "sync", false, "Read the event logs before querying")

	return cmd
}

// syncOutput adds the user-facing source errors to the JSON rendering.
type syncOutput struct {
	service.SyncResult
	Errors []string `json:"errors"`
}

// newExportCmd creates the 'export' subcommand
func newExportCmd() *cobra.Command {
	var (
		flags  filterFlags
		output string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export log records as CSV",
		Long:  "Write the records matching the filters as CSV, to a file or stdout.",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := flags.filter()
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

			if output == "" || output == "-" {
				_, err := app.Service.Export(ctx, filter, os.Stdout)
				return err
			}

			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("failed to create output file: %w", err)
			}
			n, err := app.Service.Export(ctx, filter, f)
			if closeErr := f.Close(); err == nil {
				err = closeErr
			}
			if err != nil {
				return fmt.Errorf("failed to export logs: %w", err)
			}

			if !quiet {
				successColor.Printf("✓ Exported %d records to %s\n", n, output)
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")

	return cmd
}

// newSummaryCmd creates the 'summary' subcommand
func newSummaryCmd() *cobra.Command {
	var flags filterFlags

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Summarize stored log records",
		Long:  "Rank matching records by event ID, source, event type and severity, with an hourly histogram.",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := flags.filter()
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

			qr, err := app.Service.Query(ctx, filter)
			if err != nil {
				return fmt.Errorf("failed to query logs: %w", err)
			}
			summary := core.Summarize(qr.Records)

			if outputJSON {
				return outputAsJSON(summary)
			}
			renderSummary(summary)
			return nil
		},
	}

	flags.register(cmd)
	return cmd
}
