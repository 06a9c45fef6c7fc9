package cmd

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"time"

	"seclog/bootstrap"
	"seclog/storage"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
)

// newRetentionCmd creates the 'retention' command group
func newRetentionCmd() *cobra.Command {
	retentionCmd := &cobra.Command{
		Use:   "retention",
		Short: "Apply the retention policy",
	}
	retentionCmd.AddCommand(newRetentionRunCmd())
	retentionCmd.AddCommand(newRetentionArchivesCmd())
	return retentionCmd
}

func newRetentionRunCmd() *cobra.Command {
	var (
		maxAgeDays int
		mode       string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Archive or delete expired records now",
		Long: `Apply the retention policy once. Flags override the configured
policy for this run only. In archive mode expired rows are written to a
compressed CSV artifact before they are deleted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext()
			defer cancel()

			app, cleanup, err := initApp()
			if err != nil {
				return err
			}
			defer cleanup()

			policy, err := bootstrap.RetentionPolicyFromConfig(app.Config)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("max-age-days") {
				policy.MaxAgeDays = maxAgeDays
			}
			if cmd.Flags().Changed("mode") {
				if policy.Mode, err = storage.ParseRetentionMode(mode); err != nil {
					return err
				}
			}
			if policy.MaxAgeDays <= 0 {
				warningColor.Println("Retention is disabled (max age 0 days)")
				return nil
			}

			var s *spinner.Spinner
			if !outputJSON && !quiet {
				s = spinner.New(spinner.CharSets[14], 100*time.Millisecond)
				s.Suffix = " Applying retention..."
				s.Start()
			}

			res, err := app.Store.RunRetention(ctx, policy)

			if s != nil {
				s.Stop()
			}
			if err != nil {
				return fmt.Errorf("retention failed: %w", err)
			}

			if outputJSON {
				return outputAsJSON(res)
			}
			renderRetentionResult(res)
			return nil
		},
	}

	cmd.Flags().IntVar(&maxAgeDays, "max-age-days", 0, "Override the configured maximum age")
	cmd.Flags().StringVar(&mode, "mode", "", "Override the configured mode (archive or delete)")
	return cmd
}

func newRetentionArchivesCmd() *cobra.Command {
	var (
		show   string
		output string
	)

	cmd := &cobra.Command{
		Use:   "archives",
		Short: "List archive artifacts written by retention",
		Long: `List the archive manifest. With --show, decode one archive by ID and
print its rows as CSV (or JSON objects with --json).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext()
			defer cancel()

			app, cleanup, err := initApp()
			if err != nil {
				return err
			}
			defer cleanup()

			archives, err := app.Store.ListArchives(ctx)
			if err != nil {
				return fmt.Errorf("failed to list archives: %w", err)
			}

			if show != "" {
				return showArchive(archives, show, output)
			}
			if outputJSON {
				return outputAsJSON(archives)
			}
			renderArchivesTable(archives)
			return nil
		},
	}

	cmd.Flags().StringVar(&show, "show", "", "Decode the archive with this ID")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Write --show rows to a file instead of stdout")
	return cmd
}

// showArchive decodes the archive with the given ID and writes its rows.
func showArchive(archives []storage.Archive, id, output string) error {
	var path string
	for _, a := range archives {
		if a.ID == id {
			path = a.Path
			break
		}
	}
	if path == "" {
		return fmt.Errorf("archive %q not found", id)
	}

	rows, err := storage.ReadArchive(path)
	if err != nil {
		return fmt.Errorf("failed to read archive %s: %w", path, err)
	}

	if outputJSON {
		objects := make([]map[string]string, 0, len(rows))
		for _, row := range rows {
			obj := make(map[string]string, len(storage.ArchiveColumns))
			for i, col := range storage.ArchiveColumns {
				if i < len(row) {
					obj[col] = row[i]
				}
			}
			objects = append(objects, obj)
		}
		return outputAsJSON(objects)
	}

	var w io.Writer = os.Stdout
	if output != "" {
		f, err := os.Create(output)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	cw := csv.NewWriter(w)
	if err := cw.Write(storage.ArchiveColumns); err != nil {
		return err
	}
	if err := cw.WriteAll(rows); err != nil {
		return fmt.Errorf("failed to write archive rows: %w", err)
	}
	if output != "" && !quiet {
		successColor.Printf("✓ Wrote %d archived rows to %s\n", len(rows), output)
	}
	return nil
}
