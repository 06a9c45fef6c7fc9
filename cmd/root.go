// Package cmd provides the seclog command-line interface.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"seclog/bootstrap"
	"seclog/config"
	"seclog/core"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// CLI output formatters
var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow)
	infoColor    = color.New(color.FgCyan)
	headerColor  = color.New(color.FgBlue, color.Bold)
)

// Global flags
var (
	outputJSON bool
	noColor    bool
	quiet      bool
	verbose    bool
)

// defaultTimeout bounds one-shot CLI operations
const defaultTimeout = 5 * time.Minute

// RunServer is the root command's action: the long-running monitor.
var RunServer func() error

// NewRootCmd creates the seclog command with all subcommands.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "seclog",
		Short: "Security event log monitor",
		Long: `seclog polls event logs, stores normalized records in SQLite and
evaluates threshold and correlation rules against them.

Run without a subcommand to start the monitor and its HTTP API.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if RunServer == nil {
				return cmd.Help()
			}
			return RunServer()
		},
	}

	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress non-essential output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show application logs")

	rootCmd.AddCommand(newLogsCmd())
	rootCmd.AddCommand(newExportCmd())
	rootCmd.AddCommand(newSummaryCmd())
	rootCmd.AddCommand(newAlertsCmd())
	rootCmd.AddCommand(newIncidentsCmd())
	rootCmd.AddCommand(newRetentionCmd())
	rootCmd.AddCommand(newRulesCmd())

	return rootCmd
}

// initApp builds the application without starting background work. The
// cleanup function closes the database.
func initApp() (*bootstrap.App, func(), error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	// CLI output stays readable unless logs are requested
	level := "warn"
	if verbose {
		level = cfg.Log.Level
	}
	logger, _, err := bootstrap.InitLogger(level)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	app, err := bootstrap.NewAppWithConfig(cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	return app, app.Shutdown, nil
}

// filterFlags are the query flags shared by logs, export and summary.
type filterFlags struct {
	logfiles []string
	start    string
	end      string
	keyword  string
	limit    int
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringSliceVarP(&f.logfiles, "logfile", "l", nil, "Restrict to logfile (repeatable or comma-separated)")
	cmd.Flags().StringVar(&f.start, "start", "", "Start date (YYYY-MM-DD), inclusive")
	cmd.Flags().StringVar(&f.end, "end", "", "End date (YYYY-MM-DD), whole day included")
	cmd.Flags().StringVarP(&f.keyword, "keyword", "k", "", "Case-insensitive message substring")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "Maximum records returned (0 = unlimited)")
}

func (f *filterFlags) filter() (core.QueryFilter, error) {
	var filter core.QueryFilter
	for _, name := range f.logfiles {
		if name = strings.TrimSpace(name); name != "" {
			filter.Logfiles = append(filter.Logfiles, core.ParseLogfile(name))
		}
	}

	start, err := core.ParseDate(f.start)
	if err != nil {
		return filter, fmt.Errorf("invalid --start %q: expected YYYY-MM-DD", f.start)
	}
	end, err := core.ParseDate(f.end)
	if err != nil {
		return filter, fmt.Errorf("invalid --end %q: expected YYYY-MM-DD", f.end)
	}
	if start != nil && end != nil && end.Before(*start) {
		return filter, fmt.Errorf("--end is before --start")
	}
	if f.limit < 0 {
		return filter, fmt.Errorf("--limit cannot be negative")
	}

	filter.StartDate = start
	filter.EndDate = end
	filter.Keyword = f.keyword
	filter.Limit = f.limit
	return filter, nil
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), defaultTimeout)
}

// outputAsJSON outputs data as JSON to stdout.
func outputAsJSON(data interface{}) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(data)
}
