package cmd

import (
	"fmt"

	"seclog/config"
	"seclog/detect"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newRulesCmd creates the 'rules' command group
func newRulesCmd() *cobra.Command {
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect detection rules",
	}
	rulesCmd.AddCommand(newRulesCheckCmd())
	return rulesCmd
}

func newRulesCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [file]",
		Short: "Validate a rule file",
		Long: `Load a JSON or YAML rule file and report every rule that would be
dropped. Without an argument the configured rule file is checked. Exits
non-zero when any rule is dropped.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file := ""
			if len(args) == 1 {
				file = args[0]
			} else {
				cfg, err := config.LoadConfig()
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
				file = cfg.Rules.File
			}

			rules, issues := detect.LoadRules(file, zap.NewNop().Sugar())

			if outputJSON {
				if err := outputAsJSON(map[string]interface{}{
					"file":   file,
					"rules":  rules,
					"issues": issues,
				}); err != nil {
					return err
				}
			} else {
				renderRuleCheck(file, rules, issues)
			}

			if len(issues) > 0 {
				return fmt.Errorf("%d problem(s) found in %s", len(issues), file)
			}
			return nil
		},
	}
}
