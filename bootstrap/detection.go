package bootstrap

import (
	"fmt"
	"os"

	"seclog/config"
	"seclog/core"
	"seclog/detect"
	"seclog/ingest"

	"go.uber.org/zap"
)

// LoadRules loads the rule file. A bad file is never fatal.
func LoadRules(cfg *config.Config, sugar *zap.SugaredLogger) core.RuleSet {
	rules, _ := detect.LoadRules(cfg.Rules.File, sugar)
	return rules
}

// InitSources creates one event log per configured logfile.
func InitSources(cfg *config.Config, sugar *zap.SugaredLogger) ([]ingest.EventLog, error) {
	var sources []ingest.EventLog
	for _, name := range cfg.Source.Logfiles {
		logfile := core.ParseLogfile(name)
		switch cfg.Source.Type {
		case "memory":
			sources = append(sources, ingest.NewMemoryEventLog(logfile, 0))
		case "file":
			src := ingest.NewFileEventLog(cfg.Source.Dir, logfile)
			if _, err := os.Stat(src.Path()); err != nil {
				// reported by the poller each cycle until the file appears
				sugar.Warnw("Event log file not found yet", "logfile", logfile, "path", src.Path())
			}
			sources = append(sources, src)
		default:
			return nil, fmt.Errorf("unknown source type %q", cfg.Source.Type)
		}
	}
	sugar.Infow("Event sources configured", "type", cfg.Source.Type, "logfiles", cfg.Source.Logfiles)
	return sources, nil
}
