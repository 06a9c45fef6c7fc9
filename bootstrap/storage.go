package bootstrap

import (
	"fmt"
	"os"

	"seclog/config"
	"seclog/storage"

	"go.uber.org/zap"
)

// InitSQLite opens the database, printing a remediation hint on failure.
func InitSQLite(dbPath string, sugar *zap.SugaredLogger) (*storage.SQLite, error) {
	sqlite, err := storage.NewSQLite(dbPath, sugar)
	if err != nil {
		fmt.Fprintf(os.Stderr, "\n========================================\n")
		fmt.Fprintf(os.Stderr, "FATAL: SQLite Initialization Failed\n")
		fmt.Fprintf(os.Stderr, "========================================\n")
		fmt.Fprintf(os.Stderr, "%s\n", ClassifySQLiteError(err, dbPath))
		fmt.Fprintf(os.Stderr, "========================================\n\n")
		return nil, fmt.Errorf("failed to initialize SQLite: %w", err)
	}
	sugar.Infow("SQLite initialized", "path", dbPath)
	return sqlite, nil
}

// RetentionPolicyFromConfig maps the retention settings onto a policy.
func RetentionPolicyFromConfig(cfg *config.Config) (storage.RetentionPolicy, error) {
	mode, err := storage.ParseRetentionMode(cfg.Retention.Mode)
	if err != nil {
		return storage.RetentionPolicy{}, err
	}
	return storage.RetentionPolicy{
		MaxAgeDays: cfg.Retention.MaxAgeDays,
		Mode:       mode,
		ArchiveDir: cfg.DataPaths.ArchiveDir,
	}, nil
}
