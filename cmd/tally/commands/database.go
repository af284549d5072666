package commands

import (
	"database/sql"

	"github.com/spf13/cobra"

	"github.com/teranos/tally/am"
	"github.com/teranos/tally/db"
	"github.com/teranos/tally/errors"
	"github.com/teranos/tally/logger"
)

// loadConfig honours --config and applies the log level. -v overrides
// log.level from the file.
func loadConfig(cmd *cobra.Command) (*am.Config, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		am.SetConfigFile(path)
	}
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load configuration")
	}

	if cfg.Log.JSON && !logger.JSONOutput {
		if err := logger.Initialize(true); err != nil {
			return nil, err
		}
	}

	level := cfg.Log.Level
	if verbosity, _ := cmd.Flags().GetCount("verbose"); verbosity > 0 {
		level = logger.VerbosityToLevel(verbosity).String()
	}
	if level != "" {
		if err := logger.SetLevel(level); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// openDatabase opens and migrates the configured database
func openDatabase(cfg *am.Config) (*sql.DB, error) {
	dbPath := cfg.Database.Path
	if dbPath == "" {
		dbPath = "tally.db"
	}

	database, err := db.Open(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}

	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, errors.Wrapf(err, "failed to run migrations on %s", dbPath)
	}

	return database, nil
}
