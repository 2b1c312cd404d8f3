package commands

import (
	"database/sql"

	"github.com/tracelight/kgraph/config"
	"github.com/tracelight/kgraph/db"
	"github.com/tracelight/kgraph/engine"
	"github.com/tracelight/kgraph/errors"
	"github.com/tracelight/kgraph/logger"
)

// openDatabase loads configuration, opens the database, and applies pending
// migrations.
func openDatabase() (*sql.DB, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, errors.Wrap(err, "load configuration")
	}

	database, err := db.Open(cfg.Database.Path, logger.Logger)
	if err != nil {
		return nil, nil, err
	}

	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, nil, err
	}
	return database, cfg, nil
}

// openEngine wires a full engine over the configured database.
func openEngine() (*engine.Engine, *sql.DB, error) {
	database, cfg, err := openDatabase()
	if err != nil {
		return nil, nil, err
	}

	eng, err := engine.New(database, cfg, logger.Logger)
	if err != nil {
		database.Close()
		return nil, nil, err
	}
	return eng, database, nil
}
