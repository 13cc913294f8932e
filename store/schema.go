package store

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Supported drivers
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

const (
	tableAccounts = "lock_accounts"
	tableMeta     = "ledger_meta"
)

// Meta keys
const (
	metaLockedSupply = "locked_supply"
	metaShutdown     = "shutdown"
	metaLastSeq      = "last_seq"
)

// schema returns the DDL for driver
func schema(driver string) ([]string, error) {
	var blob string
	switch driver {
	case DriverSQLite:
		blob = "BLOB"
	case DriverPostgres:
		blob = "BYTEA"
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
	return []string{
		`CREATE TABLE IF NOT EXISTS ` + tableAccounts + ` (
			account TEXT PRIMARY KEY,
			entries ` + blob + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS ` + tableMeta + ` (
			name TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}, nil
}

// Migrate creates the snapshot tables if they do not exist
func Migrate(ctx context.Context, db *sqlx.DB) error {
	stmts, err := schema(db.DriverName())
	if err != nil {
		return err
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
