package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"           // postgres driver
	_ "github.com/mattn/go-sqlite3" // sqlite3 driver

	"github.com/blockberries/lockberry/ledger"
	"github.com/blockberries/lockberry/types"
)

// Errors
var (
	ErrUnsupportedDriver = errors.New("unsupported database driver")
	ErrCorruptSnapshot   = errors.New("corrupt snapshot")
)

// Snapshot is the persisted ledger state
type Snapshot struct {
	Ledger   ledger.State
	Shutdown bool
	LastSeq  uint64
}

// Store reads and writes snapshots
type Store struct {
	db *sqlx.DB
}

type accountRow struct {
	Account string `db:"account"`
	Entries []byte `db:"entries"`
}

type metaRow struct {
	Name  string `db:"name"`
	Value string `db:"value"`
}

// Open connects to the database and applies the schema
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	if _, err := schema(driver); err != nil {
		return nil, err
	}
	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", driver, err)
	}
	if driver == DriverSQLite {
		// One writer; avoids SQLITE_BUSY between pooled connections
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return New(db), nil
}

// New wraps an existing connection. The schema must already exist.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Save replaces the stored snapshot with snap
func (s *Store) Save(ctx context.Context, snap Snapshot) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin snapshot: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				err = errors.Join(err, rbErr)
			}
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM `+tableAccounts); err != nil {
		return fmt.Errorf("failed to clear accounts: %w", err)
	}

	insertAccount := `INSERT INTO ` + tableAccounts + ` (account, entries) VALUES (:account, :entries)`
	for _, acct := range snap.Ledger.Accounts {
		var blob []byte
		blob, err = types.Encode(acct.Entries)
		if err != nil {
			return fmt.Errorf("failed to encode %s: %w", acct.Account, err)
		}
		row := accountRow{Account: acct.Account.String(), Entries: blob}
		if _, err = tx.NamedExecContext(ctx, insertAccount, row); err != nil {
			return fmt.Errorf("failed to write %s: %w", acct.Account, err)
		}
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM `+tableMeta); err != nil {
		return fmt.Errorf("failed to clear meta: %w", err)
	}
	meta := []metaRow{
		{Name: metaLockedSupply, Value: strconv.FormatUint(uint64(snap.Ledger.LockedSupply), 10)},
		{Name: metaShutdown, Value: strconv.FormatBool(snap.Shutdown)},
		{Name: metaLastSeq, Value: strconv.FormatUint(snap.LastSeq, 10)},
	}
	insertMeta := `INSERT INTO ` + tableMeta + ` (name, value) VALUES (:name, :value)`
	for _, m := range meta {
		if _, err = tx.NamedExecContext(ctx, insertMeta, m); err != nil {
			return fmt.Errorf("failed to write %s: %w", m.Name, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}
	return nil
}

// Load returns the stored snapshot. found is false when nothing was saved yet.
func (s *Store) Load(ctx context.Context) (snap Snapshot, found bool, err error) {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: s.db.DriverName() == DriverPostgres})
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("failed to begin load: %w", err)
	}
	defer tx.Rollback()

	var meta []metaRow
	if err := tx.SelectContext(ctx, &meta, `SELECT name, value FROM `+tableMeta); err != nil {
		return Snapshot{}, false, fmt.Errorf("failed to read meta: %w", err)
	}
	if len(meta) == 0 {
		return Snapshot{}, false, nil
	}

	seen := make(map[string]bool, len(meta))
	for _, m := range meta {
		seen[m.Name] = true
		switch m.Name {
		case metaLockedSupply:
			v, err := strconv.ParseUint(m.Value, 10, 64)
			if err != nil {
				return Snapshot{}, false, fmt.Errorf("%w: %s: %v", ErrCorruptSnapshot, m.Name, err)
			}
			snap.Ledger.LockedSupply = types.Amount(v)
		case metaShutdown:
			v, err := strconv.ParseBool(m.Value)
			if err != nil {
				return Snapshot{}, false, fmt.Errorf("%w: %s: %v", ErrCorruptSnapshot, m.Name, err)
			}
			snap.Shutdown = v
		case metaLastSeq:
			v, err := strconv.ParseUint(m.Value, 10, 64)
			if err != nil {
				return Snapshot{}, false, fmt.Errorf("%w: %s: %v", ErrCorruptSnapshot, m.Name, err)
			}
			snap.LastSeq = v
		}
	}
	for _, name := range []string{metaLockedSupply, metaShutdown, metaLastSeq} {
		if !seen[name] {
			return Snapshot{}, false, fmt.Errorf("%w: missing %s", ErrCorruptSnapshot, name)
		}
	}

	var rows []accountRow
	if err := tx.SelectContext(ctx, &rows, `SELECT account, entries FROM `+tableAccounts+` ORDER BY account`); err != nil {
		return Snapshot{}, false, fmt.Errorf("failed to read accounts: %w", err)
	}

	snap.Ledger.Accounts = make([]ledger.AccountState, 0, len(rows))
	for _, row := range rows {
		var entries []types.LockEntry
		if err := types.Decode(row.Entries, &entries); err != nil {
			return Snapshot{}, false, fmt.Errorf("%w: account %s: %v", ErrCorruptSnapshot, row.Account, err)
		}
		snap.Ledger.Accounts = append(snap.Ledger.Accounts, ledger.AccountState{
			Account: types.AccountName(row.Account),
			Entries: entries,
		})
	}

	return snap, true, nil
}
