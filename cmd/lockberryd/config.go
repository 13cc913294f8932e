package main

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/blockberries/lockberry/admin"
	"github.com/blockberries/lockberry/engine"
	"github.com/blockberries/lockberry/epoch"
	"github.com/blockberries/lockberry/logging"
	"github.com/blockberries/lockberry/server"
	"github.com/blockberries/lockberry/store"
	"github.com/blockberries/lockberry/types"
)

// Config is the daemon configuration file
type Config struct {
	DataDir string `yaml:"data_dir" env:"LOCKBERRY_DATA_DIR"`

	Server   server.Config  `yaml:"server"`
	Log      logging.Config `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Ledger   LedgerConfig   `yaml:"ledger"`
}

// DatabaseConfig selects the snapshot store. An empty DSN with the sqlite
// driver means <data_dir>/ledger.db.
type DatabaseConfig struct {
	Driver string `yaml:"driver" env:"LOCKBERRY_DB_DRIVER"`
	DSN    string `yaml:"dsn" env:"LOCKBERRY_DB_DSN"`
}

// AdminKey registers an ed25519 public key (base64) for signed admin commands
type AdminKey struct {
	Name   string `yaml:"name"`
	PubKey string `yaml:"pub_key"`
}

// LedgerConfig holds the schedule and durability settings
type LedgerConfig struct {
	EpochLength       uint64 `yaml:"epoch_length" env:"LOCKBERRY_EPOCH_LENGTH"`
	LockEpochs        uint64 `yaml:"lock_epochs" env:"LOCKBERRY_LOCK_EPOCHS"`
	WALSync           bool   `yaml:"wal_sync" env:"LOCKBERRY_WAL_SYNC"`
	WALMaxSegmentSize int64  `yaml:"wal_max_segment_size" env:"LOCKBERRY_WAL_MAX_SEGMENT_SIZE"`
	SnapshotInterval  uint64 `yaml:"snapshot_interval" env:"LOCKBERRY_SNAPSHOT_INTERVAL"`

	// Lock-order checking on ledger mutexes; aborts the process on a suspected deadlock
	DeadlockDetection bool `yaml:"deadlock_detection" env:"LOCKBERRY_DEADLOCK_DETECTION"`

	TokenName     string `yaml:"token_name" env:"LOCKBERRY_TOKEN_NAME"`
	TokenSymbol   string `yaml:"token_symbol" env:"LOCKBERRY_TOKEN_SYMBOL"`
	TokenDecimals uint8  `yaml:"token_decimals" env:"LOCKBERRY_TOKEN_DECIMALS"`

	Admins      []string   `yaml:"admins" env:"LOCKBERRY_ADMINS"`
	AdminDomain string     `yaml:"admin_domain" env:"LOCKBERRY_ADMIN_DOMAIN"`
	AdminKeys   []AdminKey `yaml:"admin_keys"`
}

// DefaultConfig returns the daemon defaults
func DefaultConfig() *Config {
	ec := engine.DefaultConfig()
	return &Config{
		DataDir:  "data",
		Server:   server.DefaultConfig(),
		Log:      logging.DefaultConfig(),
		Database: DatabaseConfig{Driver: store.DriverSQLite},
		Ledger: LedgerConfig{
			EpochLength:       uint64(ec.EpochLength),
			LockEpochs:        epoch.DefaultLockEpochs,
			WALSync:           ec.WALSync,
			WALMaxSegmentSize: ec.WALMaxSegmentSize,
			SnapshotInterval:  ec.SnapshotInterval,
			TokenName:         ec.Token.Name,
			TokenSymbol:       ec.Token.Symbol,
			TokenDecimals:     ec.Token.Decimals,
			AdminDomain:       ec.AdminDomain,
		},
	}
}

// LoadConfig reads the defaults, then the YAML file at path (if any), then
// the environment. envFile, when set, is loaded into the environment first.
func LoadConfig(path, envFile string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if err := cfg.ValidateBasic(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidateBasic checks every section
func (c *Config) ValidateBasic() error {
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if err := c.Server.ValidateBasic(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Log.ValidateBasic(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	switch c.Database.Driver {
	case store.DriverSQLite:
	case store.DriverPostgres:
		if c.Database.DSN == "" {
			return errors.New("database: postgres requires a dsn")
		}
	default:
		return fmt.Errorf("database: %w: %q", store.ErrUnsupportedDriver, c.Database.Driver)
	}
	if _, err := c.EngineConfig(); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	if _, err := c.KeyAuthorizer(); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	return nil
}

// EngineConfig derives the engine configuration
func (c *Config) EngineConfig() (*engine.Config, error) {
	ec := engine.DefaultConfig()
	ec.EpochLength = types.Timestamp(c.Ledger.EpochLength)
	ec.LockDuration = types.Timestamp(c.Ledger.EpochLength * c.Ledger.LockEpochs)
	ec.WALDir = filepath.Join(c.DataDir, "wal")
	ec.WALSync = c.Ledger.WALSync
	ec.WALMaxSegmentSize = c.Ledger.WALMaxSegmentSize
	ec.SnapshotInterval = c.Ledger.SnapshotInterval
	ec.Token = engine.TokenConfig{
		Name:     c.Ledger.TokenName,
		Symbol:   c.Ledger.TokenSymbol,
		Decimals: c.Ledger.TokenDecimals,
	}
	ec.AdminDomain = c.Ledger.AdminDomain
	ec.Admins = make([]types.AccountName, 0, len(c.Ledger.Admins))
	for _, name := range c.Ledger.Admins {
		ec.Admins = append(ec.Admins, types.NewAccountName(name))
	}

	if err := ec.ValidateBasic(); err != nil {
		return nil, err
	}
	return ec, nil
}

// KeyAuthorizer builds the signed-command authorizer from admin_keys
func (c *Config) KeyAuthorizer() (*admin.KeyAuthorizer, error) {
	auth := admin.NewKeyAuthorizer(c.Ledger.AdminDomain)
	for _, k := range c.Ledger.AdminKeys {
		raw, err := base64.StdEncoding.DecodeString(k.PubKey)
		if err != nil {
			return nil, fmt.Errorf("admin key %q: %w", k.Name, err)
		}
		if err := auth.Register(types.NewAccountName(k.Name), ed25519.PublicKey(raw)); err != nil {
			return nil, fmt.Errorf("admin key %q: %w", k.Name, err)
		}
	}
	return auth, nil
}

// DSN returns the database connection string
func (c *Config) DSN() string {
	if c.Database.DSN == "" && c.Database.Driver == store.DriverSQLite {
		return filepath.Join(c.DataDir, "ledger.db")
	}
	return c.Database.DSN
}
