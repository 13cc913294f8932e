package engine

import (
	"fmt"

	"github.com/blockberries/lockberry/epoch"
	"github.com/blockberries/lockberry/events"
	"github.com/blockberries/lockberry/types"
)

// TokenConfig describes the locked token
type TokenConfig struct {
	Name     string `yaml:"name" json:"name"`
	Symbol   string `yaml:"symbol" json:"symbol"`
	Decimals uint8  `yaml:"decimals" json:"decimals"`
}

// Config holds configuration for the ledger engine
type Config struct {
	// Schedule
	EpochLength  types.Timestamp
	LockDuration types.Timestamp

	// WAL configuration
	WALDir            string
	WALSync           bool // Force sync on every write
	WALMaxSegmentSize int64

	// Operations between snapshots (0 disables periodic snapshots)
	SnapshotInterval uint64

	Token TokenConfig

	// Callers allowed to shut the ledger down
	Admins []types.AccountName

	// Domain separating signed admin commands between deployments
	AdminDomain string

	Events events.Config
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		EpochLength:       epoch.DefaultEpochLength,
		LockDuration:      epoch.DefaultEpochLength * epoch.DefaultLockEpochs,
		WALDir:            "data/wal",
		WALSync:           true,
		WALMaxSegmentSize: 64 * 1024 * 1024, // 64MB
		SnapshotInterval:  1000,
		Token: TokenConfig{
			Name:     "Revenue-Locked BTRFLY",
			Symbol:   "rlBTRFLY",
			Decimals: 9,
		},
		AdminDomain: "lockberry",
		Events:      events.DefaultConfig(),
	}
}

// Clock returns the epoch clock described by the config
func (cfg *Config) Clock() (epoch.Clock, error) {
	return epoch.NewClock(cfg.EpochLength, cfg.LockDuration)
}

// ValidateBasic performs basic validation of the config
func (cfg *Config) ValidateBasic() error {
	if _, err := cfg.Clock(); err != nil {
		return err
	}
	if cfg.WALMaxSegmentSize < 0 {
		return fmt.Errorf("negative WAL segment size %d", cfg.WALMaxSegmentSize)
	}
	if cfg.Token.Name == "" || cfg.Token.Symbol == "" {
		return fmt.Errorf("token name and symbol are required")
	}
	if cfg.Token.Decimals > 36 {
		return fmt.Errorf("token decimals %d out of range", cfg.Token.Decimals)
	}
	for _, a := range cfg.Admins {
		if err := a.ValidateBasic(); err != nil {
			return fmt.Errorf("admin %q: %w", a, err)
		}
	}
	return nil
}
