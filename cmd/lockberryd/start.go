package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/algorand/go-deadlock"
	"github.com/gofrs/flock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/blockberries/lockberry/custody"
	"github.com/blockberries/lockberry/engine"
	"github.com/blockberries/lockberry/logging"
	"github.com/blockberries/lockberry/server"
	"github.com/blockberries/lockberry/store"
	"github.com/blockberries/lockberry/types"
	"github.com/blockberries/lockberry/wal"
)

var fundings []string

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the ledger daemon",
	Long: `Run the ledger daemon against an in-memory custody vault. ` +
		`Use --fund name=amount to credit vault balances at startup.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(configPath, envFile)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg, fundings)
	},
}

func init() {
	startCmd.Flags().StringArrayVar(&fundings, "fund", nil, "credit a vault balance, as name=amount (repeatable)")
}

// parseFunding parses a name=amount pair
func parseFunding(s string) (types.AccountName, types.Amount, error) {
	name, raw, ok := strings.Cut(s, "=")
	if !ok {
		return "", 0, fmt.Errorf("invalid funding %q, want name=amount", s)
	}
	account := types.NewAccountName(name)
	if err := account.ValidateBasic(); err != nil {
		return "", 0, fmt.Errorf("invalid funding %q: %w", s, err)
	}
	amount, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid funding %q: %w", s, err)
	}
	return account, types.Amount(amount), nil
}

// lockDataDir takes the exclusive daemon lock on dir
func lockDataDir(dir string) (*flock.Flock, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	lock := flock.New(filepath.Join(dir, "lockberryd.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("unexpected failure locking data dir: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("data dir %s is in use; is another lockberryd running?", dir)
	}
	return lock, nil
}

func run(ctx context.Context, cfg *Config, fundings []string) error {
	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer closer.Close()

	deadlock.Opts.Disable = !cfg.Ledger.DeadlockDetection
	if !deadlock.Opts.Disable {
		deadlock.Opts.LogBuf = logger.WriterLevel(logrus.ErrorLevel)
		logger.Info("deadlock detection enabled")
	}

	lock, err := lockDataDir(cfg.DataDir)
	if err != nil {
		return err
	}
	defer lock.Unlock()

	vault := custody.NewVault()
	defer vault.Close()
	for _, f := range fundings {
		account, amount, err := parseFunding(f)
		if err != nil {
			return err
		}
		if err := vault.Mint(account, amount); err != nil {
			return err
		}
	}

	ecfg, err := cfg.EngineConfig()
	if err != nil {
		return err
	}
	keys, err := cfg.KeyAuthorizer()
	if err != nil {
		return err
	}

	w, err := wal.NewFileWALWithOptions(ecfg.WALDir, ecfg.WALMaxSegmentSize, logger)
	if err != nil {
		return err
	}

	st, err := store.Open(ctx, cfg.Database.Driver, cfg.DSN())
	if err != nil {
		return err
	}
	defer st.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	e, err := engine.NewEngine(ecfg, vault, w, st, keys)
	if err != nil {
		return err
	}
	e.SetLogger(logger)
	e.SetMetrics(engine.NewMetrics(reg))
	if err := e.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}
	// The vault is in memory; custody holds what the recovered ledger locks
	if err := vault.Restore(e.TotalLockedSupply()); err != nil {
		_ = e.Stop(context.WithoutCancel(ctx))
		return err
	}

	srv, err := server.New(cfg.Server, e, server.WithLogger(logger), server.WithRegistry(reg))
	if err != nil {
		return err
	}
	if _, err := srv.Start(); err != nil {
		_ = e.Stop(context.WithoutCancel(ctx))
		return err
	}

	logger.WithFields(logrus.Fields{
		"version":  version,
		"data_dir": cfg.DataDir,
		"db":       cfg.Database.Driver,
		"supply":   e.TotalLockedSupply(),
	}).Info("lockberryd started")

	<-ctx.Done()
	logger.Info("shutting down")

	stopCtx := context.WithoutCancel(ctx)
	if err := srv.Stop(stopCtx); err != nil {
		logger.WithError(err).Warn("HTTP server did not stop cleanly")
	}
	return e.Stop(stopCtx)
}
