package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/algorand/go-deadlock"
	"github.com/sirupsen/logrus"

	"github.com/blockberries/lockberry/admin"
	"github.com/blockberries/lockberry/custody"
	"github.com/blockberries/lockberry/epoch"
	"github.com/blockberries/lockberry/events"
	"github.com/blockberries/lockberry/expiry"
	"github.com/blockberries/lockberry/ledger"
	"github.com/blockberries/lockberry/logging"
	"github.com/blockberries/lockberry/shutdown"
	"github.com/blockberries/lockberry/store"
	"github.com/blockberries/lockberry/types"
	"github.com/blockberries/lockberry/wal"
)

// SnapshotStore persists ledger snapshots. *store.Store implements it.
type SnapshotStore interface {
	Save(ctx context.Context, snap store.Snapshot) error
	Load(ctx context.Context) (store.Snapshot, bool, error)
}

// Info describes the ledger for clients
type Info struct {
	Token        TokenConfig     `json:"token"`
	EpochLength  types.Timestamp `json:"epoch_length"`
	LockDuration types.Timestamp `json:"lock_duration"`
	LockedSupply types.Amount    `json:"locked_supply"`
	Shutdown     bool            `json:"shutdown"`
}

// Engine serializes ledger operations and makes them durable.
//
// Every mutation holds the gate shared and the account's ledger Txn for its
// whole duration, including custody calls and the WAL append. Shutdown and
// snapshots hold the gate exclusively, so they observe no operation in flight.
type Engine struct {
	mu deadlock.RWMutex

	// Configuration
	config *Config
	clock  epoch.Clock

	// Components
	ledger   *ledger.Ledger
	shutdown *shutdown.Controller
	expiry   *expiry.Processor
	custody  custody.Custody
	wal      wal.WAL
	store    SnapshotStore
	journal  *events.Journal

	gate deadlock.RWMutex

	metrics *Metrics
	logger  logrus.FieldLogger

	opsSinceSnapshot atomic.Uint64

	// State
	started atomic.Bool
}

// NewEngine creates a new ledger engine. w and snapshots may be nil to run
// without durability. auth is consulted in addition to config.Admins.
func NewEngine(
	config *Config,
	c custody.Custody,
	w wal.WAL,
	snapshots SnapshotStore,
	auth admin.Authorizer,
) (*Engine, error) {
	if err := config.ValidateBasic(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	clock, _ := config.Clock()

	if w == nil {
		w = &wal.NopWAL{}
	}

	authorizers := admin.Chain{admin.NewStaticAuthorizer(config.Admins...)}
	if auth != nil {
		authorizers = append(authorizers, auth)
	}

	e := &Engine{
		config:   config,
		clock:    clock,
		shutdown: shutdown.New(authorizers),
		custody:  c,
		wal:      w,
		store:    snapshots,
		journal:  events.NewJournal(config.Events),
		metrics:  NewMetrics(nil),
		logger:   logging.Discard(),
	}
	e.ledger = ledger.New(clock, e.shutdown)
	e.expiry = e.newProcessor()
	return e, nil
}

func (e *Engine) newProcessor() *expiry.Processor {
	return expiry.New(e.ledger, e.custody,
		expiry.WithRecorder(walRecorder{e}),
		expiry.WithEmitter(e.journal),
		expiry.WithLogger(e.logger),
	)
}

// SetLogger sets the logger. Call before Start.
func (e *Engine) SetLogger(logger logrus.FieldLogger) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.logger = logger.WithField("module", "engine")
	e.expiry = e.newProcessor()
}

// SetMetrics sets the metrics collectors. Call before Start.
func (e *Engine) SetMetrics(m *Metrics) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics = m
}

// Start recovers state from the latest snapshot and the WAL
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started.Load() {
		return ErrAlreadyStarted
	}

	// Start WAL
	if err := e.wal.Start(); err != nil {
		return fmt.Errorf("failed to start WAL: %w", err)
	}

	result, err := e.recover(ctx)
	if err != nil {
		return errors.Join(err, e.wal.Stop())
	}

	e.logger.WithFields(logrus.Fields{
		"snapshot_seq": result.SnapshotSeq,
		"replayed":     result.RecordsReplayed,
		"last_seq":     e.wal.LastSeq(),
		"accounts":     e.ledger.Size(),
		"supply":       e.ledger.TotalLockedSupply(),
		"shutdown":     e.shutdown.IsShutdown(),
	}).Info("ledger recovered")

	e.observeLedger()
	if e.shutdown.IsShutdown() {
		e.metrics.observeShutdown()
	}

	e.started.Store(true)
	return nil
}

// Stop writes a final snapshot and stops the WAL
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.started.Load() {
		return ErrNotStarted
	}

	e.gate.Lock()
	e.started.Store(false)
	snapErr := e.snapshotLocked(ctx)
	e.gate.Unlock()

	e.journal.Close()

	// Stop WAL
	if err := e.wal.Stop(); err != nil {
		return errors.Join(snapErr, fmt.Errorf("failed to stop WAL: %w", err))
	}
	return snapErr
}

// IsRunning reports whether the engine accepts operations
func (e *Engine) IsRunning() bool {
	return e.started.Load()
}

// Deposit locks amount for account, pulling it from payer. An empty payer
// means the account pays for itself.
func (e *Engine) Deposit(ctx context.Context, payer, account types.AccountName, amount types.Amount, now types.Timestamp) (ledger.DepositReceipt, error) {
	r, err := e.deposit(ctx, payer, account, amount, now, false)
	e.finish(ctx, "deposit", err)
	return r, err
}

// Relock locks externally sourced value (for example claimed rewards) for
// account. It behaves like Deposit and also emits a Relocked event.
func (e *Engine) Relock(ctx context.Context, payer, account types.AccountName, amount types.Amount, now types.Timestamp) (ledger.DepositReceipt, error) {
	r, err := e.deposit(ctx, payer, account, amount, now, true)
	e.finish(ctx, "relock", err)
	return r, err
}

func (e *Engine) deposit(ctx context.Context, payer, account types.AccountName, amount types.Amount, now types.Timestamp, external bool) (ledger.DepositReceipt, error) {
	if !e.started.Load() {
		return ledger.DepositReceipt{}, ErrNotStarted
	}
	if err := account.ValidateBasic(); err != nil {
		return ledger.DepositReceipt{}, err
	}
	if payer.IsEmpty() {
		payer = account
	} else if err := payer.ValidateBasic(); err != nil {
		return ledger.DepositReceipt{}, err
	}

	e.gate.RLock()
	defer e.gate.RUnlock()

	txn := e.ledger.BeginDeposit(account)
	defer txn.Release()

	if err := txn.CheckDeposit(amount, now); err != nil {
		return ledger.DepositReceipt{}, err
	}

	if err := e.custody.Pull(ctx, payer, amount); err != nil {
		if !errors.Is(err, types.ErrTransferFailed) {
			err = custody.TransferError("pull", payer, amount, err)
		}
		return ledger.DepositReceipt{}, err
	}

	r, err := txn.Deposit(amount, now)
	if err != nil {
		return ledger.DepositReceipt{}, e.refund(ctx, payer, amount, err)
	}

	rec := wal.NewDepositRecord(payer, account, amount, now, external)
	if err := e.writeWAL(rec); err != nil {
		txn.UndoDeposit(r)
		return ledger.DepositReceipt{}, e.refund(ctx, payer, amount, err)
	}

	e.logger.WithFields(logrus.Fields{
		"seq":        rec.Seq,
		"payer":      payer,
		"account":    account,
		"amount":     amount,
		"matures_at": r.MaturesAt,
		"merged":     r.Merged,
		"relock":     external,
	}).Info("deposited")

	e.journal.Emit(types.DepositedEvent(account, amount, r.MaturesAt, now))
	if external {
		e.journal.Emit(types.RelockedEvent(account, amount, now))
	}
	e.metrics.observeDeposit(amount)
	return r, nil
}

// refund returns a pulled amount after the deposit could not be committed
func (e *Engine) refund(ctx context.Context, payer types.AccountName, amount types.Amount, cause error) error {
	if err := e.custody.Push(context.WithoutCancel(ctx), payer, amount); err != nil {
		e.logger.WithFields(logrus.Fields{
			"payer":  payer,
			"amount": amount,
		}).WithError(err).Error("failed to refund aborted deposit")
		return errors.Join(cause, fmt.Errorf("failed to refund %s to %s: %w", amount, payer, err))
	}
	return cause
}

// Settle settles account's matured buckets at now. Without relock the value
// is pushed to recipient, which defaults to account.
func (e *Engine) Settle(ctx context.Context, account types.AccountName, relock bool, recipient types.AccountName, now types.Timestamp) (ledger.Settlement, error) {
	s, err := e.settle(ctx, func() (ledger.Settlement, error) {
		return e.expiry.Settle(ctx, account, relock, recipient, now)
	})
	e.finish(ctx, "settle", err)
	return s, err
}

// ForcedWithdraw pays out every bucket of account after shutdown
func (e *Engine) ForcedWithdraw(ctx context.Context, account, recipient types.AccountName, now types.Timestamp) (ledger.Settlement, error) {
	s, err := e.settle(ctx, func() (ledger.Settlement, error) {
		return e.expiry.ForcedWithdraw(ctx, account, recipient, now)
	})
	e.finish(ctx, "forced_withdraw", err)
	return s, err
}

func (e *Engine) settle(_ context.Context, fn func() (ledger.Settlement, error)) (ledger.Settlement, error) {
	if !e.started.Load() {
		return ledger.Settlement{}, ErrNotStarted
	}

	e.gate.RLock()
	defer e.gate.RUnlock()

	s, err := fn()
	if err != nil {
		return ledger.Settlement{}, err
	}
	e.metrics.observeSettle(s.Amount, s.Relock)
	return s, nil
}

// Shutdown raises the one-way shutdown flag on behalf of req
func (e *Engine) Shutdown(ctx context.Context, req admin.Request, now types.Timestamp) error {
	err := e.shutdownLedger(req, now)
	e.finish(ctx, "shutdown", err)
	return err
}

func (e *Engine) shutdownLedger(req admin.Request, now types.Timestamp) error {
	if !e.started.Load() {
		return ErrNotStarted
	}

	e.gate.Lock()
	defer e.gate.Unlock()

	rec := wal.NewShutdownRecord(req.Caller, now)
	err := e.shutdown.ShutdownWith(req, func() error {
		return e.writeWAL(rec)
	})
	if err != nil {
		return err
	}

	e.logger.WithFields(logrus.Fields{
		"seq":    rec.Seq,
		"caller": req.Caller,
		"supply": e.ledger.TotalLockedSupply(),
	}).Warn("ledger shut down")

	e.journal.Emit(types.ShutdownEvent(req.Caller, now))
	e.metrics.observeShutdown()
	return nil
}

// finish records the outcome of an operation and takes a snapshot when due
func (e *Engine) finish(ctx context.Context, op string, err error) {
	e.metrics.observeOp(op, err)
	if err != nil {
		e.logger.WithField("op", op).WithError(err).Debug("operation rejected")
		return
	}
	e.observeLedger()

	interval := e.config.SnapshotInterval
	if interval == 0 || e.store == nil {
		return
	}
	if e.opsSinceSnapshot.Add(1) < interval {
		return
	}
	if err := e.Snapshot(ctx); err != nil {
		e.logger.WithError(err).Error("periodic snapshot failed")
	}
}

// Snapshot persists the current state and trims the WAL
func (e *Engine) Snapshot(ctx context.Context) error {
	if !e.started.Load() {
		return ErrNotStarted
	}

	e.gate.Lock()
	defer e.gate.Unlock()
	return e.snapshotLocked(ctx)
}

// snapshotLocked requires the gate held exclusively
func (e *Engine) snapshotLocked(ctx context.Context) (err error) {
	if e.store == nil {
		return nil
	}

	start := time.Now()
	defer func() { e.metrics.observeSnapshot(start, err) }()

	lastSeq := e.wal.LastSeq()
	snap := store.Snapshot{
		Ledger:   e.ledger.Export(),
		Shutdown: e.shutdown.IsShutdown(),
		LastSeq:  lastSeq,
	}
	if err := e.store.Save(ctx, snap); err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	e.opsSinceSnapshot.Store(0)

	if err := e.wal.WriteSync(wal.NewCheckpointRecord(lastSeq)); err != nil {
		return fmt.Errorf("failed to record checkpoint: %w", err)
	}
	if err := e.wal.Checkpoint(lastSeq); err != nil {
		return fmt.Errorf("failed to checkpoint WAL: %w", err)
	}

	e.logger.WithFields(logrus.Fields{
		"seq":      lastSeq,
		"accounts": len(snap.Ledger.Accounts),
		"supply":   snap.Ledger.LockedSupply,
		"took":     time.Since(start),
	}).Info("snapshot written")
	return nil
}

// writeWAL appends rec, syncing when configured
func (e *Engine) writeWAL(rec *wal.Record) error {
	write := e.wal.Write
	if e.config.WALSync {
		write = e.wal.WriteSync
	}
	if err := write(rec); err != nil {
		e.logger.WithField("type", rec.Type).WithError(err).Error("WAL append failed")
		return fmt.Errorf("%w: %w", ErrWALWrite, err)
	}
	return nil
}

func (e *Engine) observeLedger() {
	e.metrics.observeLedger(e.ledger.TotalLockedSupply(), e.ledger.Size(), e.wal.LastSeq())
}

// --- Reads ---

// Balances returns account's balances at now
func (e *Engine) Balances(account types.AccountName, now types.Timestamp) types.Balances {
	return e.ledger.Balances(account, now)
}

// PendingAmount returns the value account deposited in the epoch containing now
func (e *Engine) PendingAmount(account types.AccountName, now types.Timestamp) types.Amount {
	return e.ledger.PendingAmount(account, now)
}

// ActiveBalance returns account's locked value excluding the pending amount
func (e *Engine) ActiveBalance(account types.AccountName, now types.Timestamp) types.Amount {
	return e.ledger.ActiveBalance(account, now)
}

// Locks returns a copy of account's buckets
func (e *Engine) Locks(account types.AccountName) []types.LockEntry {
	return e.ledger.Locks(account)
}

// TotalLockedSupply returns the value locked across all accounts
func (e *Engine) TotalLockedSupply() types.Amount {
	return e.ledger.TotalLockedSupply()
}

// IsShutdown reports whether the ledger has been shut down
func (e *Engine) IsShutdown() bool {
	return e.shutdown.IsShutdown()
}

// Clock returns the engine's epoch clock
func (e *Engine) Clock() epoch.Clock {
	return e.clock
}

// Events returns the event journal
func (e *Engine) Events() *events.Journal {
	return e.journal
}

// AdminDomain returns the domain admin commands are signed under
func (e *Engine) AdminDomain() string {
	return e.config.AdminDomain
}

// Info returns the ledger description
func (e *Engine) Info() Info {
	return Info{
		Token:        e.config.Token,
		EpochLength:  e.clock.EpochLength,
		LockDuration: e.clock.LockDuration,
		LockedSupply: e.ledger.TotalLockedSupply(),
		Shutdown:     e.shutdown.IsShutdown(),
	}
}

// walRecorder makes settlements durable on behalf of the expiry processor
type walRecorder struct {
	e *Engine
}

// RecordSettle returns the WAL sequence of the settle record
func (r walRecorder) RecordSettle(s ledger.Settlement, recipient types.AccountName, now types.Timestamp) (uint64, error) {
	rec := wal.NewSettleRecord(s.Account, recipient, s.Amount, s.Relock, s.Matured, now)
	if err := r.e.writeWAL(rec); err != nil {
		return 0, err
	}
	return rec.Seq, nil
}

func (r walRecorder) RecordRevert(ref uint64, s ledger.Settlement, _ types.AccountName, now types.Timestamp) error {
	return r.e.writeWAL(wal.NewSettleRevertedRecord(ref, s.Account, s.Amount, now))
}

var _ expiry.Recorder = walRecorder{}
