package engine

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/blockberries/lockberry/ledger"
	"github.com/blockberries/lockberry/types"
	"github.com/blockberries/lockberry/wal"
)

// RecoveryResult describes how the engine rebuilt its state
type RecoveryResult struct {
	// Sequence covered by the loaded snapshot (0 without one)
	SnapshotSeq uint64
	// Whether a snapshot was found
	FoundSnapshot bool
	// Number of WAL records applied on top of the snapshot
	RecordsReplayed int
}

// recover loads the latest snapshot and replays the WAL records after it.
// Called with e.mu held and before any operation is accepted.
func (e *Engine) recover(ctx context.Context) (*RecoveryResult, error) {
	result := &RecoveryResult{}

	if e.store != nil {
		snap, found, err := e.store.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load snapshot: %w", err)
		}
		if found {
			if err := e.ledger.Import(snap.Ledger); err != nil {
				return nil, fmt.Errorf("failed to import snapshot: %w", err)
			}
			e.shutdown.Restore(snap.Shutdown)
			e.wal.AdvanceTo(snap.LastSeq)
			result.SnapshotSeq = snap.LastSeq
			result.FoundSnapshot = true
		}
	}

	reader, err := e.wal.ReadFrom(result.SnapshotSeq)
	if err != nil {
		return nil, fmt.Errorf("failed to read WAL: %w", err)
	}
	defer reader.Close()

	r := &replayer{
		ledger:  e.ledger,
		restore: e.shutdown.Restore,
		settles: make(map[uint64]ledger.Settlement),
		logger:  e.logger,
	}
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read WAL: %w", err)
		}
		if rec.Seq <= result.SnapshotSeq {
			continue
		}
		if err := r.apply(rec); err != nil {
			return nil, fmt.Errorf("record %d (%s): %w", rec.Seq, rec.Type, err)
		}
		result.RecordsReplayed++
	}

	return result, nil
}

// replayer applies WAL records to a ledger
type replayer struct {
	ledger  *ledger.Ledger
	restore func(shut bool)
	// Settlements by sequence, for later SettleReverted records
	settles map[uint64]ledger.Settlement
	logger  logrus.FieldLogger
}

func (r *replayer) apply(rec *wal.Record) error {
	switch rec.Type {
	case wal.RecordDeposit:
		return r.applyDeposit(rec)

	case wal.RecordSettle:
		return r.applySettle(rec)

	case wal.RecordSettleReverted:
		return r.applyRevert(rec)

	case wal.RecordShutdown:
		r.restore(true)
		return nil

	case wal.RecordCheckpoint:
		return nil

	default:
		r.logger.WithField("seq", rec.Seq).Warnf("skipping WAL record of %s type", rec.Type)
		return nil
	}
}

func (r *replayer) applyDeposit(rec *wal.Record) error {
	txn := r.ledger.BeginDeposit(rec.Account)
	defer txn.Release()

	if _, err := txn.Deposit(rec.Amount, rec.Now); err != nil {
		return fmt.Errorf("%w: deposit: %w", ErrReplayMismatch, err)
	}
	return nil
}

func (r *replayer) applySettle(rec *wal.Record) error {
	txn, err := r.ledger.BeginSettle(rec.Account)
	if err != nil {
		return fmt.Errorf("%w: settle: %w", ErrReplayMismatch, err)
	}
	defer txn.Release()

	s, err := txn.Settle(rec.Relock, rec.Now)
	if err != nil {
		return fmt.Errorf("%w: settle: %w", ErrReplayMismatch, err)
	}
	if s.Amount != rec.Amount || !sameEntries(s.Matured, rec.Entries) {
		txn.UndoSettle(s)
		return fmt.Errorf("%w: settled %s, recorded %s", ErrReplayMismatch, s.Amount, rec.Amount)
	}
	r.settles[rec.Seq] = s
	return nil
}

func (r *replayer) applyRevert(rec *wal.Record) error {
	s, ok := r.settles[rec.Ref]
	if !ok {
		return fmt.Errorf("%w: revert of unknown settle %d", ErrReplayMismatch, rec.Ref)
	}
	delete(r.settles, rec.Ref)

	txn, err := r.ledger.BeginSettle(s.Account)
	if err != nil {
		return fmt.Errorf("%w: revert: %w", ErrReplayMismatch, err)
	}
	defer txn.Release()

	txn.UndoSettle(s)
	return nil
}

func sameEntries(a, b []types.LockEntry) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
