// Package expiry settles matured lock buckets.
//
// Settle removes the matured prefix of an account's buckets and either pays
// it out through custody or rolls it into a fresh bucket. The ledger is
// updated before custody is called, and the account stays locked for the
// whole call, so a reentrant or concurrent settle of the same account can
// never spend the same buckets twice. A failed payout restores the removed
// buckets and the locked supply exactly.
package expiry

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/blockberries/lockberry/custody"
	"github.com/blockberries/lockberry/ledger"
	"github.com/blockberries/lockberry/logging"
	"github.com/blockberries/lockberry/types"
)

// Recorder makes settlements durable. Both methods run with the account locked.
type Recorder interface {
	// RecordSettle runs after the ledger applied s and before any payout.
	// It returns a reference to the record. An error undoes s.
	RecordSettle(s ledger.Settlement, recipient types.AccountName, now types.Timestamp) (uint64, error)

	// RecordRevert runs after a failed payout has been undone. ref is the
	// value RecordSettle returned for s.
	RecordRevert(ref uint64, s ledger.Settlement, recipient types.AccountName, now types.Timestamp) error
}

// Emitter receives events for committed settlements
type Emitter interface {
	Emit(ev types.Event)
}

// Processor settles matured buckets of a ledger
type Processor struct {
	ledger   *ledger.Ledger
	custody  custody.Custody
	recorder Recorder
	emitter  Emitter
	logger   logrus.FieldLogger
}

// Option configures a Processor
type Option func(*Processor)

// WithRecorder sets the durability hook
func WithRecorder(r Recorder) Option {
	return func(p *Processor) { p.recorder = r }
}

// WithEmitter sets the event sink
func WithEmitter(e Emitter) Option {
	return func(p *Processor) { p.emitter = e }
}

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Processor) { p.logger = l }
}

// New creates a processor paying out through c
func New(l *ledger.Ledger, c custody.Custody, opts ...Option) *Processor {
	p := &Processor{ledger: l, custody: c}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logging.Discard()
	}
	return p
}

// Settle settles the matured buckets of account at now. Without relock the
// matured amount is pushed to recipient, which defaults to account.
func (p *Processor) Settle(ctx context.Context, account types.AccountName, relock bool, recipient types.AccountName, now types.Timestamp) (ledger.Settlement, error) {
	if err := account.ValidateBasic(); err != nil {
		return ledger.Settlement{}, err
	}
	if recipient.IsEmpty() {
		recipient = account
	}

	txn, err := p.ledger.BeginSettle(account)
	if err != nil {
		return ledger.Settlement{}, err
	}
	defer txn.Release()

	s, err := txn.Settle(relock, now)
	if err != nil {
		return ledger.Settlement{}, err
	}

	var ref uint64
	if p.recorder != nil {
		if ref, err = p.recorder.RecordSettle(s, recipient, now); err != nil {
			txn.UndoSettle(s)
			return ledger.Settlement{}, fmt.Errorf("failed to record settlement: %w", err)
		}
	}

	if !relock {
		if err := p.custody.Push(ctx, recipient, s.Amount); err != nil {
			return ledger.Settlement{}, p.revert(txn, ref, s, recipient, now, err)
		}
	}

	p.logger.WithFields(logrus.Fields{
		"account":   account,
		"amount":    s.Amount,
		"relock":    relock,
		"recipient": recipient,
		"buckets":   len(s.Matured),
	}).Info("settled matured locks")

	p.emit(types.SettledEvent(account, s.Amount, relock, recipient, now))
	if s.Relocked != nil {
		p.emit(types.DepositedEvent(account, s.Relocked.Amount, s.Relocked.MaturesAt, now))
	}
	return s, nil
}

// ForcedWithdraw pays out every bucket of account to recipient. It is only
// available once the ledger is shut down.
func (p *Processor) ForcedWithdraw(ctx context.Context, account, recipient types.AccountName, now types.Timestamp) (ledger.Settlement, error) {
	if !p.ledger.IsShutdown() {
		return ledger.Settlement{}, fmt.Errorf("%w: forced withdrawal requires shutdown", types.ErrUnauthorized)
	}
	return p.Settle(ctx, account, false, recipient, now)
}

// revert undoes s after a failed payout
func (p *Processor) revert(txn *ledger.Txn, ref uint64, s ledger.Settlement, recipient types.AccountName, now types.Timestamp, cause error) error {
	txn.UndoSettle(s)

	if !errors.Is(cause, types.ErrTransferFailed) {
		cause = custody.TransferError("push", recipient, s.Amount, cause)
	}

	log := p.logger.WithFields(logrus.Fields{
		"account":   s.Account,
		"amount":    s.Amount,
		"recipient": recipient,
	})
	log.WithError(cause).Warn("payout failed, settlement reverted")

	if p.recorder != nil {
		if err := p.recorder.RecordRevert(ref, s, recipient, now); err != nil {
			log.WithError(err).Error("failed to record settlement revert")
			return errors.Join(cause, fmt.Errorf("failed to record revert: %w", err))
		}
	}
	return cause
}

func (p *Processor) emit(ev types.Event) {
	if p.emitter != nil {
		p.emitter.Emit(ev)
	}
}
