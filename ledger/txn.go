package ledger

import (
	"fmt"
	"math"

	"github.com/blockberries/lockberry/types"
)

// DepositReceipt describes an applied deposit so it can be undone
type DepositReceipt struct {
	Account   types.AccountName
	Amount    types.Amount
	MaturesAt types.Timestamp
	Merged    bool
}

// Settlement describes an applied settlement so it can be undone.
// For a relock, Relocked holds the bucket the matured value was rolled into.
type Settlement struct {
	Account  types.AccountName
	Amount   types.Amount
	Relock   bool
	Matured  []types.LockEntry
	Relocked *DepositReceipt
}

// SettlePlan is the read-only result of locating the matured prefix
type SettlePlan struct {
	Count  int
	Amount types.Amount
}

// Txn holds an account's lock. All mutations of one account go through a Txn.
// A Txn must be released exactly once.
type Txn struct {
	l       *Ledger
	account types.AccountName
	b       *book
}

// BeginDeposit locks account, creating its book on first use
func (l *Ledger) BeginDeposit(account types.AccountName) *Txn {
	b := l.getBook(account, true)
	b.mu.Lock()
	return &Txn{l: l, account: account, b: b}
}

// BeginSettle locks account. Accounts that never deposited have nothing to
// settle and are not created.
func (l *Ledger) BeginSettle(account types.AccountName) (*Txn, error) {
	b := l.getBook(account, false)
	if b == nil {
		return nil, types.ErrNothingToSettle
	}
	b.mu.Lock()
	return &Txn{l: l, account: account, b: b}, nil
}

// Account returns the account the Txn is bound to
func (t *Txn) Account() types.AccountName {
	return t.account
}

// Release unlocks the account
func (t *Txn) Release() {
	t.b.mu.Unlock()
}

// CheckDeposit validates a deposit at now without applying it
func (t *Txn) CheckDeposit(amount types.Amount, now types.Timestamp) error {
	if amount == 0 {
		return types.ErrZeroAmount
	}
	if t.l.shutdown.IsShutdown() {
		return types.ErrShutdown
	}
	if err := t.checkMaturity(t.l.clock.MaturityFor(now)); err != nil {
		return err
	}
	if uint64(amount) > math.MaxUint64-t.l.supply.Load() {
		return types.ErrOverflow
	}
	return nil
}

// checkMaturity rejects a bucket that would sort before the tail
func (t *Txn) checkMaturity(maturesAt types.Timestamp) error {
	if last, ok := t.b.tail(); ok && maturesAt < last.MaturesAt {
		return fmt.Errorf("%w: maturity %d before %d", types.ErrTimeRegression, maturesAt, last.MaturesAt)
	}
	return nil
}

// Deposit locks amount until clock.MaturityFor(now), merging into the tail
// bucket when it already matures then.
func (t *Txn) Deposit(amount types.Amount, now types.Timestamp) (DepositReceipt, error) {
	if err := t.CheckDeposit(amount, now); err != nil {
		return DepositReceipt{}, err
	}
	return t.lockLocked(amount, t.l.clock.MaturityFor(now))
}

func (t *Txn) lockLocked(amount types.Amount, maturesAt types.Timestamp) (DepositReceipt, error) {
	if err := t.l.addSupply(amount); err != nil {
		return DepositReceipt{}, err
	}
	merged := t.b.mergeOrAppend(amount, maturesAt)
	return DepositReceipt{
		Account:   t.account,
		Amount:    amount,
		MaturesAt: maturesAt,
		Merged:    merged,
	}, nil
}

// UndoDeposit reverses the most recent Deposit of this Txn
func (t *Txn) UndoDeposit(r DepositReceipt) {
	t.b.unmerge(r.Amount, r.Merged)
	t.l.subSupply(r.Amount)
}

// PlanSettle locates the matured prefix at now without mutating anything.
// After shutdown every bucket counts as matured.
func (t *Txn) PlanSettle(now types.Timestamp) (SettlePlan, error) {
	matured := func(maturesAt types.Timestamp) bool {
		return t.l.clock.IsMatured(maturesAt, now)
	}
	if t.l.shutdown.IsShutdown() {
		matured = func(types.Timestamp) bool { return true }
	}
	n, amount := t.b.maturedPrefix(matured)
	if n == 0 {
		return SettlePlan{}, types.ErrNothingToSettle
	}
	return SettlePlan{Count: n, Amount: amount}, nil
}

// Settle removes the matured prefix. Without relock the value leaves the
// locked supply; the caller then transfers it out. With relock the value is
// put back into the bucket maturing at clock.MaturityFor(now) and the supply
// is unchanged.
func (t *Txn) Settle(relock bool, now types.Timestamp) (Settlement, error) {
	plan, err := t.PlanSettle(now)
	if err != nil {
		return Settlement{}, err
	}
	maturesAt := t.l.clock.MaturityFor(now)
	if relock {
		if t.l.shutdown.IsShutdown() {
			return Settlement{}, types.ErrShutdown
		}
		if err := t.checkMaturity(maturesAt); err != nil {
			return Settlement{}, err
		}
	}

	s := Settlement{
		Account: t.account,
		Amount:  plan.Amount,
		Relock:  relock,
		Matured: t.b.dropPrefix(plan.Count),
	}

	if !relock {
		t.l.subSupply(plan.Amount)
		return s, nil
	}

	merged := t.b.mergeOrAppend(plan.Amount, maturesAt)
	s.Relocked = &DepositReceipt{
		Account:   t.account,
		Amount:    plan.Amount,
		MaturesAt: maturesAt,
		Merged:    merged,
	}
	return s, nil
}

// UndoSettle reverses a Settle of this Txn
func (t *Txn) UndoSettle(s Settlement) {
	if s.Relocked != nil {
		t.b.unmerge(s.Relocked.Amount, s.Relocked.Merged)
	} else {
		if err := t.l.addSupply(s.Amount); err != nil {
			// The amount was part of the supply a moment ago.
			panic(err)
		}
	}
	t.b.restorePrefix(s.Matured)
}

// Entries returns a copy of the live entries
func (t *Txn) Entries() []types.LockEntry {
	return types.CopyEntries(t.b.live())
}

// Balances returns the account's balances at now
func (t *Txn) Balances(now types.Timestamp) types.Balances {
	return t.l.balancesLocked(t.b, now)
}
