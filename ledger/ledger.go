package ledger

import (
	"sort"
	"sync/atomic"

	"github.com/algorand/go-deadlock"

	"github.com/blockberries/lockberry/epoch"
	"github.com/blockberries/lockberry/types"
)

// ShutdownFlag reports whether the one-way shutdown transition has happened
type ShutdownFlag interface {
	IsShutdown() bool
}

type neverShutdown struct{}

func (neverShutdown) IsShutdown() bool { return false }

// Ledger tracks lock buckets per account plus the global locked supply
type Ledger struct {
	mu    deadlock.RWMutex
	books map[types.AccountName]*book

	clock    epoch.Clock
	shutdown ShutdownFlag
	supply   atomic.Uint64
}

// New creates an empty ledger. A nil flag means the ledger is never shut down.
func New(clock epoch.Clock, flag ShutdownFlag) *Ledger {
	if flag == nil {
		flag = neverShutdown{}
	}
	return &Ledger{
		books:    make(map[types.AccountName]*book),
		clock:    clock,
		shutdown: flag,
	}
}

// Clock returns the ledger's epoch clock
func (l *Ledger) Clock() epoch.Clock {
	return l.clock
}

// IsShutdown reports the shutdown flag the ledger reads through
func (l *Ledger) IsShutdown() bool {
	return l.shutdown.IsShutdown()
}

// getBook returns the book for account, creating it if create is set
func (l *Ledger) getBook(account types.AccountName, create bool) *book {
	l.mu.RLock()
	b, ok := l.books[account]
	l.mu.RUnlock()
	if ok || !create {
		return b
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok = l.books[account]; ok {
		return b
	}
	b = &book{}
	l.books[account] = b
	return b
}

// TotalLockedSupply returns the sum of every live entry of every account
func (l *Ledger) TotalLockedSupply() types.Amount {
	return types.Amount(l.supply.Load())
}

// addSupply raises the supply, failing without effect on overflow
func (l *Ledger) addSupply(amount types.Amount) error {
	for {
		cur := l.supply.Load()
		next, err := types.SafeAdd(types.Amount(cur), amount)
		if err != nil {
			return err
		}
		if l.supply.CompareAndSwap(cur, uint64(next)) {
			return nil
		}
	}
}

// subSupply lowers the supply. amount never exceeds the supply because it is
// drawn from live entries.
func (l *Ledger) subSupply(amount types.Amount) {
	l.supply.Add(^uint64(amount - 1))
}

// Balances returns total, locked and unlockable value of account at now
func (l *Ledger) Balances(account types.AccountName, now types.Timestamp) types.Balances {
	b := l.getBook(account, false)
	if b == nil {
		return types.Balances{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return l.balancesLocked(b, now)
}

func (l *Ledger) balancesLocked(b *book, now types.Timestamp) types.Balances {
	total := b.total()
	if l.shutdown.IsShutdown() {
		return types.Balances{Total: total, Locked: 0, Unlockable: total}
	}

	var locked types.Amount
	for _, e := range b.live() {
		if !l.clock.IsMatured(e.MaturesAt, now) {
			locked += e.Amount
		}
	}
	return types.Balances{Total: total, Locked: locked, Unlockable: total - locked}
}

// PendingAmount returns the value deposited during the epoch containing now.
// Only the tail bucket can carry it; merging guarantees one bucket per epoch.
func (l *Ledger) PendingAmount(account types.AccountName, now types.Timestamp) types.Amount {
	b := l.getBook(account, false)
	if b == nil {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return l.pendingLocked(b, now)
}

func (l *Ledger) pendingLocked(b *book, now types.Timestamp) types.Amount {
	last, ok := b.tail()
	if !ok || last.MaturesAt != l.clock.MaturityFor(now) {
		return 0
	}
	return last.Amount
}

// ActiveBalance returns the locked value that counts toward weight at now:
// locked value minus this epoch's deposit. Zero once shut down.
func (l *Ledger) ActiveBalance(account types.AccountName, now types.Timestamp) types.Amount {
	b := l.getBook(account, false)
	if b == nil {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	bal := l.balancesLocked(b, now)
	pending := l.pendingLocked(b, now)
	if pending >= bal.Locked {
		return 0
	}
	return bal.Locked - pending
}

// Locks returns a copy of account's live entries in maturity order
func (l *Ledger) Locks(account types.AccountName) []types.LockEntry {
	b := l.getBook(account, false)
	if b == nil {
		return []types.LockEntry{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return types.CopyEntries(b.live())
}

// Accounts returns every account that ever deposited, sorted by name
func (l *Ledger) Accounts() []types.AccountName {
	l.mu.RLock()
	defer l.mu.RUnlock()

	names := make([]types.AccountName, 0, len(l.books))
	for name := range l.books {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Size returns the number of accounts that ever deposited
func (l *Ledger) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.books)
}
