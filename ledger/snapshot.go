package ledger

import (
	"fmt"

	"github.com/blockberries/lockberry/types"
)

// AccountState is the persisted form of one account
type AccountState struct {
	Account types.AccountName `json:"account"`
	Entries []types.LockEntry `json:"entries"`
}

// State is the persisted form of the whole ledger
type State struct {
	Accounts     []AccountState `json:"accounts"`
	LockedSupply types.Amount   `json:"locked_supply"`
}

// Export copies the ledger state. The caller must keep writers out for the
// result to be consistent across accounts.
func (l *Ledger) Export() State {
	names := l.Accounts()
	st := State{
		Accounts:     make([]AccountState, 0, len(names)),
		LockedSupply: l.TotalLockedSupply(),
	}
	for _, name := range names {
		st.Accounts = append(st.Accounts, AccountState{
			Account: name,
			Entries: l.Locks(name),
		})
	}
	return st
}

// Import replaces the ledger contents with st after validating the
// ordering and conservation invariants.
func (l *Ledger) Import(st State) error {
	books := make(map[types.AccountName]*book, len(st.Accounts))
	var sum types.Amount
	for _, acc := range st.Accounts {
		if err := acc.Account.ValidateBasic(); err != nil {
			return fmt.Errorf("account %q: %w", acc.Account, err)
		}
		if err := types.ValidateEntries(acc.Entries); err != nil {
			return fmt.Errorf("account %q: %w", acc.Account, err)
		}
		if _, dup := books[acc.Account]; dup {
			return fmt.Errorf("account %q: duplicate record", acc.Account)
		}
		for _, e := range acc.Entries {
			var err error
			if sum, err = types.SafeAdd(sum, e.Amount); err != nil {
				return fmt.Errorf("account %q: %w", acc.Account, err)
			}
		}
		books[acc.Account] = &book{entries: types.CopyEntries(acc.Entries)}
	}
	if sum != st.LockedSupply {
		return fmt.Errorf("locked supply %d does not match entries sum %d", st.LockedSupply, sum)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.books = books
	l.supply.Store(uint64(st.LockedSupply))
	return nil
}
