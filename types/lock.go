package types

import "fmt"

// LockEntry is a single bucket of locked value maturing at an epoch boundary.
type LockEntry struct {
	Amount    Amount    `json:"amount" codec:"amount" db:"amount"`
	MaturesAt Timestamp `json:"matures_at" codec:"matures_at" db:"matures_at"`
}

// ValidateBasic rejects zero-amount entries
func (e LockEntry) ValidateBasic() error {
	if e.Amount == 0 {
		return fmt.Errorf("%w: zero amount maturing at %d", ErrInvalidLockEntry, e.MaturesAt)
	}
	return nil
}

// Balances is the view of one account at a given instant.
// Total == Locked + Unlockable.
type Balances struct {
	Total      Amount `json:"total"`
	Locked     Amount `json:"locked"`
	Unlockable Amount `json:"unlockable"`
}

// SumEntries returns the sum of the entry amounts.
// Callers guarantee the sum fits; it is bounded by the global locked supply.
func SumEntries(entries []LockEntry) Amount {
	var total Amount
	for _, e := range entries {
		total += e.Amount
	}
	return total
}

// ValidateEntries checks the ledger ordering invariant: no zero amounts and
// strictly increasing maturities.
func ValidateEntries(entries []LockEntry) error {
	for i, e := range entries {
		if err := e.ValidateBasic(); err != nil {
			return err
		}
		if i > 0 && entries[i-1].MaturesAt >= e.MaturesAt {
			return fmt.Errorf("%w: entry %d matures at %d, not after %d",
				ErrInvalidLockEntry, i, e.MaturesAt, entries[i-1].MaturesAt)
		}
	}
	return nil
}

// CopyEntries returns a copy of the slice
func CopyEntries(entries []LockEntry) []LockEntry {
	if len(entries) == 0 {
		return []LockEntry{}
	}
	out := make([]LockEntry, len(entries))
	copy(out, entries)
	return out
}
