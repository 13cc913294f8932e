// Package types defines the core data structures shared by the lockberry packages.
//
// # Core Types
//
// Amount: An unsigned quantity of the custodied asset, in base units.
//
// Timestamp: Seconds since the Unix epoch. Every schedule value stored in a ledger
// is aligned to an epoch boundary.
//
// AccountName: Opaque account identifier resolved by the boundary layer.
//
// LockEntry: A single (amount, maturity) bucket within an account's ledger.
// Entries of one account are strictly increasing by MaturesAt and never hold
// a zero amount.
//
// Balances: The total/locked/unlockable view of one account at an instant.
//
// Event: A notification emitted by a committed mutation (deposit, settlement,
// relock, shutdown).
//
// # Errors
//
// All rejections are sentinel errors checked with errors.Is. They are raised
// before any state is written, so a failed call never leaves partial state.
//
// # Usage Example
//
//	entry := types.LockEntry{Amount: 1000, MaturesAt: 119 * 86400}
//	if err := entry.ValidateBasic(); err != nil {
//	    return err
//	}
//
//	sum, err := types.SafeAdd(a, b)
//	if errors.Is(err, types.ErrOverflow) {
//	    // reject before mutating anything
//	}
package types
