// Package ledger implements the epoch-bucketed lock-accounting ledger.
//
// Each account owns an ordered sequence of lock buckets (types.LockEntry),
// strictly increasing by maturity. A deposit lands in the bucket maturing at
// clock.MaturityFor(now); deposits made within the same epoch merge into the
// account's tail bucket, so an account gains at most one bucket per epoch.
//
// # Reads
//
// Balances, PendingAmount, ActiveBalance, Locks and TotalLockedSupply are
// deterministic functions of stored state and the supplied instant. Once the
// shutdown flag is raised every bucket reads as matured.
//
// # Writes
//
// Mutations go through a Txn, which holds the account's lock until Release.
// The caller (engine, expiry) keeps the Txn across the custody call and the
// WAL append so two operations on one account never interleave. Every
// mutation returns a receipt that can be undone exactly, which is how a
// failed transfer or log append rolls the ledger back.
//
//	txn := l.BeginDeposit(account)
//	defer txn.Release()
//	receipt, err := txn.Deposit(amount, now)
//	if err != nil {
//	    return err
//	}
//	if err := wal.WriteSync(rec); err != nil {
//	    txn.UndoDeposit(receipt)
//	    return err
//	}
//
// Matured buckets always form a prefix of the sequence. Settlement removes the
// prefix by advancing a start offset rather than shifting the slice; the
// backing array is compacted once the dead prefix dominates.
//
// # Thread Safety
//
// The account map is guarded by an RWMutex, each account by its own mutex,
// and the global locked supply is an atomic counter updated with a
// compare-and-swap overflow check.
package ledger
