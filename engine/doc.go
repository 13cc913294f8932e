// Package engine runs the lock ledger as a durable service.
//
// The engine serializes every mutation against the ledger and records it in
// the write-ahead log before acknowledging it:
//
//	Deposit / Relock → custody pull → ledger apply → WAL → events
//	Settle           → ledger apply → WAL → custody push (or relock) → events
//	Shutdown         → authorize → WAL → flag
//
// A failed WAL append undoes the ledger change and refunds any pulled value.
// A failed payout undoes the settlement and appends a SettleReverted record
// that points at the settle it cancels.
//
// # Core Components
//
// Engine: Coordinates the ledger, the shutdown controller, the expiry
// processor and the custody backend. Holds a gate that operations share and
// that shutdown and snapshots take exclusively.
//
// Replay: Crash recovery. Start loads the latest snapshot from the store and
// applies the WAL records written after it. A settle whose replayed outcome
// differs from the recorded one fails recovery with ErrReplayMismatch.
//
// Metrics: Prometheus collectors for supply, accounts, operation results and
// snapshot latency.
//
// # Usage Example
//
//	cfg := engine.DefaultConfig()
//	cfg.Admins = []types.AccountName{"treasury"}
//
//	w, _ := wal.NewFileWAL(cfg.WALDir)
//	st, _ := store.Open(ctx, store.DriverSQLite, "data/ledger.db")
//	e, _ := engine.NewEngine(cfg, vault, w, st, nil)
//	if err := e.Start(ctx); err != nil {
//	    return err
//	}
//	defer e.Stop(ctx)
//
//	e.Deposit(ctx, "", "alice", 1000, now)
//
// # Snapshots
//
// Every SnapshotInterval successful operations the engine writes the full
// ledger to the store, appends a Checkpoint record and lets the WAL drop
// segments the snapshot covers. Stop always writes a final snapshot.
//
// # Thread Safety
//
// All public methods are safe for concurrent use. Operations on different
// accounts proceed in parallel; operations on one account are serialized by
// the ledger's per-account lock.
package engine
