// Package wal implements a write-ahead log of committed ledger mutations.
//
// Every deposit, settlement, payout revert and the shutdown transition is
// appended here before the caller reports success. After a restart the log is
// replayed on top of the latest snapshot to rebuild the ledger.
//
// # Core Interface
//
//	type WAL interface {
//	    Write(rec *Record) error
//	    WriteSync(rec *Record) error
//	    LastSeq() uint64
//	    Checkpoint(seq uint64) error
//	    ...
//	}
//
// The WAL assigns each record a strictly increasing sequence number. Snapshots
// remember the last sequence they cover, so replay skips everything at or
// below it.
//
// # Implementation
//
// FileWAL: Disk-based WAL using length-prefixed records with CRC32 checksums.
// Records are buffered and fsync'd by WriteSync.
//
// # File Format
//
// Each entry is encoded as:
//
//	[4 bytes: length][N bytes: canonical msgpack record][4 bytes: CRC32]
//
// # Rotation and Cleanup
//
// Segments rotate once they exceed the configured size:
//
//	wal-00000
//	wal-00001
//
// Checkpoint(seq) deletes the oldest segments whose records all have a
// sequence at or below seq. The segment being written is never deleted.
//
// # Recovery Process
//
// Start scans every segment to find the last sequence. A torn record at the
// end of the newest segment (a crash mid-write) is truncated away; damage
// anywhere else fails Start. OpenWALForReading then yields every record in
// order.
//
// # Thread Safety
//
// FileWAL uses internal locking so records from many goroutines get distinct
// sequence numbers. Only one FileWAL should write to a directory; the daemon
// holds a lock on its data directory for that reason.
//
// # Usage Example
//
//	w, err := wal.NewFileWAL("./data/wal")
//	if err != nil {
//	    return err
//	}
//	if err := w.Start(); err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	rec := wal.NewDepositRecord(payer, account, amount, now, false)
//	if err := w.WriteSync(rec); err != nil {
//	    return err
//	}
package wal
