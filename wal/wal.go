package wal

import (
	"errors"
	"fmt"
	"io"

	"github.com/algorand/go-deadlock"

	"github.com/blockberries/lockberry/types"
)

// Errors
var (
	ErrWALClosed    = errors.New("WAL is closed")
	ErrWALCorrupted = errors.New("WAL is corrupted")
	ErrWALNotFound  = errors.New("WAL file not found")
	ErrInvalidSeq   = errors.New("invalid sequence in WAL")
)

// RecordType identifies the type of WAL record
type RecordType uint8

const (
	RecordUnknown RecordType = iota
	RecordDeposit
	RecordSettle
	RecordSettleReverted
	RecordShutdown
	RecordCheckpoint
)

// String implements fmt.Stringer
func (t RecordType) String() string {
	switch t {
	case RecordDeposit:
		return "deposit"
	case RecordSettle:
		return "settle"
	case RecordSettleReverted:
		return "settle_reverted"
	case RecordShutdown:
		return "shutdown"
	case RecordCheckpoint:
		return "checkpoint"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Record is one committed ledger mutation. Seq is assigned by the WAL.
//
// Deposit: Payer paid Amount into Account's bucket for Now. External marks
// value relocked from outside the ledger.
// Settle: Amount left Account's matured prefix (Entries) at Now, either to
// Recipient or, with Relock, into a fresh bucket.
// SettleReverted: the payout of the settle with sequence Ref failed and was undone.
// Shutdown: Account (the caller) raised the shutdown flag.
// Checkpoint: state through Ref is in a snapshot.
type Record struct {
	_struct struct{} `codec:",omitempty,omitemptyarray"`

	Seq       uint64            `codec:"seq"`
	Type      RecordType        `codec:"type"`
	Account   types.AccountName `codec:"acct"`
	Payer     types.AccountName `codec:"payer"`
	Recipient types.AccountName `codec:"rcpt"`
	Amount    types.Amount      `codec:"amt"`
	Relock    bool              `codec:"relock"`
	External  bool              `codec:"ext"`
	Now       types.Timestamp   `codec:"now"`
	Ref       uint64            `codec:"ref"`
	Entries   []types.LockEntry `codec:"entries"`
}

// Marshal serializes the record
func (r *Record) Marshal() ([]byte, error) {
	return types.Encode(r)
}

// Unmarshal deserializes the record
func (r *Record) Unmarshal(data []byte) error {
	return types.Decode(data, r)
}

// NewDepositRecord creates a record for a deposit
func NewDepositRecord(payer, account types.AccountName, amount types.Amount, now types.Timestamp, external bool) *Record {
	return &Record{
		Type:     RecordDeposit,
		Account:  account,
		Payer:    payer,
		Amount:   amount,
		Now:      now,
		External: external,
	}
}

// NewSettleRecord creates a record for a settlement of matured
func NewSettleRecord(account, recipient types.AccountName, amount types.Amount, relock bool, matured []types.LockEntry, now types.Timestamp) *Record {
	return &Record{
		Type:      RecordSettle,
		Account:   account,
		Recipient: recipient,
		Amount:    amount,
		Relock:    relock,
		Now:       now,
		Entries:   types.CopyEntries(matured),
	}
}

// NewSettleRevertedRecord creates a record undoing the settle at seq
func NewSettleRevertedRecord(seq uint64, account types.AccountName, amount types.Amount, now types.Timestamp) *Record {
	return &Record{
		Type:    RecordSettleReverted,
		Account: account,
		Amount:  amount,
		Now:     now,
		Ref:     seq,
	}
}

// NewShutdownRecord creates a record for the shutdown transition
func NewShutdownRecord(caller types.AccountName, now types.Timestamp) *Record {
	return &Record{
		Type:    RecordShutdown,
		Account: caller,
		Now:     now,
	}
}

// NewCheckpointRecord creates a record marking a snapshot through seq
func NewCheckpointRecord(seq uint64) *Record {
	return &Record{Type: RecordCheckpoint, Ref: seq}
}

// WAL interface for write-ahead logging
type WAL interface {
	// Write assigns the next sequence number to rec and appends it
	Write(rec *Record) error

	// WriteSync writes a record and ensures it's synced to disk
	WriteSync(rec *Record) error

	// FlushAndSync flushes and syncs all pending writes
	FlushAndSync() error

	// LastSeq returns the sequence number of the last record written
	LastSeq() uint64

	// Checkpoint discards segments holding only records up to seq
	Checkpoint(seq uint64) error

	// ReadFrom returns a Reader over the records with a sequence above seq
	ReadFrom(seq uint64) (Reader, error)

	// AdvanceTo makes the next sequence at least seq+1. It is used when a
	// snapshot is newer than every record in the log.
	AdvanceTo(seq uint64)

	// Start starts the WAL
	Start() error

	// Stop stops the WAL
	Stop() error
}

// Reader interface for reading from WAL
type Reader interface {
	// Read reads the next record from the WAL
	Read() (*Record, error)

	// Close closes the reader
	Close() error
}

// Group represents a group of WAL files (for rotation)
type Group struct {
	Dir      string
	Prefix   string
	MaxSize  int64
	MinIndex int
	MaxIndex int
}

// NopWAL is a WAL that only numbers records
type NopWAL struct {
	mu  deadlock.Mutex
	seq uint64
}

func (w *NopWAL) Write(rec *Record) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.seq++
	rec.Seq = w.seq
	return nil
}

func (w *NopWAL) WriteSync(rec *Record) error { return w.Write(rec) }
func (w *NopWAL) FlushAndSync() error         { return nil }
func (w *NopWAL) Checkpoint(uint64) error     { return nil }
func (w *NopWAL) Start() error                { return nil }
func (w *NopWAL) Stop() error                 { return nil }

func (w *NopWAL) ReadFrom(uint64) (Reader, error) { return &NopReader{}, nil }

func (w *NopWAL) AdvanceTo(seq uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if seq > w.seq {
		w.seq = seq
	}
}

func (w *NopWAL) LastSeq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.seq
}

// Ensure NopWAL implements WAL
var _ WAL = (*NopWAL)(nil)

// NopReader is a no-op reader
type NopReader struct{}

func (r *NopReader) Read() (*Record, error) { return nil, io.EOF }
func (r *NopReader) Close() error           { return nil }

var _ Reader = (*NopReader)(nil)
