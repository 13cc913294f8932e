package ledger

import (
	"github.com/algorand/go-deadlock"

	"github.com/blockberries/lockberry/types"
)

// compactThreshold is the dead prefix length above which a book is compacted
const compactThreshold = 32

// book is one account's lock sequence. entries[start:] are live.
type book struct {
	mu      deadlock.Mutex
	entries []types.LockEntry
	start   int
}

// live returns the live entries. Caller must hold mu.
func (b *book) live() []types.LockEntry {
	return b.entries[b.start:]
}

// tail returns the last live entry. Caller must hold mu.
func (b *book) tail() (*types.LockEntry, bool) {
	if b.start >= len(b.entries) {
		return nil, false
	}
	return &b.entries[len(b.entries)-1], true
}

// total sums the live entries. Caller must hold mu.
func (b *book) total() types.Amount {
	return types.SumEntries(b.live())
}

// maturedPrefix returns the length and sum of the prefix of live entries
// accepted by matured. Caller must hold mu.
func (b *book) maturedPrefix(matured func(maturesAt types.Timestamp) bool) (int, types.Amount) {
	var (
		n   int
		sum types.Amount
	)
	for _, e := range b.live() {
		if !matured(e.MaturesAt) {
			break
		}
		n++
		sum += e.Amount
	}
	return n, sum
}

// mergeOrAppend adds amount to the tail bucket if it matures at maturesAt,
// otherwise appends a new bucket. Reports whether it merged. Caller must hold mu.
func (b *book) mergeOrAppend(amount types.Amount, maturesAt types.Timestamp) bool {
	if last, ok := b.tail(); ok && last.MaturesAt == maturesAt {
		last.Amount += amount
		return true
	}
	b.entries = append(b.entries, types.LockEntry{Amount: amount, MaturesAt: maturesAt})
	return false
}

// unmerge reverses mergeOrAppend. Caller must hold mu.
func (b *book) unmerge(amount types.Amount, merged bool) {
	last, ok := b.tail()
	if !ok {
		return
	}
	if merged {
		last.Amount -= amount
		return
	}
	b.entries = b.entries[:len(b.entries)-1]
}

// dropPrefix removes the first n live entries and returns a copy of them.
// Caller must hold mu.
func (b *book) dropPrefix(n int) []types.LockEntry {
	removed := types.CopyEntries(b.entries[b.start : b.start+n])
	b.start += n
	if b.start == len(b.entries) {
		b.entries = b.entries[:0]
		b.start = 0
	} else if b.start > compactThreshold && b.start > len(b.entries)/2 {
		b.entries = append([]types.LockEntry(nil), b.entries[b.start:]...)
		b.start = 0
	}
	return removed
}

// restorePrefix puts previously dropped entries back in front. Caller must hold mu.
func (b *book) restorePrefix(prefix []types.LockEntry) {
	if len(prefix) == 0 {
		return
	}
	if b.start >= len(prefix) {
		b.start -= len(prefix)
		copy(b.entries[b.start:], prefix)
		return
	}
	restored := make([]types.LockEntry, 0, len(prefix)+len(b.live()))
	restored = append(restored, prefix...)
	restored = append(restored, b.live()...)
	b.entries = restored
	b.start = 0
}
