// Package events keeps a bounded, ordered journal of ledger events.
//
// The engine emits an event after each committed mutation:
//
//	- deposited: value entered a bucket (account, amount, maturity)
//	- settled: a matured prefix was paid out or rolled forward
//	- relocked: externally sourced value was locked again
//	- shutdown: the one-way shutdown flag was raised
//
// Each event gets a strictly increasing Index. Since(index) lists what a
// poller has not seen yet. Once the journal exceeds its capacity the oldest
// tenth is pruned, so a poller that falls too far behind sees a gap in the
// indexes rather than blocking the ledger.
//
// # Subscriptions
//
// Subscribe returns a buffered channel fed without blocking. A subscriber that
// does not keep up loses events; the loss is counted and exposed through
// Subscription.Dropped so it can resynchronize with Since.
//
// Events live in memory only. They describe committed state but are not part
// of it: the WAL and snapshots are the source of truth after a restart.
package events
