package types

// EventKind identifies the type of an emitted event
type EventKind string

const (
	EventDeposited EventKind = "deposited"
	EventSettled   EventKind = "settled"
	EventRelocked  EventKind = "relocked"
	EventShutdown  EventKind = "shutdown"
)

// Event is emitted after a mutation commits.
//
// Deposited carries the bucket the value landed in (MaturesAt). Settled carries
// the matured amount and whether it was rolled forward. Relocked marks value
// locked again from outside the ledger (e.g. claimed rewards).
type Event struct {
	Index     uint64      `json:"index"`
	Kind      EventKind   `json:"kind"`
	Account   AccountName `json:"account,omitempty"`
	Amount    Amount      `json:"amount,omitempty"`
	Relock    bool        `json:"relock,omitempty"`
	MaturesAt Timestamp   `json:"matures_at,omitempty"`
	Recipient AccountName `json:"recipient,omitempty"`
	Time      Timestamp   `json:"time"`
}

// DepositedEvent creates a Deposited event
func DepositedEvent(account AccountName, amount Amount, maturesAt, now Timestamp) Event {
	return Event{Kind: EventDeposited, Account: account, Amount: amount, MaturesAt: maturesAt, Time: now}
}

// SettledEvent creates a Settled event
func SettledEvent(account AccountName, amount Amount, relock bool, recipient AccountName, now Timestamp) Event {
	return Event{Kind: EventSettled, Account: account, Amount: amount, Relock: relock, Recipient: recipient, Time: now}
}

// RelockedEvent creates a Relocked event
func RelockedEvent(account AccountName, amount Amount, now Timestamp) Event {
	return Event{Kind: EventRelocked, Account: account, Amount: amount, Time: now}
}

// ShutdownEvent creates a Shutdown event
func ShutdownEvent(caller AccountName, now Timestamp) Event {
	return Event{Kind: EventShutdown, Account: caller, Time: now}
}
