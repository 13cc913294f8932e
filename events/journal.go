package events

import (
	"errors"
	"sync/atomic"

	"github.com/algorand/go-deadlock"

	"github.com/blockberries/lockberry/types"
)

// Errors
var (
	ErrJournalClosed = errors.New("event journal closed")
)

// Config holds journal configuration
type Config struct {
	// Capacity is the number of events retained for Since
	Capacity int
	// SubscriberBuffer is the channel size of each subscription
	SubscriberBuffer int
}

// DefaultConfig returns default journal configuration
func DefaultConfig() Config {
	return Config{
		Capacity:         10000,
		SubscriberBuffer: 256,
	}
}

// Journal is a bounded in-memory event log with fan-out
type Journal struct {
	mu     deadlock.RWMutex
	config Config

	events    []types.Event
	lastIndex uint64

	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
}

// Subscription receives events emitted after it was created
type Subscription struct {
	id      uint64
	ch      chan types.Event
	dropped atomic.Uint64
	journal *Journal
}

// NewJournal creates a new event journal
func NewJournal(config Config) *Journal {
	if config.Capacity <= 0 {
		config.Capacity = DefaultConfig().Capacity
	}
	if config.SubscriberBuffer <= 0 {
		config.SubscriberBuffer = DefaultConfig().SubscriberBuffer
	}
	return &Journal{
		config: config,
		subs:   make(map[uint64]*Subscription),
	}
}

// Emit appends ev, assigning its Index, and notifies subscribers
func (j *Journal) Emit(ev types.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return
	}

	j.lastIndex++
	ev.Index = j.lastIndex
	j.events = append(j.events, ev)

	// Enforce capacity - prune oldest events
	if len(j.events) > j.config.Capacity {
		j.pruneOldest(max(j.config.Capacity/10, 1))
	}

	for _, sub := range j.subs {
		select {
		case sub.ch <- ev:
		default:
			sub.dropped.Add(1)
		}
	}
}

// pruneOldest removes the oldest n events.
// Caller must hold j.mu.
func (j *Journal) pruneOldest(n int) {
	if n > len(j.events) {
		n = len(j.events)
	}
	kept := make([]types.Event, len(j.events)-n, j.config.Capacity+1)
	copy(kept, j.events[n:])
	j.events = kept
}

// Since returns up to limit retained events with Index greater than index.
// A limit <= 0 returns all of them.
func (j *Journal) Since(index uint64, limit int) []types.Event {
	j.mu.RLock()
	defer j.mu.RUnlock()

	if len(j.events) == 0 || index >= j.lastIndex {
		return []types.Event{}
	}

	// Indexes are contiguous within the retained window
	first := j.events[0].Index
	start := 0
	if index >= first {
		start = int(index - first + 1)
	}

	end := len(j.events)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	out := make([]types.Event, end-start)
	copy(out, j.events[start:end])
	return out
}

// LastIndex returns the index of the most recent event
func (j *Journal) LastIndex() uint64 {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.lastIndex
}

// Size returns the number of retained events
func (j *Journal) Size() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.events)
}

// Subscribe registers a new subscription
func (j *Journal) Subscribe() (*Subscription, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil, ErrJournalClosed
	}

	j.nextID++
	sub := &Subscription{
		id:      j.nextID,
		ch:      make(chan types.Event, j.config.SubscriberBuffer),
		journal: j,
	}
	j.subs[sub.id] = sub
	return sub, nil
}

// Subscribers returns the number of active subscriptions
func (j *Journal) Subscribers() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.subs)
}

// Close closes every subscription. Later emits are ignored.
func (j *Journal) Close() {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return
	}
	j.closed = true
	for id, sub := range j.subs {
		close(sub.ch)
		delete(j.subs, id)
	}
}

// C returns the event channel. It is closed by Unsubscribe or Journal.Close.
func (s *Subscription) C() <-chan types.Event {
	return s.ch
}

// Dropped returns how many events were lost because the channel was full
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Unsubscribe stops delivery and closes the channel
func (s *Subscription) Unsubscribe() {
	j := s.journal
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, ok := j.subs[s.id]; !ok {
		return
	}
	delete(j.subs, s.id)
	close(s.ch)
}
