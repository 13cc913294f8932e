package events

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockberries/lockberry/types"
)

func deposited(amount types.Amount) types.Event {
	return types.DepositedEvent("alice", amount, 119*86400, 0)
}

func TestEmitAssignsIndexes(t *testing.T) {
	j := NewJournal(DefaultConfig())

	j.Emit(deposited(1))
	j.Emit(types.SettledEvent("alice", 1, false, "bob", 10))
	j.Emit(types.ShutdownEvent("root", 20))

	require.Equal(t, uint64(3), j.LastIndex())
	evs := j.Since(0, 0)
	require.Len(t, evs, 3)
	for i, ev := range evs {
		assert.Equal(t, uint64(i+1), ev.Index)
	}
	assert.Equal(t, types.EventShutdown, evs[2].Kind)
}

func TestSince(t *testing.T) {
	j := NewJournal(DefaultConfig())
	for i := 1; i <= 10; i++ {
		j.Emit(deposited(types.Amount(i)))
	}

	evs := j.Since(7, 0)
	require.Len(t, evs, 3)
	assert.Equal(t, uint64(8), evs[0].Index)

	evs = j.Since(2, 4)
	require.Len(t, evs, 4)
	assert.Equal(t, uint64(3), evs[0].Index)
	assert.Equal(t, uint64(6), evs[3].Index)

	assert.Empty(t, j.Since(10, 0))
	assert.Empty(t, j.Since(99, 0))
	assert.NotNil(t, j.Since(99, 0))
}

func TestCapacityPrunesOldest(t *testing.T) {
	j := NewJournal(Config{Capacity: 20, SubscriberBuffer: 1})
	for i := 1; i <= 21; i++ {
		j.Emit(deposited(types.Amount(i)))
	}

	// 21 > 20 drops the oldest 2
	require.Equal(t, 19, j.Size())
	evs := j.Since(0, 0)
	require.Len(t, evs, 19)
	assert.Equal(t, uint64(3), evs[0].Index)
	assert.Equal(t, uint64(21), evs[18].Index)

	// Asking from inside the pruned window starts at the oldest retained
	evs = j.Since(1, 2)
	require.Len(t, evs, 2)
	assert.Equal(t, uint64(3), evs[0].Index)
}

func TestSinceReturnsCopy(t *testing.T) {
	j := NewJournal(DefaultConfig())
	j.Emit(deposited(5))

	evs := j.Since(0, 0)
	evs[0].Amount = 999
	assert.Equal(t, types.Amount(5), j.Since(0, 0)[0].Amount)
}

func TestSubscribe(t *testing.T) {
	j := NewJournal(Config{Capacity: 100, SubscriberBuffer: 2})
	sub, err := j.Subscribe()
	require.NoError(t, err)
	require.Equal(t, 1, j.Subscribers())

	j.Emit(deposited(1))
	j.Emit(deposited(2))
	j.Emit(deposited(3)) // buffer full

	ev := <-sub.C()
	assert.Equal(t, uint64(1), ev.Index)
	ev = <-sub.C()
	assert.Equal(t, uint64(2), ev.Index)
	assert.Equal(t, uint64(1), sub.Dropped())

	sub.Unsubscribe()
	sub.Unsubscribe()
	_, ok := <-sub.C()
	assert.False(t, ok)
	assert.Equal(t, 0, j.Subscribers())

	// Emitting without subscribers is fine
	j.Emit(deposited(4))
	assert.Equal(t, uint64(4), j.LastIndex())
}

func TestClose(t *testing.T) {
	j := NewJournal(DefaultConfig())
	sub, err := j.Subscribe()
	require.NoError(t, err)

	j.Close()
	_, ok := <-sub.C()
	assert.False(t, ok)

	_, err = j.Subscribe()
	require.ErrorIs(t, err, ErrJournalClosed)

	j.Emit(deposited(1))
	assert.Equal(t, uint64(0), j.LastIndex())

	// Unsubscribing after close must not double-close
	sub.Unsubscribe()
	j.Close()
}

func TestConcurrentEmit(t *testing.T) {
	j := NewJournal(Config{Capacity: 1000, SubscriberBuffer: 1000})
	sub, err := j.Subscribe()
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				j.Emit(deposited(1))
			}
		}()
	}
	wg.Wait()

	require.Equal(t, uint64(400), j.LastIndex())
	var last uint64
	for i := 0; i < 400; i++ {
		ev := <-sub.C()
		require.Greater(t, ev.Index, last)
		last = ev.Index
	}
	assert.Equal(t, uint64(0), sub.Dropped())
}
