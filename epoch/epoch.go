// Package epoch implements the time-to-epoch arithmetic every lock schedule is
// aligned to. All functions are pure and cannot fail on a validated Clock.
package epoch

import (
	"errors"
	"fmt"

	"github.com/blockberries/lockberry/types"
)

const (
	// DefaultEpochLength is one week in seconds
	DefaultEpochLength types.Timestamp = 7 * 24 * 60 * 60
	// DefaultLockEpochs is the number of epochs a deposit stays locked after the
	// epoch it was made in
	DefaultLockEpochs = 16
)

// Errors
var (
	ErrInvalidEpochLength  = errors.New("epoch length must be positive")
	ErrInvalidLockDuration = errors.New("lock duration must be a positive multiple of the epoch length")
)

// Clock converts instants into epoch-aligned schedule values.
type Clock struct {
	EpochLength  types.Timestamp
	LockDuration types.Timestamp
}

// DefaultClock returns a weekly clock with a 16 week lock
func DefaultClock() Clock {
	return Clock{
		EpochLength:  DefaultEpochLength,
		LockDuration: DefaultLockEpochs * DefaultEpochLength,
	}
}

// NewClock creates a validated Clock
func NewClock(epochLength, lockDuration types.Timestamp) (Clock, error) {
	c := Clock{EpochLength: epochLength, LockDuration: lockDuration}
	if err := c.ValidateBasic(); err != nil {
		return Clock{}, err
	}
	return c, nil
}

// ValidateBasic performs basic validation of the clock parameters
func (c Clock) ValidateBasic() error {
	if c.EpochLength == 0 {
		return ErrInvalidEpochLength
	}
	if c.LockDuration == 0 || c.LockDuration%c.EpochLength != 0 {
		return fmt.Errorf("%w: %d / %d", ErrInvalidLockDuration, c.LockDuration, c.EpochLength)
	}
	return nil
}

// CurrentEpoch returns the start of the epoch containing now
func (c Clock) CurrentEpoch(now types.Timestamp) types.Timestamp {
	return now / c.EpochLength * c.EpochLength
}

// NextEpoch returns the start of the epoch after the one containing now
func (c Clock) NextEpoch(now types.Timestamp) types.Timestamp {
	return c.CurrentEpoch(now) + c.EpochLength
}

// MaturityFor returns the maturity assigned to a deposit made at now.
// Every instant within one epoch maps to the same maturity.
func (c Clock) MaturityFor(now types.Timestamp) types.Timestamp {
	return c.NextEpoch(now) + c.LockDuration
}

// IsMatured reports whether a bucket maturing at maturesAt is unlockable at now
func (c Clock) IsMatured(maturesAt, now types.Timestamp) bool {
	return maturesAt <= c.CurrentEpoch(now)
}

// LockEpochs returns the lock duration in epochs
func (c Clock) LockEpochs() uint64 {
	return uint64(c.LockDuration / c.EpochLength)
}
