package types

import (
	"math/bits"
	"strconv"
)

// Amount is a quantity of the custodied asset in base units.
type Amount uint64

// Timestamp is a point in time in seconds since the Unix epoch.
type Timestamp uint64

// SafeAdd returns a+b, or ErrOverflow if the sum does not fit.
func SafeAdd(a, b Amount) (Amount, error) {
	sum, carry := bits.Add64(uint64(a), uint64(b), 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return Amount(sum), nil
}

// String renders the amount in base units.
func (a Amount) String() string {
	return strconv.FormatUint(uint64(a), 10)
}
