package types

import "errors"

// Ledger errors
var (
	ErrZeroAmount       = errors.New("zero amount")
	ErrNothingToSettle  = errors.New("nothing to settle")
	ErrShutdown         = errors.New("ledger is shut down")
	ErrAlreadyShutdown  = errors.New("ledger already shut down")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrTransferFailed   = errors.New("asset transfer failed")
	ErrOverflow         = errors.New("amount overflow")
	ErrInvalidAccount   = errors.New("invalid account name")
	ErrInvalidLockEntry = errors.New("invalid lock entry")
	ErrTimeRegression   = errors.New("time precedes the latest bucket")
)
