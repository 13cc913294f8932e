package engine

import "errors"

// Engine errors
var (
	ErrAlreadyStarted = errors.New("engine already started")
	ErrNotStarted     = errors.New("engine not started")
	ErrReplayMismatch = errors.New("WAL replay diverged from recorded state")
	ErrWALWrite       = errors.New("WAL write failed")
)
