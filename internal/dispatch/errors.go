package dispatch

import "errors"

var (
	ErrNotStarted   = errors.New("dispatcher not started")
	ErrStopped      = errors.New("dispatcher stopped")
	ErrStopping     = errors.New("dispatcher stopping")
	ErrSealed       = errors.New("dispatcher sealed")
	ErrUnknownChore = errors.New("unknown chore kind")
)
