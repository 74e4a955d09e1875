package dispatch

import "errors"

// Domain errors for the dispatch package.
var (
	// ErrAlreadyRunning is returned by Start when the worker is running.
	ErrAlreadyRunning = errors.New("dispatch: already running")

	// ErrTimeout is returned by QueryAT when no reply arrives in time.
	ErrTimeout = errors.New("dispatch: no reply before timeout")

	// ErrATStatus is returned when the local radio rejects an AT command.
	ErrATStatus = errors.New("dispatch: AT command rejected")

	// ErrSendFailed is returned when a message cannot be finalized for sending.
	ErrSendFailed = errors.New("dispatch: send failed")
)
