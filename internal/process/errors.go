package process

import "errors"

var (
	// ErrNoCommand is returned when no executable path is configured
	ErrNoCommand = errors.New("no command configured")

	// ErrAlreadyRunning is returned when Start is called on a live process
	ErrAlreadyRunning = errors.New("process already running")

	// ErrNotRunning is returned when a live process is required
	ErrNotRunning = errors.New("process not running")
)
