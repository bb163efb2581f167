package supervisor

import "errors"

var (
	// ErrSetupFailed is returned when a unit fails its setup phase
	ErrSetupFailed = errors.New("unit setup failed")

	// ErrStartFailed is returned when a unit refuses to start
	ErrStartFailed = errors.New("unit start failed")

	// ErrDuplicateUnit is returned when a unit id is added twice
	ErrDuplicateUnit = errors.New("duplicate unit")

	// ErrAlreadyRunning is returned when the supervisor is started twice
	ErrAlreadyRunning = errors.New("supervisor already running")

	// ErrUnitFailed is returned by Run when supervision ended because a unit
	// failed and restart is disabled
	ErrUnitFailed = errors.New("unit failed with restart disabled")

	// ErrPreStartFailed is returned when the pre-start hook fails
	ErrPreStartFailed = errors.New("pre-start hook failed")
)
