package agent

import "errors"

var (
	// ErrInitializeFailed wraps a failure returned by a behavior's Initialize
	ErrInitializeFailed = errors.New("unit initialization failed")

	// ErrSetupFailed wraps a failure returned by a behavior's Setup
	ErrSetupFailed = errors.New("unit setup failed")

	// ErrPanic wraps a recovered panic from a behavior phase
	ErrPanic = errors.New("unit panicked")
)
