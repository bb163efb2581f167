package agent

import (
	"context"

	"go.uber.org/zap"
)

// Behavior is the per-kind logic plugged into a Unit.
//
// Setup runs on the caller's goroutine before any unit is started. Initialize,
// Execute and Cleanup run on the unit's own goroutine, in that order, once per
// Start. Cleanup runs after every run regardless of outcome.
type Behavior interface {
	Setup() error
	Initialize(ctx context.Context) error
	Execute(ctx context.Context, ctl Control) error
	Cleanup() error
}

// Control is the view of the unit available to a running Execute.
//
// Execute must poll ShouldStop (or watch ctx.Done) at every iteration
// boundary; stopping is cooperative.
type Control interface {
	ShouldStop() bool
	ShouldPause() bool
	// HandlePause blocks while the unit is paused and returns immediately
	// once stop is requested.
	HandlePause()
	// CheckTimeout moves the unit to Timeout when its configured timeout has
	// elapsed and reports whether that happened.
	CheckTimeout() bool
	IncrementIterations()
	IncrementErrors()
	Logger() *zap.Logger
}

// BehaviorFuncs adapts plain functions to Behavior. Nil fields are no-ops.
type BehaviorFuncs struct {
	SetupFunc      func() error
	InitializeFunc func(ctx context.Context) error
	ExecuteFunc    func(ctx context.Context, ctl Control) error
	CleanupFunc    func() error
}

func (b BehaviorFuncs) Setup() error {
	if b.SetupFunc == nil {
		return nil
	}
	return b.SetupFunc()
}

func (b BehaviorFuncs) Initialize(ctx context.Context) error {
	if b.InitializeFunc == nil {
		return nil
	}
	return b.InitializeFunc(ctx)
}

func (b BehaviorFuncs) Execute(ctx context.Context, ctl Control) error {
	if b.ExecuteFunc == nil {
		return nil
	}
	return b.ExecuteFunc(ctx, ctl)
}

func (b BehaviorFuncs) Cleanup() error {
	if b.CleanupFunc == nil {
		return nil
	}
	return b.CleanupFunc()
}
