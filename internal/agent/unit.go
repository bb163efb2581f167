// Package agent implements the lifecycle of a supervised unit of work.
//
// A Unit owns one goroutine per Start/Stop cycle and drives a Behavior
// through Initialize, Execute and Cleanup. Status transitions follow the
// table in model.UnitStatus and are guarded by a single mutex; stop and pause
// requests, and the performance counters, are atomics so the running
// goroutine can poll them without taking the lock.
package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/camera-agents/internal/model"
)

const (
	// NoTimeout disables the run timeout and makes WaitForCompletion block
	// until the unit's goroutine exits.
	NoTimeout time.Duration = 0

	pauseSlice = 10 * time.Millisecond
)

// StatusChangeFunc is notified after every status transition
type StatusChangeFunc func(event model.StatusEvent)

// ErrorFunc is notified when the unit reports an error
type ErrorFunc func(unitName string, err error)

// Unit is a schedulable unit of work with its own goroutine
type Unit struct {
	name     string
	id       string
	behavior Behavior
	logger   *zap.Logger

	mu        sync.Mutex
	status    model.UnitStatus
	priority  model.UnitPriority
	timeout   time.Duration
	startTime time.Time
	endTime   time.Time
	cancel    context.CancelFunc
	done      chan struct{}
	onStatus  StatusChangeFunc
	onError   ErrorFunc

	stopRequested  atomic.Bool
	pauseRequested atomic.Bool
	running        atomic.Bool
	iterations     atomic.Uint64
	errors         atomic.Uint64
}

// New creates a unit in the NotStarted state
func New(name string, behavior Behavior, logger *zap.Logger) *Unit {
	if logger == nil {
		logger = zap.NewNop()
	}

	u := &Unit{
		name:     name,
		id:       generateUnitID(name),
		behavior: behavior,
		status:   model.UnitStatusNotStarted,
		priority: model.UnitPriorityNormal,
	}
	u.logger = logger.Named("agent").With(
		zap.String("unit", name),
		zap.String("unit_id", u.id))

	u.logger.Info("Unit created")
	return u
}

// Name returns the human-readable unit name
func (u *Unit) Name() string {
	return u.name
}

// ID returns the generated unique unit id
func (u *Unit) ID() string {
	return u.id
}

// Logger returns the unit's logger
func (u *Unit) Logger() *zap.Logger {
	return u.logger
}

// Setup runs the behavior's Setup on the caller's goroutine
func (u *Unit) Setup() error {
	u.logger.Info("Setting up unit")
	if err := safeCall("setup", u.behavior.Setup); err != nil {
		u.reportError("Unit setup failed", err)
		return fmt.Errorf("%w: %s: %w", ErrSetupFailed, u.name, err)
	}
	return nil
}

// Start spawns the unit's goroutine. It returns false when the unit is already
// running or its previous goroutine has not exited yet. Starting a paused unit
// resumes it.
func (u *Unit) Start() bool {
	u.mu.Lock()
	switch {
	case u.status == model.UnitStatusRunning:
		u.mu.Unlock()
		u.logger.Warn("Unit already running")
		return false
	case u.status == model.UnitStatusPaused:
		u.mu.Unlock()
		u.Resume()
		return true
	case u.running.Load():
		status := u.status
		u.mu.Unlock()
		u.logger.Warn("Unit goroutine still active, not starting",
			zap.String("status", string(status)))
		return false
	}

	u.stopRequested.Store(false)
	u.pauseRequested.Store(false)
	u.iterations.Store(0)
	u.errors.Store(0)

	// Initializing is entered here rather than on the new goroutine so that a
	// Stop racing this Start always finds a live run to join.
	event, ok := u.setStatusLocked(model.UnitStatusInitializing, "")
	if !ok {
		u.mu.Unlock()
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	u.cancel = cancel
	u.done = done
	u.startTime = time.Now()
	u.endTime = time.Time{}
	u.running.Store(true)
	u.mu.Unlock()

	u.notify(event)

	go u.run(ctx, cancel, done)

	u.logger.Info("Unit started", zap.String("priority", u.Priority().String()))
	return true
}

// Stop requests cooperative cancellation and blocks until the unit's
// goroutine exits. It is a no-op for units that never started or already
// finished. Stop must not be called from the unit's own Execute.
func (u *Unit) Stop() {
	u.mu.Lock()
	status := u.status
	cancel := u.cancel
	done := u.done

	if status == model.UnitStatusNotStarted || status.IsTerminal() {
		u.mu.Unlock()
		// A terminal status can be set while Execute is still unwinding.
		if u.running.Load() && done != nil {
			u.stopRequested.Store(true)
			u.pauseRequested.Store(false)
			cancel()
			<-done
		}
		return
	}

	var event model.StatusEvent
	changed := false
	if status != model.UnitStatusStopping {
		event, changed = u.setStatusLocked(model.UnitStatusStopping, "stop requested")
	}
	u.stopRequested.Store(true)
	u.pauseRequested.Store(false)
	u.mu.Unlock()

	if changed {
		u.notify(event)
	}

	u.logger.Info("Stopping unit")
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	u.logger.Info("Unit stopped", zap.String("status", string(u.Status())))
}

// Pause moves a running unit to Paused. Execute observes it via HandlePause.
func (u *Unit) Pause() {
	u.mu.Lock()
	if u.status != model.UnitStatusRunning {
		u.mu.Unlock()
		return
	}
	event, ok := u.setStatusLocked(model.UnitStatusPaused, "pause requested")
	if ok {
		u.pauseRequested.Store(true)
	}
	u.mu.Unlock()

	if ok {
		u.notify(event)
		u.logger.Info("Unit paused")
	}
}

// Resume moves a paused unit back to Running
func (u *Unit) Resume() {
	u.mu.Lock()
	if u.status != model.UnitStatusPaused {
		u.mu.Unlock()
		return
	}
	event, ok := u.setStatusLocked(model.UnitStatusRunning, "resume requested")
	if ok {
		u.pauseRequested.Store(false)
	}
	u.mu.Unlock()

	if ok {
		u.notify(event)
		u.logger.Info("Unit resumed")
	}
}

// WaitForCompletion blocks until the unit's goroutine exits or timeout
// elapses, and reports whether it exited. NoTimeout waits indefinitely.
func (u *Unit) WaitForCompletion(timeout time.Duration) bool {
	u.mu.Lock()
	done := u.done
	u.mu.Unlock()

	if done == nil {
		return true
	}
	if timeout <= NoTimeout {
		<-done
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}

// Close stops the unit and waits for its goroutine. Call it before dropping
// the last reference to a unit.
func (u *Unit) Close() {
	u.Stop()
	u.WaitForCompletion(NoTimeout)
	u.logger.Info("Unit destroyed")
}

// Status returns the current status
func (u *Unit) Status() model.UnitStatus {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.status
}

// IsRunning reports whether the unit's goroutine is alive
func (u *Unit) IsRunning() bool {
	return u.running.Load()
}

// ShouldStop reports whether stop has been requested
func (u *Unit) ShouldStop() bool {
	return u.stopRequested.Load()
}

// ShouldPause reports whether pause has been requested
func (u *Unit) ShouldPause() bool {
	return u.pauseRequested.Load()
}

// HandlePause sleeps in short slices while paused. It returns as soon as
// either resume or stop is requested.
func (u *Unit) HandlePause() {
	for u.pauseRequested.Load() && !u.stopRequested.Load() {
		time.Sleep(pauseSlice)
	}
}

// CheckTimeout compares the time since Start against the configured timeout.
// On expiry the unit moves to Timeout and CheckTimeout returns true.
func (u *Unit) CheckTimeout() bool {
	u.mu.Lock()
	if u.status == model.UnitStatusTimeout {
		u.mu.Unlock()
		return true
	}
	timeout := u.timeout
	if timeout <= NoTimeout || time.Since(u.startTime) <= timeout {
		u.mu.Unlock()
		return false
	}
	event, ok := u.setStatusLocked(model.UnitStatusTimeout, "timeout exceeded")
	u.mu.Unlock()

	if !ok {
		return false
	}
	u.notify(event)
	u.reportError("Unit timeout exceeded", fmt.Errorf("timeout of %s exceeded", timeout))
	return true
}

// IncrementIterations counts one completed iteration of Execute
func (u *Unit) IncrementIterations() {
	u.iterations.Add(1)
}

// IncrementErrors counts one recoverable error inside Execute
func (u *Unit) IncrementErrors() {
	u.errors.Add(1)
}

// Iterations returns the iterations completed since the last Start
func (u *Unit) Iterations() uint64 {
	return u.iterations.Load()
}

// Errors returns the errors counted since the last Start
func (u *Unit) Errors() uint64 {
	return u.errors.Load()
}

// Priority returns the advisory priority
func (u *Unit) Priority() model.UnitPriority {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.priority
}

// SetPriority changes the advisory priority
func (u *Unit) SetPriority(priority model.UnitPriority) {
	u.mu.Lock()
	u.priority = priority
	u.mu.Unlock()
	u.logger.Info("Unit priority changed", zap.String("priority", priority.String()))
}

// SetTimeout sets the run timeout checked by CheckTimeout. NoTimeout disables it.
func (u *Unit) SetTimeout(timeout time.Duration) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.timeout = timeout
}

// SetStatusChangeCallback registers a best-effort status transition listener
func (u *Unit) SetStatusChangeCallback(fn StatusChangeFunc) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.onStatus = fn
}

// SetErrorCallback registers a best-effort error listener
func (u *Unit) SetErrorCallback(fn ErrorFunc) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.onError = fn
}

// Runtime returns the duration of the current or last run
func (u *Unit) Runtime() time.Duration {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.runtimeLocked()
}

// IterationsPerSecond returns the iteration rate of the current or last run
func (u *Unit) IterationsPerSecond() float64 {
	runtime := u.Runtime()
	if runtime <= 0 {
		return 0
	}
	return float64(u.iterations.Load()) / runtime.Seconds()
}

// Stats returns a snapshot of the unit
func (u *Unit) Stats() model.UnitStats {
	u.mu.Lock()
	stats := model.UnitStats{
		ID:        u.id,
		Name:      u.name,
		Status:    u.status,
		Priority:  u.priority,
		Running:   u.running.Load(),
		Runtime:   u.runtimeLocked(),
		StartedAt: u.startTime,
		EndedAt:   u.endTime,
	}
	u.mu.Unlock()

	stats.Iterations = u.iterations.Load()
	stats.Errors = u.errors.Load()
	if stats.Runtime > 0 {
		stats.IterationsPerSecond = float64(stats.Iterations) / stats.Runtime.Seconds()
	}
	return stats
}

func (u *Unit) runtimeLocked() time.Duration {
	if u.startTime.IsZero() {
		return 0
	}
	if u.running.Load() || u.endTime.IsZero() {
		return time.Since(u.startTime)
	}
	return u.endTime.Sub(u.startTime)
}

// run is the body of the unit's goroutine
func (u *Unit) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer close(done)
	defer u.running.Store(false)
	defer cancel()

	u.lifecycle(ctx)

	if err := safeCall("cleanup", u.behavior.Cleanup); err != nil {
		u.reportError("Unit cleanup failed", err)
	}

	u.mu.Lock()
	u.endTime = time.Now()
	runtime := u.endTime.Sub(u.startTime)
	status := u.status
	u.mu.Unlock()

	u.logger.Info("Unit execution completed",
		zap.String("status", string(status)),
		zap.Duration("runtime", runtime),
		zap.Uint64("iterations", u.iterations.Load()),
		zap.Uint64("errors", u.errors.Load()))
}

func (u *Unit) lifecycle(ctx context.Context) {
	err := safeCall("initialize", func() error {
		return u.behavior.Initialize(ctx)
	})
	if err != nil {
		u.errors.Add(1)
		u.reportError("Unit initialization failed", err)
		u.finish(model.UnitStatusFailed, fmt.Errorf("%w: %w", ErrInitializeFailed, err).Error())
		return
	}

	if !u.transition(model.UnitStatusInitializing, model.UnitStatusRunning) {
		// Stop arrived while initializing.
		u.finish(model.UnitStatusCompleted, "stopped before execution")
		return
	}

	err = safeCall("execute", func() error {
		return u.behavior.Execute(ctx, u)
	})
	if err != nil {
		u.errors.Add(1)
		u.reportError("Unit execution failed", err)
		u.finish(model.UnitStatusFailed, err.Error())
		return
	}

	u.finish(model.UnitStatusCompleted, "")
}

// transition moves from one status to another only if the unit is still in from
func (u *Unit) transition(from, to model.UnitStatus) bool {
	u.mu.Lock()
	if u.status != from {
		u.mu.Unlock()
		return false
	}
	event, ok := u.setStatusLocked(to, "")
	u.mu.Unlock()

	if ok {
		u.notify(event)
	}
	return ok
}

// finish settles the terminal status of a run. Timeout is never overwritten.
func (u *Unit) finish(target model.UnitStatus, message string) {
	var events []model.StatusEvent

	u.mu.Lock()
	switch u.status {
	case model.UnitStatusTimeout, target:
	case model.UnitStatusPaused:
		if target == model.UnitStatusCompleted {
			if event, ok := u.setStatusLocked(model.UnitStatusStopping, "execution ended while paused"); ok {
				events = append(events, event)
			}
		}
		if event, ok := u.setStatusLocked(target, message); ok {
			events = append(events, event)
		}
	default:
		if event, ok := u.setStatusLocked(target, message); ok {
			events = append(events, event)
		}
	}
	u.mu.Unlock()

	for _, event := range events {
		u.notify(event)
	}
}

// setStatusLocked applies a legal transition. Callers hold u.mu and must
// deliver the returned event with notify after unlocking.
func (u *Unit) setStatusLocked(next model.UnitStatus, message string) (model.StatusEvent, bool) {
	prev := u.status
	if prev == next {
		return model.StatusEvent{}, false
	}
	if !prev.CanTransitionTo(next) {
		u.logger.Warn("Rejected illegal status transition",
			zap.String("from", string(prev)),
			zap.String("to", string(next)))
		return model.StatusEvent{}, false
	}

	u.status = next
	return model.StatusEvent{
		UnitID:   u.id,
		UnitName: u.name,
		From:     prev,
		To:       next,
		Message:  message,
		At:       time.Now(),
	}, true
}

func (u *Unit) notify(event model.StatusEvent) {
	u.logger.Info("Status changed",
		zap.String("from", string(event.From)),
		zap.String("to", string(event.To)))

	u.mu.Lock()
	fn := u.onStatus
	u.mu.Unlock()

	if fn != nil {
		fn(event)
	}
}

func (u *Unit) reportError(message string, err error) {
	u.logger.Error(message, zap.Error(err))

	u.mu.Lock()
	fn := u.onError
	u.mu.Unlock()

	if fn != nil {
		fn(u.name, err)
	}
}

// safeCall runs fn and converts a panic into an error
func safeCall(phase string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w during %s: %v", ErrPanic, phase, r)
		}
	}()
	return fn()
}

// generateUnitID returns name_YYYYmmdd_HHMMSS_<random>
func generateUnitID(name string) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
	return fmt.Sprintf("%s_%s_%s",
		strings.ReplaceAll(name, " ", "_"),
		time.Now().Format("20060102_150405"),
		suffix)
}
