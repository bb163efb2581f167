// Package supervisor owns a set of units, brings them up in sequence and keeps
// them alive with a polling restart policy.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/camera-agents/internal/model"
)

const (
	DefaultCheckInterval = time.Second
	DefaultStopTimeout   = 5 * time.Second

	// a restarted unit seen alive this many ticks in a row has its attempt
	// counter reset
	healthyTicksToReset = 2
)

// Managed is the lifecycle surface the supervisor drives. *agent.Unit
// implements it.
type Managed interface {
	ID() string
	Name() string
	Setup() error
	Start() bool
	Stop()
	WaitForCompletion(timeout time.Duration) bool
	IsRunning() bool
	Status() model.UnitStatus
	Stats() model.UnitStats
}

// Config controls the monitoring loop
type Config struct {
	// RestartFailed restarts units observed not running. When false, the
	// first such unit ends supervision.
	RestartFailed bool
	CheckInterval time.Duration
	// StopTimeout bounds the wait for each unit in StopAll
	StopTimeout time.Duration
	// Backoff delays repeated restarts of the same unit. Nil restarts at
	// every check interval.
	Backoff RestartPolicy
}

// Hooks are optional callbacks invoked at fixed points of Run
type Hooks struct {
	PreStart     func() error
	PostStart    func()
	OnUnitFailed func(unit Managed, attempt int)
	MonitorTick  func()
	PreStop      func()
}

type restartState struct {
	attempts     int
	lastAttempt  time.Time
	healthyTicks int
}

// Supervisor manages the lifecycle of a set of units
type Supervisor struct {
	name   string
	config Config
	hooks  Hooks
	logger *zap.Logger

	mu       sync.RWMutex
	units    []Managed
	restarts map[string]*restartState
	status   model.UnitStatus
	cancel   context.CancelFunc
	done     chan struct{}
	err      error
}

// New creates a supervisor. Zero durations in config take the defaults.
func New(name string, config Config, hooks Hooks, logger *zap.Logger) *Supervisor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.CheckInterval <= 0 {
		config.CheckInterval = DefaultCheckInterval
	}
	if config.StopTimeout <= 0 {
		config.StopTimeout = DefaultStopTimeout
	}

	return &Supervisor{
		name:     name,
		config:   config,
		hooks:    hooks,
		logger:   logger.Named("supervisor").With(zap.String("supervisor", name)),
		restarts: make(map[string]*restartState),
		status:   model.UnitStatusNotStarted,
	}
}

// Name returns the supervisor name
func (s *Supervisor) Name() string {
	return s.name
}

// Status returns the supervisor's own lifecycle status
func (s *Supervisor) Status() model.UnitStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// AddUnit appends a unit to the managed set
func (s *Supervisor) AddUnit(unit Managed) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.units {
		if existing.ID() == unit.ID() {
			return fmt.Errorf("%w: %s", ErrDuplicateUnit, unit.ID())
		}
	}
	s.units = append(s.units, unit)

	s.logger.Info("Unit added",
		zap.String("unit", unit.Name()),
		zap.String("unit_id", unit.ID()),
		zap.Int("total", len(s.units)))
	return nil
}

// RemoveUnit drops a unit from the managed set. It does not stop the unit and
// reports whether the id was present.
func (s *Supervisor) RemoveUnit(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, unit := range s.units {
		if unit.ID() != id {
			continue
		}
		s.units = append(s.units[:i], s.units[i+1:]...)
		delete(s.restarts, id)
		s.logger.Info("Unit removed",
			zap.String("unit", unit.Name()),
			zap.String("unit_id", id))
		return true
	}
	return false
}

// Units returns the managed units in insertion order
func (s *Supervisor) Units() []Managed {
	s.mu.RLock()
	defer s.mu.RUnlock()

	units := make([]Managed, len(s.units))
	copy(units, s.units)
	return units
}

// Stats returns a snapshot of every managed unit
func (s *Supervisor) Stats() []model.UnitStats {
	units := s.Units()
	stats := make([]model.UnitStats, 0, len(units))
	for _, unit := range units {
		stats = append(stats, unit.Stats())
	}
	return stats
}

// SetupAll runs Setup on every unit in order and stops at the first failure.
// Already configured units are left as they are.
func (s *Supervisor) SetupAll() error {
	s.logger.Info("Setting up units")
	for _, unit := range s.Units() {
		if err := unit.Setup(); err != nil {
			s.logger.Error("Unit setup failed",
				zap.String("unit", unit.Name()),
				zap.Error(err))
			return fmt.Errorf("%w: %s: %w", ErrSetupFailed, unit.Name(), err)
		}
	}
	return nil
}

// StartAll starts every unit in order and stops at the first refusal.
// Previously started units keep running; Run stops them on failure.
func (s *Supervisor) StartAll() error {
	s.logger.Info("Starting units")
	for _, unit := range s.Units() {
		if !unit.Start() {
			s.logger.Error("Unit failed to start",
				zap.String("unit", unit.Name()),
				zap.String("status", string(unit.Status())))
			return fmt.Errorf("%w: %s", ErrStartFailed, unit.Name())
		}
	}
	return nil
}

// StopAll stops every unit and waits up to StopTimeout for each. A unit that
// does not finish in time is logged and left to exit on its own.
func (s *Supervisor) StopAll() {
	s.logger.Info("Stopping units")
	for _, unit := range s.Units() {
		stopped := make(chan struct{})
		go func(unit Managed) {
			defer close(stopped)
			unit.Stop()
		}(unit)

		timer := time.NewTimer(s.config.StopTimeout)
		select {
		case <-stopped:
		case <-timer.C:
			s.logger.Warn("Unit did not stop within timeout",
				zap.String("unit", unit.Name()),
				zap.Duration("timeout", s.config.StopTimeout))
		}
		timer.Stop()
	}
}

// AreAllRunning reports whether every unit's goroutine is alive
func (s *Supervisor) AreAllRunning() bool {
	for _, unit := range s.Units() {
		if !unit.IsRunning() {
			return false
		}
	}
	return true
}

// RestartFailed restarts every unit observed not running, subject to the
// configured backoff, and returns how many were restarted.
func (s *Supervisor) RestartFailed() int {
	restarted := 0
	now := time.Now()

	for _, unit := range s.Units() {
		if unit.IsRunning() {
			continue
		}

		attempt, ok := s.nextAttempt(unit.ID(), now)
		if !ok {
			continue
		}

		s.logger.Warn("Restarting failed unit",
			zap.String("unit", unit.Name()),
			zap.String("unit_id", unit.ID()),
			zap.String("status", string(unit.Status())),
			zap.Int("attempt", attempt))

		if s.hooks.OnUnitFailed != nil {
			s.hooks.OnUnitFailed(unit, attempt)
		}

		if !unit.Start() {
			s.logger.Error("Failed to restart unit",
				zap.String("unit", unit.Name()))
			continue
		}
		restarted++
	}
	return restarted
}

// nextAttempt records a restart attempt unless the backoff delay has not
// elapsed yet
func (s *Supervisor) nextAttempt(id string, now time.Time) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.restarts[id]
	if !ok {
		state = &restartState{}
		s.restarts[id] = state
	}

	if s.config.Backoff != nil && state.attempts > 0 {
		delay := s.config.Backoff.Delay(state.attempts)
		if now.Sub(state.lastAttempt) < delay {
			return 0, false
		}
	}

	state.attempts++
	state.lastAttempt = now
	state.healthyTicks = 0
	return state.attempts, true
}

// trackHealth resets the attempt counter of units that stayed up
func (s *Supervisor) trackHealth() {
	units := s.Units()

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, unit := range units {
		state, ok := s.restarts[unit.ID()]
		if !ok || state.attempts == 0 {
			continue
		}
		if !unit.IsRunning() {
			state.healthyTicks = 0
			continue
		}
		state.healthyTicks++
		if state.healthyTicks >= healthyTicksToReset {
			s.logger.Info("Unit recovered",
				zap.String("unit", unit.Name()),
				zap.Int("attempts", state.attempts))
			state.attempts = 0
			state.healthyTicks = 0
		}
	}
}

// RestartAttempts returns the current restart attempt count for a unit
func (s *Supervisor) RestartAttempts(id string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if state, ok := s.restarts[id]; ok {
		return state.attempts
	}
	return 0
}

// Run executes the full supervision sequence on the caller's goroutine:
// pre-start hook, SetupAll, StartAll, post-start hook, the monitoring loop
// until ctx is done, then pre-stop hook and StopAll.
func (s *Supervisor) Run(ctx context.Context) error {
	s.setStatus(model.UnitStatusInitializing)
	s.logger.Info("Supervisor starting", zap.Int("units", len(s.Units())))

	if s.hooks.PreStart != nil {
		if err := s.hooks.PreStart(); err != nil {
			s.setStatus(model.UnitStatusFailed)
			return fmt.Errorf("%w: %w", ErrPreStartFailed, err)
		}
	}

	if err := s.SetupAll(); err != nil {
		s.setStatus(model.UnitStatusFailed)
		return err
	}

	if err := s.StartAll(); err != nil {
		s.StopAll()
		s.setStatus(model.UnitStatusFailed)
		return err
	}

	s.setStatus(model.UnitStatusRunning)
	if s.hooks.PostStart != nil {
		s.hooks.PostStart()
	}

	runErr := s.monitor(ctx)

	s.setStatus(model.UnitStatusStopping)
	if s.hooks.PreStop != nil {
		s.hooks.PreStop()
	}
	s.StopAll()

	if runErr != nil {
		s.setStatus(model.UnitStatusFailed)
		return runErr
	}
	s.setStatus(model.UnitStatusCompleted)
	s.logger.Info("Supervisor stopped")
	return nil
}

func (s *Supervisor) monitor(ctx context.Context) error {
	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if s.AreAllRunning() {
			s.trackHealth()
		} else {
			if !s.config.RestartFailed {
				s.logger.Error("Some units failed and restart is disabled, stopping all units")
				return ErrUnitFailed
			}
			s.RestartFailed()
			s.trackHealth()
		}

		if s.hooks.MonitorTick != nil {
			s.hooks.MonitorTick()
		}
	}
}

// Start runs the supervisor on its own goroutine
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	s.err = nil
	s.mu.Unlock()

	go func() {
		defer close(done)
		err := s.Run(ctx)
		if err != nil {
			s.logger.Error("Supervisor ended with error", zap.Error(err))
		}

		s.mu.Lock()
		s.err = err
		s.cancel = nil
		s.mu.Unlock()
		cancel()
	}()
	return nil
}

// Stop cancels a supervisor started with Start and waits for it to finish
func (s *Supervisor) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Done is closed when a supervisor started with Start has finished
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.done
}

// Err returns the result of the last Run started with Start
func (s *Supervisor) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func (s *Supervisor) setStatus(status model.UnitStatus) {
	s.mu.Lock()
	prev := s.status
	s.status = status
	s.mu.Unlock()

	if prev != status {
		s.logger.Info("Supervisor status changed",
			zap.String("from", string(prev)),
			zap.String("to", string(status)))
	}
}
