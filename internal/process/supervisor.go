// Package process runs the supervision tree inside a child OS process and
// offers graceful stop, force kill and exit code reporting around it.
package process

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	ps "github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/t77yq/camera-agents/internal/model"
)

const (
	DefaultStopTimeout = 10 * time.Second
	DefaultKillTimeout = 2 * time.Second
)

// Config describes the child process
type Config struct {
	Name string
	Path string
	Args []string
	// Env is appended to the parent's environment
	Env []string
	Dir string
	// StopTimeout is the grace period used by Shutdown before ForceKill
	StopTimeout time.Duration
	// KillTimeout bounds the wait after SIGKILL
	KillTimeout time.Duration
	Stdout      io.Writer
	Stderr      io.Writer
}

// ExitFunc receives the pid and exit code of a finished child. The code is -1
// when the child was terminated by a signal.
type ExitFunc func(pid int, exitCode int)

// Supervisor manages one child process at a time
type Supervisor struct {
	config Config
	logger *zap.Logger

	mu        sync.RWMutex
	cmd       *exec.Cmd
	status    model.ProcessStatus
	pid       int
	exitCode  int
	startedAt time.Time
	exited    chan struct{}
	onExit    ExitFunc
}

// NewSupervisor creates a process supervisor
func NewSupervisor(config Config, logger *zap.Logger) (*Supervisor, error) {
	if config.Path == "" {
		return nil, ErrNoCommand
	}
	if config.Name == "" {
		config.Name = config.Path
	}
	if config.StopTimeout <= 0 {
		config.StopTimeout = DefaultStopTimeout
	}
	if config.KillTimeout <= 0 {
		config.KillTimeout = DefaultKillTimeout
	}
	if config.Stdout == nil {
		config.Stdout = os.Stdout
	}
	if config.Stderr == nil {
		config.Stderr = os.Stderr
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Supervisor{
		config: config,
		logger: logger.Named("process").With(zap.String("process", config.Name)),
		status: model.ProcessStatusNotStarted,
	}, nil
}

// SetExitCallback registers the exit listener
func (s *Supervisor) SetExitCallback(fn ExitFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onExit = fn
}

// Start launches the child process
func (s *Supervisor) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.status {
	case model.ProcessStatusStarting, model.ProcessStatusRunning, model.ProcessStatusStopping:
		return ErrAlreadyRunning
	}

	cmd := exec.Command(s.config.Path, s.config.Args...)
	cmd.Env = append(os.Environ(), s.config.Env...)
	cmd.Dir = s.config.Dir
	cmd.Stdout = s.config.Stdout
	cmd.Stderr = s.config.Stderr

	s.status = model.ProcessStatusStarting
	if err := cmd.Start(); err != nil {
		s.status = model.ProcessStatusFailed
		s.logger.Error("Failed to start process", zap.Error(err))
		return fmt.Errorf("failed to start process: %w", err)
	}

	s.cmd = cmd
	s.pid = cmd.Process.Pid
	s.exitCode = 0
	s.startedAt = time.Now()
	s.exited = make(chan struct{})
	s.status = model.ProcessStatusRunning

	go s.reap(cmd, s.exited)

	s.logger.Info("Process started", zap.Int("pid", s.pid))
	return nil
}

// reap waits for the child and records how it ended
func (s *Supervisor) reap(cmd *exec.Cmd, exited chan struct{}) {
	err := cmd.Wait()

	code := -1
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}

	s.mu.Lock()
	pid := s.pid
	s.exitCode = code
	if code == 0 {
		s.status = model.ProcessStatusStopped
	} else {
		s.status = model.ProcessStatusCrashed
	}
	status := s.status
	fn := s.onExit
	s.mu.Unlock()

	close(exited)

	fields := []zap.Field{
		zap.Int("pid", pid),
		zap.Int("exit_code", code),
		zap.String("status", string(status)),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	if status == model.ProcessStatusCrashed {
		s.logger.Warn("Process exited abnormally", fields...)
	} else {
		s.logger.Info("Process exited", fields...)
	}

	if fn != nil {
		fn(pid, code)
	}
}

// Stop asks the child to terminate with SIGTERM. It does not wait.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status != model.ProcessStatusRunning && s.status != model.ProcessStatusStopping {
		return ErrNotRunning
	}

	s.status = model.ProcessStatusStopping
	if err := s.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		// exited after the status check; the reaper settles the status
		if errors.Is(err, os.ErrProcessDone) {
			return nil
		}
		return fmt.Errorf("failed to signal process: %w", err)
	}

	s.logger.Info("Sent SIGTERM to process", zap.Int("pid", s.pid))
	return nil
}

// WaitForExit blocks until the child exits or timeout elapses and reports
// whether it exited
func (s *Supervisor) WaitForExit(timeout time.Duration) bool {
	s.mu.RLock()
	exited := s.exited
	s.mu.RUnlock()

	if exited == nil {
		return true
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-exited:
		return true
	case <-timer.C:
		return false
	}
}

// ForceKill sends SIGKILL and waits up to KillTimeout for the child to be reaped
func (s *Supervisor) ForceKill() error {
	s.mu.RLock()
	cmd := s.cmd
	exited := s.exited
	pid := s.pid
	s.mu.RUnlock()

	if cmd == nil || exited == nil {
		return ErrNotRunning
	}

	select {
	case <-exited:
		return nil
	default:
	}

	s.logger.Warn("Force killing process", zap.Int("pid", pid))
	if err := cmd.Process.Kill(); err != nil {
		return fmt.Errorf("failed to kill process: %w", err)
	}

	if !s.WaitForExit(s.config.KillTimeout) {
		return fmt.Errorf("process %d not reaped after %s", pid, s.config.KillTimeout)
	}
	return nil
}

// Shutdown stops the child gracefully and falls back to ForceKill after
// StopTimeout
func (s *Supervisor) Shutdown() error {
	if err := s.Stop(); err != nil {
		if errors.Is(err, ErrNotRunning) {
			return nil
		}
		return err
	}

	if s.WaitForExit(s.config.StopTimeout) {
		return nil
	}

	s.logger.Warn("Process did not exit in time",
		zap.Duration("timeout", s.config.StopTimeout))
	return s.ForceKill()
}

// IsRunning reports whether the child is alive
func (s *Supervisor) IsRunning() bool {
	s.mu.RLock()
	status := s.status
	pid := s.pid
	s.mu.RUnlock()

	if status != model.ProcessStatusRunning && status != model.ProcessStatusStopping {
		return false
	}

	exists, err := ps.PidExists(int32(pid))
	if err != nil {
		s.logger.Debug("Failed to check process", zap.Error(err))
		return true
	}
	return exists
}

// Status returns the current process status
func (s *Supervisor) Status() model.ProcessStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// PID returns the pid of the current or last child
func (s *Supervisor) PID() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pid
}

// ExitCode returns the exit code of the last child
func (s *Supervisor) ExitCode() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exitCode
}

// Stats samples the child's resource usage
func (s *Supervisor) Stats() (model.ProcessStats, error) {
	if !s.IsRunning() {
		return model.ProcessStats{}, ErrNotRunning
	}

	s.mu.RLock()
	pid := s.pid
	startedAt := s.startedAt
	s.mu.RUnlock()

	proc, err := ps.NewProcess(int32(pid))
	if err != nil {
		return model.ProcessStats{}, fmt.Errorf("failed to inspect process: %w", err)
	}

	stats := model.ProcessStats{
		PID:         pid,
		Uptime:      time.Since(startedAt).Seconds(),
		CollectedAt: time.Now(),
	}

	if cpuPercent, err := proc.CPUPercent(); err == nil {
		stats.CPUPercent = cpuPercent
	}
	if memInfo, err := proc.MemoryInfo(); err == nil && memInfo != nil {
		stats.RSS = memInfo.RSS
	}
	if threads, err := proc.NumThreads(); err == nil {
		stats.NumThreads = threads
	}
	return stats, nil
}
