package process

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"
)

// Stopper is anything a termination signal can stop
type Stopper interface {
	Stop()
}

// StopFunc adapts a function to Stopper
type StopFunc func()

func (f StopFunc) Stop() { f() }

// The active slot is the only process-wide mutable state. It is set once at
// process entry and cleared on shutdown so signal delivery can reach the
// running supervisor.
var (
	activeMu sync.Mutex
	active   Stopper
)

// SetActive installs the stopper that termination signals are delivered to
func SetActive(s Stopper) {
	activeMu.Lock()
	defer activeMu.Unlock()
	active = s
}

// ClearActive empties the slot
func ClearActive() {
	SetActive(nil)
}

// Active returns the installed stopper, or nil
func Active() Stopper {
	activeMu.Lock()
	defer activeMu.Unlock()
	return active
}

// WatchSignals registers for SIGINT, SIGTERM and SIGUSR1 and forwards the
// first termination signal to the active stopper. Registration is complete
// when WatchSignals returns; watching ends with ctx.
func WatchSignals(ctx context.Context, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("signals")

	sigCh := make(chan os.Signal, 4)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)

	go func() {
		defer signal.Stop(sigCh)

		var once sync.Once
		for {
			select {
			case <-ctx.Done():
				return
			case sig := <-sigCh:
				if sig == syscall.SIGUSR1 {
					logger.Info("Received SIGUSR1")
					continue
				}

				stopper := Active()
				if stopper == nil {
					logger.Warn("Received signal with no active stopper", zap.String("signal", sig.String()))
					continue
				}

				delivered := false
				once.Do(func() {
					delivered = true
					logger.Info("Received signal, stopping", zap.String("signal", sig.String()))
					go stopper.Stop()
				})
				if !delivered {
					logger.Info("Shutdown already in progress", zap.String("signal", sig.String()))
				}
			}
		}
	}()
}
