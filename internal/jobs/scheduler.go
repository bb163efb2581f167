// Package jobs runs periodic housekeeping on cron expressions with seconds.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var (
	ErrDuplicateJob = errors.New("job already registered")
	ErrJobNotFound  = errors.New("job not found")
)

// Func is the body of a job. ctx is cancelled when the scheduler stops.
type Func func(ctx context.Context) error

// Entry describes a registered job
type Entry struct {
	Name       string
	Expression string
	Next       time.Time
	Prev       time.Time
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Scheduler owns a cron runner and the jobs registered on it
type Scheduler struct {
	logger *zap.Logger
	cron   *cron.Cron

	mu      sync.Mutex
	entries map[string]registered
	ctx     context.Context
	cancel  context.CancelFunc
}

type registered struct {
	id         cron.EntryID
	expression string
}

// NewScheduler creates a scheduler. Jobs may be added before or after Start.
func NewScheduler(logger *zap.Logger) *Scheduler {
	cronLogger := &cronLogger{logger: logger.Named("cron")}
	cronOptions := []cron.Option{
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		cron.WithLogger(cronLogger),
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger:  logger.Named("jobs"),
		cron:    cron.New(cronOptions...),
		entries: make(map[string]registered),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add registers fn under name on the given cron expression
func (s *Scheduler) Add(name, expression string, fn Func) error {
	if _, err := parser.Parse(expression); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expression, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, name)
	}

	id, err := s.cron.AddFunc(expression, func() {
		s.run(name, fn)
	})
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}
	s.entries[name] = registered{id: id, expression: expression}

	s.logger.Info("Added job",
		zap.String("name", name),
		zap.String("expression", expression))
	return nil
}

// Remove unregisters a job
func (s *Scheduler) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	s.cron.Remove(entry.id)
	delete(s.entries, name)

	s.logger.Info("Removed job", zap.String("name", name))
	return nil
}

// Entries returns the registered jobs ordered by name
func (s *Scheduler) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.entries))
	for name, reg := range s.entries {
		e := s.cron.Entry(reg.id)
		out = append(out, Entry{
			Name:       name,
			Expression: reg.expression,
			Next:       e.Next,
			Prev:       e.Prev,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start starts the cron runner
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Job scheduler started")
}

// Stop cancels running jobs and waits for them to return
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("Job scheduler stopped")
}

// RunNow executes a registered job synchronously
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	reg, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}

	s.cron.Entry(reg.id).WrappedJob.Run()
	return nil
}

func (s *Scheduler) run(name string, fn Func) {
	start := time.Now()
	if err := fn(s.ctx); err != nil {
		s.logger.Error("Job failed",
			zap.String("name", name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return
	}
	s.logger.Debug("Job completed",
		zap.String("name", name),
		zap.Duration("duration", time.Since(start)))
}
