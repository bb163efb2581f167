package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/t77yq/camera-agents/internal/process"
)

// exitCodeError carries a child's exit code out of the launch command
type exitCodeError int

func (e exitCodeError) Error() string {
	return fmt.Sprintf("child exited with code %d", int(e))
}

var statsInterval time.Duration

// requirePositive rejects intervals time.NewTicker would panic on
func requirePositive(flag string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("--%s must be positive, got %s", flag, d)
	}
	return nil
}

var launchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Run camerad in a supervised child process",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requirePositive("stats-interval", statsInterval); err != nil {
			return err
		}

		self, err := os.Executable()
		if err != nil {
			return fmt.Errorf("failed to resolve executable: %w", err)
		}

		childArgs := []string{"run"}
		if configPath != "" {
			childArgs = append(childArgs, "--config", configPath)
		}

		childCfg := process.Config{
			Name:        cfg.App.Name,
			Path:        self,
			Args:        childArgs,
			StopTimeout: cfg.Process.StopTimeout,
			KillTimeout: cfg.Process.KillTimeout,
		}

		if cfg.Process.LogDir != "" {
			logs, err := process.NewLogManager(process.LogConfig{
				Dir:         cfg.Process.LogDir,
				Name:        cfg.App.Name,
				MaxFileSize: cfg.Process.MaxLogSize,
				MaxAge:      cfg.Process.MaxLogAge,
			}, logger)
			if err != nil {
				return err
			}
			defer logs.Close()

			childCfg.Stdout = io.MultiWriter(os.Stdout, logs.Writer("stdout"))
			childCfg.Stderr = io.MultiWriter(os.Stderr, logs.Writer("stderr"))
			logger.Info("Capturing child output", zap.String("path", logs.Path()))
		}

		child, err := process.NewSupervisor(childCfg, logger)
		if err != nil {
			return err
		}

		exited := make(chan int, 1)
		child.SetExitCallback(func(pid, code int) {
			exited <- code
		})

		if err := child.Start(); err != nil {
			return err
		}

		process.SetActive(process.StopFunc(func() {
			if err := child.Shutdown(); err != nil {
				logger.Error("Failed to shut down child", zap.Error(err))
			}
		}))
		defer process.ClearActive()
		process.WatchSignals(cmd.Context(), logger)

		ticker := time.NewTicker(statsInterval)
		defer ticker.Stop()

		for {
			select {
			case code := <-exited:
				if code != 0 {
					return exitCodeError(code)
				}
				return nil
			case <-ticker.C:
				stats, err := child.Stats()
				if err != nil {
					logger.Debug("Failed to sample child", zap.Error(err))
					continue
				}
				logger.Info("Child stats",
					zap.Int("pid", stats.PID),
					zap.Float64("cpu_percent", stats.CPUPercent),
					zap.Uint64("rss", stats.RSS),
					zap.Int32("threads", stats.NumThreads),
					zap.Float64("uptime_seconds", stats.Uptime))
			}
		}
	},
}

func init() {
	launchCmd.Flags().DurationVar(&statsInterval, "stats-interval", 30*time.Second, "how often to log child resource usage")
}
