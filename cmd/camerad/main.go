package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/t77yq/camera-agents/internal/config"
)

var (
	configPath string

	cfg    *config.Config
	logger *zap.Logger

	rootCmd = &cobra.Command{
		Use:           "camerad",
		Short:         "Supervise camera capture and frame publishing units",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load(configPath)
			if err != nil {
				return err
			}
			logger, err = newLogger(cfg.App)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logger != nil {
				_ = logger.Sync()
			}
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default ./config/config.yaml)")

	rootCmd.AddCommand(runCmd, launchCmd, watchCmd, historyCmd)
}

func newLogger(app config.AppConfig) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if app.Development {
		zc = zap.NewDevelopmentConfig()
	}
	if app.LogLevel != "" {
		level, err := zap.ParseAtomicLevel(app.LogLevel)
		if err != nil {
			return nil, err
		}
		zc.Level = level
	}

	l, err := zc.Build()
	if err != nil {
		return nil, err
	}
	return l.With(zap.String("app", app.Name)), nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var exit exitCodeError
		if errors.As(err, &exit) {
			os.Exit(int(exit))
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
