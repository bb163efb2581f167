package main

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/t77yq/camera-agents/internal/daemon"
	"github.com/t77yq/camera-agents/internal/messaging"
	"github.com/t77yq/camera-agents/internal/process"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the camera units in this process",
	RunE: func(cmd *cobra.Command, args []string) error {
		nc, err := messaging.Connect(connConfig(), logger)
		if err != nil {
			return err
		}
		defer nc.Close()

		d, err := daemon.New(cfg, nc, logger)
		if err != nil {
			return err
		}
		defer d.Close()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		process.SetActive(process.StopFunc(cancel))
		defer process.ClearActive()
		process.WatchSignals(ctx, logger)

		logger.Info("Starting camerad",
			zap.Int("cameras", len(cfg.Cameras)),
			zap.String("nats", nc.ConnectedUrl()))

		if err := d.Run(ctx); err != nil {
			return err
		}
		logger.Info("camerad stopped")
		return nil
	},
}

func connConfig() messaging.ConnConfig {
	return messaging.ConnConfig{
		URL:            cfg.NATS.URL,
		Name:           cfg.App.Name,
		MaxReconnects:  cfg.NATS.MaxReconnects,
		ReconnectWait:  cfg.NATS.ReconnectWait,
		ConnectTimeout: cfg.NATS.ConnectTimeout,
	}
}
