package main

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/t77yq/camera-agents/internal/messaging"
	"github.com/t77yq/camera-agents/internal/process"
)

var watchInterval time.Duration

type frameCounter struct {
	mu     sync.Mutex
	counts map[int]int
	last   map[int]uint64
}

func (c *frameCounter) add(msg *messaging.FrameMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counts[msg.CameraID]++
	c.last[msg.CameraID] = msg.FrameNumber
}

// drain returns the counts since the previous call
func (c *frameCounter) drain() (map[int]int, map[int]uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	counts := c.counts
	last := make(map[int]uint64, len(c.last))
	for k, v := range c.last {
		last[k] = v
	}
	c.counts = make(map[int]int)
	return counts, last
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Subscribe to published frames and log per-camera rates",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requirePositive("interval", watchInterval); err != nil {
			return err
		}

		nc, err := messaging.Connect(connConfig(), logger)
		if err != nil {
			return err
		}
		defer nc.Close()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()
		process.SetActive(process.StopFunc(cancel))
		defer process.ClearActive()
		process.WatchSignals(ctx, logger)

		counter := &frameCounter{counts: make(map[int]int), last: make(map[int]uint64)}
		subject := cfg.NATS.FrameSubjectPrefix + ".>"
		if err := messaging.NewFrameSubscriber(nc, logger).Subscribe(ctx, subject, counter.add); err != nil {
			return err
		}
		logger.Info("Watching frames", zap.String("subject", subject))

		ticker := time.NewTicker(watchInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				counts, last := counter.drain()
				cameras := make([]int, 0, len(last))
				for camera := range last {
					cameras = append(cameras, camera)
				}
				sort.Ints(cameras)

				for _, camera := range cameras {
					logger.Info("Frame rate",
						zap.Int("camera", camera),
						zap.Float64("fps", float64(counts[camera])/watchInterval.Seconds()),
						zap.Uint64("last_frame", last[camera]))
				}
			}
		}
	},
}

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 5*time.Second, "rate reporting interval")
}
