// Package messaging carries frames and unit events over NATS.
//
// Frames are high-rate and disposable, so they go over core NATS. Status
// events, alerts and system snapshots are persisted in a JetStream stream.
package messaging

import (
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

var (
	// ErrPayloadTooLarge is returned when an encoded message exceeds the
	// server's max payload
	ErrPayloadTooLarge = errors.New("payload exceeds max payload")

	// ErrNotConnected is returned when publishing on a closed connection
	ErrNotConnected = errors.New("not connected to NATS")
)

const connectAttempts = 5

// ConnConfig holds NATS connection settings
type ConnConfig struct {
	URL            string
	Name           string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
}

// Connect dials NATS with reconnect handling, retrying the initial connection
// with a linear backoff
func Connect(config ConnConfig, logger *zap.Logger) (*nats.Conn, error) {
	logger = logger.Named("nats")

	opts := []nats.Option{
		nats.Name(config.Name),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.Timeout(config.ConnectTimeout),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.ReconnectBufSize(8 * 1024 * 1024),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			logger.Error("NATS connection error",
				zap.String("subject", subject),
				zap.Error(err))
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}

	var nc *nats.Conn
	var err error
	for i := 0; i < connectAttempts; i++ {
		nc, err = nats.Connect(config.URL, opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", connectAttempts, err)
	}

	logger.Info("Connected to NATS", zap.String("url", nc.ConnectedUrl()))
	return nc, nil
}
