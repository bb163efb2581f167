package testutil

import (
	"fmt"
	"testing"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/require"
)

// RunServer creates a NATS server on a random local port
func RunServer() (*server.Server, error) {
	opts := &server.Options{
		Host:           "127.0.0.1",
		Port:           server.RANDOM_PORT,
		NoLog:          true,
		NoSigs:         true,
		MaxControlLine: 256,
	}

	return server.NewServer(opts)
}

// StartNATS starts a plain NATS server and returns a connection to it
func StartNATS(t *testing.T) (*server.Server, *nats.Conn) {
	t.Helper()

	s, err := RunServer()
	require.NoError(t, err)

	go s.Start()
	if !s.ReadyForConnections(10 * time.Second) {
		t.Fatal("Unable to start NATS server")
	}

	nc, err := nats.Connect(s.ClientURL(), nats.Timeout(5*time.Second))
	require.NoError(t, err)

	t.Cleanup(func() {
		nc.Close()
		s.Shutdown()
	})
	return s, nc
}

// StartJetStream starts a NATS server with JetStream enabled and returns a
// connection and JetStream context. Everything is torn down with the test.
func StartJetStream(t *testing.T) (*server.Server, *nats.Conn, nats.JetStreamContext) {
	t.Helper()

	s, err := RunServer()
	require.NoError(t, err)
	err = s.EnableJetStream(&server.JetStreamConfig{
		StoreDir: t.TempDir(),
	})
	require.NoError(t, err)

	go s.Start()
	if !s.ReadyForConnections(10 * time.Second) {
		t.Fatal("Unable to start NATS server")
	}

	nc, err := nats.Connect(s.ClientURL(), nats.Timeout(5*time.Second))
	require.NoError(t, err)

	t.Cleanup(func() {
		nc.Close()
		s.Shutdown()
	})

	js, err := nc.JetStream(nats.MaxWait(jetStreamWait))
	require.NoError(t, err)
	require.NoError(t, WaitForJetStream(js, jetStreamWait), "JetStream did not become ready")
	return s, nc, js
}

// jetStreamWait bounds JetStream API calls in tests; loaded CI machines
// running packages in parallel under -race need more than the default
const jetStreamWait = 30 * time.Second

// WaitForJetStream polls the account API until the JetStream subsystem
// answers. Client connections are accepted before it is ready.
func WaitForJetStream(js nats.JetStreamContext, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		_, err := js.AccountInfo(nats.MaxWait(time.Second))
		if err == nil {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("jetstream not ready after %s: %w", timeout, err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// WaitForStream waits for a stream to be created
func WaitForStream(t *testing.T, js nats.JetStreamContext, name string, timeout time.Duration) error {
	t.Helper()

	start := time.Now()
	for time.Since(start) < timeout {
		_, err := js.StreamInfo(name)
		if err == nil {
			return nil
		}
		if err != nats.ErrStreamNotFound {
			return err
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for stream %s", name)
}

// FetchStreamMessages reads every message currently stored for subject with
// an ephemeral pull consumer
func FetchStreamMessages(t *testing.T, js nats.JetStreamContext, subject string, want int) []*nats.Msg {
	t.Helper()

	sub, err := js.PullSubscribe(subject, "", nats.DeliverAll())
	require.NoError(t, err)
	defer sub.Unsubscribe()

	var msgs []*nats.Msg
	deadline := time.Now().Add(5 * time.Second)
	for len(msgs) < want && time.Now().Before(deadline) {
		batch, err := sub.Fetch(want-len(msgs), nats.MaxWait(500*time.Millisecond))
		if err != nil && err != nats.ErrTimeout {
			require.NoError(t, err)
		}
		for _, msg := range batch {
			_ = msg.Ack()
			msgs = append(msgs, msg)
		}
	}
	return msgs
}
