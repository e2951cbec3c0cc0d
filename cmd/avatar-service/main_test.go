package main

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/book-expert/avatar-service/internal/config"
	"github.com/book-expert/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freeAddr(t *testing.T) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	return addr
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()

	cfg := &config.Config{}
	cfg.ApplyDefaults()
	cfg.Server.ListenAddr = freeAddr(t)
	cfg.Paths.TempDir = t.TempDir()
	cfg.Paths.BaseLogsDir = t.TempDir()

	return cfg
}

func TestServe_NATSFailureLeavesNoListener(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	cfg.NATS.Enabled = true
	cfg.NATS.URL = "nats://" + freeAddr(t)

	log, err := logger.New(t.TempDir(), "avatar-service-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err = serve(ctx, cfg, log)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to connect to NATS")

	listener, listenErr := net.Listen("tcp", cfg.Server.ListenAddr)
	require.NoError(t, listenErr, "HTTP listen address must still be free")
	require.NoError(t, listener.Close())
}

func TestServe_StopsOnCancel(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)

	log, err := logger.New(t.TempDir(), "avatar-service-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = log.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() {
		done <- serve(ctx, cfg, log)
	}()

	require.Eventually(t, func() bool {
		conn, dialErr := net.Dial("tcp", cfg.Server.ListenAddr)
		if dialErr != nil {
			return false
		}

		_ = conn.Close()

		return true
	}, 5*time.Second, 20*time.Millisecond)

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(shutdownTimeout):
		t.Fatal("serve did not return after cancellation")
	}
}
