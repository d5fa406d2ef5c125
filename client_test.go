package main

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testClientConfig(backend BackendConfig) *Config {
	cfg := DefaultConfig()
	cfg.Backend = backend
	cfg.Poll.Interval = 20 * time.Millisecond
	cfg.Reconnect.InitialInterval = 10 * time.Millisecond
	cfg.Reconnect.MaxInterval = 50 * time.Millisecond
	return cfg
}

func offlineDevice() ClientOption {
	return WithDeviceDialer(&fakeDialer{err: errors.New("no route to host")})
}

func startClient(ctx context.Context, client *Client) <-chan error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- client.Run(ctx)
	}()
	return errCh
}

func TestClient_PublishesToBackend(t *testing.T) {
	backend := newTestBackend(t, nil)

	client, err := NewClient(testClientConfig(backend.config()), zap.NewNop(), offlineDevice())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := startClient(ctx, client)

	assert.Equal(t, DefaultGreeting, backend.next(t))

	report := backend.next(t)
	assert.True(t, strings.HasPrefix(report, "\n(0, 1): ReadRegisterResponse (1): [514]\n(1, 1): "), report)
	assert.Equal(t, 7, strings.Count(report, "ReadRegisterResponse"))

	// 第二份報表，沒有重複的問候
	assert.True(t, strings.HasPrefix(backend.next(t), "\n(0, 1): "))

	assert.Equal(t, ClientStateConnected, client.State())
	stats := client.Stats()
	assert.Equal(t, uint64(1), stats.Connections)
	assert.NotEmpty(t, stats.SessionID)

	cancel()
	assert.NoError(t, waitResult(t, errCh))
	assert.Equal(t, ClientStateStopped, client.State())
	assert.GreaterOrEqual(t, client.GatewayStats().MockReports.Load(), uint64(2))
}

func TestClient_HardwareReports(t *testing.T) {
	backend := newTestBackend(t, nil)

	session := referenceSession()
	client, err := NewClient(testClientConfig(backend.config()), zap.NewNop(),
		WithDeviceDialer(&fakeDialer{session: session}),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := startClient(ctx, client)

	backend.next(t)
	report := backend.next(t)
	assert.Contains(t, report, "(352, 12): ReadRegisterResponse (12): [20000, 20001, ")

	cancel()
	assert.NoError(t, waitResult(t, errCh))
	assert.GreaterOrEqual(t, client.GatewayStats().HardwareReports.Load(), uint64(1))
}

func TestClient_ReconnectsAfterBackendCloses(t *testing.T) {
	backend := newTestBackend(t, func(n int) bool { return n > 1 })

	client, err := NewClient(testClientConfig(backend.config()), zap.NewNop(), offlineDevice())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := startClient(ctx, client)

	// 第一條連線只收到問候就被關閉
	assert.Equal(t, DefaultGreeting, backend.next(t))

	// 重連後重新開始，先送問候
	var got string
	require.Eventually(t, func() bool {
		select {
		case got = <-backend.received:
			return got == DefaultGreeting
		default:
			return false
		}
	}, waitTimeout, 5*time.Millisecond)

	assert.True(t, strings.HasPrefix(backend.next(t), "\n(0, 1): "))
	assert.GreaterOrEqual(t, client.Stats().Connections, uint64(2))

	cancel()
	assert.NoError(t, waitResult(t, errCh))
}

func TestClient_NoReconnectReturnsError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	backend := DefaultConfig().Backend
	backend.Port = port
	backend.HandshakeTimeout = time.Second

	cfg := testClientConfig(backend)
	cfg.Reconnect.Enabled = false

	client, err := NewClient(cfg, zap.NewNop(), offlineDevice())
	require.NoError(t, err)

	err = waitResult(t, startClient(context.Background(), client))
	assert.Error(t, err)
	assert.Equal(t, uint64(0), client.Stats().Connections)
}

func TestClient_RetriesUntilCanceled(t *testing.T) {
	attempts := make(chan struct{}, 64)
	dial := func(ctx context.Context) (BackendConn, error) {
		attempts <- struct{}{}
		return nil, errors.New("connection refused")
	}

	client, err := NewClient(testClientConfig(DefaultConfig().Backend), zap.NewNop(),
		offlineDevice(),
		WithBackendDialer(dial),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := startClient(ctx, client)

	for i := 0; i < 3; i++ {
		select {
		case <-attempts:
		case <-time.After(waitTimeout):
			t.Fatal("等待重試逾時")
		}
	}
	assert.Equal(t, ClientStateConnecting, client.State())

	cancel()
	assert.NoError(t, waitResult(t, errCh))
	assert.GreaterOrEqual(t, client.Stats().Reconnects, uint64(2))
}

func TestClient_BacksOffWhenConnectionFailsImmediately(t *testing.T) {
	var dials atomic.Int32
	dial := func(ctx context.Context) (BackendConn, error) {
		dials.Add(1)
		conn := newFakeConn()
		conn.failSends(errors.New("broken pipe"))
		return conn, nil
	}

	cfg := testClientConfig(DefaultConfig().Backend)
	cfg.Reconnect.InitialInterval = 100 * time.Millisecond
	cfg.Reconnect.MaxInterval = time.Second

	client, err := NewClient(cfg, zap.NewNop(), offlineDevice(), WithBackendDialer(dial))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	assert.NoError(t, waitResult(t, startClient(ctx, client)))

	// 每次重連至少等待初始間隔的一半
	n := dials.Load()
	assert.GreaterOrEqual(t, n, int32(1))
	assert.LessOrEqual(t, n, int32(5), "dials: %d", n)
	assert.Equal(t, uint64(n), client.Stats().Connections)
	assert.Equal(t, uint64(0), client.GatewayStats().ReportsSent.Load())
}

func TestClient_FakeConnection(t *testing.T) {
	conn := newFakeConn()
	clock := newFakeClock(gatewayStart)

	client, err := NewClient(testClientConfig(DefaultConfig().Backend), zap.NewNop(),
		offlineDevice(),
		WithClientClock(clock),
		WithBackendDialer(func(ctx context.Context) (BackendConn, error) { return conn, nil }),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := startClient(ctx, client)

	assert.Equal(t, DefaultGreeting, recvSent(t, conn))
	recvSent(t, conn)
	assert.Equal(t, 20*time.Millisecond, waitArmed(t, clock))

	cancel()
	assert.NoError(t, waitResult(t, errCh))

	// 閘道結束後連線由客戶端關閉
	select {
	case <-conn.Done():
	default:
		t.Fatal("連線應已關閉")
	}
}

func TestClient_RunTwice(t *testing.T) {
	client, err := NewClient(testClientConfig(DefaultConfig().Backend), zap.NewNop(),
		offlineDevice(),
		WithBackendDialer(func(ctx context.Context) (BackendConn, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := startClient(ctx, client)

	require.Eventually(t, func() bool {
		return client.State() == ClientStateConnecting
	}, waitTimeout, 5*time.Millisecond)
	assert.Error(t, client.Run(context.Background()))

	cancel()
	assert.NoError(t, waitResult(t, errCh))
}

func TestNewClient_InvalidCatalog(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Poll.Registers = []RegisterDefinition{{Address: 0, Count: 0}}

	_, err := NewClient(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestClientState_String(t *testing.T) {
	assert.Equal(t, "stopped", ClientStateStopped.String())
	assert.Equal(t, "connecting", ClientStateConnecting.String())
	assert.Equal(t, "connected", ClientStateConnected.String())
	assert.Equal(t, "stopping", ClientStateStopping.String())
	assert.Equal(t, "unknown", ClientState(42).String())
}
