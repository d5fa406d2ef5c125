package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ClientState 後端客戶端狀態
type ClientState int32

const (
	ClientStateStopped ClientState = iota
	ClientStateConnecting
	ClientStateConnected
	ClientStateStopping
)

func (s ClientState) String() string {
	switch s {
	case ClientStateStopped:
		return "stopped"
	case ClientStateConnecting:
		return "connecting"
	case ClientStateConnected:
		return "connected"
	case ClientStateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// BackendConn 可關閉的後端連線
type BackendConn interface {
	Connection
	Close() error
}

// BackendDialFunc 建立後端連線
type BackendDialFunc func(ctx context.Context) (BackendConn, error)

// Client 管理後端連線並為每條連線執行一個閘道迴圈
type Client struct {
	mu sync.RWMutex

	config  *Config
	catalog Catalog
	device  Dialer
	mock    *MockGenerator
	clock   Clock
	dial    BackendDialFunc

	state       atomic.Int32
	stats       GatewayStats
	connections atomic.Uint64
	reconnects  atomic.Uint64
	startTime   time.Time
	sessionID   string

	logger *zap.Logger
}

// ClientStats 客戶端統計資訊
type ClientStats struct {
	StartTime   time.Time
	State       ClientState
	SessionID   string
	Connections uint64
	Reconnects  uint64
}

// ClientOption 客戶端配置選項
type ClientOption func(*Client)

// WithDeviceDialer 設定設備撥號器
func WithDeviceDialer(d Dialer) ClientOption {
	return func(c *Client) {
		c.device = d
	}
}

// WithBackendDialer 設定後端撥號函式
func WithBackendDialer(fn BackendDialFunc) ClientOption {
	return func(c *Client) {
		c.dial = fn
	}
}

// WithClientClock 設定閘道時鐘
func WithClientClock(clock Clock) ClientOption {
	return func(c *Client) {
		c.clock = clock
	}
}

// WithClientMock 設定模擬資料產生器
func WithClientMock(m *MockGenerator) ClientOption {
	return func(c *Client) {
		c.mock = m
	}
}

// NewClient 建立客戶端
func NewClient(config *Config, logger *zap.Logger, opts ...ClientOption) (*Client, error) {
	catalog, err := config.Catalog()
	if err != nil {
		return nil, err
	}

	c := &Client{
		config:  config,
		catalog: catalog,
		logger:  logger,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.device == nil {
		c.device = NewModbusDialer(config.Device)
	}
	if c.mock == nil {
		c.mock = NewMockGenerator(nil)
	}
	if c.clock == nil {
		c.clock = RealClock()
	}
	if c.dial == nil {
		c.dial = func(ctx context.Context) (BackendConn, error) {
			conn, err := DialBackend(ctx, config.Backend, logger)
			if err != nil {
				return nil, err
			}
			return conn, nil
		}
	}

	return c, nil
}

// Run 連線後端並輪詢，直到 ctx 取消；未啟用重連時在第一次中斷後返回錯誤
func (c *Client) Run(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(ClientStateStopped), int32(ClientStateConnecting)) {
		return fmt.Errorf("客戶端已經在運行中")
	}
	defer c.state.Store(int32(ClientStateStopped))

	c.mu.Lock()
	c.startTime = time.Now()
	c.mu.Unlock()

	c.logger.Info("正在啟動閘道客戶端",
		zap.String("backend", c.config.Backend.URL()),
		zap.String("device", fmt.Sprintf("%s:%d", c.config.Device.Address, c.config.Device.Port)),
	)

	// 連線建立後立即中斷也要退避，只有送出過報表的連線才重置
	redial := c.newBackOff()

	for {
		conn, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("連線後端失敗: %w", err)
		}

		before := c.reportCount()
		err = c.serve(ctx, conn)
		if ctx.Err() != nil {
			c.state.Store(int32(ClientStateStopping))
			c.logger.Info("閘道客戶端已停止")
			return nil
		}

		if !c.config.Reconnect.Enabled {
			return err
		}

		if c.reportCount() > before {
			redial.Reset()
		}
		wait := redial.NextBackOff()

		c.state.Store(int32(ClientStateConnecting))
		c.reconnects.Add(1)
		c.logger.Warn("後端連線中斷，準備重連",
			zap.Error(err),
			zap.Duration("retry_in", wait),
		)

		if !sleepContext(ctx, wait) {
			return nil
		}
	}
}

// sleepContext 等待 d，ctx 先取消時回傳 false
func sleepContext(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *Client) reportCount() uint64 {
	return c.stats.ReportsSent.Load()
}

func (c *Client) newBackOff() *backoff.ExponentialBackOff {
	cfg := c.config.Reconnect

	bo := backoff.NewExponentialBackOff()
	if cfg.InitialInterval > 0 {
		bo.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		bo.MaxInterval = cfg.MaxInterval
	}
	return bo
}

// serve 在一條連線上執行新的閘道
func (c *Client) serve(ctx context.Context, conn BackendConn) error {
	sessionID := uuid.NewString()
	logger := c.logger.With(zap.String("session", sessionID))

	c.mu.Lock()
	c.sessionID = sessionID
	c.mu.Unlock()
	c.connections.Add(1)
	c.state.Store(int32(ClientStateConnected))

	logger.Info("後端連線已開啟")

	gw := NewGateway(c.catalog, NewHardwareReader(c.device, logger),
		WithClock(c.clock),
		WithInterval(c.config.Poll.Interval),
		WithGreeting(c.config.Backend.Greeting),
		WithMockGenerator(c.mock),
		WithStats(&c.stats),
		WithGatewayLogger(logger),
	)

	err := gw.Run(ctx, conn)
	if cerr := conn.Close(); cerr != nil {
		logger.Debug("關閉後端連線失敗", zap.Error(cerr))
	}

	c.mu.Lock()
	c.sessionID = ""
	c.mu.Unlock()

	return err
}

// connect 以指數退避連線後端
func (c *Client) connect(ctx context.Context) (BackendConn, error) {
	cfg := c.config.Reconnect
	bo := c.newBackOff()

	operation := func() (BackendConn, error) {
		return c.dial(ctx)
	}

	opts := []backoff.RetryOption{
		backoff.WithBackOff(bo),
		backoff.WithMaxElapsedTime(cfg.MaxElapsedTime),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.reconnects.Add(1)
			c.logger.Warn("連線後端失敗，稍後重試",
				zap.Error(err),
				zap.Duration("retry_in", next),
			)
		}),
	}
	if !cfg.Enabled {
		opts = append(opts, backoff.WithMaxTries(1))
	}

	return backoff.Retry(ctx, operation, opts...)
}

// State 取得客戶端狀態
func (c *Client) State() ClientState {
	return ClientState(c.state.Load())
}

// GatewayStats 取得跨連線累計的閘道統計
func (c *Client) GatewayStats() *GatewayStats {
	return &c.stats
}

// Stats 取得客戶端統計資訊
func (c *Client) Stats() ClientStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return ClientStats{
		StartTime:   c.startTime,
		State:       c.State(),
		SessionID:   c.sessionID,
		Connections: c.connections.Load(),
		Reconnects:  c.reconnects.Load(),
	}
}
