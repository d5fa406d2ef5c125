package main

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// 預設值
const (
	DefaultPollInterval = time.Second
	DefaultGreeting     = "Hello from client"
)

// Message 後端送來的訊息
type Message struct {
	Binary  bool
	Payload []byte
}

// Connection 後端連線 (生命週期不屬於閘道)
type Connection interface {
	Send(payload []byte) error
	Incoming() <-chan Message
	Done() <-chan struct{}
}

// HardwareSource 硬體資料來源
type HardwareSource interface {
	TryReadAll(ctx context.Context, catalog Catalog) (Report, error)
}

// GatewayState 閘道狀態
type GatewayState int32

const (
	GatewayStateIdle GatewayState = iota
	GatewayStatePolling
	GatewayStateStopped
)

func (s GatewayState) String() string {
	switch s {
	case GatewayStateIdle:
		return "idle"
	case GatewayStatePolling:
		return "polling"
	case GatewayStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// GatewayStats 閘道統計，可跨連線共用
type GatewayStats struct {
	Ticks               atomic.Uint64
	HardwareReports     atomic.Uint64
	MockReports         atomic.Uint64
	ConnectFailures     atomic.Uint64
	PartialReadFailures atomic.Uint64
	SendErrors          atomic.Uint64
	ReportsSent         atomic.Uint64
	BytesSent           atomic.Uint64
	MessagesReceived    atomic.Uint64
	LastTick            atomic.Int64
	LastSource          atomic.Int32
}

// Gateway 輪詢並發佈的主迴圈
type Gateway struct {
	catalog  Catalog
	reader   HardwareSource
	mock     *MockGenerator
	clock    Clock
	interval time.Duration
	greeting string

	state atomic.Int32
	stats *GatewayStats

	logger *zap.Logger
}

// GatewayOption 閘道配置選項
type GatewayOption func(*Gateway)

// WithClock 設定時鐘
func WithClock(c Clock) GatewayOption {
	return func(g *Gateway) {
		g.clock = c
	}
}

// WithInterval 設定輪詢間隔
func WithInterval(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		g.interval = d
	}
}

// WithGreeting 設定連線建立後的問候訊息，空字串表示不送
func WithGreeting(s string) GatewayOption {
	return func(g *Gateway) {
		g.greeting = s
	}
}

// WithMockGenerator 設定模擬資料產生器
func WithMockGenerator(m *MockGenerator) GatewayOption {
	return func(g *Gateway) {
		g.mock = m
	}
}

// WithStats 設定共用統計
func WithStats(s *GatewayStats) GatewayOption {
	return func(g *Gateway) {
		g.stats = s
	}
}

// WithGatewayLogger 設定日誌
func WithGatewayLogger(logger *zap.Logger) GatewayOption {
	return func(g *Gateway) {
		g.logger = logger
	}
}

// NewGateway 建立閘道
func NewGateway(catalog Catalog, reader HardwareSource, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		catalog:  catalog,
		reader:   reader,
		interval: DefaultPollInterval,
		greeting: DefaultGreeting,
	}

	for _, opt := range opts {
		opt(g)
	}

	if g.clock == nil {
		g.clock = RealClock()
	}
	if g.mock == nil {
		g.mock = NewMockGenerator(nil)
	}
	if g.stats == nil {
		g.stats = &GatewayStats{}
	}
	if g.logger == nil {
		g.logger = zap.NewNop()
	}

	return g
}

// State 取得當前狀態
func (g *Gateway) State() GatewayState {
	return GatewayState(g.state.Load())
}

// Stats 取得統計
func (g *Gateway) Stats() *GatewayStats {
	return g.stats
}

type readResult struct {
	report Report
	err    error
}

// Run 在連線上執行輪詢迴圈，直到 ctx 取消 (回傳 nil)、連線關閉或傳送失敗
func (g *Gateway) Run(ctx context.Context, conn Connection) error {
	if !g.state.CompareAndSwap(int32(GatewayStateIdle), int32(GatewayStatePolling)) {
		return fmt.Errorf("閘道狀態為 %s，無法啟動", g.State())
	}
	defer g.state.Store(int32(GatewayStateStopped))

	g.logger.Info("開始輪詢",
		zap.Duration("interval", g.interval),
		zap.Int("registers", g.catalog.Len()),
	)

	err := g.loop(ctx, conn)
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		g.logger.Info("輪詢已停止")
		return nil
	}

	g.logger.Warn("輪詢中止", zap.Error(err))
	return err
}

func (g *Gateway) loop(ctx context.Context, conn Connection) error {
	if g.greeting != "" {
		if err := g.send(conn, []byte(g.greeting)); err != nil {
			return err
		}
	}

	for {
		if err := g.tick(ctx, conn); err != nil {
			return err
		}

		// 傳送完成後才排下一次，不補償讀取耗時
		timer := g.clock.NewTimer(g.interval)
		if _, err := awaitEvent(ctx, g, conn, timer.C()); err != nil {
			timer.Stop()
			return err
		}
	}
}

// tick 執行一次輪詢: 硬體優先，失敗則整份改用模擬資料
func (g *Gateway) tick(ctx context.Context, conn Connection) error {
	now := g.clock.Now()
	g.stats.Ticks.Add(1)
	g.stats.LastTick.Store(now.UnixNano())

	readCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan readResult, 1)
	go func() {
		report, err := g.reader.TryReadAll(readCtx, g.catalog)
		results <- readResult{report: report, err: err}
	}()

	res, err := awaitEvent(ctx, g, conn, results)
	if err != nil {
		return err
	}
	// 停止後不再發佈
	if err := ctx.Err(); err != nil {
		return err
	}

	report := res.report
	if res.err != nil {
		g.recordFailure(res.err)
		report = g.mock.GenerateReport(g.catalog, now)
		g.stats.MockReports.Add(1)
	} else {
		g.stats.HardwareReports.Add(1)
	}
	g.stats.LastSource.Store(int32(report.Source))

	payload := []byte(FormatReport(report))
	if err := g.send(conn, payload); err != nil {
		return err
	}
	g.stats.ReportsSent.Add(1)

	g.logger.Debug("已發送報表",
		zap.Stringer("source", report.Source),
		zap.Int("bytes", len(payload)),
	)
	return nil
}

func (g *Gateway) send(conn Connection, payload []byte) error {
	if err := conn.Send(payload); err != nil {
		g.stats.SendErrors.Add(1)
		return &TransportError{Op: "傳送", Err: err}
	}
	g.stats.BytesSent.Add(uint64(len(payload)))
	return nil
}

func (g *Gateway) recordFailure(err error) {
	var hwErr *HardwareError
	if !errors.As(err, &hwErr) {
		g.stats.ConnectFailures.Add(1)
		g.logger.Info("硬體不可用，改用模擬資料", zap.Error(err))
		return
	}

	fields := []zap.Field{
		zap.Stringer("kind", hwErr.Kind),
		zap.Error(hwErr.Err),
	}

	switch hwErr.Kind {
	case FailureConnect:
		g.stats.ConnectFailures.Add(1)
	default:
		g.stats.PartialReadFailures.Add(1)
		fields = append(fields, zap.Uint16("address", hwErr.Spec.Address), zap.Uint16("count", hwErr.Spec.Count))
		if code := hwErr.ExceptionCode(); code != 0 {
			fields = append(fields, zap.String("exception", exceptionText(code)))
		}
	}

	g.logger.Info("硬體不可用，改用模擬資料", fields...)
}

func (g *Gateway) handleMessage(msg Message) {
	g.stats.MessagesReceived.Add(1)
	if msg.Binary {
		g.logger.Debug("收到二進位訊息", zap.Int("bytes", len(msg.Payload)))
		return
	}
	g.logger.Debug("收到文字訊息", zap.ByteString("payload", msg.Payload))
}

// awaitEvent 等待 ready，期間持續處理連線事件
func awaitEvent[T any](ctx context.Context, g *Gateway, conn Connection, ready <-chan T) (T, error) {
	var zero T
	incoming := conn.Incoming()

	for {
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-conn.Done():
			return zero, ErrConnectionClosed
		case msg, ok := <-incoming:
			if !ok {
				incoming = nil
				continue
			}
			g.handleMessage(msg)
		case v := <-ready:
			return v, nil
		}
	}
}
