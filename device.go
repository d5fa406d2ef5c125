package main

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/tbrandon/mbserver"
	"go.uber.org/zap"
)

// DeviceState 模擬設備狀態
type DeviceState int32

const (
	DeviceStateStopped DeviceState = iota
	DeviceStateStarting
	DeviceStateRunning
	DeviceStateStopping
)

func (s DeviceState) String() string {
	switch s {
	case DeviceStateStopped:
		return "stopped"
	case DeviceStateStarting:
		return "starting"
	case DeviceStateRunning:
		return "running"
	case DeviceStateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// BenchDevice 以 Modbus TCP 模擬 Eco-Adapt 感測器
//
// 輸入暫存器在每次讀取時由 MockGenerator 更新，
// 讓閘道在沒有實體硬體時也能走完整的硬體讀取路徑。
type BenchDevice struct {
	ID      string
	Address string
	Port    int
	UnitID  uint8

	state atomic.Int32

	catalog Catalog
	mock    *MockGenerator
	faults  *FaultInjector
	handler *RequestHandler
	server  *mbserver.Server

	stats  DeviceStats
	logger *zap.Logger
}

// DeviceStats 請求統計
type DeviceStats struct {
	StartTime       time.Time
	RequestCount    atomic.Uint64
	ErrorCount      atomic.Uint64
	DroppedCount    atomic.Uint64
	LastRequestTime atomic.Int64
}

// DeviceOption 模擬設備選項
type DeviceOption func(*BenchDevice)

// WithUnitID 設定 Unit ID
func WithUnitID(id uint8) DeviceOption {
	return func(d *BenchDevice) {
		d.UnitID = id
	}
}

// WithCatalog 設定提供的暫存器目錄
func WithCatalog(c Catalog) DeviceOption {
	return func(d *BenchDevice) {
		d.catalog = c
	}
}

func WithDeviceMock(m *MockGenerator) DeviceOption {
	return func(d *BenchDevice) {
		d.mock = m
	}
}

func WithFaultInjector(f *FaultInjector) DeviceOption {
	return func(d *BenchDevice) {
		d.faults = f
	}
}

func WithDeviceLogger(logger *zap.Logger) DeviceOption {
	return func(d *BenchDevice) {
		d.logger = logger
	}
}

// NewBenchDevice 建立模擬設備，預設提供參考目錄且不注入故障
func NewBenchDevice(address string, port int, opts ...DeviceOption) *BenchDevice {
	d := &BenchDevice{
		ID:      net.JoinHostPort(address, strconv.Itoa(port)),
		Address: address,
		Port:    port,
		UnitID:  1,
		catalog: DefaultCatalog(),
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.logger == nil {
		d.logger = zap.NewNop()
	}
	if d.mock == nil {
		d.mock = NewMockGenerator(nil)
	}
	if d.faults == nil {
		d.faults, _ = NewFaultInjector(SimulatorConfig{}, nil)
	}
	d.handler = NewRequestHandler(d, d.logger)

	return d
}

// Start 開始監聽
func (d *BenchDevice) Start(ctx context.Context) error {
	if !d.state.CompareAndSwap(int32(DeviceStateStopped), int32(DeviceStateStarting)) {
		return fmt.Errorf("模擬設備 %s 已經在運行中", d.ID)
	}

	d.server = mbserver.NewServer()
	d.server.RegisterFunctionHandler(FuncCodeReadInputRegisters, d.handler.HandleReadInputRegisters)

	// 監聽前先填入整個目錄
	for _, spec := range d.catalog.Specs() {
		d.refresh(spec)
	}

	d.stats.StartTime = time.Now()
	if err := d.server.ListenTCP(d.ID); err != nil {
		d.server.Close()
		d.state.Store(int32(DeviceStateStopped))
		return fmt.Errorf("監聽 %s 失敗: %w", d.ID, err)
	}
	d.state.Store(int32(DeviceStateRunning))

	d.logger.Info("模擬設備已啟動",
		zap.String("addr", d.ID),
		zap.Uint8("unitID", d.UnitID),
		zap.Int("registers", d.catalog.Len()),
		zap.Stringer("scenario", d.faults.Scenario()),
	)
	return nil
}

// Stop 關閉監聽，未啟動時不做事
func (d *BenchDevice) Stop(ctx context.Context) error {
	if !d.state.CompareAndSwap(int32(DeviceStateRunning), int32(DeviceStateStopping)) {
		return nil
	}

	d.server.Close()
	d.state.Store(int32(DeviceStateStopped))

	d.logger.Info("模擬設備已停止",
		zap.String("addr", d.ID),
		zap.Duration("uptime", time.Since(d.stats.StartTime)),
		zap.Uint64("requests", d.stats.RequestCount.Load()),
		zap.Uint64("dropped", d.stats.DroppedCount.Load()),
	)
	return nil
}

func (d *BenchDevice) State() DeviceState {
	return DeviceState(d.state.Load())
}

func (d *BenchDevice) GetStats() *DeviceStats {
	return &d.stats
}

func (d *BenchDevice) Faults() *FaultInjector {
	return d.faults
}

// refresh 以模擬值覆寫一個區塊，只能在 mbserver 的處理 goroutine 或啟動前呼叫
func (d *BenchDevice) refresh(spec RegisterSpec) {
	copy(d.server.InputRegisters[spec.Address:], d.mock.Generate(spec))
}

func (d *BenchDevice) recordRequest(failed bool) {
	d.stats.RequestCount.Add(1)
	d.stats.LastRequestTime.Store(time.Now().UnixNano())
	if failed {
		d.stats.ErrorCount.Add(1)
	}
}
