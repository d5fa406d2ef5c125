package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/goburrow/modbus"
	"go.uber.org/zap"
)

// RegisterSession 已連線的暫存器讀取會話
type RegisterSession interface {
	ReadInputRegisters(address, quantity uint16) ([]uint16, error)
	Close() error
}

// Dialer 開啟到設備的會話
type Dialer interface {
	Dial(ctx context.Context) (RegisterSession, error)
}

// ModbusDialer 使用 goburrow/modbus 的 Modbus TCP 撥號器
type ModbusDialer struct {
	Address string
	UnitID  uint8
	Timeout time.Duration
}

// NewModbusDialer 依設備配置建立撥號器
func NewModbusDialer(cfg DeviceConfig) *ModbusDialer {
	return &ModbusDialer{
		Address: net.JoinHostPort(cfg.Address, strconv.Itoa(cfg.Port)),
		UnitID:  cfg.UnitID,
		Timeout: cfg.Timeout,
	}
}

// Dial 建立 TCP 連線，不重試
func (d *ModbusDialer) Dial(ctx context.Context) (RegisterSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	handler := modbus.NewTCPClientHandler(d.Address)
	handler.Timeout = d.Timeout
	handler.SlaveId = d.UnitID

	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < handler.Timeout {
			handler.Timeout = remaining
		}
	}

	if err := handler.Connect(); err != nil {
		return nil, err
	}

	return &modbusSession{
		handler: handler,
		client:  modbus.NewClient(handler),
	}, nil
}

type modbusSession struct {
	handler *modbus.TCPClientHandler
	client  modbus.Client
}

func (s *modbusSession) ReadInputRegisters(address, quantity uint16) ([]uint16, error) {
	raw, err := s.client.ReadInputRegisters(address, quantity)
	if err != nil {
		return nil, err
	}
	return decodeRegisters(raw), nil
}

func (s *modbusSession) Close() error {
	return s.handler.Close()
}

// decodeRegisters 將 big-endian 位元組轉為暫存器值
func decodeRegisters(raw []byte) []uint16 {
	out := make([]uint16, len(raw)/2)
	for i := range out {
		out[i] = binary.BigEndian.Uint16(raw[2*i:])
	}
	return out
}

// HardwareReader 從實體設備讀取整個目錄
type HardwareReader struct {
	dialer Dialer
	logger *zap.Logger
	now    func() time.Time
}

// NewHardwareReader 建立硬體讀取器
func NewHardwareReader(dialer Dialer, logger *zap.Logger) *HardwareReader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HardwareReader{
		dialer: dialer,
		logger: logger,
		now:    time.Now,
	}
}

// TryReadAll 讀取目錄中所有區塊
//
// 全有或全無: 連線失敗或任何一個區塊失敗都回傳 ErrHardwareUnavailable，
// 不會回傳部分報表。會話在所有路徑上都會關閉。
func (r *HardwareReader) TryReadAll(ctx context.Context, catalog Catalog) (Report, error) {
	session, err := r.dialer.Dial(ctx)
	if err != nil {
		return Report{}, &HardwareError{Kind: FailureConnect, Err: err}
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			r.logger.Debug("關閉設備會話失敗", zap.Error(cerr))
		}
	}()

	specs := catalog.Specs()
	readings := make([]RegisterReading, 0, len(specs))
	for _, spec := range specs {
		if err := ctx.Err(); err != nil {
			return Report{}, &HardwareError{Kind: FailurePartialRead, Spec: spec, Err: err}
		}

		values, err := session.ReadInputRegisters(spec.Address, spec.Count)
		if err != nil {
			return Report{}, &HardwareError{Kind: FailurePartialRead, Spec: spec, Err: err}
		}
		if len(values) < int(spec.Count) {
			return Report{}, &HardwareError{
				Kind: FailurePartialRead,
				Spec: spec,
				Err:  fmt.Errorf("回應長度不足: 預期 %d，實際 %d", spec.Count, len(values)),
			}
		}

		readings = append(readings, RegisterReading{
			Address: spec.Address,
			Count:   spec.Count,
			Values:  values[:spec.Count],
		})
	}

	return Report{
		Source:   SourceHardware,
		At:       r.now(),
		Readings: readings,
	}, nil
}
