package main

import (
	"encoding/binary"
	"time"

	"github.com/tbrandon/mbserver"
	"go.uber.org/zap"
)

// dropHoldTime 模擬封包丟失時的保留時間，需大於客戶端逾時
const dropHoldTime = 3 * time.Second

// RequestHandler 模擬設備的 FC 04 請求處理器
type RequestHandler struct {
	device *BenchDevice
	logger *zap.Logger

	holdTime time.Duration
	sleep    func(time.Duration)
}

// NewRequestHandler 建立請求處理器
func NewRequestHandler(device *BenchDevice, logger *zap.Logger) *RequestHandler {
	return &RequestHandler{
		device:   device,
		logger:   logger,
		holdTime: dropHoldTime,
		sleep:    time.Sleep,
	}
}

// HandleReadInputRegisters 處理讀取輸入暫存器請求 (FC 04)
func (h *RequestHandler) HandleReadInputRegisters(s *mbserver.Server, frame mbserver.Framer) ([]byte, *mbserver.Exception) {
	data := frame.GetData()
	if len(data) < 4 {
		h.device.recordRequest(true)
		return []byte{}, &mbserver.IllegalDataValue
	}
	address := binary.BigEndian.Uint16(data[0:2])
	quantity := binary.BigEndian.Uint16(data[2:4])

	action := h.device.faults.Decide(address, quantity)
	if action.Delay > 0 {
		h.sleep(action.Delay)
	}

	if action.Drop {
		h.device.stats.DroppedCount.Add(1)
		h.device.recordRequest(true)
		h.logger.Debug("模擬封包丟失",
			zap.Uint16("address", address),
			zap.Uint16("quantity", quantity),
		)
		h.sleep(h.holdTime)
		exception := mbserver.Exception(ExceptionCodeGatewayTargetNoResponse)
		return []byte{}, &exception
	}

	if action.Exception != 0 {
		h.device.recordRequest(true)
		h.logger.Debug("模擬暫存器故障",
			zap.Uint16("address", address),
			zap.Uint16("quantity", quantity),
			zap.String("exception", exceptionText(action.Exception)),
		)
		exception := mbserver.Exception(action.Exception)
		return []byte{}, &exception
	}

	if spec, ok := h.device.catalog.Lookup(address); ok {
		h.device.refresh(spec)
	}

	res, exception := mbserver.ReadInputRegisters(s, frame)
	hasError := exception != nil && *exception != mbserver.Success
	if hasError {
		h.logger.Debug("讀取輸入暫存器失敗",
			zap.Uint16("address", address),
			zap.Uint16("quantity", quantity),
			zap.String("exception", exceptionText(uint8(*exception))),
		)
	}
	h.device.recordRequest(hasError)
	return res, exception
}
