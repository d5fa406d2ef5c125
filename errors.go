package main

import (
	"errors"
	"fmt"

	"github.com/goburrow/modbus"
)

var (
	// ErrHardwareUnavailable 本次輪詢無法取得硬體資料
	ErrHardwareUnavailable = errors.New("硬體不可用")

	// ErrConnectionClosed 後端連線已關閉
	ErrConnectionClosed = errors.New("後端連線已關閉")
)

// HardwareFailureKind 硬體失敗種類
type HardwareFailureKind int

const (
	FailureConnect HardwareFailureKind = iota
	FailurePartialRead
)

func (k HardwareFailureKind) String() string {
	switch k {
	case FailureConnect:
		return "connect"
	case FailurePartialRead:
		return "partial_read"
	default:
		return "unknown"
	}
}

// HardwareError 硬體讀取錯誤，可用 errors.Is(err, ErrHardwareUnavailable) 判斷
type HardwareError struct {
	Kind HardwareFailureKind
	Spec RegisterSpec
	Err  error
}

func (e *HardwareError) Error() string {
	if e.Kind == FailureConnect {
		return fmt.Sprintf("連線設備失敗: %v", e.Err)
	}
	return fmt.Sprintf("讀取暫存器 %s 失敗: %v", e.Spec, e.Err)
}

func (e *HardwareError) Unwrap() []error {
	return []error{ErrHardwareUnavailable, e.Err}
}

// ExceptionCode 設備回傳的 Modbus 異常碼，沒有時為 0
func (e *HardwareError) ExceptionCode() uint8 {
	var mbErr *modbus.ModbusError
	if errors.As(e.Err, &mbErr) {
		return mbErr.ExceptionCode
	}
	return 0
}

// TransportError 後端傳送錯誤
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("後端%s失敗: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
