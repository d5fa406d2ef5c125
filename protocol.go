package main

// Modbus 協議常數
const (
	// Modbus 功能碼
	FuncCodeReadInputRegisters = 0x04

	// Modbus 異常碼
	ExceptionCodeIllegalFunction         = 0x01
	ExceptionCodeIllegalDataAddress      = 0x02
	ExceptionCodeIllegalDataValue        = 0x03
	ExceptionCodeSlaveDeviceFailure      = 0x04
	ExceptionCodeSlaveDeviceBusy         = 0x06
	ExceptionCodeGatewayTargetNoResponse = 0x0B

	// Modbus TCP 常數
	ModbusTCPDefaultPort = 502

	// 暫存器限制
	MaxRegistersPerRead = 125

	// 輸入暫存器空間大小
	InputRegisterSpace = 65536
)

// exceptionText 異常碼說明
func exceptionText(code uint8) string {
	switch code {
	case ExceptionCodeIllegalFunction:
		return "非法功能碼"
	case ExceptionCodeIllegalDataAddress:
		return "非法資料位址"
	case ExceptionCodeIllegalDataValue:
		return "非法資料值"
	case ExceptionCodeSlaveDeviceFailure:
		return "從站設備故障"
	case ExceptionCodeSlaveDeviceBusy:
		return "從站設備忙碌"
	case ExceptionCodeGatewayTargetNoResponse:
		return "閘道目標無回應"
	default:
		return "未知錯誤"
	}
}
