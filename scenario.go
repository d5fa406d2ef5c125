package main

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// ScenarioType 模擬設備的故障場景
type ScenarioType int

const (
	ScenarioNormal ScenarioType = iota
	ScenarioJitter
	ScenarioRegisterFault
	ScenarioPacketLoss
)

func (s ScenarioType) String() string {
	switch s {
	case ScenarioNormal:
		return "normal"
	case ScenarioJitter:
		return "jitter"
	case ScenarioRegisterFault:
		return "register_fault"
	case ScenarioPacketLoss:
		return "packet_loss"
	default:
		return "unknown"
	}
}

// ParseScenarioType 解析場景類型
func ParseScenarioType(s string) (ScenarioType, error) {
	switch s {
	case "", "normal":
		return ScenarioNormal, nil
	case "jitter":
		return ScenarioJitter, nil
	case "register_fault":
		return ScenarioRegisterFault, nil
	case "packet_loss":
		return ScenarioPacketLoss, nil
	default:
		return ScenarioNormal, fmt.Errorf("未知的場景: %s", s)
	}
}

// ListScenarioTypes 列出所有場景類型
func ListScenarioTypes() []ScenarioType {
	return []ScenarioType{
		ScenarioNormal,
		ScenarioJitter,
		ScenarioRegisterFault,
		ScenarioPacketLoss,
	}
}

// Description 場景說明
func (s ScenarioType) Description() string {
	switch s {
	case ScenarioNormal:
		return "正常回應"
	case ScenarioJitter:
		return "回應延遲抖動"
	case ScenarioRegisterFault:
		return "指定暫存器回傳設備故障異常"
	case ScenarioPacketLoss:
		return "依比例不回應 (讓客戶端逾時)"
	default:
		return ""
	}
}

// FaultAction 單次請求的故障處置
type FaultAction struct {
	Delay     time.Duration
	Drop      bool
	Exception uint8
}

// FaultInjector 依場景決定每個請求的故障處置
type FaultInjector struct {
	mu sync.Mutex

	scenario       ScenarioType
	jitterMin      time.Duration
	jitterMax      time.Duration
	packetLossRate float64
	faultAddresses map[uint16]struct{}

	rng *rand.Rand
}

// NewFaultInjector 依模擬器配置建立故障注入器
func NewFaultInjector(cfg SimulatorConfig, rng *rand.Rand) (*FaultInjector, error) {
	scenario, err := ParseScenarioType(cfg.Scenario)
	if err != nil {
		return nil, err
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	f := &FaultInjector{
		scenario:       scenario,
		jitterMin:      cfg.JitterMin,
		jitterMax:      cfg.JitterMax,
		packetLossRate: cfg.PacketLossRate,
		faultAddresses: make(map[uint16]struct{}, len(cfg.FaultAddresses)),
		rng:            rng,
	}
	for _, a := range cfg.FaultAddresses {
		f.faultAddresses[a] = struct{}{}
	}
	return f, nil
}

// SetScenario 切換場景
func (f *FaultInjector) SetScenario(s ScenarioType) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scenario = s
}

// Scenario 取得當前場景
func (f *FaultInjector) Scenario() ScenarioType {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scenario
}

// Decide 決定讀取 [address, address+quantity) 的處置
func (f *FaultInjector) Decide(address, quantity uint16) FaultAction {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.scenario {
	case ScenarioJitter:
		span := f.jitterMax - f.jitterMin
		if span <= 0 {
			return FaultAction{Delay: f.jitterMin}
		}
		return FaultAction{Delay: f.jitterMin + time.Duration(f.rng.Int63n(int64(span)))}

	case ScenarioRegisterFault:
		end := uint32(address) + uint32(quantity)
		for a := range f.faultAddresses {
			if uint32(a) >= uint32(address) && uint32(a) < end {
				return FaultAction{Exception: ExceptionCodeSlaveDeviceFailure}
			}
		}

	case ScenarioPacketLoss:
		if f.packetLossRate > 0 && f.rng.Float64() < f.packetLossRate {
			return FaultAction{Drop: true}
		}
	}

	return FaultAction{}
}
