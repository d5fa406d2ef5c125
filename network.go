package main

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"
)

// NetworkProvisioner 在本機介面上掛載設備位址，讓模擬設備可以冒充實體感測器
type NetworkProvisioner interface {
	// Setup 掛載位址
	Setup(ctx context.Context, ips []net.IP) error

	// Teardown 移除位址，ips 為空時移除本次掛載的位址
	Teardown(ctx context.Context, ips []net.IP) error

	// List 列出介面上的 IPv4 位址
	List(ctx context.Context) ([]net.IP, error)

	// Validate 驗證位址
	Validate(ips []net.IP) error
}

// NewNetworkProvisioner 建立網路配置器
func NewNetworkProvisioner(interfaceName string, logger *zap.Logger) NetworkProvisioner {
	return newPlatformProvisioner(interfaceName, logger)
}

// BaseProvisioner 基礎配置器 (共用邏輯)
type BaseProvisioner struct {
	InterfaceName string
	Logger        *zap.Logger
	ConfiguredIPs []net.IP
}

// Validate 驗證位址 (僅支援 IPv4)
func (p *BaseProvisioner) Validate(ips []net.IP) error {
	if len(ips) == 0 {
		return fmt.Errorf("至少需要一個位址")
	}
	for _, ip := range ips {
		if ip.To4() == nil {
			return fmt.Errorf("僅支援 IPv4 位址: %s", ip)
		}
	}
	return nil
}

// ParseAddresses 解析位址字串
func ParseAddresses(addrs ...string) ([]net.IP, error) {
	ips := make([]net.IP, 0, len(addrs))
	for _, a := range addrs {
		ip := net.ParseIP(a)
		if ip == nil {
			return nil, fmt.Errorf("無效的 IP: %s", a)
		}
		ips = append(ips, ip)
	}
	return ips, nil
}
