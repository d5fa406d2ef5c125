//go:build !linux

package main

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"
)

// StubProvisioner 非 Linux 平台只記錄位址，不改動介面
type StubProvisioner struct {
	BaseProvisioner
}

func newPlatformProvisioner(interfaceName string, logger *zap.Logger) NetworkProvisioner {
	return &StubProvisioner{
		BaseProvisioner: BaseProvisioner{
			InterfaceName: interfaceName,
			Logger:        logger,
		},
	}
}

func (p *StubProvisioner) Setup(ctx context.Context, ips []net.IP) error {
	if err := p.Validate(ips); err != nil {
		return err
	}

	p.Logger.Warn("設備位址掛載僅在 Linux 上支援",
		zap.String("interface", p.InterfaceName),
		zap.Int("count", len(ips)),
	)
	p.ConfiguredIPs = append(p.ConfiguredIPs, ips...)
	return nil
}

func (p *StubProvisioner) Teardown(ctx context.Context, ips []net.IP) error {
	if len(ips) == 0 {
		ips = p.ConfiguredIPs
	}
	p.Logger.Warn("設備位址移除僅在 Linux 上支援",
		zap.String("interface", p.InterfaceName),
		zap.Int("count", len(ips)),
	)
	p.ConfiguredIPs = nil
	return nil
}

// List 以 net.Interfaces 代替 netlink 列出介面位址
func (p *StubProvisioner) List(ctx context.Context) ([]net.IP, error) {
	iface, err := net.InterfaceByName(p.InterfaceName)
	if err != nil {
		return nil, fmt.Errorf("找不到網路介面 %s: %w", p.InterfaceName, err)
	}
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, fmt.Errorf("列出 IP 失敗: %w", err)
	}

	var ips []net.IP
	for _, addr := range addrs {
		if ipNet, ok := addr.(*net.IPNet); ok && ipNet.IP.To4() != nil {
			ips = append(ips, ipNet.IP)
		}
	}
	return append(ips, p.ConfiguredIPs...), nil
}
