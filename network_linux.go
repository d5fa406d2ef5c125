//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/vishvananda/netlink"
	"go.uber.org/zap"
)

// LinuxProvisioner 以 netlink 在介面上掛載 /32 位址
type LinuxProvisioner struct {
	BaseProvisioner
	link netlink.Link
}

func newPlatformProvisioner(interfaceName string, logger *zap.Logger) NetworkProvisioner {
	return &LinuxProvisioner{
		BaseProvisioner: BaseProvisioner{
			InterfaceName: interfaceName,
			Logger:        logger,
		},
	}
}

func hostAddr(ip net.IP) *netlink.Addr {
	return &netlink.Addr{IPNet: &net.IPNet{IP: ip, Mask: net.CIDRMask(32, 32)}}
}

func (p *LinuxProvisioner) resolveLink() (netlink.Link, error) {
	if p.link != nil {
		return p.link, nil
	}
	link, err := netlink.LinkByName(p.InterfaceName)
	if err != nil {
		return nil, fmt.Errorf("找不到網路介面 %s: %w", p.InterfaceName, err)
	}
	p.link = link
	return link, nil
}

// forEach 對每個位址執行 op，單一位址失敗只記錄，回傳成功數
func (p *LinuxProvisioner) forEach(ctx context.Context, ips []net.IP, action string, op func(netlink.Link, net.IP) error) (int, error) {
	link, err := p.resolveLink()
	if err != nil {
		return 0, err
	}

	done := 0
	for _, ip := range ips {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if err := op(link, ip); err != nil {
			p.Logger.Warn(action+"位址失敗", zap.Stringer("ip", ip), zap.Error(err))
			continue
		}
		done++
	}
	return done, nil
}

// Setup 掛載設備位址；已存在的位址視為成功但不列入本次掛載
func (p *LinuxProvisioner) Setup(ctx context.Context, ips []net.IP) error {
	if err := p.Validate(ips); err != nil {
		return err
	}

	p.Logger.Info("正在掛載設備位址",
		zap.String("interface", p.InterfaceName),
		zap.Int("count", len(ips)),
	)

	added, err := p.forEach(ctx, ips, "掛載", func(link netlink.Link, ip net.IP) error {
		if err := netlink.AddrAdd(link, hostAddr(ip)); err != nil {
			if errors.Is(err, syscall.EEXIST) {
				p.Logger.Debug("位址已存在", zap.Stringer("ip", ip))
				return nil
			}
			return err
		}
		p.ConfiguredIPs = append(p.ConfiguredIPs, ip)
		return nil
	})
	if err != nil {
		return err
	}

	p.Logger.Info("設備位址掛載完成",
		zap.Int("success", added),
		zap.Int("total", len(ips)),
	)
	return nil
}

// Teardown 移除位址，ips 為空時移除本次掛載的位址
func (p *LinuxProvisioner) Teardown(ctx context.Context, ips []net.IP) error {
	if len(ips) == 0 {
		ips = p.ConfiguredIPs
	}

	p.Logger.Info("正在移除設備位址",
		zap.String("interface", p.InterfaceName),
		zap.Int("count", len(ips)),
	)

	removed, err := p.forEach(ctx, ips, "移除", func(link netlink.Link, ip net.IP) error {
		return netlink.AddrDel(link, hostAddr(ip))
	})
	if err != nil {
		return err
	}
	p.ConfiguredIPs = nil

	p.Logger.Info("設備位址移除完成", zap.Int("removed", removed))
	return nil
}

// List 列出介面上的 IPv4 位址
func (p *LinuxProvisioner) List(ctx context.Context) ([]net.IP, error) {
	link, err := p.resolveLink()
	if err != nil {
		return nil, err
	}

	addrs, err := netlink.AddrList(link, netlink.FAMILY_V4)
	if err != nil {
		return nil, fmt.Errorf("列出 IP 失敗: %w", err)
	}

	ips := make([]net.IP, 0, len(addrs))
	for _, addr := range addrs {
		ips = append(ips, addr.IP)
	}
	return ips, nil
}
