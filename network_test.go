package main

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestParseAddresses(t *testing.T) {
	ips, err := ParseAddresses("172.16.0.10", "10.0.0.1")
	require.NoError(t, err)
	require.Len(t, ips, 2)
	assert.Equal(t, "172.16.0.10", ips[0].String())

	_, err = ParseAddresses("172.16.0.10", "sensor")
	assert.Error(t, err)
}

func TestBaseProvisioner_Validate(t *testing.T) {
	p := &BaseProvisioner{InterfaceName: "lo"}

	tests := []struct {
		name    string
		ips     []net.IP
		wantErr bool
	}{
		{"single ipv4", []net.IP{net.ParseIP("172.16.0.10")}, false},
		{"empty", nil, true},
		{"ipv6", []net.IP{net.ParseIP("fe80::1")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := p.Validate(tt.ips)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewNetworkProvisioner_RejectsInvalid(t *testing.T) {
	p := NewNetworkProvisioner("lo", zap.NewNop())
	assert.Error(t, p.Setup(context.Background(), nil))
}
