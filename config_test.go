package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, ModbusTCPDefaultPort, cfg.Device.Port)
	assert.Equal(t, uint8(1), cfg.Device.UnitID)
	assert.Equal(t, time.Second, cfg.Poll.Interval)
	assert.Equal(t, DefaultGreeting, cfg.Backend.Greeting)
	assert.Len(t, cfg.Poll.Registers, 7)
	assert.True(t, cfg.Reconnect.Enabled)
	assert.Equal(t, "normal", cfg.Simulator.Scenario)
	assert.True(t, cfg.Metrics.Enabled)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:   "valid default config",
			modify: func(c *Config) {},
		},
		{
			name: "invalid device address",
			modify: func(c *Config) {
				c.Device.Address = "sensor.local"
			},
			wantErr: true,
		},
		{
			name: "invalid device port - too low",
			modify: func(c *Config) {
				c.Device.Port = 0
			},
			wantErr: true,
		},
		{
			name: "invalid device port - too high",
			modify: func(c *Config) {
				c.Device.Port = 70000
			},
			wantErr: true,
		},
		{
			name: "zero device timeout",
			modify: func(c *Config) {
				c.Device.Timeout = 0
			},
			wantErr: true,
		},
		{
			name: "missing backend host",
			modify: func(c *Config) {
				c.Backend.Host = ""
			},
			wantErr: true,
		},
		{
			name: "zero poll interval",
			modify: func(c *Config) {
				c.Poll.Interval = 0
			},
			wantErr: true,
		},
		{
			name: "register count too high",
			modify: func(c *Config) {
				c.Poll.Registers = []RegisterDefinition{{Address: 0, Count: 200}}
			},
			wantErr: true,
		},
		{
			name: "empty registers use reference catalog",
			modify: func(c *Config) {
				c.Poll.Registers = nil
			},
		},
		{
			name: "reconnect max below initial",
			modify: func(c *Config) {
				c.Reconnect.InitialInterval = 10 * time.Second
				c.Reconnect.MaxInterval = time.Second
			},
			wantErr: true,
		},
		{
			name: "reconnect intervals ignored when disabled",
			modify: func(c *Config) {
				c.Reconnect.Enabled = false
				c.Reconnect.InitialInterval = 0
			},
		},
		{
			name: "unknown scenario",
			modify: func(c *Config) {
				c.Simulator.Scenario = "voltage_sag"
			},
			wantErr: true,
		},
		{
			name: "packet loss rate out of range",
			modify: func(c *Config) {
				c.Simulator.PacketLossRate = 1.5
			},
			wantErr: true,
		},
		{
			name: "jitter max below min",
			modify: func(c *Config) {
				c.Simulator.JitterMin = time.Second
				c.Simulator.JitterMax = time.Millisecond
			},
			wantErr: true,
		},
		{
			name: "invalid metrics port",
			modify: func(c *Config) {
				c.Metrics.Port = -1
			},
			wantErr: true,
		},
		{
			name: "metrics port ignored when disabled",
			modify: func(c *Config) {
				c.Metrics.Enabled = false
				c.Metrics.Port = -1
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConfig_Catalog(t *testing.T) {
	cfg := DefaultConfig()

	catalog, err := cfg.Catalog()
	require.NoError(t, err)
	assert.Equal(t, DefaultCatalog().Specs(), catalog.Specs())

	cfg.Poll.Registers = []RegisterDefinition{{Address: 10, Count: 2}}
	catalog, err = cfg.Catalog()
	require.NoError(t, err)
	assert.Equal(t, []RegisterSpec{{Address: 10, Count: 2}}, catalog.Specs())
}

func TestBackendConfig_URL(t *testing.T) {
	tests := []struct {
		name     string
		cfg      BackendConfig
		expected string
	}{
		{"host and port", BackendConfig{Host: "127.0.0.1", Port: 9000}, "ws://127.0.0.1:9000"},
		{"with path", BackendConfig{Host: "collector", Port: 80, Path: "/ingest"}, "ws://collector:80/ingest"},
		{"ipv6", BackendConfig{Host: "::1", Port: 9000}, "ws://[::1]:9000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.cfg.URL())
		})
	}
}

func TestConfig_SaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	cfg := DefaultConfig()
	cfg.Device.Address = "10.0.0.5"
	cfg.Backend.Port = 9100
	cfg.Poll.Interval = 2 * time.Second
	cfg.Poll.Registers = []RegisterDefinition{{Address: 0, Count: 1}, {Address: 2, Count: 3}}
	cfg.Simulator.Scenario = "register_fault"

	require.NoError(t, cfg.SaveConfig(configPath))

	_, err := os.Stat(configPath)
	require.NoError(t, err)

	loaded, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.5", loaded.Device.Address)
	assert.Equal(t, 9100, loaded.Backend.Port)
	assert.Equal(t, 2*time.Second, loaded.Poll.Interval)
	assert.Equal(t, cfg.Poll.Registers, loaded.Poll.Registers)
	assert.Equal(t, "register_fault", loaded.Simulator.Scenario)
	assert.Equal(t, cfg.Simulator.FaultAddresses, loaded.Simulator.FaultAddresses)
}

func TestLoadConfig_PartialFileKeepsDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	content := `{"device": {"address": "192.168.1.50"}, "backend": {"host": "collector.local"}}`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))

	cfg, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "192.168.1.50", cfg.Device.Address)
	assert.Equal(t, ModbusTCPDefaultPort, cfg.Device.Port)
	assert.Equal(t, "collector.local", cfg.Backend.Host)
	assert.Equal(t, 9000, cfg.Backend.Port)
	assert.Equal(t, time.Second, cfg.Poll.Interval)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tmpDir := t.TempDir()

	badJSON := filepath.Join(tmpDir, "bad.json")
	require.NoError(t, os.WriteFile(badJSON, []byte("{not json"), 0644))
	_, err := LoadConfig(badJSON)
	assert.Error(t, err)

	invalid := filepath.Join(tmpDir, "invalid.json")
	require.NoError(t, os.WriteFile(invalid, []byte(`{"device": {"port": 0}}`), 0644))
	_, err = LoadConfig(invalid)
	assert.Error(t, err)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")
	require.NoError(t, DefaultConfig().SaveConfig(configPath))

	t.Setenv("ECOGW_DEVICE_ADDRESS", "10.1.1.1")
	t.Setenv("ECOGW_BACKEND_PORT", "9200")
	t.Setenv("ECOGW_POLL_INTERVAL", "500ms")

	cfg, err := LoadConfig(configPath)
	require.NoError(t, err)

	assert.Equal(t, "10.1.1.1", cfg.Device.Address)
	assert.Equal(t, 9200, cfg.Backend.Port)
	assert.Equal(t, 500*time.Millisecond, cfg.Poll.Interval)
}
