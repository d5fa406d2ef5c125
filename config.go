package main

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 全域配置
type Config struct {
	Device    DeviceConfig    `json:"device" mapstructure:"device"`
	Backend   BackendConfig   `json:"backend" mapstructure:"backend"`
	Poll      PollConfig      `json:"poll" mapstructure:"poll"`
	Reconnect ReconnectConfig `json:"reconnect" mapstructure:"reconnect"`
	Simulator SimulatorConfig `json:"simulator" mapstructure:"simulator"`
	Network   NetworkConfig   `json:"network" mapstructure:"network"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`
	Metrics   MetricsConfig   `json:"metrics" mapstructure:"metrics"`
}

// DeviceConfig 感測器設備配置
type DeviceConfig struct {
	Address string        `json:"address" mapstructure:"address"`
	Port    int           `json:"port" mapstructure:"port"`
	UnitID  uint8         `json:"unit_id" mapstructure:"unit_id"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// BackendConfig 後端收集器配置
type BackendConfig struct {
	Host             string        `json:"host" mapstructure:"host"`
	Port             int           `json:"port" mapstructure:"port"`
	Path             string        `json:"path" mapstructure:"path"`
	Greeting         string        `json:"greeting" mapstructure:"greeting"`
	HandshakeTimeout time.Duration `json:"handshake_timeout" mapstructure:"handshake_timeout"`
	WriteTimeout     time.Duration `json:"write_timeout" mapstructure:"write_timeout"`
}

// URL 後端 websocket 位址
func (b BackendConfig) URL() string {
	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(b.Host, strconv.Itoa(b.Port)),
		Path:   b.Path,
	}
	return u.String()
}

// PollConfig 輪詢配置
type PollConfig struct {
	Interval  time.Duration        `json:"interval" mapstructure:"interval"`
	Registers []RegisterDefinition `json:"registers" mapstructure:"registers"`
}

// RegisterDefinition 暫存器區塊定義
type RegisterDefinition struct {
	Address uint16 `json:"address" mapstructure:"address"`
	Count   uint16 `json:"count" mapstructure:"count"`
}

// ReconnectConfig 後端重連配置
type ReconnectConfig struct {
	Enabled         bool          `json:"enabled" mapstructure:"enabled"`
	InitialInterval time.Duration `json:"initial_interval" mapstructure:"initial_interval"`
	MaxInterval     time.Duration `json:"max_interval" mapstructure:"max_interval"`
	MaxElapsedTime  time.Duration `json:"max_elapsed_time" mapstructure:"max_elapsed_time"`
}

// SimulatorConfig 測試用設備模擬器配置
type SimulatorConfig struct {
	ListenAddress  string        `json:"listen_address" mapstructure:"listen_address"`
	Port           int           `json:"port" mapstructure:"port"`
	UnitID         uint8         `json:"unit_id" mapstructure:"unit_id"`
	Scenario       string        `json:"scenario" mapstructure:"scenario"`
	JitterMin      time.Duration `json:"jitter_min" mapstructure:"jitter_min"`
	JitterMax      time.Duration `json:"jitter_max" mapstructure:"jitter_max"`
	PacketLossRate float64       `json:"packet_loss_rate" mapstructure:"packet_loss_rate"`
	FaultAddresses []uint16      `json:"fault_addresses" mapstructure:"fault_addresses"`
}

// NetworkConfig 網路配置
type NetworkConfig struct {
	Interface string `json:"interface" mapstructure:"interface"`
}

// LoggingConfig 日誌配置
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	Format     string `json:"format" mapstructure:"format"`
	OutputPath string `json:"output_path" mapstructure:"output_path"`
}

// MetricsConfig 指標配置
type MetricsConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Endpoint string `json:"endpoint" mapstructure:"endpoint"`
	Port     int    `json:"port" mapstructure:"port"`
}

// DefaultConfig 返回預設配置
func DefaultConfig() *Config {
	specs := DefaultCatalog().Specs()
	registers := make([]RegisterDefinition, 0, len(specs))
	for _, s := range specs {
		registers = append(registers, RegisterDefinition{Address: s.Address, Count: s.Count})
	}

	return &Config{
		Device: DeviceConfig{
			Address: "172.16.0.10",
			Port:    ModbusTCPDefaultPort,
			UnitID:  1,
			Timeout: 1 * time.Second,
		},
		Backend: BackendConfig{
			Host:             "127.0.0.1",
			Port:             9000,
			Greeting:         DefaultGreeting,
			HandshakeTimeout: 10 * time.Second,
			WriteTimeout:     5 * time.Second,
		},
		Poll: PollConfig{
			Interval:  DefaultPollInterval,
			Registers: registers,
		},
		Reconnect: ReconnectConfig{
			Enabled:         true,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     30 * time.Second,
		},
		Simulator: SimulatorConfig{
			ListenAddress:  "0.0.0.0",
			Port:           5020,
			UnitID:         1,
			Scenario:       "normal",
			JitterMin:      100 * time.Millisecond,
			JitterMax:      500 * time.Millisecond,
			PacketLossRate: 0.05,
			FaultAddresses: []uint16{2},
		},
		Network: NetworkConfig{
			Interface: "lo",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			OutputPath: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
			Port:     9090,
		},
	}
}

// envKeys 可由環境變數覆蓋的鍵
var envKeys = []string{
	"device.address",
	"device.port",
	"device.unit_id",
	"device.timeout",
	"backend.host",
	"backend.port",
	"backend.path",
	"poll.interval",
	"reconnect.enabled",
	"simulator.port",
	"simulator.scenario",
	"network.interface",
	"logging.level",
	"logging.format",
	"metrics.enabled",
	"metrics.port",
}

// LoadConfig 載入配置檔
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("json")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/ecoadapt-gateway/")
		v.AddConfigPath("$HOME/.ecoadapt-gateway/")
	}

	// 環境變數覆蓋，例如 ECOGW_DEVICE_ADDRESS
	v.SetEnvPrefix("ECOGW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range envKeys {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("綁定環境變數 %s 失敗: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("讀取配置檔失敗: %w", err)
		}
		// 配置檔不存在，使用預設值
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("解析配置失敗: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("配置驗證失敗: %w", err)
	}

	return cfg, nil
}

// Validate 驗證配置
func (c *Config) Validate() error {
	if net.ParseIP(c.Device.Address) == nil {
		return fmt.Errorf("無效的設備位址: %s", c.Device.Address)
	}
	if err := validatePort("設備", c.Device.Port); err != nil {
		return err
	}
	if c.Device.Timeout <= 0 {
		return fmt.Errorf("設備逾時必須大於 0")
	}

	if c.Backend.Host == "" {
		return fmt.Errorf("必須指定後端主機")
	}
	if err := validatePort("後端", c.Backend.Port); err != nil {
		return err
	}

	if c.Poll.Interval <= 0 {
		return fmt.Errorf("輪詢間隔必須大於 0")
	}
	if _, err := c.Catalog(); err != nil {
		return err
	}

	if c.Reconnect.Enabled {
		if c.Reconnect.InitialInterval <= 0 {
			return fmt.Errorf("重連初始間隔必須大於 0")
		}
		if c.Reconnect.MaxInterval < c.Reconnect.InitialInterval {
			return fmt.Errorf("重連最大間隔不可小於初始間隔")
		}
	}

	if err := c.Simulator.Validate(); err != nil {
		return fmt.Errorf("模擬器配置驗證失敗: %w", err)
	}

	if c.Metrics.Enabled {
		if err := validatePort("指標", c.Metrics.Port); err != nil {
			return err
		}
	}

	return nil
}

// Validate 驗證模擬器配置
func (s *SimulatorConfig) Validate() error {
	if err := validatePort("模擬器", s.Port); err != nil {
		return err
	}
	if _, err := ParseScenarioType(s.Scenario); err != nil {
		return err
	}
	if s.PacketLossRate < 0 || s.PacketLossRate > 1 {
		return fmt.Errorf("封包丟失率必須介於 0 與 1: %v", s.PacketLossRate)
	}
	if s.JitterMax < s.JitterMin {
		return fmt.Errorf("jitter_max 不可小於 jitter_min")
	}
	return nil
}

func validatePort(name string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("無效的%s埠號: %d", name, port)
	}
	return nil
}

// Catalog 由配置建立暫存器目錄，未設定時使用參考目錄
func (c *Config) Catalog() (Catalog, error) {
	if len(c.Poll.Registers) == 0 {
		return DefaultCatalog(), nil
	}

	specs := make([]RegisterSpec, 0, len(c.Poll.Registers))
	for _, r := range c.Poll.Registers {
		specs = append(specs, RegisterSpec{Address: r.Address, Count: r.Count})
	}
	return NewCatalog(specs...)
}

// SaveConfig 儲存配置到檔案
func (c *Config) SaveConfig(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失敗: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("寫入配置檔失敗: %w", err)
	}

	return nil
}
