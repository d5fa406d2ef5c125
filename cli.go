package main

import (
	"context"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	cfgFile   string
	logger    *zap.Logger
	appConfig *Config
)

// rootCmd 根命令
var rootCmd = &cobra.Command{
	Use:   "ecogw",
	Short: "Eco-Adapt 現場閘道",
	Long: `每秒輪詢 Eco-Adapt 感測器的輸入暫存器，並透過 websocket 推送到後端收集器。
設備無法連線時改送模擬資料。`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		logger, err = initLogger(DefaultConfig().Logging)
		if err != nil {
			return fmt.Errorf("初始化日誌失敗: %w", err)
		}

		// 載入配置 (除了 version、help 和 generate 命令)
		if cmd.Name() == "version" || cmd.Name() == "help" || cmd.Name() == "generate" {
			appConfig = DefaultConfig()
			return nil
		}

		appConfig, err = LoadConfig(cfgFile)
		if err != nil {
			if cfgFile != "" {
				return err
			}
			// 沒有指定配置檔時退回預設值
			logger.Warn("載入配置失敗，使用預設配置", zap.Error(err))
			appConfig = DefaultConfig()
		}

		if l, err := initLogger(appConfig.Logging); err == nil {
			logger = l
		} else {
			logger.Warn("套用日誌配置失敗，沿用預設值", zap.Error(err))
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// runCmd 啟動閘道
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "啟動閘道",
	Long:  "連線後端收集器並開始輪詢設備。",
	RunE: func(cmd *cobra.Command, args []string) error {
		// 覆蓋 CLI 參數
		if addr, _ := cmd.Flags().GetString("device"); addr != "" {
			appConfig.Device.Address = addr
		}
		if port, _ := cmd.Flags().GetInt("device-port"); port > 0 {
			appConfig.Device.Port = port
		}
		if host, _ := cmd.Flags().GetString("backend-host"); host != "" {
			appConfig.Backend.Host = host
		}
		if port, _ := cmd.Flags().GetInt("backend-port"); port > 0 {
			appConfig.Backend.Port = port
		}
		if interval, _ := cmd.Flags().GetDuration("interval"); interval > 0 {
			appConfig.Poll.Interval = interval
		}
		if noReconnect, _ := cmd.Flags().GetBool("no-reconnect"); noReconnect {
			appConfig.Reconnect.Enabled = false
		}
		if err := appConfig.Validate(); err != nil {
			return fmt.Errorf("配置驗證失敗: %w", err)
		}

		client, err := NewClient(appConfig, logger)
		if err != nil {
			return fmt.Errorf("建立客戶端失敗: %w", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		var metrics *MetricsCollector
		if appConfig.Metrics.Enabled {
			metrics = NewMetricsCollector(client, logger)
			if err := metrics.Start(appConfig.Metrics.Endpoint, appConfig.Metrics.Port); err != nil {
				logger.Warn("啟動指標伺服器失敗", zap.Error(err))
				metrics = nil
			}
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			return client.Run(gctx)
		})
		if metrics != nil {
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return metrics.Shutdown(shutdownCtx)
			})
		}

		if err := g.Wait(); err != nil {
			logger.Error("閘道異常結束", zap.Error(err))
			return err
		}

		logger.Info("閘道已停止")
		return nil
	},
}

// deviceCmd 啟動模擬設備
var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "啟動模擬感測器",
	Long:  "以 Modbus TCP 提供與 Eco-Adapt 感測器相同的輸入暫存器，供現場外測試使用。",
	RunE: func(cmd *cobra.Command, args []string) error {
		simCfg := appConfig.Simulator
		if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
			simCfg.ListenAddress = listen
		}
		if port, _ := cmd.Flags().GetInt("port"); port > 0 {
			simCfg.Port = port
		}
		if scenario, _ := cmd.Flags().GetString("scenario"); scenario != "" {
			simCfg.Scenario = scenario
		}
		if err := simCfg.Validate(); err != nil {
			return fmt.Errorf("模擬器配置驗證失敗: %w", err)
		}

		catalog, err := appConfig.Catalog()
		if err != nil {
			return err
		}
		faults, err := NewFaultInjector(simCfg, nil)
		if err != nil {
			return err
		}

		device := NewBenchDevice(simCfg.ListenAddress, simCfg.Port,
			WithUnitID(simCfg.UnitID),
			WithCatalog(catalog),
			WithFaultInjector(faults),
			WithDeviceLogger(logger),
		)

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := device.Start(ctx); err != nil {
			return fmt.Errorf("啟動模擬設備失敗: %w", err)
		}

		<-ctx.Done()
		logger.Info("收到關閉信號")

		stats := device.GetStats()
		logger.Info("模擬設備統計",
			zap.Uint64("requests", stats.RequestCount.Load()),
			zap.Uint64("errors", stats.ErrorCount.Load()),
			zap.Uint64("dropped", stats.DroppedCount.Load()),
		)
		return device.Stop(context.Background())
	},
}

// networkCmd 網路命令組
var networkCmd = &cobra.Command{
	Use:   "network",
	Short: "設備位址管理",
	Long:  "在本機介面上掛載或移除設備位址，讓模擬設備可以使用實體感測器的位址。",
}

func networkTarget(cmd *cobra.Command) NetworkProvisioner {
	iface, _ := cmd.Flags().GetString("interface")
	if iface == "" {
		iface = appConfig.Network.Interface
	}
	return NewNetworkProvisioner(iface, logger)
}

// networkAddresses 未指定 --address 時使用設備位址
func networkAddresses(cmd *cobra.Command) ([]net.IP, error) {
	addrs, _ := cmd.Flags().GetStringSlice("address")
	if len(addrs) == 0 {
		addrs = []string{appConfig.Device.Address}
	}
	return ParseAddresses(addrs...)
}

// networkSetupCmd 掛載位址
var networkSetupCmd = &cobra.Command{
	Use:   "setup",
	Short: "掛載設備位址",
	RunE: func(cmd *cobra.Command, args []string) error {
		provisioner := networkTarget(cmd)
		ips, err := networkAddresses(cmd)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := provisioner.Setup(ctx, ips); err != nil {
			return fmt.Errorf("掛載設備位址失敗: %w", err)
		}

		fmt.Println("設備位址掛載完成")
		return nil
	},
}

// networkTeardownCmd 移除位址
var networkTeardownCmd = &cobra.Command{
	Use:   "teardown",
	Short: "移除設備位址",
	RunE: func(cmd *cobra.Command, args []string) error {
		provisioner := networkTarget(cmd)
		ips, err := networkAddresses(cmd)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := provisioner.Teardown(ctx, ips); err != nil {
			return fmt.Errorf("移除設備位址失敗: %w", err)
		}

		fmt.Println("設備位址已移除")
		return nil
	},
}

// networkListCmd 列出位址
var networkListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出介面位址",
	RunE: func(cmd *cobra.Command, args []string) error {
		provisioner := networkTarget(cmd)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		ips, err := provisioner.List(ctx)
		if err != nil {
			return fmt.Errorf("列出 IP 失敗: %w", err)
		}

		if len(ips) == 0 {
			fmt.Println("介面上沒有 IPv4 位址")
			return nil
		}

		fmt.Printf("介面位址 (%d 個):\n", len(ips))
		for _, ip := range ips {
			marker := ""
			if ip.String() == appConfig.Device.Address {
				marker = "  (設備位址)"
			}
			fmt.Printf("  - %s%s\n", ip.String(), marker)
		}
		return nil
	},
}

// catalogCmd 顯示暫存器目錄
var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "顯示暫存器目錄",
	Long:  "列出輪詢的暫存器區塊；加上 --mock 時輸出一份模擬報表。",
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := appConfig.Catalog()
		if err != nil {
			return err
		}

		if mock, _ := cmd.Flags().GetBool("mock"); mock {
			report := NewMockGenerator(nil).GenerateReport(catalog, time.Now())
			fmt.Println(FormatReport(report))
			return nil
		}

		fmt.Println("暫存器目錄:")
		for _, s := range catalog.Specs() {
			fmt.Printf("  %-12s 位址 %-5d 數量 %d\n", s.String(), s.Address, s.Count)
		}
		return nil
	},
}

// scenarioListCmd 列出模擬場景
var scenarioListCmd = &cobra.Command{
	Use:   "scenarios",
	Short: "列出模擬設備場景",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("可用的模擬場景:")
		for _, s := range ListScenarioTypes() {
			fmt.Printf("  %-15s %s\n", s.String(), s.Description())
		}
	},
}

// configCmd 配置命令組
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "配置管理命令",
	Long:  "管理配置檔。",
}

// configValidateCmd 驗證配置
var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "驗證配置檔",
	Long:  "驗證指定的配置檔是否有效。",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig(cfgFile)
		if err != nil {
			return fmt.Errorf("配置驗證失敗: %w", err)
		}

		catalog, _ := cfg.Catalog()
		fmt.Println("配置驗證通過")
		fmt.Printf("  Device: %s:%d (unit %d)\n", cfg.Device.Address, cfg.Device.Port, cfg.Device.UnitID)
		fmt.Printf("  Backend: %s\n", cfg.Backend.URL())
		fmt.Printf("  Interval: %v\n", cfg.Poll.Interval)
		fmt.Printf("  Registers: %d\n", catalog.Len())
		return nil
	},
}

// configGenerateCmd 生成配置
var configGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "生成範例配置",
	Long:  "生成範例配置檔。",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			output = "config.json"
		}

		if err := DefaultConfig().SaveConfig(output); err != nil {
			return fmt.Errorf("生成配置失敗: %w", err)
		}

		fmt.Printf("範例配置已生成: %s\n", output)
		return nil
	},
}

// versionCmd 版本命令
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "顯示版本資訊",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ecogw version %s\n", Version)
		fmt.Printf("  Build: %s\n", BuildTime)
		fmt.Printf("  Commit: %s\n", GitCommit)
	},
}

func init() {
	// 全域 flags
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "配置檔路徑")

	// run 命令 flags
	runCmd.Flags().StringP("device", "d", "", "設備 IP 位址")
	runCmd.Flags().Int("device-port", 0, "設備 Modbus 埠號")
	runCmd.Flags().String("backend-host", "", "後端主機")
	runCmd.Flags().Int("backend-port", 0, "後端埠號")
	runCmd.Flags().DurationP("interval", "i", 0, "輪詢間隔")
	runCmd.Flags().Bool("no-reconnect", false, "後端中斷時不重連")

	// device 命令 flags
	deviceCmd.Flags().String("listen", "", "監聽位址")
	deviceCmd.Flags().IntP("port", "p", 0, "監聽埠號")
	deviceCmd.Flags().StringP("scenario", "s", "", "故障場景")

	// network 命令 flags
	for _, c := range []*cobra.Command{networkSetupCmd, networkTeardownCmd, networkListCmd} {
		c.Flags().StringP("interface", "i", "", "網路介面")
	}
	networkSetupCmd.Flags().StringSlice("address", nil, "要掛載的位址 (預設為設備位址)")
	networkTeardownCmd.Flags().StringSlice("address", nil, "要移除的位址 (預設為設備位址)")

	// catalog 命令 flags
	catalogCmd.Flags().Bool("mock", false, "輸出一份模擬報表")

	// config 命令 flags
	configGenerateCmd.Flags().StringP("output", "o", "config.json", "輸出檔案路徑")

	// 組裝命令樹
	networkCmd.AddCommand(networkSetupCmd, networkTeardownCmd, networkListCmd)
	deviceCmd.AddCommand(scenarioListCmd)
	configCmd.AddCommand(configValidateCmd, configGenerateCmd)

	rootCmd.AddCommand(
		runCmd,
		deviceCmd,
		networkCmd,
		catalogCmd,
		configCmd,
		versionCmd,
	)
}

func initLogger(cfg LoggingConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	}

	if cfg.Level != "" {
		level, err := zap.ParseAtomicLevel(cfg.Level)
		if err != nil {
			return nil, err
		}
		zcfg.Level = level
	}

	output := cfg.OutputPath
	if output == "" {
		output = "stdout"
	}
	zcfg.OutputPaths = []string{output}
	zcfg.ErrorOutputPaths = []string{"stderr"}
	return zcfg.Build()
}

// Execute 執行 CLI
func Execute() error {
	return rootCmd.Execute()
}
