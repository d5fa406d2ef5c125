package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const metricsNamespace = "ecoadapt_gateway"

// MetricsCollector 指標收集器
type MetricsCollector struct {
	client   *Client
	registry *prometheus.Registry
	server   *http.Server
	logger   *zap.Logger
}

// MetricsSnapshot 指標快照
type MetricsSnapshot struct {
	Timestamp   time.Time `json:"timestamp"`
	Uptime      string    `json:"uptime"`
	ClientState string    `json:"client_state"`
	SessionID   string    `json:"session_id,omitempty"`

	// 連線指標
	Connections uint64 `json:"connections"`
	Reconnects  uint64 `json:"reconnects"`

	// 輪詢指標
	Ticks               uint64    `json:"ticks"`
	HardwareReports     uint64    `json:"hardware_reports"`
	MockReports         uint64    `json:"mock_reports"`
	ConnectFailures     uint64    `json:"connect_failures"`
	PartialReadFailures uint64    `json:"partial_read_failures"`
	SendErrors          uint64    `json:"send_errors"`
	ReportsSent         uint64    `json:"reports_sent"`
	BytesSent           uint64    `json:"bytes_sent"`
	MessagesReceived    uint64    `json:"messages_received"`
	LastTick            time.Time `json:"last_tick,omitempty"`
	LastSource          string    `json:"last_source,omitempty"`
}

// NewMetricsCollector 建立指標收集器並註冊 prometheus 指標
func NewMetricsCollector(client *Client, logger *zap.Logger) *MetricsCollector {
	m := &MetricsCollector{
		client:   client,
		registry: prometheus.NewRegistry(),
		logger:   logger,
	}
	m.register()
	return m
}

func (m *MetricsCollector) register() {
	stats := m.client.GatewayStats()

	counter := func(name, help string, labels prometheus.Labels, fn func() uint64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   metricsNamespace,
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		}, func() float64 { return float64(fn()) })
	}

	m.registry.MustRegister(
		counter("ticks_total", "Poll ticks by report source", prometheus.Labels{"source": SourceHardware.String()}, stats.HardwareReports.Load),
		counter("ticks_total", "Poll ticks by report source", prometheus.Labels{"source": SourceMock.String()}, stats.MockReports.Load),
		counter("hardware_failures_total", "Hardware read failures by kind", prometheus.Labels{"kind": FailureConnect.String()}, stats.ConnectFailures.Load),
		counter("hardware_failures_total", "Hardware read failures by kind", prometheus.Labels{"kind": FailurePartialRead.String()}, stats.PartialReadFailures.Load),
		counter("send_errors_total", "Failed sends to the backend", nil, stats.SendErrors.Load),
		counter("reports_sent_total", "Reports delivered to the backend", nil, stats.ReportsSent.Load),
		counter("bytes_sent_total", "Payload bytes sent to the backend", nil, stats.BytesSent.Load),
		counter("messages_received_total", "Messages received from the backend", nil, stats.MessagesReceived.Load),
		counter("connections_total", "Backend connections opened", nil, func() uint64 { return m.client.Stats().Connections }),
		counter("reconnect_attempts_total", "Backend reconnect attempts", nil, func() uint64 { return m.client.Stats().Reconnects }),

		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "connected",
			Help:      "1 when a backend connection is open",
		}, func() float64 {
			if m.client.State() == ClientStateConnected {
				return 1
			}
			return 0
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "last_tick_timestamp_seconds",
			Help:      "Unix time of the last poll tick",
		}, func() float64 {
			return float64(stats.LastTick.Load()) / float64(time.Second)
		}),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "uptime_seconds",
			Help:      "Uptime in seconds",
		}, func() float64 {
			start := m.client.Stats().StartTime
			if start.IsZero() {
				return 0
			}
			return time.Since(start).Seconds()
		}),
	)
}

// Handler 指標 HTTP 路由
func (m *MetricsCollector) Handler(endpoint string) http.Handler {
	promHandler := promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})

	mux := http.NewServeMux()
	mux.HandleFunc(endpoint, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") == "application/json" || r.URL.Query().Get("format") == "json" {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(m.Snapshot())
			return
		}
		promHandler.ServeHTTP(w, r)
	})
	mux.HandleFunc("/health", m.handleHealth)
	mux.HandleFunc("/ready", m.handleReady)
	return mux
}

// Start 啟動指標伺服器
func (m *MetricsCollector) Start(endpoint string, port int) error {
	addr := fmt.Sprintf(":%d", port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("監聽 %s 失敗: %w", addr, err)
	}

	m.server = &http.Server{
		Handler:           m.Handler(endpoint),
		ReadHeaderTimeout: 5 * time.Second,
	}

	m.logger.Info("啟動指標伺服器", zap.String("addr", addr))

	go func() {
		if err := m.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("指標伺服器錯誤", zap.Error(err))
		}
	}()

	return nil
}

// Shutdown 關閉指標伺服器
func (m *MetricsCollector) Shutdown(ctx context.Context) error {
	if m.server == nil {
		return nil
	}
	return m.server.Shutdown(ctx)
}

// Snapshot 取得指標快照
func (m *MetricsCollector) Snapshot() MetricsSnapshot {
	cs := m.client.Stats()
	gs := m.client.GatewayStats()

	snapshot := MetricsSnapshot{
		Timestamp:           time.Now(),
		ClientState:         cs.State.String(),
		SessionID:           cs.SessionID,
		Connections:         cs.Connections,
		Reconnects:          cs.Reconnects,
		Ticks:               gs.Ticks.Load(),
		HardwareReports:     gs.HardwareReports.Load(),
		MockReports:         gs.MockReports.Load(),
		ConnectFailures:     gs.ConnectFailures.Load(),
		PartialReadFailures: gs.PartialReadFailures.Load(),
		SendErrors:          gs.SendErrors.Load(),
		ReportsSent:         gs.ReportsSent.Load(),
		BytesSent:           gs.BytesSent.Load(),
		MessagesReceived:    gs.MessagesReceived.Load(),
	}

	if !cs.StartTime.IsZero() {
		snapshot.Uptime = time.Since(cs.StartTime).String()
	}
	if last := gs.LastTick.Load(); last != 0 {
		snapshot.LastTick = time.Unix(0, last)
		snapshot.LastSource = ReportSource(gs.LastSource.Load()).String()
	}

	return snapshot
}

// handleHealth 處理 /health 請求
func (m *MetricsCollector) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
}

// handleReady 處理 /ready 請求
func (m *MetricsCollector) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if m.client.State() != ClientStateConnected {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "not ready"})
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}
